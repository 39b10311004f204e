// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package signature

import "testing"

func TestParse(t *testing.T) {
	got, err := Parse("<com.ex.A: void sink(java.lang.String)>")
	if err != nil {
		t.Fatal(err)
	}
	want := Parsed{Class: "com.ex.A", ReturnType: "void", Method: "sink", Params: "java.lang.String"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseNoParams(t *testing.T) {
	got, err := Parse("<com.ex.A: void sink()>")
	if err != nil {
		t.Fatal(err)
	}
	if got.Method != "sink" || got.Params != "" {
		t.Errorf("got %+v", got)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{
		"com.ex.A: void sink()",
		"<com.ex.A void sink()>",
		"<com.ex.A: void sink>",
		"<com.ex.A: sink()>",
	} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): want error, got nil", s)
		}
	}
}

func TestClassOf(t *testing.T) {
	if got, want := ClassOf("<com.ex.A: void sink()>"), "com.ex.A"; got != want {
		t.Errorf("ClassOf() = %q, want %q", got, want)
	}
	if got := ClassOf("not-a-signature"); got != "" {
		t.Errorf("ClassOf(malformed) = %q, want \"\"", got)
	}
}

func TestHasPrefix(t *testing.T) {
	sig := "<com.ex.pkg.A: void sink()>"
	if !HasPrefix(sig, []string{"com.ex.pkg"}) {
		t.Errorf("HasPrefix: want true")
	}
	if HasPrefix(sig, []string{"org.other"}) {
		t.Errorf("HasPrefix: want false")
	}
}

func TestModifierIsExternallyReachable(t *testing.T) {
	cases := map[Modifier]bool{
		Public:    true,
		Protected: true,
		Package:   false,
		Private:   false,
	}
	for m, want := range cases {
		if got := m.IsExternallyReachable(); got != want {
			t.Errorf("%s.IsExternallyReachable() = %v, want %v", m, got, want)
		}
	}
}
