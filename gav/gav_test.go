// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gav

import "testing"

func TestParseGA(t *testing.T) {
	ga, err := ParseGA("com.example:widget")
	if err != nil {
		t.Fatal(err)
	}
	if ga.Group != "com.example" || ga.Artifact != "widget" {
		t.Errorf("got %+v", ga)
	}
	if got, want := ga.String(), "com.example:widget"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseGAInvalid(t *testing.T) {
	for _, s := range []string{"", "com.example", "a:b:c:d"} {
		if _, err := ParseGA(s); err == nil {
			t.Errorf("ParseGA(%q): want error, got nil", s)
		}
	}
}

func TestParseGAV(t *testing.T) {
	v, err := ParseGAV("com.example:widget:1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	want := GAV{Group: "com.example", Artifact: "widget", Version: "1.2.3"}
	if v != want {
		t.Errorf("got %+v, want %+v", v, want)
	}
	if got, want := v.String(), "com.example:widget:1.2.3"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if v.GA() != (GA{Group: "com.example", Artifact: "widget"}) {
		t.Errorf("GA() = %+v", v.GA())
	}
}

func TestParseGAVRejectsRanges(t *testing.T) {
	for _, s := range []string{
		"com.example:widget:[1.0,2.0)",
		"com.example:widget:1.0,1.5",
	} {
		if _, err := ParseGAV(s); err == nil {
			t.Errorf("ParseGAV(%q): want error, got nil", s)
		}
	}
}

func TestIsValidVersion(t *testing.T) {
	cases := map[string]bool{
		"1.0":        true,
		"1.0.0-RC1":  true,
		"[1.0,2.0)":  false,
		"1.0,1.5":    false,
	}
	for v, want := range cases {
		if got := IsValidVersion(v); got != want {
			t.Errorf("IsValidVersion(%q) = %v, want %v", v, got, want)
		}
	}
}

func TestGAPath(t *testing.T) {
	ga := GA{Group: "com.example.foo", Artifact: "widget"}
	if got, want := ga.Path(), "com/example/foo/widget"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestWithVersion(t *testing.T) {
	ga := GA{Group: "com.example", Artifact: "widget"}
	v := ga.WithVersion("1.0")
	want := GAV{Group: "com.example", Artifact: "widget", Version: "1.0"}
	if v != want {
		t.Errorf("WithVersion() = %+v, want %+v", v, want)
	}
}
