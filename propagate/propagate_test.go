// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package propagate

import (
	"testing"

	"golang.org/x/vulnprop/internal/workdir"
)

func TestSinkDiffFirstRun(t *testing.T) {
	next := workdir.TFS{"1.0": {"<com.ex.A: void sink()>"}}
	hasNew, merged, added := sinkDiff(nil, next)
	if !hasNew {
		t.Fatal("want hasNew=true on first run")
	}
	if len(merged["1.0"]) != 1 || len(added["1.0"]) != 1 {
		t.Errorf("merged=%v added=%v", merged, added)
	}
}

func TestSinkDiffNoNewSinks(t *testing.T) {
	prev := workdir.TFS{"1.0": {"<com.ex.A: void sink()>"}}
	hasNew, _, added := sinkDiff(prev, prev)
	if hasNew {
		t.Errorf("want hasNew=false when next == prev, got added=%v", added)
	}
}

func TestSinkDiffIncremental(t *testing.T) {
	prev := workdir.TFS{"1.0": {"a"}}
	next := workdir.TFS{"1.0": {"a", "b"}, "2.0": {"c"}}
	hasNew, merged, added := sinkDiff(prev, next)
	if !hasNew {
		t.Fatal("want hasNew=true")
	}
	if len(merged["1.0"]) != 2 {
		t.Errorf("merged[1.0] = %v, want 2 entries", merged["1.0"])
	}
	if len(added["1.0"]) != 1 || added["1.0"][0] != "b" {
		t.Errorf("added[1.0] = %v, want [\"b\"]", added["1.0"])
	}
	if len(added["2.0"]) != 1 || added["2.0"][0] != "c" {
		t.Errorf("added[2.0] = %v, want [\"c\"]", added["2.0"])
	}
}

func TestSinkDiffMonotone(t *testing.T) {
	// tfs.json must only grow: merged must be a superset of prev even
	// when next happens to omit a version prev already had.
	prev := workdir.TFS{"1.0": {"a"}, "2.0": {"z"}}
	next := workdir.TFS{"1.0": {"a", "b"}}
	_, merged, _ := sinkDiff(prev, next)
	if len(merged["2.0"]) != 1 || merged["2.0"][0] != "z" {
		t.Errorf("merged[2.0] = %v, want [\"z\"] preserved", merged["2.0"])
	}
}

func TestAppendUnique(t *testing.T) {
	got := appendUnique([]string{"a", "b"}, "b", "c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGAFromName(t *testing.T) {
	ga := gaFromName("com.example:widget")
	if ga.Group != "com.example" || ga.Artifact != "widget" {
		t.Errorf("got %+v", ga)
	}
}
