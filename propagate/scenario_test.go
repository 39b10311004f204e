// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// End-to-end coverage of the propagation engine's fixed-point worklist,
// seeded against internal/vpatest fakes: direct reachability, a
// no-call-site drop, the reflection-escape short circuit, a transitive
// two-hop chain, and a cyclic dependency graph that must terminate via
// monotone sink growth.
package propagate_test

import (
	"context"
	"testing"

	"golang.org/x/vulnprop/cverecord"
	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/analyzer"
	"golang.org/x/vulnprop/internal/jdeps"
	"golang.org/x/vulnprop/internal/vpatest"
	"golang.org/x/vulnprop/propagate"
)

func node(sig string) analyzer.Node { return analyzer.Node{Signature: sig, Modifier: "public"} }
func edge(src, tgt string) analyzer.Edge { return analyzer.Edge{Src: src, Tgt: tgt} }

func contains(gas []gav.GA, ga gav.GA) bool {
	for _, g := range gas {
		if g == ga {
			return true
		}
	}
	return false
}

func containsStr(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// Scenario 1: a sink directly called by a downstream GAV's own code,
// surfaced through the ordinary (non-reflection) direction and
// CG-level filters.
func TestScenarioDirectCall(t *testing.T) {
	h := vpatest.NewHarness(t, "CVE-SCN-1", true)

	rootGAV := gav.GAV{Group: "com.r1", Artifact: "lib", Version: "1.0"}
	downGAV := gav.GAV{Group: "com.d1", Artifact: "app", Version: "2.0"}
	sink := vpatest.Sig("com.r1.Vuln", "sink")
	entry := vpatest.Sig("com.d1.App", "caller")

	h.DepStore.Link("com.r1:lib", "com.d1:app", "1.0", "2.0")

	rootJar := h.AddJar(rootGAV, "com.r1.Vuln")
	downJar := h.AddJar(downGAV, "com.d1.App")

	h.Analyzer.Graphs[rootJar] = analyzer.Graph{Nodes: []analyzer.Node{node(sink)}}
	h.Analyzer.Graphs[downJar] = analyzer.Graph{Nodes: []analyzer.Node{node(entry)}, Edges: []analyzer.Edge{edge(entry, sink)}}
	h.Analyzer.Calls[downJar] = true
	h.Jdeps.Refs[downJar] = []jdeps.Reference{{Source: "com.d1.App", Target: "com.r1.Vuln"}}

	rec := &cverecord.Record{ID: "CVE-SCN-1", Group: "com.r1", Artifact: "lib", VulnVersions: []string{"1.0"}, VulnFunctions: []string{sink}}

	engine := propagate.New(h.Config())
	if err := engine.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	downGA := gav.GA{Group: "com.d1", Artifact: "app"}
	if !contains(engine.VisitedGAs(), downGA) {
		t.Fatalf("VisitedGAs() = %v, want it to include %v", engine.VisitedGAs(), downGA)
	}
	tfs, err := h.Tree.LoadTFS(downGA)
	if err != nil {
		t.Fatal(err)
	}
	if !containsStr(tfs["2.0"], entry) {
		t.Errorf("tfs[2.0] = %v, want it to include the caller %q", tfs["2.0"], entry)
	}
}

// Scenario 2: the downstream jar neither references the entry points
// textually nor via the full callgraph; the CG-level pre-filter must
// drop it before ever building or propagating to it.
func TestScenarioNoCallSite(t *testing.T) {
	h := vpatest.NewHarness(t, "CVE-SCN-2", true)

	rootGAV := gav.GAV{Group: "com.r2", Artifact: "lib", Version: "1.0"}
	downGAV := gav.GAV{Group: "com.d2", Artifact: "app", Version: "2.0"}
	sink := vpatest.Sig("com.r2.Vuln", "sink")

	h.DepStore.Link("com.r2:lib", "com.d2:app", "1.0", "2.0")

	rootJar := h.AddJar(rootGAV, "com.r2.Vuln")
	downJar := h.AddJar(downGAV, "com.d2.App")

	h.Analyzer.Graphs[rootJar] = analyzer.Graph{Nodes: []analyzer.Node{node(sink)}}
	h.Analyzer.Calls[downJar] = false // no textual reference to the entry-point set.
	h.Jdeps.Refs[downJar] = []jdeps.Reference{{Source: "com.d2.App", Target: "com.r2.Vuln"}}

	rec := &cverecord.Record{ID: "CVE-SCN-2", Group: "com.r2", Artifact: "lib", VulnVersions: []string{"1.0"}, VulnFunctions: []string{sink}}

	engine := propagate.New(h.Config())
	if err := engine.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	downGA := gav.GA{Group: "com.d2", Artifact: "app"}
	if contains(engine.VisitedGAs(), downGA) {
		t.Errorf("VisitedGAs() = %v, want %v excluded: no call site means no propagation", engine.VisitedGAs(), downGA)
	}
}

// Scenario 3: jdeps and the textual pre-filter both report no
// reference, but the downstream jar invokes reflection; the reflection
// short circuit must still carry the sink through.
func TestScenarioReflectionEscape(t *testing.T) {
	h := vpatest.NewHarness(t, "CVE-SCN-3", true)

	rootGAV := gav.GAV{Group: "com.r3", Artifact: "lib", Version: "1.0"}
	downGAV := gav.GAV{Group: "com.d3", Artifact: "app", Version: "2.0"}
	sink := vpatest.Sig("com.r3.Vuln", "sink")
	entry := vpatest.Sig("com.d3.App", "caller")

	h.DepStore.Link("com.r3:lib", "com.d3:app", "1.0", "2.0")

	rootJar := h.AddJar(rootGAV, "com.r3.Vuln")
	downJar := h.AddJar(downGAV, "com.d3.App")

	h.Analyzer.Graphs[rootJar] = analyzer.Graph{Nodes: []analyzer.Node{node(sink)}}
	h.Analyzer.Graphs[downJar] = analyzer.Graph{Nodes: []analyzer.Node{node(entry)}, Edges: []analyzer.Edge{edge(entry, sink)}}
	h.Analyzer.Calls[downJar] = false    // no textual reference.
	h.Analyzer.Reflects[downJar] = true  // but it does invoke reflection.
	// Jdeps.Refs[downJar] intentionally left empty: no static reference either.

	rec := &cverecord.Record{ID: "CVE-SCN-3", Group: "com.r3", Artifact: "lib", VulnVersions: []string{"1.0"}, VulnFunctions: []string{sink}}

	engine := propagate.New(h.Config())
	if err := engine.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	downGA := gav.GA{Group: "com.d3", Artifact: "app"}
	if !contains(engine.VisitedGAs(), downGA) {
		t.Fatalf("VisitedGAs() = %v, want %v included via the reflection short circuit", engine.VisitedGAs(), downGA)
	}
	tfs, err := h.Tree.LoadTFS(downGA)
	if err != nil {
		t.Fatal(err)
	}
	if !containsStr(tfs["2.0"], entry) {
		t.Errorf("tfs[2.0] = %v, want it to include the caller %q", tfs["2.0"], entry)
	}
}

// Scenario 4: a two-hop transitive chain root -> mid -> leaf, verifying
// sinks accumulate correctly across both hops.
func TestScenarioTransitive(t *testing.T) {
	h := vpatest.NewHarness(t, "CVE-SCN-4", true)

	rootGAV := gav.GAV{Group: "com.r4", Artifact: "lib", Version: "1.0"}
	midGAV := gav.GAV{Group: "com.m4", Artifact: "mid", Version: "1.0"}
	leafGAV := gav.GAV{Group: "com.l4", Artifact: "leaf", Version: "1.0"}

	sink := vpatest.Sig("com.r4.Vuln", "sink")
	midEntry := vpatest.Sig("com.m4.Mid", "mid_entry")
	leafEntry := vpatest.Sig("com.l4.Leaf", "leaf_entry")

	h.DepStore.Link("com.r4:lib", "com.m4:mid", "1.0", "1.0")
	h.DepStore.Link("com.m4:mid", "com.l4:leaf", "1.0", "1.0")

	rootJar := h.AddJar(rootGAV, "com.r4.Vuln")
	midJar := h.AddJar(midGAV, "com.m4.Mid")
	leafJar := h.AddJar(leafGAV, "com.l4.Leaf")

	h.Analyzer.Graphs[rootJar] = analyzer.Graph{Nodes: []analyzer.Node{node(sink)}}
	h.Analyzer.Graphs[midJar] = analyzer.Graph{Nodes: []analyzer.Node{node(midEntry)}, Edges: []analyzer.Edge{edge(midEntry, sink)}}
	h.Analyzer.Graphs[leafJar] = analyzer.Graph{Nodes: []analyzer.Node{node(leafEntry)}, Edges: []analyzer.Edge{edge(leafEntry, midEntry)}}
	h.Analyzer.Calls[midJar] = true
	h.Analyzer.Calls[leafJar] = true
	h.Jdeps.Refs[midJar] = []jdeps.Reference{{Source: "com.m4.Mid", Target: "com.r4.Vuln"}}
	h.Jdeps.Refs[leafJar] = []jdeps.Reference{{Source: "com.l4.Leaf", Target: "com.m4.Mid"}}

	rec := &cverecord.Record{ID: "CVE-SCN-4", Group: "com.r4", Artifact: "lib", VulnVersions: []string{"1.0"}, VulnFunctions: []string{sink}}

	engine := propagate.New(h.Config())
	if err := engine.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	midGA := gav.GA{Group: "com.m4", Artifact: "mid"}
	leafGA := gav.GA{Group: "com.l4", Artifact: "leaf"}
	visited := engine.VisitedGAs()
	if !contains(visited, midGA) || !contains(visited, leafGA) {
		t.Fatalf("VisitedGAs() = %v, want both %v and %v", visited, midGA, leafGA)
	}
	tfs, err := h.Tree.LoadTFS(leafGA)
	if err != nil {
		t.Fatal(err)
	}
	if !containsStr(tfs["1.0"], leafEntry) {
		t.Errorf("leaf tfs[1.0] = %v, want it to include %q", tfs["1.0"], leafEntry)
	}
}

// Scenario 5: a cyclic one-hop dependency graph (A depends on B, B
// depends back on A). The engine must not loop forever: each
// re-traversal of the cycle either discovers a genuinely new caller
// (monotone sink growth) or finds none, at which point sinkDiff and the
// CG-level filter stop the worklist from growing further.
func TestScenarioCyclicTerminates(t *testing.T) {
	h := vpatest.NewHarness(t, "CVE-SCN-5", true)

	rootGAV := gav.GAV{Group: "com.r5", Artifact: "lib", Version: "1.0"}
	aGAV := gav.GAV{Group: "com.a5", Artifact: "x", Version: "1.0"}
	bGAV := gav.GAV{Group: "com.b5", Artifact: "y", Version: "1.0"}

	sink := vpatest.Sig("com.r5.Vuln", "sink")
	entryA := vpatest.Sig("com.a5.Mid", "a_entry")
	backCaller := vpatest.Sig("com.a5.Mid", "back_caller")
	entryB := vpatest.Sig("com.b5.Mid", "b_entry")

	h.DepStore.Link("com.r5:lib", "com.a5:x", "1.0", "1.0")
	h.DepStore.Link("com.a5:x", "com.b5:y", "1.0", "1.0")
	h.DepStore.Link("com.b5:y", "com.a5:x", "1.0", "1.0")

	rootJar := h.AddJar(rootGAV, "com.r5.Vuln")
	aJar := h.AddJar(aGAV, "com.a5.Mid")
	bJar := h.AddJar(bGAV, "com.b5.Mid")

	h.Analyzer.Graphs[rootJar] = analyzer.Graph{Nodes: []analyzer.Node{node(sink)}}
	h.Analyzer.Graphs[aJar] = analyzer.Graph{
		Nodes: []analyzer.Node{node(entryA), node(backCaller)},
		Edges: []analyzer.Edge{edge(entryA, sink), edge(backCaller, entryB)},
	}
	h.Analyzer.Graphs[bJar] = analyzer.Graph{
		Nodes: []analyzer.Node{node(entryB)},
		Edges: []analyzer.Edge{edge(entryB, entryA)},
	}
	h.Analyzer.Calls[aJar] = true
	h.Analyzer.Calls[bJar] = true
	h.Jdeps.Refs[aJar] = []jdeps.Reference{{Source: "com.a5.Mid", Target: "com.r5.Vuln"}, {Source: "com.a5.Mid", Target: "com.b5.Mid"}}
	h.Jdeps.Refs[bJar] = []jdeps.Reference{{Source: "com.b5.Mid", Target: "com.a5.Mid"}}

	rec := &cverecord.Record{ID: "CVE-SCN-5", Group: "com.r5", Artifact: "lib", VulnVersions: []string{"1.0"}, VulnFunctions: []string{sink}}

	engine := propagate.New(h.Config())
	if err := engine.Run(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	aGA := gav.GA{Group: "com.a5", Artifact: "x"}
	bGA := gav.GA{Group: "com.b5", Artifact: "y"}
	visited := engine.VisitedGAs()
	if !contains(visited, aGA) || !contains(visited, bGA) {
		t.Fatalf("VisitedGAs() = %v, want both %v and %v", visited, aGA, bGA)
	}

	// A must have been requeued once via the back edge from B: its up
	// file names both the root and B as upstreams.
	upA, err := h.Tree.LoadUp(aGA)
	if err != nil {
		t.Fatal(err)
	}
	if !upA["com.r5:lib"] || !upA["com.b5:y"] {
		t.Errorf("up(A) = %v, want both com.r5:lib and com.b5:y (cycle traversed once)", upA)
	}

	tfsA, err := h.Tree.LoadTFS(aGA)
	if err != nil {
		t.Fatal(err)
	}
	if !containsStr(tfsA["1.0"], entryA) || !containsStr(tfsA["1.0"], backCaller) {
		t.Errorf("tfs(A)[1.0] = %v, want both %q and %q (sink set grew monotonically then stopped)", tfsA["1.0"], entryA, backCaller)
	}
}
