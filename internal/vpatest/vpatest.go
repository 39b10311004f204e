// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vpatest provides fake collaborators for the propagation
// engine's end-to-end tests: a fake dependency-graph store, a fake
// bytecode analyzer, and a fake class-reference tool, plus a jar server
// standing in for the real Maven repository. Each fake satisfies the
// same interface its real counterpart does, so propagate.Engine runs
// its actual production code path against them; only the external
// process boundaries (exec.Command, HTTP) are replaced.
package vpatest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/analyzer"
	"golang.org/x/vulnprop/internal/callgraph"
	"golang.org/x/vulnprop/internal/depgraph"
	"golang.org/x/vulnprop/internal/direction"
	"golang.org/x/vulnprop/internal/jdeps"
	"golang.org/x/vulnprop/internal/kvstore"
	"golang.org/x/vulnprop/internal/prefix"
	"golang.org/x/vulnprop/internal/reach"
	"golang.org/x/vulnprop/internal/reflectprobe"
	"golang.org/x/vulnprop/internal/repo"
	"golang.org/x/vulnprop/internal/workdir"
	"golang.org/x/vulnprop/propagate"
)

// Sig builds a callgraph node signature "<class: void method()>", the
// shape signature.Parse expects.
func Sig(class, method string) string {
	return "<" + class + ": void " + method + "()>"
}

// DependencyStore is a fixed in-memory one-hop dependency graph
// implementing propagate.DependencyStore.
type DependencyStore struct {
	// Reachable maps a "group:artifact" start node to its one-hop
	// descendant GA names.
	Reachable map[string][]string
	// Declared maps "downstreamGA|upstreamGA" to the declared
	// (upstream-version, downstream-version) pairs between them.
	Declared map[string][]depgraph.VersionDep
}

// NewDependencyStore returns an empty DependencyStore ready for Link/
// Declare calls.
func NewDependencyStore() *DependencyStore {
	return &DependencyStore{Reachable: map[string][]string{}, Declared: map[string][]depgraph.VersionDep{}}
}

// Link records that downstreamGA is a one-hop descendant of upstreamGA,
// with the given declared version pair.
func (s *DependencyStore) Link(upstreamGA, downstreamGA, upVersion, downVersion string) {
	s.Reachable[upstreamGA] = appendUniqueString(s.Reachable[upstreamGA], downstreamGA)
	key := downstreamGA + "|" + upstreamGA
	s.Declared[key] = append(s.Declared[key], depgraph.VersionDep{UpstreamVersion: upVersion, DownstreamVersion: downVersion})
}

func (s *DependencyStore) ReachableGAs(_ context.Context, startGA string, _ int) ([]string, error) {
	return s.Reachable[startGA], nil
}

func (s *DependencyStore) DeclaredDependencies(_ context.Context, downstreamGA, upstreamGA string) ([]depgraph.VersionDep, error) {
	return s.Declared[downstreamGA+"|"+upstreamGA], nil
}

func appendUniqueString(dst []string, s string) []string {
	for _, d := range dst {
		if d == s {
			return dst
		}
	}
	return append(dst, s)
}

var _ propagate.DependencyStore = (*DependencyStore)(nil)

// Analyzer is a fake bytecode analyzer implementing analyzer.Interface:
// GenCG emits a canned graph per jar path instead of invoking an
// external process, and CheckCall/CheckReflect answer from canned
// per-jar tables.
type Analyzer struct {
	// Graphs maps a jar path to the callgraph GenCG should emit for it.
	Graphs map[string]analyzer.Graph
	// Calls maps a jar path to the CheckCall result.
	Calls map[string]bool
	// Reflects maps a jar path to the CheckReflect result.
	Reflects map[string]bool
}

// NewAnalyzer returns an empty Analyzer ready for its maps to be filled.
func NewAnalyzer() *Analyzer {
	return &Analyzer{Graphs: map[string]analyzer.Graph{}, Calls: map[string]bool{}, Reflects: map[string]bool{}}
}

func (a *Analyzer) GenCG(_ context.Context, opts analyzer.GenCGOptions) error {
	g := a.Graphs[opts.JarPath]
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return os.WriteFile(opts.OutPath, data, 0o644)
}

func (a *Analyzer) CheckCall(_ context.Context, jarPath string, _ []string, _ string) (bool, error) {
	return a.Calls[jarPath], nil
}

func (a *Analyzer) CheckReflect(_ context.Context, jarPath, _, _ string) (bool, error) {
	return a.Reflects[jarPath], nil
}

var _ analyzer.Interface = (*Analyzer)(nil)

// Jdeps is a fake class-reference tool implementing jdeps.Interface,
// answering References from a canned per-jar table instead of invoking
// an external process.
type Jdeps struct {
	Refs map[string][]jdeps.Reference
}

// NewJdeps returns an empty Jdeps ready for Refs to be filled.
func NewJdeps() *Jdeps {
	return &Jdeps{Refs: map[string][]jdeps.Reference{}}
}

func (j *Jdeps) References(_ context.Context, jarPath string, _ time.Duration) ([]jdeps.Reference, error) {
	return j.Refs[jarPath], nil
}

var _ jdeps.Interface = (*Jdeps)(nil)

// Harness wires a propagate.Engine's full collaborator set against the
// fakes above, plus a real repo.Client, prefix.Oracle, direction.Filter,
// callgraph.Client, reach.Cache, and workdir.Tree backed by a temp
// directory and an in-process jar server: everything except the
// external analyzer/jdeps binaries and the real Maven repository runs
// its actual production code.
type Harness struct {
	t testing.TB

	jars   map[string][]byte
	server *httptest.Server

	Analyzer     *Analyzer
	Jdeps        *Jdeps
	DepStore     *DependencyStore
	Repo         *repo.Client
	Store        kvstore.Store
	PrefixOracle *prefix.Oracle
	Reflection   *reflectprobe.Probe
	Direction    *direction.Filter
	Callgraph    *callgraph.Client
	EntryPoints  *reach.Cache
	Tree         *workdir.Tree
}

// NewHarness returns a Harness for a single CVE analysis run rooted
// under t.TempDir(). ReflectionUnaware controls whether a positive
// reflection probe short-circuits the direction and CG-level filters,
// matching propagate.Config.Reflection.ReflectionUnaware.
func NewHarness(t testing.TB, cveID string, reflectionUnaware bool) *Harness {
	t.Helper()

	h := &Harness{
		t:        t,
		jars:     map[string][]byte{},
		Analyzer: NewAnalyzer(),
		Jdeps:    NewJdeps(),
		DepStore: NewDependencyStore(),
		Store:    kvstore.NewMemStore(),
	}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := h.jars[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(h.server.Close)

	h.Repo = repo.NewClient(h.server.URL, t.TempDir())
	h.PrefixOracle = prefix.NewOracle(h.Repo, h.Store, prefix.UnavailableDeps{})
	h.Reflection = &reflectprobe.Probe{
		Analyzer:          h.Analyzer,
		Store:             h.Store,
		MethodListPath:    "unused.txt",
		ReflectionUnaware: reflectionUnaware,
	}
	h.Direction = &direction.Filter{Jdeps: h.Jdeps}
	h.Callgraph = callgraph.NewClient(h.Analyzer, analyzer.PointsTo, t.TempDir())
	h.EntryPoints = reach.NewCache()
	h.Tree = workdir.New(t.TempDir(), cveID)
	return h
}

// Config returns the propagate.Config wiring every collaborator above.
func (h *Harness) Config() propagate.Config {
	return propagate.Config{
		DependencyStore: h.DepStore,
		Repo:            h.Repo,
		Prefix:          h.PrefixOracle,
		Store:           h.Store,
		Reflection:      h.Reflection,
		Direction:       h.Direction,
		Callgraph:       h.Callgraph,
		EntryPoints:     h.EntryPoints,
		Tree:            h.Tree,
		ProcNumDeps:     2,
		ProcNumCG:       2,
		DependencyDepth: 1,
	}
}

// AddJar registers a jar for v containing one class file per entry in
// classes (dot-separated, no ".class" suffix), servable over the
// harness's fake Maven repository, and returns the local cache path
// repo.Client will fetch it to (the key Graphs/Calls/Reflects/Refs are
// keyed by).
func (h *Harness) AddJar(v gav.GAV, classes ...string) string {
	h.t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, c := range classes {
		name := dotsToSlashes(c) + ".class"
		w, err := zw.Create(name)
		if err != nil {
			h.t.Fatal(err)
		}
		w.Write([]byte("x"))
	}
	if err := zw.Close(); err != nil {
		h.t.Fatal(err)
	}

	urlPath := "/" + dotsToSlashes(v.Group) + "/" + v.Artifact + "/" + v.Version + "/" + v.Artifact + "-" + v.Version + ".jar"
	h.jars[urlPath] = buf.Bytes()
	return h.Repo.JarPath(v)
}

func dotsToSlashes(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out[i] = '/'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
