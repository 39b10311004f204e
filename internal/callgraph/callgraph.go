// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package callgraph implements the CallGraph data type and the
// Callgraph Oracle Client (component 4.F): it invokes the external
// generator, caches per-GAV graphs, and post-filters each graph to the
// GAV's own owned packages.
package callgraph

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/analyzer"
	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/lock"
	"golang.org/x/vulnprop/signature"
)

// Graph is a directed graph over method signatures, with a visibility
// modifier per node.
type Graph struct {
	Modifier map[string]signature.Modifier `json:"modifier"`
	Edges    map[string][]string           `json:"edges"` // source signature -> target signatures.
}

func newGraph() *Graph {
	return &Graph{Modifier: make(map[string]signature.Modifier), Edges: make(map[string][]string)}
}

// FilterOwned drops every edge whose source signature's class is not
// under one of the given owned prefixes.
func (g *Graph) FilterOwned(prefixes []string) {
	for src, tgts := range g.Edges {
		if !signature.HasPrefix(src, prefixes) {
			delete(g.Edges, src)
			continue
		}
		_ = tgts
	}
}

// Reverse returns the reverse-edge adjacency of g (target -> sources),
// used by the entry-point finder's reverse BFS.
func (g *Graph) Reverse() map[string][]string {
	rev := make(map[string][]string, len(g.Edges))
	for src, tgts := range g.Edges {
		for _, tgt := range tgts {
			rev[tgt] = append(rev[tgt], src)
		}
	}
	return rev
}

// Annotation carries the per-CVE overrides: reflection_annotations,
// only-app-code, and supplementary_ga.
type Annotation struct {
	ReflectionAnnotations string              `json:"reflection_annotations,omitempty"`
	OnlyAppCode           map[string]bool     `json:"only-app-code,omitempty"`
	SupplementaryGA       map[string][]string `json:"supplementary_ga,omitempty"`
}

// Client is the callgraph oracle client.
type Client struct {
	Analyzer analyzer.Interface
	Engine   analyzer.Engine
	CacheDir string
}

// NewClient returns a Client that writes generated graphs under cacheDir.
func NewClient(a analyzer.Interface, engine analyzer.Engine, cacheDir string) *Client {
	return &Client{Analyzer: a, Engine: engine, CacheDir: cacheDir}
}

func (c *Client) outPath(v gav.GAV) string {
	return filepath.Join(c.CacheDir, v.Group, v.Artifact, v.Version+".cg.json")
}

// Get returns v's callgraph, generating it (and persisting the result,
// filtered to ownedPrefixes) if not already cached. A nil graph with a
// nil error means the generator timed out or exited nonzero: the caller
// must treat v as dropped, not retry-worthy within this iteration.
func (c *Client) Get(ctx context.Context, v gav.GAV, jarPath string, ownedPrefixes []string, ann *Annotation) (_ *Graph, err error) {
	defer derrors.Wrap(&err, "callgraph.Get(%s)", v)

	outPath := c.outPath(v)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, err
	}

	unlock, err := lock.File(ctx, outPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if g, ok, err := c.load(outPath); err != nil {
		return nil, err
	} else if ok {
		return g, nil
	}

	prefixFile, err := c.writePrefixFile(v, ownedPrefixes, ann)
	if err != nil {
		return nil, err
	}
	if prefixFile != "" {
		defer os.Remove(prefixFile)
	}

	opts := analyzer.GenCGOptions{
		Engine:        c.Engine,
		JarPath:       jarPath,
		OutPath:       outPath + ".raw",
		PackagePrefix: prefixFile,
	}
	if ann != nil {
		opts.OnlyAppCode = ann.OnlyAppCode[v.String()]
		opts.ReflectionList = ann.ReflectionAnnotations
	}

	if err := c.Analyzer.GenCG(ctx, opts); err != nil {
		if derrors.Is(err, derrors.ToolCrash) || derrors.Is(err, derrors.ToolTimeout) {
			return nil, nil // timed out or crashed: no cache entry, v is dropped this iteration.
		}
		return nil, err
	}

	g, err := c.readRawGraph(opts.OutPath)
	os.Remove(opts.OutPath)
	if err != nil {
		return nil, nil
	}
	g.FilterOwned(ownedPrefixes)

	if err := c.store(outPath, g); err != nil {
		return nil, err
	}
	return g, nil
}

// writePrefixFile materializes ownedPrefixes as the --package-prefix file
// the generator expects. ann is not consulted: supplementary GA prefixes
// named in it are not added to the file. It returns "" if there is
// nothing to write.
func (c *Client) writePrefixFile(v gav.GAV, ownedPrefixes []string, ann *Annotation) (string, error) {
	if len(ownedPrefixes) == 0 {
		return "", nil
	}
	path := c.outPath(v) + ".prefixes"
	data, err := json.Marshal(ownedPrefixes)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Client) readRawGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw analyzer.Graph
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	g := newGraph()
	for _, n := range raw.Nodes {
		g.Modifier[n.Signature] = signature.Modifier(n.Modifier)
	}
	for _, e := range raw.Edges {
		g.Edges[e.Src] = append(g.Edges[e.Src], e.Tgt)
	}
	return g, nil
}

func (c *Client) load(path string) (*Graph, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, false, err
	}
	return &g, true, nil
}

func (c *Client) store(path string, g *Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
