// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package callers implements the Caller-Resolver (component 4.H): given
// entry-point signatures and a downstream GAV's callgraph, it returns
// the map entry-point -> callers in that downstream graph, plus the
// cheap textual pre-filter that decides whether the full callgraph is
// worth building at all.
package callers

import (
	"context"

	"golang.org/x/vulnprop/internal/analyzer"
	"golang.org/x/vulnprop/internal/callgraph"
	"golang.org/x/vulnprop/internal/derrors"
)

// PreFilter reports whether it is worth building the downstream
// callgraph at all: a cheap bytecode-level textual reference check
// against the entry-point set, or an unconditional "yes" if reflection
// was detected on the downstream jar.
func PreFilter(ctx context.Context, a analyzer.Interface, jarPath string, entryPoints []string, reflectionDetected bool) (build bool, err error) {
	defer derrors.Wrap(&err, "callers.PreFilter(%s)", jarPath)

	if reflectionDetected {
		return true, nil
	}
	found, err := a.CheckCall(ctx, jarPath, entryPoints, "")
	if err != nil {
		if derrors.Is(err, derrors.ToolCrash) || derrors.Is(err, derrors.ToolTimeout) {
			return true, nil // conservative: don't skip the full build on tool failure.
		}
		return false, err
	}
	return found, nil
}

// Resolve scans g's edges and, for every edge whose target is an entry
// point, records the source as a caller of that entry point. An entry
// point with no callers in g is simply absent from the result, which
// means "D does not actually call any entry point."
func Resolve(entryPoints map[string]bool, g *callgraph.Graph) map[string][]string {
	result := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for src, tgts := range g.Edges {
		for _, tgt := range tgts {
			if !entryPoints[tgt] {
				continue
			}
			if seen[tgt] == nil {
				seen[tgt] = make(map[string]bool)
			}
			if seen[tgt][src] {
				continue
			}
			seen[tgt][src] = true
			result[tgt] = append(result[tgt], src)
		}
	}
	return result
}
