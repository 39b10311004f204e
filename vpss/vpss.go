// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vpss implements the VPSS Scorer (component 4.J): a pure
// function mapping time-sliced counts of the propagation engine's
// output into a bounded 0-10 exposure score.
package vpss

import (
	"log"
	"math"
	"sort"
)

// Weights for the four exposure fractions, in the order
// [direct-package, transitive-package, direct-version, transitive-version].
var weights = [4]float64{5, 2.5, 3, 1.5}

const (
	gamma = 500
	lN    = 10
	k     = 0.5
	scale = 10
)

// Counts is the per-sample-timestamp input to the score formula.
type Counts struct {
	TotalP    int
	TotalPV   int
	PDirect   int
	PTransitive int
	PVDirect    int
	PVTransitive int
	MaxLen    float64
	AvgLen    float64
}

// Score computes VPSS for one sample. A TotalP or TotalPV of zero
// (nothing reachable yet at this timestamp) yields a score of 0, since
// every X_i term would otherwise divide by zero.
func Score(c Counts) float64 {
	if c.TotalP == 0 || c.TotalPV == 0 {
		return 0
	}
	x := [4]float64{
		float64(c.PDirect) / float64(c.TotalP),
		float64(c.PTransitive) / float64(c.TotalP),
		float64(c.PVDirect) / float64(c.TotalPV),
		float64(c.PVTransitive) / float64(c.TotalPV),
	}
	var weighted float64
	for i, w := range weights {
		weighted += w * x[i]
	}
	pbf := math.Log(1 + gamma*weighted)
	pdf := 1 + (c.MaxLen+c.AvgLen)/(2*lN)
	return scale * (1 - math.Exp(-k*pbf*pdf))
}

// Edge is one GA-graph edge in a time-sliced dependency graph, used by
// Slice to compute Counts at a given sample timestamp.
type Edge struct {
	From, To string
	// Direct is true for a direct (POM-declared) dependency edge, false
	// for a transitively-reached one.
	Direct bool
	// EarliestTimestamp is the earliest publication time recorded for
	// the downstream endpoint of this edge, in days since a fixed epoch
	// (callers choose the unit; only relative order matters for
	// slicing).
	EarliestTimestamp int64
	// Versioned reports whether this edge is a GAV-level (package
	// version) edge rather than a GA-level one, selecting which of the
	// P/PV buckets it contributes to.
	Versioned bool
	// PathLen is the length of the call-chain witness associated with
	// this edge, used to derive MaxLen/AvgLen.
	PathLen int
}

// Slice computes Counts over edges whose EarliestTimestamp is
// <= sampleTimestamp, breaking any cycle that would otherwise arise by
// dropping the last edge that would close it (logged).
func Slice(edges []Edge, sampleTimestamp int64) Counts {
	var eligible []Edge
	for _, e := range edges {
		if e.EarliestTimestamp <= sampleTimestamp {
			eligible = append(eligible, e)
		}
	}
	eligible = breakCycles(eligible)

	var c Counts
	var lens []float64
	for _, e := range eligible {
		lens = append(lens, float64(e.PathLen))
		switch {
		case e.Versioned && e.Direct:
			c.PVDirect++
			c.TotalPV++
		case e.Versioned && !e.Direct:
			c.PVTransitive++
			c.TotalPV++
		case !e.Versioned && e.Direct:
			c.PDirect++
			c.TotalP++
		default:
			c.PTransitive++
			c.TotalP++
		}
	}
	if len(lens) > 0 {
		c.MaxLen = maxFloat(lens)
		c.AvgLen = avgFloat(lens)
	}
	return c
}

// breakCycles drops, for each cycle discovered, the last edge that
// would close it, via a DFS over the from->to adjacency built in input
// order. Dropped edges are logged.
func breakCycles(edges []Edge) []Edge {
	adj := make(map[string][]int) // node -> indices into edges of outgoing edges.
	for i, e := range edges {
		adj[e.From] = append(adj[e.From], i)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	keep := make([]bool, len(edges))
	for i := range keep {
		keep[i] = true
	}

	var visit func(node string)
	visit = func(node string) {
		color[node] = gray
		for _, idx := range adj[node] {
			e := edges[idx]
			if !keep[idx] {
				continue
			}
			switch color[e.To] {
			case white:
				visit(e.To)
			case gray:
				log.Printf("vpss: dropping cyclic edge %s -> %s", e.From, e.To)
				keep[idx] = false
			}
		}
		color[node] = black
	}

	var nodes []string
	seen := map[string]bool{}
	for _, e := range edges {
		if !seen[e.From] {
			seen[e.From] = true
			nodes = append(nodes, e.From)
		}
	}
	sort.Strings(nodes) // deterministic traversal order.
	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}

	out := make([]Edge, 0, len(edges))
	for i, e := range edges {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}

func maxFloat(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func avgFloat(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
