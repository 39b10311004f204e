// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package report collects the propagation engine's per-GA working trees
// into findings (one per downstream GAV the root's sinks reached) and
// renders them in SARIF and OpenVEX form.
package report

import (
	"sort"

	"golang.org/x/vulnprop/cverecord"
	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/workdir"
)

// Finding is one downstream GAV a CVE record's sinks were found reachable
// in: tfs.json named it as carrying sinks, dep_calls.json named the
// entry points and their in-jar callers.
type Finding struct {
	GA      gav.GA
	Version string
	// Sinks are the upstream signatures reachable in this GAV.
	Sinks []string
	// Callers maps an entry-point signature to the callers that reach it
	// from within GA's own code, per dep_calls.json.
	Callers map[string][]string
}

// Collect walks the working trees of the given downstream GAs and
// returns one Finding per (GA, version) pair whose tfs.json names at
// least one sink, sorted for deterministic output.
func Collect(tree *workdir.Tree, gas []gav.GA) ([]Finding, error) {
	var findings []Finding
	for _, ga := range gas {
		tfs, err := tree.LoadTFS(ga)
		if err != nil {
			return nil, err
		}
		if len(tfs) == 0 {
			continue
		}
		depCalls, err := tree.LoadDepCalls(ga)
		if err != nil {
			return nil, err
		}
		for version, sinks := range tfs {
			if len(sinks) == 0 {
				continue
			}
			f := Finding{GA: ga, Version: version, Sinks: append([]string(nil), sinks...)}
			f.Callers = callersFor(depCalls, version)
			findings = append(findings, f)
		}
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].GA != findings[j].GA {
			return findings[i].GA.String() < findings[j].GA.String()
		}
		return findings[i].Version < findings[j].Version
	})
	return findings, nil
}

// callersFor flattens dep_calls.json's downstream-GA -> upstream-version
// -> downstream-version -> entry-point -> callers shape down to the
// entry points and callers recorded against a single downstream version,
// across whichever upstream versions reached it.
func callersFor(dc workdir.DepCalls, version string) map[string][]string {
	out := make(map[string][]string)
	for _, byUp := range dc {
		for _, byDown := range byUp {
			byEntry, ok := byDown[version]
			if !ok {
				continue
			}
			for entry, callers := range byEntry {
				out[entry] = unionDedup(out[entry], callers)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func unionDedup(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// recordSummary returns a record's human-readable summary, falling back
// to its ID when no free-text details are present.
func recordSummary(rec *cverecord.Record) string {
	if rec.Details != "" {
		return rec.Details
	}
	return rec.ID
}
