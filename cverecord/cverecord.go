// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cverecord implements the disclosed-vulnerability record consumed
// by the propagation engine: an OSV-shaped document anchored at one
// upstream GAV, naming the vulnerable function signatures that seed the
// worklist's initial sink set.
//
// The shape follows the OSV schema's Affected/EcosystemSpecific pattern
// (see https://github.com/ossf/osv-schema) adapted to the Maven ecosystem:
// VulnFunctions carries class-signature sinks instead of Go symbol names, and
// the single upstream GA replaces OSV's per-range Package.
package cverecord

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/derrors"
)

// Ecosystem identifies the package ecosystem of a record. Only Maven is
// implemented; the field exists so records remain self-describing.
type Ecosystem string

// MavenEcosystem is the only Ecosystem this package understands.
const MavenEcosystem Ecosystem = "Maven"

// Record is a disclosed vulnerability anchored at one upstream GA, with a
// vulnerable-function set for each affected version.
type Record struct {
	ID        string    `json:"id"`
	Published time.Time `json:"published"`
	Modified  time.Time `json:"modified"`
	Details   string    `json:"details,omitempty"`
	Ecosystem Ecosystem `json:"ecosystem"`

	// Group and Artifact identify the upstream GA this record is
	// anchored at.
	Group    string `json:"group"`
	Artifact string `json:"artifact"`

	// VulnVersions lists the upstream point versions affected.
	VulnVersions []string `json:"vuln_versions"`

	// VulnFunctions lists the vulnerable callgraph signatures. Every
	// version in VulnVersions is seeded with this identical sink set,
	// mirroring the propagation engine's root initialization
	// ("Sinks for the root are {vuln_version -> vuln_functions}").
	VulnFunctions []string `json:"vuln_functions"`
}

// GA returns the upstream GA coordinate this record is anchored at.
func (r *Record) GA() (_ gav.GA, err error) {
	defer derrors.Wrap(&err, "Record.GA(%s)", r.ID)
	if r.Group == "" || r.Artifact == "" {
		return gav.GA{}, fmt.Errorf("%w: record %s missing group/artifact", derrors.DataInvalid, r.ID)
	}
	return gav.GA{Group: r.Group, Artifact: r.Artifact}, nil
}

// RootSinks returns the per-version sink-function map used to seed the
// propagation engine's worklist for the root GA: every affected version
// maps to the identical vulnerable-function set.
func (r *Record) RootSinks() map[string][]string {
	sinks := make(map[string][]string, len(r.VulnVersions))
	for _, v := range r.VulnVersions {
		funcs := make([]string, len(r.VulnFunctions))
		copy(funcs, r.VulnFunctions)
		sinks[v] = funcs
	}
	return sinks
}

// Validate checks the structural invariants of a record: it must name a
// valid GA, at least one affected version (each a point version, not a
// range), and at least one vulnerable function.
func (r *Record) Validate() (err error) {
	defer derrors.Wrap(&err, "Record.Validate(%s)", r.ID)
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", derrors.DataInvalid)
	}
	if _, err := r.GA(); err != nil {
		return err
	}
	if len(r.VulnVersions) == 0 {
		return fmt.Errorf("%w: no vuln_versions", derrors.DataInvalid)
	}
	for _, v := range r.VulnVersions {
		if !gav.IsValidVersion(v) {
			return fmt.Errorf("%w: vuln_versions contains a range %q", derrors.DataInvalid, v)
		}
	}
	if len(r.VulnFunctions) == 0 {
		return fmt.Errorf("%w: no vuln_functions", derrors.DataInvalid)
	}
	return nil
}

// Parse decodes a JSON-encoded Record and validates it.
func Parse(data []byte) (_ *Record, err error) {
	defer derrors.Wrap(&err, "cverecord.Parse")
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.DataInvalid, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
