// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workdir manages the per-GA working tree the propagation
// engine persists its state to: ga-deps.json, gav_deps.json,
// filtered_gav_deps.json, filtered_gav_deps_cg.json, dep_calls.json,
// tfs.json, and the append-only up file, plus the per-CVE annotation
// file and the selected/, selected_cg/ marker trees.
package workdir

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/lock"
)

// Tree is the on-disk layout for one CVE's analysis run.
type Tree struct {
	Root string
}

// New returns a Tree rooted at filepath.Join(base, cveID).
func New(base, cveID string) *Tree {
	return &Tree{Root: filepath.Join(base, cveID)}
}

func (t *Tree) gaDir(ga gav.GA) string {
	return filepath.Join(t.Root, "ga", ga.Group, ga.Artifact)
}

// VersionDeps maps an upstream version to the downstream versions that
// declare a dependency on it: gav_deps.json / filtered_gav_deps.json /
// filtered_gav_deps_cg.json all share this shape, keyed first by
// downstream GA.
type VersionDeps map[string][]string

// GADeps is the per-downstream-GA dependency map these three files
// hold: downstream-GA -> upstream-version -> downstream-versions.
type GADeps map[string]VersionDeps

// DepCalls is dep_calls.json's shape: downstream-GA -> upstream-version
// -> downstream-version -> entry-point -> callers in downstream.
type DepCalls map[string]map[string]map[string]map[string][]string

// writeJSONAtomic writes v as JSON to path via a temp file and rename,
// under a named file lock, so a crash mid-write never leaves a
// truncated or partially-written file in place.
func writeJSONAtomic(ctx context.Context, path string, v interface{}) (err error) {
	defer derrors.Wrap(&err, "workdir.writeJSONAtomic(%s)", path)

	unlock, err := lock.File(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// gaPaths returns the fixed filenames under a GA's directory.
func (t *Tree) gaPaths(ga gav.GA) (gaDeps, gavDeps, filtered, filteredCG, depCalls, tfs, up string) {
	dir := t.gaDir(ga)
	return filepath.Join(dir, "ga-deps.json"),
		filepath.Join(dir, "gav_deps.json"),
		filepath.Join(dir, "filtered_gav_deps.json"),
		filepath.Join(dir, "filtered_gav_deps_cg.json"),
		filepath.Join(dir, "dep_calls.json"),
		filepath.Join(dir, "tfs.json"),
		filepath.Join(dir, "up")
}

// LoadGADeps loads ga-deps.json: the reachable-GA set for ga.
func (t *Tree) LoadGADeps(ga gav.GA) ([]string, error) {
	p, _, _, _, _, _, _ := t.gaPaths(ga)
	var out []string
	_, err := readJSON(p, &out)
	return out, err
}

// StoreGADeps persists ga-deps.json.
func (t *Tree) StoreGADeps(ctx context.Context, ga gav.GA, reachable []string) error {
	p, _, _, _, _, _, _ := t.gaPaths(ga)
	return writeJSONAtomic(ctx, p, reachable)
}

// LoadGAVDeps loads gav_deps.json.
func (t *Tree) LoadGAVDeps(ga gav.GA) (GADeps, error) {
	_, p, _, _, _, _, _ := t.gaPaths(ga)
	out := make(GADeps)
	_, err := readJSON(p, &out)
	return out, err
}

// MergeGAVDeps unions additions into gav_deps.json and persists the
// result (set-union merge, never overwrite). Only the final write is
// under the file lock; the load and merge before it are not, so callers
// must not merge into the same GA concurrently.
func (t *Tree) MergeGAVDeps(ctx context.Context, ga gav.GA, additions GADeps) (GADeps, error) {
	existing, err := t.LoadGAVDeps(ga)
	if err != nil {
		return nil, err
	}
	merged := unionGADeps(existing, additions)
	_, p, _, _, _, _, _ := t.gaPaths(ga)
	if err := writeJSONAtomic(ctx, p, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadFilteredGAVDeps loads filtered_gav_deps.json.
func (t *Tree) LoadFilteredGAVDeps(ga gav.GA) (GADeps, error) {
	_, _, p, _, _, _, _ := t.gaPaths(ga)
	out := make(GADeps)
	_, err := readJSON(p, &out)
	return out, err
}

// MergeFilteredGAVDeps unions additions into filtered_gav_deps.json.
func (t *Tree) MergeFilteredGAVDeps(ctx context.Context, ga gav.GA, additions GADeps) (GADeps, error) {
	existing, err := t.LoadFilteredGAVDeps(ga)
	if err != nil {
		return nil, err
	}
	merged := unionGADeps(existing, additions)
	_, _, p, _, _, _, _ := t.gaPaths(ga)
	if err := writeJSONAtomic(ctx, p, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadFilteredGAVDepsCG loads filtered_gav_deps_cg.json.
func (t *Tree) LoadFilteredGAVDepsCG(ga gav.GA) (GADeps, error) {
	_, _, _, p, _, _, _ := t.gaPaths(ga)
	out := make(GADeps)
	_, err := readJSON(p, &out)
	return out, err
}

// MergeFilteredGAVDepsCG unions additions into filtered_gav_deps_cg.json.
func (t *Tree) MergeFilteredGAVDepsCG(ctx context.Context, ga gav.GA, additions GADeps) (GADeps, error) {
	existing, err := t.LoadFilteredGAVDepsCG(ga)
	if err != nil {
		return nil, err
	}
	merged := unionGADeps(existing, additions)
	_, _, _, p, _, _, _ := t.gaPaths(ga)
	if err := writeJSONAtomic(ctx, p, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// LoadDepCalls loads dep_calls.json.
func (t *Tree) LoadDepCalls(ga gav.GA) (DepCalls, error) {
	_, _, _, _, p, _, _ := t.gaPaths(ga)
	out := make(DepCalls)
	_, err := readJSON(p, &out)
	return out, err
}

// MergeDepCalls unions additions into dep_calls.json. Caller-list
// entries for the same (downstreamGA, vUp, vDown, entryPoint) are
// unioned by value, never overwritten.
func (t *Tree) MergeDepCalls(ctx context.Context, ga gav.GA, additions DepCalls) (DepCalls, error) {
	existing, err := t.LoadDepCalls(ga)
	if err != nil {
		return nil, err
	}
	for d, byUp := range additions {
		if existing[d] == nil {
			existing[d] = make(map[string]map[string]map[string][]string)
		}
		for vUp, byDown := range byUp {
			if existing[d][vUp] == nil {
				existing[d][vUp] = make(map[string]map[string][]string)
			}
			for vDown, byEntry := range byDown {
				if existing[d][vUp][vDown] == nil {
					existing[d][vUp][vDown] = make(map[string][]string)
				}
				for entry, callers := range byEntry {
					existing[d][vUp][vDown][entry] = unionStrings(existing[d][vUp][vDown][entry], callers)
				}
			}
		}
	}
	_, _, _, _, p, _, _ := t.gaPaths(ga)
	if err := writeJSONAtomic(ctx, p, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// TFS is tfs.json's shape: per downstream version, the sink signatures
// that must be searched for in that GA.
type TFS map[string][]string

// LoadTFS loads tfs.json.
func (t *Tree) LoadTFS(ga gav.GA) (TFS, error) {
	_, _, _, _, _, p, _ := t.gaPaths(ga)
	out := make(TFS)
	_, err := readJSON(p, &out)
	return out, err
}

// StoreTFS persists the merged sink set. tfs.json must only grow;
// callers are expected to have already unioned with the previous value
// (see propagate.sinkDiff).
func (t *Tree) StoreTFS(ctx context.Context, ga gav.GA, tfs TFS) error {
	_, _, _, _, _, p, _ := t.gaPaths(ga)
	return writeJSONAtomic(ctx, p, tfs)
}

// LoadUp returns the set of upstream GAs ga is currently analyzed on
// behalf of.
func (t *Tree) LoadUp(ga gav.GA) (map[string]bool, error) {
	_, _, _, _, _, _, p := t.gaPaths(ga)
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, line := range splitLines(data) {
		if line != "" {
			out[line] = true
		}
	}
	return out, nil
}

// AppendUp appends upstreamGA to ga's up file under lock, if not already
// present (append-only, deduplicated).
func (t *Tree) AppendUp(ctx context.Context, ga gav.GA, upstreamGA string) (err error) {
	defer derrors.Wrap(&err, "workdir.AppendUp(%s, %s)", ga, upstreamGA)

	_, _, _, _, _, _, p := t.gaPaths(ga)
	unlock, err := lock.File(ctx, p)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	existing, err := t.LoadUp(ga)
	if err != nil {
		return err
	}
	if existing[upstreamGA] {
		return nil
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(upstreamGA + "\n")
	return err
}

// EnsureGADir creates ga's working directory if absent.
func (t *Tree) EnsureGADir(ga gav.GA) error {
	return os.MkdirAll(t.gaDir(ga), 0o755)
}

// Annotation loads the per-CVE annotation file
// annotations/{cve}/config.json, returning (nil, nil) if absent.
func (t *Tree) Annotation(cveID string) (*AnnotationConfig, error) {
	path := filepath.Join(filepath.Dir(t.Root), "annotations", cveID, "config.json")
	var cfg AnnotationConfig
	ok, err := readJSON(path, &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

// AnnotationConfig is the recognized shape of a per-CVE annotation file.
type AnnotationConfig struct {
	ReflectionAnnotations string              `json:"reflection_annotations,omitempty"`
	OnlyAppCode           map[string]bool     `json:"only-app-code,omitempty"`
	SupplementaryGA       map[string][]string `json:"supplementary_ga,omitempty"`
}

// Marker names one of the idempotence marker trees (selected/ or
// selected_cg/ empty directories, one per (v_up, downstream-GA, v_down)
// triple). Tree.HasMarker and Tree.SetMarker take the tree name directly.
type Marker struct {
	Root string // "selected" or "selected_cg"
}

func (t *Tree) markerPath(kind string, vUp string, d gav.GA, vDown string) string {
	return filepath.Join(t.Root, kind, vUp, d.Group, d.Artifact, vDown)
}

// HasMarker reports whether the marker directory already exists.
func (t *Tree) HasMarker(kind, vUp string, d gav.GA, vDown string) bool {
	_, err := os.Stat(t.markerPath(kind, vUp, d, vDown))
	return err == nil
}

// SetMarker creates the marker directory, idempotently.
func (t *Tree) SetMarker(kind, vUp string, d gav.GA, vDown string) error {
	return os.MkdirAll(t.markerPath(kind, vUp, d, vDown), 0o755)
}

func unionGADeps(a, b GADeps) GADeps {
	out := make(GADeps, len(a))
	for d, vd := range a {
		out[d] = cloneVersionDeps(vd)
	}
	for d, vd := range b {
		if out[d] == nil {
			out[d] = make(VersionDeps)
		}
		for up, downs := range vd {
			out[d][up] = unionStrings(out[d][up], downs)
		}
	}
	return out
}

func cloneVersionDeps(vd VersionDeps) VersionDeps {
	out := make(VersionDeps, len(vd))
	for k, v := range vd {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func unionStrings(a, b []string) []string {
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

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
