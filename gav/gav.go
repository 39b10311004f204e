// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gav defines the group:artifact and group:artifact:version
// coordinate value types used throughout vulnprop to identify Maven-layout
// packages.
package gav

import (
	"fmt"
	"strings"

	"golang.org/x/vulnprop/internal/derrors"
)

// GA identifies a package by group and artifact, without a version.
type GA struct {
	Group    string
	Artifact string
}

// String returns the canonical "g:a" form.
func (ga GA) String() string {
	return ga.Group + ":" + ga.Artifact
}

// ParseGA parses a canonical "g:a" string.
func ParseGA(s string) (_ GA, err error) {
	defer derrors.Wrap(&err, "ParseGA(%q)", s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return GA{}, fmt.Errorf("%w: want \"group:artifact\", got %q", derrors.DataInvalid, s)
	}
	return GA{Group: parts[0], Artifact: parts[1]}, nil
}

// GAV identifies a specific version of a package.
type GAV struct {
	Group    string
	Artifact string
	Version  string
}

// GA returns the GA coordinate of gav, dropping the version.
func (v GAV) GA() GA {
	return GA{Group: v.Group, Artifact: v.Artifact}
}

// String returns the canonical "g:a:v" form.
func (v GAV) String() string {
	return v.Group + ":" + v.Artifact + ":" + v.Version
}

// ParseGAV parses a canonical "g:a:v" string, rejecting version ranges
// (strings containing ',' or '[') per the coordinate invariant in the
// data model: those denote ranges, not points, and are never valid
// members of a worklist or callgraph lookup.
func ParseGAV(s string) (_ GAV, err error) {
	defer derrors.Wrap(&err, "ParseGAV(%q)", s)
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return GAV{}, fmt.Errorf("%w: want \"group:artifact:version\", got %q", derrors.DataInvalid, s)
	}
	v := GAV{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if !IsValidVersion(v.Version) {
		return GAV{}, fmt.Errorf("%w: version range not a point version: %q", derrors.DataInvalid, s)
	}
	return v, nil
}

// IsValidVersion reports whether version is a single point version, as
// opposed to a Maven version range expression (which contains ',' or '[').
func IsValidVersion(version string) bool {
	return !strings.ContainsAny(version, ",[")
}

// Path returns the group component with dots replaced by slashes, as used
// in Maven repository-layout URLs and local cache paths.
func (ga GA) Path() string {
	return strings.ReplaceAll(ga.Group, ".", "/") + "/" + ga.Artifact
}

// WithVersion returns the GAV for ga at version.
func (ga GA) WithVersion(version string) GAV {
	return GAV{Group: ga.Group, Artifact: ga.Artifact, Version: version}
}
