// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package direction implements the Dependency-Direction Filter
// (component 4.E): decides, via bytecode cross-reference, whether a
// candidate downstream GAV's own classes reference an upstream GAV's
// owned classes.
package direction

import (
	"context"
	"os"
	"strings"
	"time"

	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/jdeps"
)

// Filter decides keep/drop for (upstream, downstream) GAV pairs.
type Filter struct {
	Jdeps jdeps.Interface
}

// Keep reports whether downstreamJar's classes reference any class under
// upstreamPrefixes. It always returns true (conservative keep) when the
// tool fails after repair attempts, and the caller is responsible for
// applying the reflection short-circuit on top of this result as needed.
//
// downstreamPrefixes restricts which referencing classes count: only
// edges whose source is under one of downstreamPrefixes are considered,
// per "d_class prefixed by some P_D prefix and u_class by some P_U
// prefix."
func (f *Filter) Keep(ctx context.Context, downstreamJar string, downstreamPrefixes, upstreamPrefixes []string) (keep bool, err error) {
	defer derrors.Wrap(&err, "direction.Keep(%s)", downstreamJar)

	info, err := os.Stat(downstreamJar)
	if err != nil {
		return true, nil // missing jar: conservative keep, caller already failed to fetch.
	}
	sizeMB := float64(info.Size()) / (1 << 20)
	timeout := jdeps.Timeout(sizeMB)

	refs, err := f.referencesWithRepair(ctx, downstreamJar, timeout)
	if err != nil {
		// Tool failure after repair attempts: conservative keep.
		return true, nil
	}

	for _, r := range refs {
		if !hasPrefix(r.Source, downstreamPrefixes) {
			continue
		}
		if hasPrefix(r.Target, upstreamPrefixes) {
			return true, nil
		}
	}
	return false, nil
}

// referencesWithRepair runs the jdeps-equivalent tool, stripping
// module-info.class and retrying once on "Invalid CEN header" or
// similar archive corruption.
func (f *Filter) referencesWithRepair(ctx context.Context, jarPath string, timeout time.Duration) ([]jdeps.Reference, error) {
	refs, err := f.Jdeps.References(ctx, jarPath, timeout)
	if err == nil {
		return refs, nil
	}
	if !derrors.Is(err, derrors.ArchiveCorrupt) {
		return nil, err
	}

	repaired := jarPath + ".stripped"
	if sErr := jdeps.StripModuleInfo(jarPath, repaired); sErr != nil {
		return nil, err
	}
	defer os.Remove(repaired)

	refs, retryErr := f.Jdeps.References(ctx, repaired, timeout)
	if retryErr != nil {
		return nil, retryErr
	}
	return refs, nil
}

func hasPrefix(class string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(class, p) {
			return true
		}
	}
	return false
}
