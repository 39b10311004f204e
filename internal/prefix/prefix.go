// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package prefix implements the Package-Prefix Oracle (component 4.C):
// for a GAV, the set of package prefixes it owns, i.e. its own class set
// minus the class sets of its POM-declared direct dependencies.
package prefix

import (
	"context"
	"sort"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/classindex"
	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/kvstore"
	"golang.org/x/vulnprop/internal/repo"
)

// DirectDeps resolves the POM-declared direct dependencies of a GAV. POM
// parsing itself is outside this package's scope; callers supply an
// implementation backed by whatever dependency store they have, or
// UnavailableDeps if none is wired up.
type DirectDeps interface {
	Direct(ctx context.Context, v gav.GAV) ([]gav.GAV, error)
}

// UnavailableDeps always reports no known dependencies, which causes
// Oracle.Owned to fall back to the conservative "return all classes"
// behavior.
type UnavailableDeps struct{}

func (UnavailableDeps) Direct(context.Context, gav.GAV) ([]gav.GAV, error) { return nil, nil }

// Oracle computes and caches owned package prefixes.
type Oracle struct {
	Repo  *repo.Client
	Store kvstore.Store
	Deps  DirectDeps
}

// NewOracle returns an Oracle. deps may be nil, equivalent to
// UnavailableDeps{}.
func NewOracle(r *repo.Client, store kvstore.Store, deps DirectDeps) *Oracle {
	if deps == nil {
		deps = UnavailableDeps{}
	}
	return &Oracle{Repo: r, Store: store, Deps: deps}
}

// Owned returns v's owned package prefixes, computing and persisting them
// on first request.
func (o *Oracle) Owned(ctx context.Context, v gav.GAV) (_ []string, err error) {
	defer derrors.Wrap(&err, "prefix.Owned(%s)", v)

	if row, ok, err := o.Store.Get(ctx, v); err != nil {
		return nil, err
	} else if ok && row.Prefixes != nil {
		return row.Prefixes, nil
	}

	jarPath, err := o.Repo.Fetch(ctx, v)
	if err != nil {
		return nil, err
	}
	classes, err := classindex.Classes(jarPath)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(classes))
	for _, c := range classes {
		owned[c] = true
	}

	deps, err := o.Deps.Direct(ctx, v)
	if err != nil {
		// Conservative fallback: dependency resolution failure never
		// loses coverage.
		deps = nil
	}
	for _, d := range deps {
		if !gav.IsValidVersion(d.Version) {
			continue // version range, not a point version: unresolvable to a single jar.
		}
		depJar, err := o.Repo.Fetch(ctx, d)
		if err != nil {
			continue // missing/unreachable dependency jar: ignore, stay conservative.
		}
		depClasses, err := classindex.Classes(depJar)
		if err != nil {
			continue
		}
		for _, c := range depClasses {
			delete(owned, c)
		}
	}

	remaining := make([]string, 0, len(owned))
	for c := range owned {
		remaining = append(remaining, c)
	}
	prefixes := classindex.Prefixes(remaining)
	sort.Strings(prefixes)

	if err := o.Store.SetPrefixes(ctx, v, prefixes); err != nil {
		return nil, err
	}
	return prefixes, nil
}
