// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reflectprobe implements the Reflection Probe (component 4.D):
// a persisted boolean, per GAV, recording whether its jar invokes any
// method from a configured reflection-API list.
package reflectprobe

import (
	"context"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/analyzer"
	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/kvstore"
)

// Probe answers and caches the reflection question for a GAV.
type Probe struct {
	Analyzer       analyzer.Interface
	Store          kvstore.Store
	MethodListPath string

	// ReflectionUnaware is true when the active callgraph generator
	// cannot itself model reflection, meaning a positive probe result
	// must short-circuit downstream reachability decisions (4.D, 4.E).
	ReflectionUnaware bool
}

// Check returns whether v's jar invokes reflection, consulting and
// updating the persisted flag. A tool-crash or tool-timeout leaves the
// flag at kvstore.ReflectionUnknown and is reported as such to the
// caller (never to true) so the next run retries.
func (p *Probe) Check(ctx context.Context, v gav.GAV, jarPath string) (status kvstore.ReflectionStatus, err error) {
	defer derrors.Wrap(&err, "reflectprobe.Check(%s)", v)

	if row, ok, err := p.Store.Get(ctx, v); err != nil {
		return kvstore.ReflectionUnknown, err
	} else if ok && row.Reflection != kvstore.ReflectionUnknown {
		return row.Reflection, nil
	}

	found, err := p.Analyzer.CheckReflect(ctx, jarPath, p.MethodListPath, "")
	if err != nil {
		if derrors.Is(err, derrors.ToolCrash) || derrors.Is(err, derrors.ToolTimeout) {
			return kvstore.ReflectionUnknown, nil
		}
		return kvstore.ReflectionUnknown, err
	}

	status = kvstore.ReflectionNo
	if found {
		status = kvstore.ReflectionYes
	}
	if err := p.Store.SetReflection(ctx, v, status); err != nil {
		return kvstore.ReflectionUnknown, err
	}
	return status, nil
}

// ShortCircuits reports whether a positive reflection result on v should
// cause downstream reachability filters to retain v unconditionally,
// which only applies when the configured callgraph generator is itself
// reflection-unaware.
func (p *Probe) ShortCircuits(status kvstore.ReflectionStatus) bool {
	return p.ReflectionUnaware && status == kvstore.ReflectionYes
}
