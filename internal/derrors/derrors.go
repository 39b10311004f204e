// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package derrors defines internal error values and an error-wrapping
// convention used throughout the vulnprop packages.
//
// The convention is to call Wrap in a defer statement at the top of a
// function, naming the named error return value:
//
//	func f(x int) (err error) {
//		defer derrors.Wrap(&err, "f(%d)", x)
//		...
//	}
//
// Wrap is a no-op if *errp is nil, and otherwise prepends the formatted
// message to the error while preserving errors.Is/As matching against the
// wrapped cause and against the sentinel Kind values below.
package derrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error per the policy table in the design document:
// artifact-missing, artifact-network, tool-crash, tool-timeout,
// archive-corrupt, data-invalid, and cycle-in-graph all have distinct
// recovery policies in the propagation engine.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

var (
	// NotFound means an artifact (jar/war) does not exist at any
	// attempted extension. Callers drop the GAV from candidates.
	NotFound = Kind{"not found"}

	// NetworkError means a transient failure (5xx, timeout, proxy
	// failure) talking to an external service. Callers skip this
	// iteration and retry on the next run; no state is written.
	NetworkError = Kind{"network error"}

	// ToolCrash means a child-process tool exited non-zero or produced
	// unparseable output. Callers treat this conservatively (keep).
	ToolCrash = Kind{"tool crash"}

	// ToolTimeout means a child-process tool exceeded its budget.
	// Treated identically to ToolCrash.
	ToolTimeout = Kind{"tool timeout"}

	// ArchiveCorrupt means a zip/jar could not be read. Callers attempt
	// one repack-and-retry before falling back to ToolCrash semantics.
	ArchiveCorrupt = Kind{"archive corrupt"}

	// DataInvalid means a record could not be parsed or is out of the
	// supported domain (e.g. a version range instead of a point
	// version). Callers skip the specific record and continue the batch.
	DataInvalid = Kind{"data invalid"}

	// CycleInGraph means the dependency graph or GA graph contains a
	// cycle where one should not exist. Callers log and drop the
	// offending edge.
	CycleInGraph = Kind{"cycle in graph"}
)

// Wrap adds context to *errp, if it is not nil. It leaves the original
// error wrapped so that errors.Is and errors.As continue to work against
// both the cause and any Kind passed to errors.Is by the caller.
func Wrap(errp *error, format string, args ...interface{}) {
	if *errp == nil {
		return
	}
	*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
}

// WrapKind is like Wrap but also asserts that the resulting error matches
// kind via errors.Is, by joining kind into the chain.
func WrapKind(errp *error, kind Kind, format string, args ...interface{}) {
	if *errp == nil {
		return
	}
	*errp = fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), *errp, kind)
}

// Is reports whether err is or wraps kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
