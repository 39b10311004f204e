// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package signature parses the callgraph node signature format used by the
// external bytecode analyzer: "<class-name: return-type method-name(param-types)>".
package signature

import (
	"fmt"
	"strings"

	"golang.org/x/vulnprop/internal/derrors"
)

// Modifier is the visibility of a method, as reported by the callgraph
// oracle for each node.
type Modifier string

const (
	Public    Modifier = "public"
	Protected Modifier = "protected"
	Package   Modifier = "package"
	Private   Modifier = "private"
)

// IsExternallyReachable reports whether m is visible enough to act as an
// entry point from outside its declaring class (public or protected).
func (m Modifier) IsExternallyReachable() bool {
	return m == Public || m == Protected
}

// Parsed is the decomposition of a signature into its class, return
// type, method name and parameter list.
type Parsed struct {
	Class      string
	ReturnType string
	Method     string
	Params     string
}

// Parse decomposes a signature of the form
// "<class-name: return-type method-name(param-types)>".
//
// A signature that does not match this shape is a data-invalid error; the
// caller should skip the record rather than abort the batch.
func Parse(sig string) (_ Parsed, err error) {
	defer derrors.Wrap(&err, "signature.Parse(%q)", sig)
	if !strings.HasPrefix(sig, "<") || !strings.HasSuffix(sig, ">") {
		return Parsed{}, fmt.Errorf("%w: missing angle brackets", derrors.DataInvalid)
	}
	inner := sig[1 : len(sig)-1]
	classAndRest := strings.SplitN(inner, ": ", 2)
	if len(classAndRest) != 2 {
		return Parsed{}, fmt.Errorf("%w: missing \": \" separator", derrors.DataInvalid)
	}
	className := classAndRest[0]
	retAndMethod := strings.SplitN(classAndRest[1], " ", 2)
	if len(retAndMethod) != 2 {
		return Parsed{}, fmt.Errorf("%w: missing return type", derrors.DataInvalid)
	}
	returnType := retAndMethod[0]
	methodAndParams := retAndMethod[1]
	open := strings.Index(methodAndParams, "(")
	if open < 0 || !strings.HasSuffix(methodAndParams, ")") {
		return Parsed{}, fmt.Errorf("%w: missing parameter list", derrors.DataInvalid)
	}
	return Parsed{
		Class:      className,
		ReturnType: returnType,
		Method:     methodAndParams[:open],
		Params:     methodAndParams[open+1 : len(methodAndParams)-1],
	}, nil
}

// ClassOf returns the class component of sig without fully parsing it,
// for the common case (owning-prefix filters) where only the class is
// needed. It returns "" if sig is not well-formed.
func ClassOf(sig string) string {
	if !strings.HasPrefix(sig, "<") {
		return ""
	}
	inner := sig[1:]
	if i := strings.Index(inner, ":"); i >= 0 {
		return inner[:i]
	}
	return ""
}

// HasPrefix reports whether sig's class is under one of the given owned
// package prefixes, matching "<prefix..." on the raw signature: this is
// how the callgraph post-filter decides which edges to drop.
func HasPrefix(sig string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(sig, "<"+p) {
			return true
		}
	}
	return false
}
