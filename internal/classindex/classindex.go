// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package classindex implements the Class Surface Extractor (component
// 4.B): enumerating the fully-qualified class names contained in a jar,
// tolerant of corrupt or partially-unreadable archives.
package classindex

import (
	"archive/zip"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/vulnprop/internal/derrors"
)

// metaInfPrefix is the reserved jar directory excluded from the class
// surface: manifest, signature, and multi-release-jar version overlay
// entries (META-INF/versions/N/...) live here, not the class's own
// owning package.
const metaInfPrefix = "META-INF/"

// Classes returns the sorted, fully-qualified class names (dot-separated,
// no ".class" suffix) found in the jar at path, excluding anything under
// META-INF/. Individual unreadable entries are skipped; only a failure to
// open the archive itself is reported, as derrors.ArchiveCorrupt.
func Classes(path string) (_ []string, err error) {
	defer derrors.Wrap(&err, "classindex.Classes(%s)", path)

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.ArchiveCorrupt, err)
	}
	defer zr.Close()

	var classes []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".class") {
			continue
		}
		if strings.HasPrefix(f.Name, metaInfPrefix) {
			continue
		}
		name := strings.TrimSuffix(f.Name, ".class")
		name = strings.ReplaceAll(name, "/", ".")
		classes = append(classes, name)
	}
	sort.Strings(classes)
	return classes, nil
}

// Prefixes reduces a class list to the sorted set of unique top-level
// package prefixes "a.b.c" (everything but the final simple class name),
// matching the granularity the owning-prefix filter operates at.
func Prefixes(classes []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range classes {
		i := strings.LastIndex(c, ".")
		if i < 0 {
			continue
		}
		pkg := c[:i]
		if !seen[pkg] {
			seen[pkg] = true
			out = append(out, pkg)
		}
	}
	sort.Strings(out)
	return out
}
