// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"net/url"

	"golang.org/x/vulnprop/gav"
)

// MavenPURL renders v as a Package URL of the "maven" type:
// pkg:maven/group/artifact@version. Unlike the golang purl type, which
// has no namespace, Maven coordinates map directly onto purl's
// namespace/name/version triple.
//
// See https://github.com/package-url/purl-spec/blob/master/PURL-TYPES.rst#maven.
func MavenPURL(v gav.GAV) string {
	return "pkg:maven/" + url.PathEscape(v.Group) + "/" + url.PathEscape(v.Artifact) + "@" + url.PathEscape(v.Version)
}

// MavenPURLGA renders a bare GA (no version) as a purl, used where a
// whole GA rather than one version is meant, e.g. VEX product IDs.
func MavenPURLGA(ga gav.GA) string {
	return "pkg:maven/" + url.PathEscape(ga.Group) + "/" + url.PathEscape(ga.Artifact)
}
