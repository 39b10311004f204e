// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package depgraph is the client for the dependency-graph store: a
// labeled-property graph queried for "all paths from node with
// name=start along edges labeled RELATED, up to optional depth D."
package depgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/derrors"
)

// Client queries a dependency-graph store over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a Client rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: http.DefaultClient}
}

// pathsResponse is the wire shape: paths as node-name sequences.
type pathsResponse struct {
	Paths [][]string `json:"paths"`
}

// Paths returns every path, as a sequence of node names, reachable from
// start along RELATED edges up to depth hops. depth <= 0 means
// unbounded.
func (c *Client) Paths(ctx context.Context, start string, depth int) (_ [][]string, err error) {
	defer derrors.Wrap(&err, "depgraph.Paths(%q, %d)", start, depth)

	q := url.Values{}
	q.Set("start", start)
	q.Set("label", "RELATED")
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}
	reqURL := fmt.Sprintf("%s/paths?%s", c.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.NetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", derrors.NetworkError, resp.StatusCode)
	}

	var pr pathsResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decoding paths response: %v", derrors.DataInvalid, err)
	}
	return pr.Paths, nil
}

// ReachableGAs reduces the path sequences rooted at startGA to the flat
// list ga-deps.json persists: the distinct node names reachable within
// depth hops, excluding startGA itself, in first-seen order.
func (c *Client) ReachableGAs(ctx context.Context, startGA string, depth int) (_ []string, err error) {
	defer derrors.Wrap(&err, "depgraph.ReachableGAs(%q, %d)", startGA, depth)

	paths, err := c.Paths(ctx, startGA, depth)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, path := range paths {
		for _, node := range path {
			if node == startGA || seen[node] {
				continue
			}
			seen[node] = true
			out = append(out, node)
		}
	}
	return out, nil
}

// VersionDep names a downstream version's declared dependency on an
// upstream version, as returned by DeclaredDependencies.
type VersionDep struct {
	UpstreamVersion   string
	DownstreamVersion string
}

// DeclaredDependencies returns, for the downstream GA "g:a", every
// (upstream-version, downstream-version) pair where the downstream
// version declares a dependency on upstreamGA at that version. This is
// the version-mapping query step 2 of the propagation engine issues;
// the store is assumed to expose it as a node-property query over the
// same RELATED-edge graph, scoped by the two GA names.
func (c *Client) DeclaredDependencies(ctx context.Context, downstreamGA, upstreamGA string) (_ []VersionDep, err error) {
	defer derrors.Wrap(&err, "depgraph.DeclaredDependencies(%q, %q)", downstreamGA, upstreamGA)

	q := url.Values{}
	q.Set("downstream", downstreamGA)
	q.Set("upstream", upstreamGA)
	reqURL := fmt.Sprintf("%s/declared-deps?%s", c.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", derrors.NetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", derrors.NetworkError, resp.StatusCode)
	}

	var deps []VersionDep
	if err := json.NewDecoder(resp.Body).Decode(&deps); err != nil {
		return nil, fmt.Errorf("%w: decoding declared-deps response: %v", derrors.DataInvalid, err)
	}
	return deps, nil
}

// Direct implements internal/prefix.DirectDeps by treating the store's
// own declared-dependency edges as the POM-direct dependency set of v.
// This satisfies that package's interface structurally, with no import
// dependency between the two packages.
func (c *Client) Direct(ctx context.Context, v gav.GAV) (_ []gav.GAV, err error) {
	defer derrors.Wrap(&err, "depgraph.Direct(%s)", v)

	reachable, err := c.ReachableGAs(ctx, v.GA().String(), 1)
	if err != nil {
		return nil, err
	}
	var out []gav.GAV
	for _, node := range reachable {
		ga, err := gav.ParseGA(node)
		if err != nil {
			continue
		}
		deps, err := c.DeclaredDependencies(ctx, ga.String(), v.GA().String())
		if err != nil {
			continue
		}
		for _, d := range deps {
			if d.DownstreamVersion == v.Version {
				out = append(out, ga.WithVersion(d.UpstreamVersion))
			}
		}
	}
	return out, nil
}
