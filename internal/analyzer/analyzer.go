// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analyzer is the client for the external bytecode analyzer
// child process, which supports three tasks: gen-cg (generate a
// callgraph JSON), check-call (cheap textual method reference check),
// and check-reflect (reflection-API usage probe).
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/vulnprop/internal/derrors"
)

// Engine selects which callgraph generator the analyzer binary should
// use for --cg-type.
type Engine string

const (
	PointsTo       Engine = "points-to"
	ReflectionAware Engine = "reflection-aware"
)

// Interface is the behavior callgraph.Client, reflectprobe.Probe, and
// callers.PreFilter depend on, so tests can substitute a fake bytecode
// analyzer instead of spawning the external binary.
type Interface interface {
	GenCG(ctx context.Context, opts GenCGOptions) error
	CheckCall(ctx context.Context, jarPath string, entryPoints []string, packagePrefix string) (bool, error)
	CheckReflect(ctx context.Context, jarPath, methodListPath, packagePrefix string) (bool, error)
}

var _ Interface = (*Client)(nil)

// Client runs the external analyzer binary.
type Client struct {
	// BinPath is the path to the analyzer executable.
	BinPath string
	// Timeout bounds every invocation. Zero means no timeout.
	Timeout time.Duration
}

// NewClient returns a Client invoking the analyzer at binPath, with the
// given default per-call timeout.
func NewClient(binPath string, timeout time.Duration) *Client {
	return &Client{BinPath: binPath, Timeout: timeout}
}

// Node is one callgraph node, as emitted by --task gen-cg.
type Node struct {
	Signature string `json:"signature"`
	Modifier  string `json:"modifier"`
}

// Edge is one callgraph edge, as emitted by --task gen-cg.
type Edge struct {
	Src string `json:"src"`
	Tgt string `json:"tgt"`
}

// Graph is the JSON document --task gen-cg writes to its --out file.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// GenCGOptions configures a gen-cg invocation.
type GenCGOptions struct {
	Engine         Engine
	JarPath        string
	OutPath        string
	PackagePrefix  string // path to a prefix filter file, optional.
	OnlyAppCode    bool
	ReflectionList string // path to reflection_annotations, optional.
}

// GenCG invokes --task gen-cg. A timeout or nonzero exit is reported as
// derrors.ToolTimeout / derrors.ToolCrash respectively; both are
// conservative-keep conditions the caller must interpret, never a hard
// failure of the batch.
func (c *Client) GenCG(ctx context.Context, opts GenCGOptions) (err error) {
	defer derrors.Wrap(&err, "analyzer.GenCG(%s)", opts.JarPath)

	args := []string{
		"--task", "gen-cg",
		"--cg-type", string(opts.Engine),
		"--jar-path", opts.JarPath,
		"--out", opts.OutPath,
	}
	if opts.PackagePrefix != "" {
		args = append(args, "--package-prefix", opts.PackagePrefix)
	}
	if opts.OnlyAppCode {
		args = append(args, "--only-app")
	}
	if opts.ReflectionList != "" {
		args = append(args, "--reflection-annotations", opts.ReflectionList)
	}
	_, err = c.run(ctx, args)
	return err
}

// CheckCall invokes --task check-call, a cheap textual reference check
// used as the caller-resolver pre-filter (4.H): does jar reference any
// method in the given entry-point set.
func (c *Client) CheckCall(ctx context.Context, jarPath string, entryPoints []string, packagePrefix string) (found bool, err error) {
	defer derrors.Wrap(&err, "analyzer.CheckCall(%s)", jarPath)

	args := []string{"--task", "check-call", "--jar-path", jarPath}
	for _, e := range entryPoints {
		args = append(args, "-m", e)
	}
	if packagePrefix != "" {
		args = append(args, "--package-prefix", packagePrefix)
	}
	out, err := c.run(ctx, args)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(string(out)) {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	default:
		return false, fmt.Errorf("%w: unexpected check-call output %q", derrors.ToolCrash, out)
	}
}

// CheckReflect invokes --task check-reflect, the reflection probe (4.D).
func (c *Client) CheckReflect(ctx context.Context, jarPath, methodListPath, packagePrefix string) (found bool, err error) {
	defer derrors.Wrap(&err, "analyzer.CheckReflect(%s)", jarPath)

	args := []string{"--task", "check-reflect", "--jar-path", jarPath, "--method-list", methodListPath}
	if packagePrefix != "" {
		args = append(args, "--package-prefix", packagePrefix)
	}
	out, err := c.run(ctx, args)
	if err != nil {
		return false, err
	}
	var resp struct {
		FoundReflection bool `json:"foundReflection"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return false, fmt.Errorf("%w: parsing check-reflect output: %v", derrors.ToolCrash, err)
	}
	return resp.FoundReflection, nil
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.BinPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %s timed out", derrors.ToolTimeout, strings.Join(args, " "))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", derrors.ToolCrash, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
