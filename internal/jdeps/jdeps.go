// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jdeps wraps a jdeps-equivalent class-reference utility:
// `<tool> --multi-release base -verbose:class J`, which prints one
// "source-class -> target-class ..." line per cross-class reference
// found in jar J.
package jdeps

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/vulnprop/internal/derrors"
)

// Interface is the behavior direction.Filter depends on, so tests can
// substitute a fake class-reference tool instead of spawning the
// external binary.
type Interface interface {
	References(ctx context.Context, jarPath string, timeout time.Duration) ([]Reference, error)
}

var _ Interface = (*Client)(nil)

// Client runs the jdeps-equivalent binary.
type Client struct {
	BinPath string
}

// NewClient returns a Client invoking the class-reference tool at binPath.
func NewClient(binPath string) *Client {
	return &Client{BinPath: binPath}
}

// Reference is one source-class -> target-class edge reported by the
// tool.
type Reference struct {
	Source string
	Target string
}

// Timeout returns the timeout budget for a jar of the given size in
// megabytes: 1.6*sizeMB + 10 seconds.
func Timeout(sizeMB float64) time.Duration {
	return time.Duration((1.6*sizeMB + 10) * float64(time.Second))
}

// References runs the tool against jarPath and parses its class-reference
// output. A timeout is reported as derrors.ToolTimeout; a nonzero exit
// whose stderr reports "Invalid CEN header" as derrors.ArchiveCorrupt;
// any other nonzero exit as derrors.ToolCrash. Timeout and crash are
// conservative-keep conditions for 4.E's caller.
func (c *Client) References(ctx context.Context, jarPath string, timeout time.Duration) (_ []Reference, err error) {
	defer derrors.Wrap(&err, "jdeps.References(%s)", jarPath)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, c.BinPath, "--multi-release", "base", "-verbose:class", jarPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: jdeps on %s", derrors.ToolTimeout, jarPath)
	}
	if err != nil {
		if strings.Contains(stderr.String(), "Invalid CEN header") {
			return nil, fmt.Errorf("%w: %v: %s", derrors.ArchiveCorrupt, err, stderr.String())
		}
		return nil, fmt.Errorf("%w: %v: %s", derrors.ToolCrash, err, stderr.String())
	}
	return parseReferences(&stdout), nil
}

func parseReferences(r *bytes.Buffer) []Reference {
	var refs []Reference
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.SplitN(line, "->", 2)
		if len(parts) != 2 {
			continue
		}
		src := strings.TrimSpace(parts[0])
		rest := strings.Fields(strings.TrimSpace(parts[1]))
		if src == "" || len(rest) == 0 {
			continue
		}
		refs = append(refs, Reference{Source: src, Target: rest[0]})
	}
	return refs
}

// StripModuleInfo copies srcJar to dstPath with any module-info.class
// entry removed, as required before running the tool on a jar that
// might confuse it with an unexpected module descriptor.
func StripModuleInfo(srcJar, dstPath string) (err error) {
	defer derrors.Wrap(&err, "jdeps.StripModuleInfo(%s)", srcJar)

	zr, err := zip.OpenReader(srcJar)
	if err != nil {
		return fmt.Errorf("%w: %v", derrors.ArchiveCorrupt, err)
	}
	defer zr.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		if f.Name == "module-info.class" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		w, err := zw.Create(f.Name)
		if err != nil {
			rc.Close()
			continue
		}
		io.Copy(w, rc)
		rc.Close()
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
