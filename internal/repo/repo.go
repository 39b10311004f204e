// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package repo implements the Artifact Fetcher (component 4.A): idempotent
// download of a jar or war from a Maven-layout HTTP repository, with
// war-to-jar repackaging, modeled on client/client.go's httpSource and on
// the original Python implementation's download_gav_jar/download_file.
package repo

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/lock"
)

// Client fetches artifacts from a single Maven-layout repository
// (e.g. https://repo1.maven.org/maven2) into a local cache directory.
type Client struct {
	BaseURL    string
	CacheDir   string
	HTTPClient *http.Client

	locks *lock.KeyedMutex
}

// NewClient returns a Client rooted at baseURL, caching artifacts under
// cacheDir.
func NewClient(baseURL, cacheDir string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		CacheDir:   cacheDir,
		HTTPClient: http.DefaultClient,
		locks:      lock.NewKeyedMutex(),
	}
}

// JarPath returns the local cache path a jar for v would be stored at,
// without fetching it.
func (c *Client) JarPath(v gav.GAV) string {
	return filepath.Join(c.CacheDir, filepath.FromSlash(v.GA().Path()), v.Version, v.Artifact+"-"+v.Version+".jar")
}

// Fetch downloads the jar for v, trying the .war extension and
// repackaging WEB-INF/classes as a jar if the .jar is not found. It
// returns derrors.NotFound if neither extension exists, and
// derrors.NetworkError on transient failures that should be retried on a
// later run.
//
// Concurrency: a process-local named lock on the destination path
// serializes concurrent downloaders within this process; a cross-process
// file lock does the same across processes sharing CacheDir. A caller
// that finds the jar already cached returns immediately without touching
// the network.
func (c *Client) Fetch(ctx context.Context, v gav.GAV) (_ string, err error) {
	defer derrors.Wrap(&err, "repo.Fetch(%s)", v)

	jarPath := c.JarPath(v)
	unlock := c.locks.Lock(jarPath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(jarPath), 0o755); err != nil {
		return "", err
	}
	unlockFile, err := lock.File(ctx, jarPath)
	if err != nil {
		return "", fmt.Errorf("%w: acquiring file lock: %v", derrors.NetworkError, err)
	}
	defer unlockFile()

	if _, err := os.Stat(jarPath); err == nil {
		return jarPath, nil
	}

	jarURL := c.artifactURL(v, "jar")
	found, err := c.download(ctx, jarURL, jarPath)
	if err != nil {
		return "", err
	}
	if found {
		return jarPath, nil
	}

	warPath := filepath.Join(filepath.Dir(jarPath), v.Artifact+"-"+v.Version+".war")
	warURL := c.artifactURL(v, "war")
	found, err = c.download(ctx, warURL, warPath)
	if err != nil {
		return "", err
	}
	if !found {
		return "", derrors.NotFound
	}
	defer os.Remove(warPath)

	if err := repackWarClasses(warPath, jarPath); err != nil {
		return "", fmt.Errorf("%w: repackaging war: %v", derrors.ToolCrash, err)
	}
	return jarPath, nil
}

func (c *Client) artifactURL(v gav.GAV, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%s-%s.%s", c.BaseURL, v.GA().Path(), v.Version, v.Artifact, v.Version, ext)
}

// download retrieves url into dest. found=false, err=nil means a clean
// 404 (try the next extension or give up). A non-2xx/non-404 status or a
// transport error is reported as derrors.NetworkError.
func (c *Client) download(ctx context.Context, url, dest string) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", derrors.NetworkError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: %s: status %d", derrors.NetworkError, url, resp.StatusCode)
	}

	tmp := dest + ".downloading"
	f, err := os.Create(tmp)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return false, fmt.Errorf("%w: %v", derrors.NetworkError, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return false, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return false, err
	}
	return true, nil
}

// repackWarClasses extracts WEB-INF/classes/** from the war at warPath and
// repacks those entries as a jar at jarPath.
func repackWarClasses(warPath, jarPath string) (err error) {
	defer derrors.Wrap(&err, "repackWarClasses(%s)", warPath)

	zr, err := zip.OpenReader(warPath)
	if err != nil {
		return fmt.Errorf("%w: %v", derrors.ArchiveCorrupt, err)
	}
	defer zr.Close()

	const prefix = "WEB-INF/classes/"

	tmp := jarPath + ".building"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, prefix) || f.FileInfo().IsDir() {
			continue
		}
		name := strings.TrimPrefix(f.Name, prefix)
		if name == "" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue // tolerate individual corrupt entries, per 4.B's corruption tolerance.
		}
		w, err := zw.Create(name)
		if err != nil {
			rc.Close()
			continue
		}
		io.Copy(w, rc)
		rc.Close()
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, jarPath)
}
