// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package repo

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/vulnprop/gav"
)

func zipBytes(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(content))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchJar(t *testing.T) {
	jarData := zipBytes(t, map[string]string{"com/example/A.class": "x"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".jar") {
			w.Write(jarData)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, t.TempDir())
	v := gav.GAV{Group: "com.example", Artifact: "widget", Version: "1.0"}

	path, err := c.Fetch(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if path != c.JarPath(v) {
		t.Errorf("path = %q, want %q", path, c.JarPath(v))
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, t.TempDir())
	v := gav.GAV{Group: "com.example", Artifact: "widget", Version: "1.0"}

	if _, err := c.Fetch(context.Background(), v); err == nil {
		t.Fatal("want an error when neither jar nor war is found")
	}
}

func TestFetchWarRepackagesWebInfClasses(t *testing.T) {
	warData := zipBytes(t, map[string]string{
		"WEB-INF/classes/com/example/A.class": "x",
		"WEB-INF/web.xml":                     "<web-app/>",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".jar"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, ".war"):
			w.Write(warData)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, t.TempDir())
	v := gav.GAV{Group: "com.example", Artifact: "webwidget", Version: "1.0"}

	path, err := c.Fetch(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if len(names) != 1 || names[0] != "com/example/A.class" {
		t.Errorf("repacked jar entries = %v, want exactly [\"com/example/A.class\"]", names)
	}
}

func TestFetchCachedReturnsImmediately(t *testing.T) {
	calls := 0
	jarData := zipBytes(t, map[string]string{"A.class": "x"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(jarData)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, t.TempDir())
	v := gav.GAV{Group: "com.example", Artifact: "widget", Version: "1.0"}

	if _, err := c.Fetch(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Fetch(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second fetch should hit the cache)", calls)
	}
}
