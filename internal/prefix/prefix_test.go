// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package prefix

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/kvstore"
	"golang.org/x/vulnprop/internal/repo"
)

type fakeDeps struct {
	deps map[string][]gav.GAV
}

func (f fakeDeps) Direct(_ context.Context, v gav.GAV) ([]gav.GAV, error) {
	return f.deps[v.String()], nil
}

func zipBytes(t *testing.T, entries []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte("x"))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOwnedSubtractsDirectDependencyClasses(t *testing.T) {
	shadedJar := zipBytes(t, []string{"com/ex/App.class", "com/ex/shaded/lib/Util.class"})
	libJar := zipBytes(t, []string{"com/ex/shaded/lib/Util.class"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/app/"):
			w.Write(shadedJar)
		case strings.Contains(r.URL.Path, "/lib/"):
			w.Write(libJar)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	repoClient := repo.NewClient(srv.URL, t.TempDir())
	store := kvstore.NewMemStore()
	appV := gav.GAV{Group: "com.ex", Artifact: "app", Version: "1.0"}
	libV := gav.GAV{Group: "com.ex", Artifact: "lib", Version: "2.0"}

	oracle := NewOracle(repoClient, store, fakeDeps{deps: map[string][]gav.GAV{
		appV.String(): {libV},
	}})

	owned, err := oracle.Owned(context.Background(), appV)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range owned {
		if strings.HasPrefix(p, "com.ex.shaded.lib") {
			t.Errorf("owned prefixes must not include the dependency's package, got %v", owned)
		}
	}
	found := false
	for _, p := range owned {
		if p == "com.ex" {
			found = true
		}
	}
	if !found {
		t.Errorf("owned = %v, want \"com.ex\" to remain", owned)
	}
}

func TestOwnedCachesInStore(t *testing.T) {
	jarData := zipBytes(t, []string{"com/ex/App.class"})
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(jarData)
	}))
	defer srv.Close()

	repoClient := repo.NewClient(srv.URL, t.TempDir())
	store := kvstore.NewMemStore()
	v := gav.GAV{Group: "com.ex", Artifact: "app", Version: "1.0"}
	oracle := NewOracle(repoClient, store, nil)

	if _, err := oracle.Owned(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := calls
	if _, err := oracle.Owned(context.Background(), v); err != nil {
		t.Fatal(err)
	}
	if calls != callsAfterFirst {
		t.Errorf("second Owned() call should hit the persisted store, not refetch; calls went from %d to %d", callsAfterFirst, calls)
	}
}

func TestOwnedIsSorted(t *testing.T) {
	// Map iteration order is nondeterministic across runs; Owned must
	// sort its output so two runs over identical input jars are
	// byte-identical, not just set-equal.
	jarData := zipBytes(t, []string{
		"z/pkg/App.class",
		"a/pkg/App.class",
		"m/pkg/App.class",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jarData)
	}))
	defer srv.Close()

	repoClient := repo.NewClient(srv.URL, t.TempDir())
	store := kvstore.NewMemStore()
	v := gav.GAV{Group: "com.ex", Artifact: "app", Version: "1.0"}
	oracle := NewOracle(repoClient, store, nil)

	owned, err := oracle.Owned(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if !sort.StringsAreSorted(owned) {
		t.Errorf("Owned(%s) = %v, want sorted order", v, owned)
	}
}

func TestOwnedFallsBackToAllClassesWhenDepsUnavailable(t *testing.T) {
	jarData := zipBytes(t, []string{"com/ex/App.class"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jarData)
	}))
	defer srv.Close()

	repoClient := repo.NewClient(srv.URL, t.TempDir())
	store := kvstore.NewMemStore()
	v := gav.GAV{Group: "com.ex", Artifact: "app", Version: "1.0"}
	oracle := NewOracle(repoClient, store, nil)

	owned, err := oracle.Owned(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(owned) != 1 || owned[0] != "com.ex" {
		t.Errorf("owned = %v, want [\"com.ex\"]", owned)
	}
}
