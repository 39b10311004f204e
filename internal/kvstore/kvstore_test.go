// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kvstore

import (
	"context"
	"testing"

	"golang.org/x/vulnprop/gav"
)

func TestMemStoreGetMissing(t *testing.T) {
	s := NewMemStore()
	_, ok, err := s.Get(context.Background(), gav.GAV{Group: "g", Artifact: "a", Version: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("want ok=false for missing row")
	}
}

func TestMemStoreSetPrefixesDefaultsReflectionUnknown(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	v := gav.GAV{Group: "g", Artifact: "a", Version: "1"}

	if err := s.SetPrefixes(ctx, v, []string{"com.example"}); err != nil {
		t.Fatal(err)
	}
	row, ok, err := s.Get(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("want ok=true")
	}
	if row.Reflection != ReflectionUnknown {
		t.Errorf("Reflection = %v, want ReflectionUnknown", row.Reflection)
	}
	if len(row.Prefixes) != 1 || row.Prefixes[0] != "com.example" {
		t.Errorf("Prefixes = %v", row.Prefixes)
	}
}

func TestMemStoreSetReflectionPreservesPrefixes(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	v := gav.GAV{Group: "g", Artifact: "a", Version: "1"}

	if err := s.SetPrefixes(ctx, v, []string{"com.example"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReflection(ctx, v, ReflectionYes); err != nil {
		t.Fatal(err)
	}
	row, _, err := s.Get(ctx, v)
	if err != nil {
		t.Fatal(err)
	}
	if row.Reflection != ReflectionYes {
		t.Errorf("Reflection = %v, want ReflectionYes", row.Reflection)
	}
	if len(row.Prefixes) != 1 {
		t.Errorf("Prefixes lost after SetReflection: %v", row.Prefixes)
	}
}

func TestMemStoreOneRowPerGAV(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	v1 := gav.GAV{Group: "g", Artifact: "a", Version: "1"}
	v2 := gav.GAV{Group: "g", Artifact: "a", Version: "2"}

	s.SetPrefixes(ctx, v1, []string{"p1"})
	s.SetPrefixes(ctx, v2, []string{"p2"})

	if len(s.rows) != 2 {
		t.Errorf("got %d rows, want 2", len(s.rows))
	}
}
