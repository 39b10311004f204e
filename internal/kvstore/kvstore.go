// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kvstore implements the persistent package-prefix table described
// in the data model: one row per (group, artifact, version), holding the
// JSON-encoded owned-prefix list and a reflection flag in {-1, 0, 1}.
//
// Two implementations are provided: MemStore, for tests, modeled directly
// on internal/worker/store's MemStore; and SQLiteStore, a durable
// implementation backed by modernc.org/sqlite using INSERT OR REPLACE
// semantics under a single write lock, as specified.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/derrors"

	_ "modernc.org/sqlite"
)

// ReflectionStatus is the persisted reflection-probe result for a GAV.
type ReflectionStatus int

const (
	ReflectionUnknown ReflectionStatus = -1
	ReflectionNo      ReflectionStatus = 0
	ReflectionYes     ReflectionStatus = 1
)

// Row is one package-prefix table entry.
type Row struct {
	GAV        gav.GAV
	Prefixes   []string
	Reflection ReflectionStatus
}

// Store is the package-prefix/reflection persistence contract. All writes
// are idempotent (insert-or-replace by GAV) and concurrency-safe.
type Store interface {
	// Get returns the row for v, or ok=false if none exists.
	Get(ctx context.Context, v gav.GAV) (row Row, ok bool, err error)

	// SetPrefixes inserts or replaces the prefix list for v. The
	// reflection flag of an existing row is preserved; a new row starts
	// with ReflectionUnknown.
	SetPrefixes(ctx context.Context, v gav.GAV, prefixes []string) error

	// SetReflection inserts or replaces the reflection flag for v. It
	// does not require a prefix row to already exist.
	SetReflection(ctx context.Context, v gav.GAV, status ReflectionStatus) error

	Close() error
}

// MemStore is an in-memory Store, for tests.
type MemStore struct {
	mu   sync.Mutex
	rows map[gav.GAV]Row
}

// NewMemStore returns a ready-to-use, empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[gav.GAV]Row)}
}

func (m *MemStore) Get(_ context.Context, v gav.GAV) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[v]
	return r, ok, nil
}

func (m *MemStore) SetPrefixes(_ context.Context, v gav.GAV, prefixes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[v]
	r.GAV = v
	r.Prefixes = append([]string(nil), prefixes...)
	if _, ok := m.rows[v]; !ok {
		r.Reflection = ReflectionUnknown
	}
	m.rows[v] = r
	return nil
}

func (m *MemStore) SetReflection(_ context.Context, v gav.GAV, status ReflectionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rows[v]
	r.GAV = v
	r.Reflection = status
	m.rows[v] = r
	return nil
}

func (m *MemStore) Close() error { return nil }

// SQLiteStore is a durable Store backed by a single SQLite database file,
// one row per (group_id, artifact_id, version) with columns
// package_prefixes (JSON) and reflection (INTEGER), matching the schema
// the propagation engine relies on being restartable across runs.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) the prefix table at path.
func OpenSQLiteStore(path string) (_ *SQLiteStore, err error) {
	defer derrors.Wrap(&err, "OpenSQLiteStore(%q)", path)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite allows one writer; serialize via the driver too.
	const schema = `
		CREATE TABLE IF NOT EXISTS gav_package_prefix (
			group_id TEXT,
			artifact_id TEXT,
			version TEXT,
			package_prefixes TEXT,
			reflection INTEGER DEFAULT -1,
			PRIMARY KEY (group_id, artifact_id, version)
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, v gav.GAV) (_ Row, _ bool, err error) {
	defer derrors.Wrap(&err, "SQLiteStore.Get(%s)", v)
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT package_prefixes, reflection FROM gav_package_prefix
		WHERE group_id=? AND artifact_id=? AND version=?`,
		v.Group, v.Artifact, v.Version)
	var prefixJSON string
	var reflection int
	switch err := row.Scan(&prefixJSON, &reflection); err {
	case sql.ErrNoRows:
		return Row{}, false, nil
	case nil:
		var prefixes []string
		if err := json.Unmarshal([]byte(prefixJSON), &prefixes); err != nil {
			return Row{}, false, fmt.Errorf("%w: decoding package_prefixes: %v", derrors.DataInvalid, err)
		}
		return Row{GAV: v, Prefixes: prefixes, Reflection: ReflectionStatus(reflection)}, true, nil
	default:
		return Row{}, false, err
	}
}

func (s *SQLiteStore) SetPrefixes(ctx context.Context, v gav.GAV, prefixes []string) (err error) {
	defer derrors.Wrap(&err, "SQLiteStore.SetPrefixes(%s)", v)
	encoded, err := json.Marshal(prefixes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gav_package_prefix (group_id, artifact_id, version, package_prefixes, reflection)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, artifact_id, version) DO UPDATE SET package_prefixes=excluded.package_prefixes`,
		v.Group, v.Artifact, v.Version, string(encoded), ReflectionUnknown)
	return err
}

func (s *SQLiteStore) SetReflection(ctx context.Context, v gav.GAV, status ReflectionStatus) (err error) {
	defer derrors.Wrap(&err, "SQLiteStore.SetReflection(%s)", v)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO gav_package_prefix (group_id, artifact_id, version, package_prefixes, reflection)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, artifact_id, version) DO UPDATE SET reflection=excluded.reflection`,
		v.Group, v.Artifact, v.Version, "null", int(status))
	return err
}
