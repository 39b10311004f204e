// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lock provides the two locking primitives the propagation engine
// relies on for resumable, crash-safe state: an in-process named mutex for
// serializing goroutines within a single run, and a cross-process named
// file lock (backed by github.com/gofrs/flock) for serializing independent
// vulnprop processes that share a jar cache or working directory.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// KeyedMutex serializes goroutines by an arbitrary string key, such as a
// local output path. A goroutine that finds the path already locked and
// then produced (e.g. a jar already downloaded) is expected to check for
// the existing result before re-doing the work, per the fetcher's
// "a process finding the file already present returns immediately" rule.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns a ready-to-use KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it if necessary.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// File acquires a cross-process file lock at path+".lock", blocking (with
// the given context) until it is available. The returned func releases
// the lock, guarding every artifact download, per-GAV callgraph
// generation, and `up`-file append against concurrent analysis runs.
func File(ctx context.Context, path string) (func(), error) {
	fl := flock.New(path + ".lock")
	if _, err := fl.TryLockContext(ctx, 10*time.Millisecond); err != nil {
		return nil, err
	}
	return func() { _ = fl.Unlock() }, nil
}

// TryFile is like File but returns immediately (ok=false) if the lock is
// already held elsewhere, instead of blocking. Used where the caller can
// usefully do other work while waiting, polling on a short interval.
func TryFile(path string, pollEvery time.Duration, timeout time.Duration) (unlock func(), ok bool, err error) {
	fl := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, pollEvery)
	if err != nil {
		return nil, false, err
	}
	if !locked {
		return nil, false, nil
	}
	return func() { _ = fl.Unlock() }, true, nil
}
