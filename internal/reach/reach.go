// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reach implements the Entry-Point Finder (component 4.G):
// reverse-reachability BFS from a sink set over a callgraph, filtered to
// externally-visible methods.
package reach

import (
	"container/list"
	"sync"

	"golang.org/x/vulnprop/internal/callgraph"
)

// Cache memoizes entry-point computations by (sink-set, graph identity),
// the process-wide memo the design notes call for replacing the
// original's module-level global.
type Cache struct {
	mu    sync.Mutex
	memo  map[string]map[string]bool
}

// NewCache returns an empty entry-point cache.
func NewCache() *Cache {
	return &Cache{memo: make(map[string]map[string]bool)}
}

// EntryPoints returns the set of signatures in g that can reach some
// sink in sinks and are public or protected. graphKey identifies g for
// memoization purposes (callers typically pass the callgraph's cache
// file path).
func (c *Cache) EntryPoints(graphKey string, sinks []string, g *callgraph.Graph) map[string]bool {
	key := graphKey + "\x00" + memoKey(sinks)

	c.mu.Lock()
	if cached, ok := c.memo[key]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := entryPoints(sinks, g)

	c.mu.Lock()
	c.memo[key] = result
	c.mu.Unlock()
	return result
}

func memoKey(sinks []string) string {
	// sinks are typically already sorted by the caller (the sink-diff
	// step produces a deterministic merged set); join as-is.
	out := ""
	for _, s := range sinks {
		out += s + "\x00"
	}
	return out
}

// entryPoints performs the reverse BFS: union, over every sink, the set
// of signatures reachable by following edges backwards, then filters to
// externally-reachable modifiers.
func entryPoints(sinks []string, g *callgraph.Graph) map[string]bool {
	rev := g.Reverse()
	reached := make(map[string]bool)

	for _, sink := range sinks {
		if reached[sink] {
			continue
		}
		visited := map[string]bool{sink: true}
		queue := list.New()
		queue.PushBack(sink)
		for queue.Len() > 0 {
			front := queue.Remove(queue.Front()).(string)
			reached[front] = true
			for _, pred := range rev[front] {
				if !visited[pred] {
					visited[pred] = true
					queue.PushBack(pred)
				}
			}
		}
	}

	result := make(map[string]bool)
	for sig := range reached {
		if g.Modifier[sig].IsExternallyReachable() {
			result[sig] = true
		}
	}
	return result
}
