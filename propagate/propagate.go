// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package propagate implements the Propagation Engine (component 4.I):
// the fixed-point worklist traversal that drives the Artifact Fetcher,
// Class Surface Extractor, Package-Prefix Oracle, Reflection Probe,
// Dependency-Direction Filter, Callgraph Oracle Client, Entry-Point
// Finder, and Caller-Resolver to discover how a disclosed vulnerability
// propagates through the downstream Maven ecosystem.
package propagate

import (
	"container/list"
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"golang.org/x/vulnprop/cverecord"
	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/callers"
	"golang.org/x/vulnprop/internal/callgraph"
	"golang.org/x/vulnprop/internal/depgraph"
	"golang.org/x/vulnprop/internal/derrors"
	"golang.org/x/vulnprop/internal/direction"
	"golang.org/x/vulnprop/internal/kvstore"
	"golang.org/x/vulnprop/internal/prefix"
	"golang.org/x/vulnprop/internal/reach"
	"golang.org/x/vulnprop/internal/reflectprobe"
	"golang.org/x/vulnprop/internal/repo"
	"golang.org/x/vulnprop/internal/workdir"
)

// maxVisitsPerGA bounds how many times a single GA may be re-enqueued
// and reprocessed. The termination argument (monotone sink growth) can
// weaken if an aggressive reflection-aware generator discovers new
// sinks on every visit (design notes, open question 3); this cap
// detects and logs that condition instead of looping forever.
const maxVisitsPerGA = 64

// DependencyStore is the external dependency graph the engine queries
// for one-hop descendants and declared-dependency version pairs.
type DependencyStore interface {
	ReachableGAs(ctx context.Context, startGA string, depth int) ([]string, error)
	DeclaredDependencies(ctx context.Context, downstreamGA, upstreamGA string) ([]depgraph.VersionDep, error)
}

// Config bundles the engine's collaborators and tunables.
type Config struct {
	DependencyStore DependencyStore
	Repo            *repo.Client
	Prefix          *prefix.Oracle
	Store           kvstore.Store
	Reflection      *reflectprobe.Probe
	Direction       *direction.Filter
	Callgraph       *callgraph.Client
	EntryPoints     *reach.Cache
	Tree            *workdir.Tree

	// ProcNumDeps and ProcNumCG bound the worker pools for step 5
	// (direction filter) and step 6 (CG-level filter) respectively.
	ProcNumDeps int
	ProcNumCG   int

	// DependencyDepth is the one-hop descendant query depth (default 1).
	DependencyDepth int
}

// Engine runs the fixed-point worklist.
type Engine struct {
	cfg    Config
	visits map[string]int
}

// New returns an Engine configured by cfg.
func New(cfg Config) *Engine {
	if cfg.ProcNumDeps <= 0 {
		cfg.ProcNumDeps = 4
	}
	if cfg.ProcNumCG <= 0 {
		cfg.ProcNumCG = 4
	}
	if cfg.DependencyDepth <= 0 {
		cfg.DependencyDepth = 1
	}
	return &Engine{cfg: cfg, visits: make(map[string]int)}
}

// VisitedGAs returns the GAs the worklist processed at least once, in
// no particular order. Callers use this to know which working trees
// under cfg.Tree are worth collecting findings from after Run returns.
func (e *Engine) VisitedGAs() []gav.GA {
	out := make([]gav.GA, 0, len(e.visits))
	for name := range e.visits {
		out = append(out, gaFromName(name))
	}
	return out
}

// Run drives the worklist to completion for the given CVE record,
// starting from its root GA.
func (e *Engine) Run(ctx context.Context, rec *cverecord.Record) (err error) {
	defer derrors.Wrap(&err, "propagate.Run(%s)", rec.ID)

	rootGA, err := rec.GA()
	if err != nil {
		return err
	}
	if err := e.cfg.Tree.EnsureGADir(rootGA); err != nil {
		return err
	}

	worklist := list.New()
	worklist.PushBack(rootGA)
	queued := map[string]bool{rootGA.String(): true}
	root := true

	rootSinks := rec.RootSinks()

	for worklist.Len() > 0 {
		if err := ctx.Err(); err != nil {
			log.Printf("propagate: %s: interrupted, %d items remain queued", rec.ID, worklist.Len())
			return nil // cancellation drains cleanly; all side effects already durable.
		}

		front := worklist.Remove(worklist.Front()).(gav.GA)
		delete(queued, front.String())

		e.visits[front.String()]++
		if e.visits[front.String()] > maxVisitsPerGA {
			log.Printf("propagate: %s: %s exceeded visit cap (%d), dropping", rec.ID, front, maxVisitsPerGA)
			continue
		}

		newlyReached, err := e.processItem(ctx, rec.ID, front, root, rootSinks)
		if err != nil {
			return err
		}
		for _, d := range newlyReached {
			if !queued[d.String()] {
				queued[d.String()] = true
				worklist.PushBack(d)
			}
		}

		if root {
			root = false
		}
	}
	return nil
}

// processItem runs the nine-step main-loop body for one popped GA and
// returns the descendant GAs that should be (re)enqueued.
func (e *Engine) processItem(ctx context.Context, cveID string, item gav.GA, root bool, rootSinks map[string][]string) (_ []gav.GA, err error) {
	defer derrors.Wrap(&err, "propagate.processItem(%s)", item)

	log.Printf("propagate: %s: processing %s (root=%v)", cveID, item, root)

	// Step 1: upstream check.
	upSet, err := e.cfg.Tree.LoadUp(item)
	if err != nil {
		return nil, err
	}
	if len(upSet) == 0 && !root {
		log.Printf("propagate: %s: %s orphaned (empty up set), skipping", cveID, item)
		return nil, nil
	}

	// Step 2: sink diff.
	prevTFS, err := e.cfg.Tree.LoadTFS(item)
	if err != nil {
		return nil, err
	}
	newSinks, err := e.computeNewSinks(item, root, rootSinks, upSet)
	if err != nil {
		return nil, err
	}
	hasNew, merged, added := sinkDiff(prevTFS, newSinks)
	if !hasNew {
		log.Printf("propagate: %s: %s no new sinks, skipping", cveID, item)
		return nil, nil
	}

	// Step 3: one-hop descendants.
	reachable, err := e.cfg.DependencyStore.ReachableGAs(ctx, item.String(), e.cfg.DependencyDepth)
	if err != nil {
		return nil, err
	}
	if err := e.cfg.Tree.StoreGADeps(ctx, item, reachable); err != nil {
		return nil, err
	}

	// Step 4: version mapping.
	gavDepsAdditions, descendantGAs, err := e.versionMapping(ctx, item, reachable, added)
	if err != nil {
		return nil, err
	}
	if _, err := e.cfg.Tree.MergeGAVDeps(ctx, item, gavDepsAdditions); err != nil {
		return nil, err
	}

	// Step 5: direction filter, bounded pool.
	filteredAdditions, err := e.directionFilter(ctx, item, descendantGAs, gavDepsAdditions)
	if err != nil {
		return nil, err
	}
	if _, err := e.cfg.Tree.MergeFilteredGAVDeps(ctx, item, filteredAdditions); err != nil {
		return nil, err
	}

	// Step 6: CG-level filter, bounded pool.
	cgAdditions, depCallsAdditions, err := e.cgFilter(ctx, item, filteredAdditions, added)
	if err != nil {
		return nil, err
	}
	if _, err := e.cfg.Tree.MergeFilteredGAVDepsCG(ctx, item, cgAdditions); err != nil {
		return nil, err
	}
	if _, err := e.cfg.Tree.MergeDepCalls(ctx, item, depCallsAdditions); err != nil {
		return nil, err
	}

	// Step 7: persist merged sinks, only now that filters succeeded.
	if err := e.cfg.Tree.StoreTFS(ctx, item, merged); err != nil {
		return nil, err
	}

	// Step 8: propagate to descendants with surviving CG pairs.
	var descendants []gav.GA
	for dName := range cgAdditions {
		d, err := gav.ParseGA(dName)
		if err != nil {
			continue
		}
		if err := e.cfg.Tree.EnsureGADir(d); err != nil {
			return nil, err
		}
		if err := e.cfg.Tree.AppendUp(ctx, d, item.String()); err != nil {
			return nil, err
		}
		descendants = append(descendants, d)
	}
	return descendants, nil
}

// computeNewSinks implements step 2's sink source: the literal CVE
// sinks for the root, or the union over up_set of their
// dep_calls.json[item][*][v_down] entries otherwise.
func (e *Engine) computeNewSinks(item gav.GA, root bool, rootSinks map[string][]string, upSet map[string]bool) (workdir.TFS, error) {
	if root {
		return workdir.TFS(rootSinks), nil
	}
	out := make(workdir.TFS)
	for upName := range upSet {
		up, err := gav.ParseGA(upName)
		if err != nil {
			continue
		}
		upCalls, err := e.cfg.Tree.LoadDepCalls(up)
		if err != nil {
			return nil, err
		}
		byUp := upCalls[item.String()]
		for _, byDown := range byUp {
			for vDown, byEntry := range byDown {
				for _, callersList := range byEntry {
					out[vDown] = appendUnique(out[vDown], callersList...)
				}
			}
		}
	}
	return out, nil
}

// sinkDiff computes (has_new, merged, added) between the previous and
// newly-computed sink maps.
func sinkDiff(prev, next workdir.TFS) (hasNew bool, merged, added workdir.TFS) {
	merged = make(workdir.TFS, len(prev))
	for v, sinks := range prev {
		merged[v] = append([]string(nil), sinks...)
	}
	added = make(workdir.TFS)
	for v, sinks := range next {
		existing := map[string]bool{}
		for _, s := range merged[v] {
			existing[s] = true
		}
		var newOnes []string
		for _, s := range sinks {
			if !existing[s] {
				newOnes = append(newOnes, s)
				existing[s] = true
			}
		}
		if len(newOnes) > 0 {
			hasNew = true
			merged[v] = append(merged[v], newOnes...)
			added[v] = newOnes
		}
	}
	return hasNew, merged, added
}

func appendUnique(dst []string, items ...string) []string {
	seen := map[string]bool{}
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// versionMapping implements step 4: for each descendant GA and each of
// its versions, collect (v_up, v_down) pairs where the declared
// dependency's upstream version is in added's key set.
func (e *Engine) versionMapping(ctx context.Context, item gav.GA, reachable []string, added workdir.TFS) (workdir.GADeps, []gav.GA, error) {
	additions := make(workdir.GADeps)
	var descendants []gav.GA
	for _, dName := range reachable {
		d, err := gav.ParseGA(dName)
		if err != nil {
			continue
		}
		deps, err := e.cfg.DependencyStore.DeclaredDependencies(ctx, d.String(), item.String())
		if err != nil {
			continue // conservative: dependency-store failure just means no pairs found this round.
		}
		for _, dep := range deps {
			if _, ok := added[dep.UpstreamVersion]; !ok {
				continue
			}
			if additions[dName] == nil {
				additions[dName] = make(workdir.VersionDeps)
			}
			additions[dName][dep.UpstreamVersion] = appendUnique(additions[dName][dep.UpstreamVersion], dep.DownstreamVersion)
		}
		if len(additions[dName]) > 0 {
			descendants = append(descendants, d)
		}
	}
	return additions, descendants, nil
}

// directionFilter implements step 5 over a bounded worker pool.
func (e *Engine) directionFilter(ctx context.Context, item gav.GA, descendants []gav.GA, pairs workdir.GADeps) (workdir.GADeps, error) {
	type result struct {
		d, vUp, vDown string
		keep          bool
	}
	var jobs []struct{ d, vUp, vDown string }
	for _, d := range descendants {
		for vUp, downs := range pairs[d.String()] {
			for _, vDown := range downs {
				jobs = append(jobs, struct{ d, vUp, vDown string }{d.String(), vUp, vDown})
			}
		}
	}

	results := make([]result, len(jobs))
	sem := semaphore.NewWeighted(int64(e.cfg.ProcNumDeps))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		i, j := i, j
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			keep, err := e.runDirectionFilter(gctx, item, j.d, j.vUp, j.vDown)
			if err != nil {
				if derrors.Is(err, derrors.NetworkError) {
					results[i] = result{j.d, j.vUp, j.vDown, false} // skipped, retried next run.
					return nil
				}
				return err
			}
			results[i] = result{j.d, j.vUp, j.vDown, keep}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	additions := make(workdir.GADeps)
	for _, r := range results {
		if !r.keep {
			continue
		}
		if additions[r.d] == nil {
			additions[r.d] = make(workdir.VersionDeps)
		}
		additions[r.d][r.vUp] = appendUnique(additions[r.d][r.vUp], r.vDown)
		if err := e.cfg.Tree.SetMarker("selected", r.vUp, gaFromName(r.d), r.vDown); err != nil {
			return nil, err
		}
	}
	return additions, nil
}

func (e *Engine) runDirectionFilter(ctx context.Context, upstream gav.GA, dName, vUp, vDown string) (bool, error) {
	d := gaFromName(dName)
	upV := upstream.WithVersion(vUp)
	downV := d.WithVersion(vDown)

	upPrefixes, err := e.cfg.Prefix.Owned(ctx, upV)
	if err != nil {
		return false, err
	}
	downJar, err := e.cfg.Repo.Fetch(ctx, downV)
	if err != nil {
		if derrors.Is(err, derrors.NotFound) {
			return false, nil
		}
		return false, err
	}
	downPrefixes, err := e.cfg.Prefix.Owned(ctx, downV)
	if err != nil {
		return false, err
	}

	if status, err := e.cfg.Reflection.Check(ctx, downV, downJar); err == nil && e.cfg.Reflection.ShortCircuits(status) {
		return true, nil
	}

	return e.cfg.Direction.Keep(ctx, downJar, downPrefixes, upPrefixes)
}

func gaFromName(name string) gav.GA {
	ga, _ := gav.ParseGA(name)
	return ga
}

// cgFilter implements step 6 over a bounded worker pool: ensure the
// upstream callgraph, compute entry points, cheap-check and build the
// downstream callgraph, resolve callers.
func (e *Engine) cgFilter(ctx context.Context, item gav.GA, filtered workdir.GADeps, added workdir.TFS) (workdir.GADeps, workdir.DepCalls, error) {
	cgAdditions := make(workdir.GADeps)
	depCalls := make(workdir.DepCalls)

	for vUp, sinks := range added {
		sort.Strings(sinks)
		upV := item.WithVersion(vUp)
		upPrefixes, err := e.cfg.Prefix.Owned(ctx, upV)
		if err != nil {
			return nil, nil, err
		}
		upJar, err := e.cfg.Repo.Fetch(ctx, upV)
		if err != nil {
			continue // upstream jar unavailable: no entry points derivable this round.
		}
		upGraph, err := e.cfg.Callgraph.Get(ctx, upV, upJar, upPrefixes, nil)
		if err != nil {
			return nil, nil, err
		}
		if upGraph == nil {
			continue
		}
		entryPoints := e.cfg.EntryPoints.EntryPoints(upV.String(), sinks, upGraph)
		if len(entryPoints) == 0 {
			continue
		}
		entryList := make([]string, 0, len(entryPoints))
		for ep := range entryPoints {
			entryList = append(entryList, ep)
		}

		type job struct{ dName, vDown string }
		var jobs []job
		for dName, byUp := range filtered {
			for vUpCandidate, downs := range byUp {
				if vUpCandidate != vUp {
					continue
				}
				for _, vDown := range downs {
					jobs = append(jobs, job{dName, vDown})
				}
			}
		}

		sem := semaphore.NewWeighted(int64(e.cfg.ProcNumCG))
		var mu muAdditions
		g, gctx := errgroup.WithContext(ctx)
		for _, j := range jobs {
			j := j
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				return e.cgFilterOne(gctx, item, vUp, j.dName, j.vDown, entryPoints, entryList, &mu, cgAdditions, depCalls)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}
	return cgAdditions, depCalls, nil
}

// muAdditions serializes writes into the shared cgAdditions/depCalls
// maps from cgFilter's worker pool.
type muAdditions struct{ mu sync.Mutex }

func (e *Engine) cgFilterOne(ctx context.Context, item gav.GA, vUp, dName, vDown string, entryPoints map[string]bool, entryList []string, mu *muAdditions, cgAdditions workdir.GADeps, depCalls workdir.DepCalls) error {
	d := gaFromName(dName)
	downV := d.WithVersion(vDown)

	downJar, err := e.cfg.Repo.Fetch(ctx, downV)
	if err != nil {
		return nil // unreachable jar: drop silently, per 4.A not-found policy.
	}
	downPrefixes, err := e.cfg.Prefix.Owned(ctx, downV)
	if err != nil {
		return err
	}
	reflStatus, err := e.cfg.Reflection.Check(ctx, downV, downJar)
	if err != nil {
		return err
	}
	reflDetected := e.cfg.Reflection.ShortCircuits(reflStatus)

	build, err := callers.PreFilter(ctx, e.cfg.Callgraph.Analyzer, downJar, entryList, reflDetected)
	if err != nil {
		return err
	}
	if !build {
		return nil
	}

	downGraph, err := e.cfg.Callgraph.Get(ctx, downV, downJar, downPrefixes, nil)
	if err != nil {
		return err
	}
	if downGraph == nil {
		return nil
	}

	found := callers.Resolve(entryPoints, downGraph)
	if len(found) == 0 {
		return nil
	}

	mu.mu.Lock()
	defer mu.mu.Unlock()

	if cgAdditions[dName] == nil {
		cgAdditions[dName] = make(workdir.VersionDeps)
	}
	cgAdditions[dName][vUp] = appendUnique(cgAdditions[dName][vUp], vDown)

	if depCalls[dName] == nil {
		depCalls[dName] = make(map[string]map[string]map[string][]string)
	}
	if depCalls[dName][vUp] == nil {
		depCalls[dName][vUp] = make(map[string]map[string][]string)
	}
	depCalls[dName][vUp][vDown] = found

	if err := e.cfg.Tree.SetMarker("selected_cg", vUp, d, vDown); err != nil {
		return err
	}
	return nil
}
