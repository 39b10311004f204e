// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command vpa runs the vulnerability propagation analysis engine for a
// single disclosed vulnerability record.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"golang.org/x/vulnprop/cverecord"
	"golang.org/x/vulnprop/gav"
	"golang.org/x/vulnprop/internal/analyzer"
	"golang.org/x/vulnprop/internal/callgraph"
	"golang.org/x/vulnprop/internal/depgraph"
	"golang.org/x/vulnprop/internal/direction"
	"golang.org/x/vulnprop/internal/jdeps"
	"golang.org/x/vulnprop/internal/kvstore"
	"golang.org/x/vulnprop/internal/prefix"
	"golang.org/x/vulnprop/internal/reach"
	"golang.org/x/vulnprop/internal/reflectprobe"
	"golang.org/x/vulnprop/internal/repo"
	"golang.org/x/vulnprop/internal/report"
	"golang.org/x/vulnprop/internal/workdir"
	"golang.org/x/vulnprop/propagate"
)

func main() {
	var (
		app = kingpin.New(filepath.Base(os.Args[0]), "Vulnerability propagation analysis for the Maven ecosystem.").DefaultEnvars()

		cveID   = app.Flag("cve", "CVE record ID to analyze.").Required().String()
		recordsDir = app.Flag("records-dir", "Directory of CVE record JSON files.").Default("records").String()
		workDir = app.Flag("work-dir", "Root of the per-CVE analysis working tree.").Default("work").String()
		cacheDir = app.Flag("cache-dir", "Root of the artifact/callgraph cache.").Default("cache").String()

		mavenRepo = app.Flag("maven-repo", "Base URL of the Maven-layout artifact repository.").Default("https://repo1.maven.org/maven2").String()
		depStoreURL = app.Flag("dep-store-url", "Base URL of the dependency-graph store.").Required().String()

		analyzerBin = app.Flag("analyzer-bin", "Path to the external bytecode analyzer binary.").Required().String()
		jdepsBin    = app.Flag("jdeps-bin", "Path to the jdeps-equivalent class-reference tool.").Required().String()
		reflectList = app.Flag("reflection-method-list", "Path to the reflection-API method list.").Required().String()

		procNumDeps = app.Flag("proc-num-deps", "Worker pool size for the dependency-direction filter step.").Default("4").Int()
		procNumCG   = app.Flag("proc-num-cg", "Worker pool size for the callgraph filter step.").Default("4").Int()
		cgTool      = app.Flag("cg-tool", "Callgraph generator engine.").Default("points-to").Enum("points-to", "reflection-aware")

		prefixDBPath = app.Flag("prefix-db", "Path to the package-prefix SQLite database.").Default("prefixes.db").String()

		reportFormat = app.Flag("report-format", "Findings report format written to stdout after the run.").Enum("sarif", "vex")
	)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	data, err := os.ReadFile(filepath.Join(*recordsDir, *cveID+".json"))
	kingpin.FatalIfError(err, "reading CVE record %s", *cveID)
	rec, err := cverecord.Parse(data)
	kingpin.FatalIfError(err, "parsing CVE record %s", *cveID)

	store, err := kvstore.OpenSQLiteStore(*prefixDBPath)
	kingpin.FatalIfError(err, "opening package-prefix store")
	defer store.Close()

	repoClient := repo.NewClient(*mavenRepo, *cacheDir)
	analyzerClient := analyzer.NewClient(*analyzerBin, 0)
	jdepsClient := jdeps.NewClient(*jdepsBin)
	depStore := depgraph.NewClient(*depStoreURL)

	engine := analyzer.PointsTo
	reflectionUnaware := true
	if *cgTool == "reflection-aware" {
		engine = analyzer.ReflectionAware
		reflectionUnaware = false
	}

	cfg := propagate.Config{
		DependencyStore: depStore,
		Repo:            repoClient,
		Prefix:          prefix.NewOracle(repoClient, store, depStore),
		Store:           store,
		Reflection: &reflectprobe.Probe{
			Analyzer:          analyzerClient,
			Store:             store,
			MethodListPath:    *reflectList,
			ReflectionUnaware: reflectionUnaware,
		},
		Direction:       &direction.Filter{Jdeps: jdepsClient},
		Callgraph:       callgraph.NewClient(analyzerClient, engine, filepath.Join(*cacheDir, "callgraphs")),
		EntryPoints:     reach.NewCache(),
		Tree:            workdir.New(*workDir, *cveID),
		ProcNumDeps:     *procNumDeps,
		ProcNumCG:       *procNumCG,
		DependencyDepth: 1,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	engineRunner := propagate.New(cfg)
	if err := engineRunner.Run(ctx, rec); err != nil {
		log.Fatalf("vpa: %s: %v", *cveID, err)
	}
	log.Printf("vpa: %s: done", *cveID)

	if *reportFormat != "" {
		if err := writeReport(cfg.Tree, rec, engineRunner, *reportFormat); err != nil {
			log.Fatalf("vpa: %s: writing %s report: %v", *cveID, *reportFormat, err)
		}
	}
}

func writeReport(tree *workdir.Tree, rec *cverecord.Record, e *propagate.Engine, format string) error {
	visited := e.VisitedGAs()
	findings, err := report.Collect(tree, visited)
	if err != nil {
		return err
	}

	rootGA, err := rec.GA()
	if err != nil {
		return err
	}
	directNames, err := tree.LoadGADeps(rootGA)
	if err != nil {
		return err
	}
	direct := make(map[gav.GA]bool, len(directNames))
	for _, name := range directNames {
		ga, err := gav.ParseGA(name)
		if err == nil {
			direct[ga] = true
		}
	}

	var out interface{}
	switch format {
	case "sarif":
		out = report.BuildSARIF(rec, findings, direct)
	case "vex":
		out = report.BuildVEX(rec, findings, visited)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
