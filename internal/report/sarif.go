// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"golang.org/x/vulnprop/cverecord"
	"golang.org/x/vulnprop/gav"
)

// Log is the top-level SARIF object encoded in UTF-8.
//
// See https://www.oasis-open.org/committees/tc_home.php?wg_abbrev=sarif
// for more information on the SARIF format.
type Log struct {
	// Version should always be "2.1.0"
	Version string `json:"version,omitempty"`
	// Schema should always be "https://json.schemastore.org/sarif-2.1.0.json"
	Schema string `json:"$schema,omitempty"`
	// Runs describes executions of static analysis tools. There is one
	// run per CVE record analyzed.
	Runs []Run `json:"runs,omitempty"`
}

// Run summarizes the result of propagating one CVE record's sinks
// through the dependency graph.
type Run struct {
	Tool Tool `json:"tool,omitempty"`
	// Results contain one entry per downstream GAV the sinks reached.
	Results []Result `json:"results,omitempty"`
}

// Tool captures information about the propagation run.
type Tool struct {
	Driver Driver `json:"driver,omitempty"`
}

// Driver provides details about the CVE record driving the run.
type Driver struct {
	Name           string `json:"name,omitempty"`
	InformationURI string `json:"informationUri,omitempty"`
	Rules          []Rule `json:"rules,omitempty"`
}

// Rule corresponds to the upstream CVE record that produced findings.
type Rule struct {
	ID               string      `json:"id,omitempty"`
	ShortDescription Description `json:"shortDescription,omitempty"`
	FullDescription  Description `json:"fullDescription,omitempty"`
	HelpURI          string      `json:"helpUri,omitempty"`
}

// Description is a text in its raw or markdown form.
type Description struct {
	Text     string `json:"text,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// Result is one downstream GAV in which the CVE's sinks were found
// reachable, with the call chain from entry point to caller encoded as
// a code flow.
type Result struct {
	RuleID    string      `json:"ruleId,omitempty"`
	Level     string      `json:"level,omitempty"`
	Message   Description `json:"message,omitempty"`
	Locations []Location  `json:"locations,omitempty"`
	CodeFlows []CodeFlow  `json:"codeFlows,omitempty"`
}

// CodeFlow encodes the entry-point-to-caller chains that make a
// downstream GAV reachable from the upstream sinks.
type CodeFlow struct {
	ThreadFlows []ThreadFlow `json:"threadFlows,omitempty"`
}

type ThreadFlow struct {
	Locations []ThreadFlowLocation `json:"locations,omitempty"`
}

type ThreadFlowLocation struct {
	Location Location `json:"location,omitempty"`
}

// Location identifies the GAV a finding or call-flow step belongs to.
type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation,omitempty"`
	Message          Description      `json:"message,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation,omitempty"`
}

// ArtifactLocation is a purl pointing at the affected GAV.
type ArtifactLocation struct {
	URI string `json:"uri,omitempty"`
}

const (
	errorLevel   = "error"
	warningLevel = "warning"
)

// BuildSARIF renders findings (all for rec) as a single-run SARIF log,
// one Rule for rec and one Result per downstream GAV, direct dependents
// at "error" and transitive ones at "warning".
func BuildSARIF(rec *cverecord.Record, findings []Finding, directDeps map[gav.GA]bool) Log {
	ga, _ := rec.GA()
	rule := Rule{
		ID:               rec.ID,
		ShortDescription: Description{Text: rec.ID + ": " + recordSummary(rec)},
		FullDescription:  Description{Text: recordSummary(rec)},
		HelpURI:          "pkg:maven/" + ga.Group + "/" + ga.Artifact,
	}

	results := make([]Result, 0, len(findings))
	for _, f := range findings {
		level := warningLevel
		if directDeps[f.GA] {
			level = errorLevel
		}
		loc := Location{
			PhysicalLocation: PhysicalLocation{
				ArtifactLocation: ArtifactLocation{URI: MavenPURL(gav.GAV{Group: f.GA.Group, Artifact: f.GA.Artifact, Version: f.Version})},
			},
			Message: Description{Text: f.GA.String() + "@" + f.Version},
		}
		results = append(results, Result{
			RuleID:    rec.ID,
			Level:     level,
			Message:   Description{Text: "reaches " + sinksText(f.Sinks)},
			Locations: []Location{loc},
			CodeFlows: codeFlows(f),
		})
	}

	return Log{
		Version: "2.1.0",
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Runs: []Run{{
			Tool: Tool{Driver: Driver{
				Name:           "vpa",
				InformationURI: "pkg:maven/" + ga.Group + "/" + ga.Artifact,
				Rules:          []Rule{rule},
			}},
			Results: results,
		}},
	}
}

func sinksText(sinks []string) string {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return sinks[0] + " and others"
}

func codeFlows(f Finding) []CodeFlow {
	if len(f.Callers) == 0 {
		return nil
	}
	var flows []ThreadFlow
	for entry, callers := range f.Callers {
		locs := []ThreadFlowLocation{{Location: Location{Message: Description{Text: entry}}}}
		for _, c := range callers {
			locs = append(locs, ThreadFlowLocation{Location: Location{Message: Description{Text: c}}})
		}
		flows = append(flows, ThreadFlow{Locations: locs})
	}
	return []CodeFlow{{ThreadFlows: flows}}
}
