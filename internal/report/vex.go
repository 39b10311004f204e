// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/vulnprop/cverecord"
	"golang.org/x/vulnprop/gav"
)

const (
	contextURI    = "https://openvex.dev/ns/v0.2.0"
	defaultAuthor = "vpa"
	tooling       = "vpa propagation engine"

	statusAffected    = "affected"
	statusNotAffected = "not_affected"

	justificationNotExecuted = "vulnerable_code_not_in_execute_path"
)

// Document is an OpenVEX statement document (https://openvex.dev), one
// Statement per downstream GA the propagation run examined, affected if
// at least one of its versions carries reachable sinks.
type Document struct {
	Context    string      `json:"@context"`
	ID         string      `json:"@id"`
	Author     string      `json:"author"`
	Timestamp  time.Time   `json:"timestamp"`
	Version    int         `json:"version"`
	Tooling    string      `json:"tooling,omitempty"`
	Statements []Statement `json:"statements"`
}

// Statement asserts one vulnerability's status against one downstream GA.
type Statement struct {
	Vulnerability Vulnerability `json:"vulnerability"`
	Products      []Product     `json:"products"`
	Status        string        `json:"status"`
	Justification string        `json:"justification,omitempty"`
}

type Vulnerability struct {
	ID   string `json:"@id"`
	Name string `json:"name"`
}

type Product struct {
	ID string `json:"@id"`
}

// BuildVEX renders one VEX statement per downstream GA: affected if any
// version of that GA was found in findings, not_affected (with a
// vulnerable_code_not_in_execute_path justification) for every GA in
// allDeps that wasn't.
func BuildVEX(rec *cverecord.Record, findings []Finding, allDeps []gav.GA) Document {
	affected := make(map[gav.GA]bool, len(findings))
	for _, f := range findings {
		affected[f.GA] = true
	}

	vulnID := fmt.Sprintf("pkg:maven/%s/%s?cve=%s", rec.Group, rec.Artifact, rec.ID)
	var statements []Statement
	for _, d := range allDeps {
		s := Statement{
			Vulnerability: Vulnerability{ID: vulnID, Name: rec.ID},
			Products:      []Product{{ID: MavenPURLGA(d)}},
		}
		if affected[d] {
			s.Status = statusAffected
		} else {
			s.Status = statusNotAffected
			s.Justification = justificationNotExecuted
		}
		statements = append(statements, s)
	}
	sort.Slice(statements, func(i, j int) bool {
		return statements[i].Products[0].ID < statements[j].Products[0].ID
	})

	doc := Document{
		Context:    contextURI,
		Author:     defaultAuthor,
		Timestamp:  time.Now().UTC(),
		Version:    1,
		Tooling:    tooling,
		Statements: statements,
	}
	doc.ID = "vpa/vex:" + hashVex(doc)
	return doc
}

func hashVex(doc Document) string {
	out, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(out))
}
