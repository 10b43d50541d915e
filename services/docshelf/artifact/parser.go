// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrParse indicates an artifact could not be turned into a DocumentTree.
var ErrParse = errors.New("parse artifact")

var parsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docshelf_artifact_parses_total",
	Help: "Artifact parse attempts by status",
}, []string{"status"})

var tracer = otel.Tracer("docshelf.artifact")

// DocumentTree is the parsed rustdoc JSON of one crate.
//
// Only the top-level shape is decoded; items stay raw until a renderer
// needs them.
type DocumentTree struct {
	Root          json.RawMessage            `json:"root"`
	CrateVersion  *string                    `json:"crate_version"`
	FormatVersion int                        `json:"format_version"`
	Index         map[string]json.RawMessage `json:"index"`
	Paths         map[string]ItemSummary     `json:"paths"`
}

// ItemSummary is an entry of the rustdoc "paths" table.
type ItemSummary struct {
	CrateID int      `json:"crate_id"`
	Path    []string `json:"path"`
	Kind    string   `json:"kind"`
}

// ItemCount returns the number of items in the crate index.
func (d *DocumentTree) ItemCount() int {
	return len(d.Index)
}

// CrateName returns the name of the root module, or "" if unknown.
func (d *DocumentTree) CrateName() string {
	var root struct {
		Name *string `json:"name"`
	}
	if raw, ok := d.Index[rootID(d.Root)]; ok {
		if err := json.Unmarshal(raw, &root); err == nil && root.Name != nil {
			return *root.Name
		}
	}
	return ""
}

// rootID renders the root id as an index key; rustdoc has used both
// strings and integers for ids across format versions.
func rootID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// Parser turns a record's artifact into a DocumentTree.
type Parser interface {
	Parse(ctx context.Context, record Record) (*DocumentTree, error)
}

// FileParser reads artifacts from a Store.
type FileParser struct {
	store *Store
}

// NewFileParser returns a Parser backed by store.
func NewFileParser(store *Store) *FileParser {
	return &FileParser{store: store}
}

// Parse decompresses and decodes the artifact located by record.Path.
//
// Description:
//
//	Blocks on disk I/O and JSON decoding. Every failure is wrapped with
//	ErrParse so callers can treat missing files and corrupt JSON alike.
//
// Thread Safety: Safe for concurrent use.
func (p *FileParser) Parse(ctx context.Context, record Record) (*DocumentTree, error) {
	_, span := tracer.Start(ctx, "artifact.Parse")
	defer span.End()
	span.SetAttributes(
		attribute.String("pkg_key", record.Key.String()),
		attribute.String("path", record.Path),
	)

	doc, err := p.parse(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		parsesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	span.SetAttributes(attribute.Int("item_count", doc.ItemCount()))
	parsesTotal.WithLabelValues("ok").Inc()
	return doc, nil
}

func (p *FileParser) parse(record Record) (*DocumentTree, error) {
	rc, err := p.store.Open(record.Path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrParse, record.Key, err)
	}
	defer rc.Close()

	var doc DocumentTree
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w %s: decode json: %w", ErrParse, record.Key, err)
	}
	if doc.Index == nil {
		return nil, fmt.Errorf("%w %s: missing index", ErrParse, record.Key)
	}
	return &doc, nil
}
