// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index persists artifact records in an embedded BadgerDB table.
//
// # Description
//
// The index is one BadgerDB directory holding a single logical table,
// CachedDocInfo, keyed by the deterministic CBOR encoding of a package key
// and valued by the CBOR encoding of its artifact.Record. The table is
// created lazily by the first Put; until then ReadAll reports zero records.
//
// Key layout:
//
//	table/CachedDocInfo            -> marker, present once the table exists
//	CachedDocInfo/<cbor(pkg key)>  -> cbor(artifact.Record)
//
// # Thread Safety
//
// The database is opened for each operation and closed afterwards. A mutex
// serialises operations within the process because BadgerDB allows only one
// open handle per directory.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/docshelf/services/docshelf/artifact"
	"github.com/AleutianAI/docshelf/services/docshelf/pkgkey"
	"github.com/AleutianAI/docshelf/services/docshelf/storage/badger"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrStorageOpen indicates the index database could not be opened.
	ErrStorageOpen = errors.New("open index storage")

	// ErrRecordDecode indicates a persisted row is malformed.
	ErrRecordDecode = errors.New("decode index record")
)

// -----------------------------------------------------------------------------
// Layout
// -----------------------------------------------------------------------------

const (
	// DirName is the index directory inside the data directory.
	DirName = "index.db"

	// TableName is the logical table holding artifact records.
	TableName = "CachedDocInfo"

	rowPrefix = TableName + "/"
	markerKey = "table/" + TableName
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docshelf_index_reads_total",
		Help: "Index read-all operations by status",
	}, []string{"status"})

	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docshelf_index_writes_total",
		Help: "Index record writes by status",
	}, []string{"status"})

	recordsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docshelf_index_records_skipped_total",
		Help: "Index rows skipped because they could not be decoded",
	})

	readDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docshelf_index_read_duration_seconds",
		Help:    "Time to open the index and read every record",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

var tracer = otel.Tracer("docshelf.index")

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Config configures a Store.
type Config struct {
	// Dir is the BadgerDB directory, usually <data dir>/index.db.
	Dir string

	// SyncWrites fsyncs each Put.
	SyncWrites bool

	// Logger is used for skipped rows and badger internals.
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Store is the CachedDocInfo table.
type Store struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex
}

// New returns a Store for cfg. Nothing is opened until the first call.
func New(cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "index")),
	}
}

// PathIn returns the index directory inside dataDir.
func PathIn(dataDir string) string {
	return filepath.Join(dataDir, DirName)
}

// Dir returns the index directory.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

func (s *Store) open() (*badger.DB, error) {
	db, err := badger.Open(badger.Config{
		Path:       s.cfg.Dir,
		SyncWrites: s.cfg.SyncWrites,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrStorageOpen, s.cfg.Dir, err)
	}
	return db, nil
}

func rowKey(key pkgkey.Key) ([]byte, error) {
	encoded, err := pkgkey.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("encode key %s: %w", key, err)
	}
	return append([]byte(rowPrefix), encoded...), nil
}

// Put writes record, replacing any previous record for the same key.
//
// Description:
//
//	This is the builder side of the index. The first Put creates the
//	table marker.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Put(ctx context.Context, record artifact.Record) error {
	key, err := rowKey(record.Key)
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return err
	}
	value, err := pkgkey.Marshal(record)
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("encode record %s: %w", record.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return err
	}
	defer db.Close()

	err = db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := txn.Set([]byte(markerKey), nil); err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		writesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("write record %s: %w", record.Key, err)
	}

	writesTotal.WithLabelValues("ok").Inc()
	s.logger.Debug("record written",
		slog.String("pkg_key", record.Key.String()),
		slog.String("path", record.Path))
	return nil
}

// ReadAll returns every decodable record in the table.
//
// Description:
//
//	Opens the index, reads all rows and closes it again. A missing table is
//	the normal state before any build has completed and yields an empty
//	slice. Rows that fail to decode are logged and skipped; the rest are
//	still returned.
//
// Outputs:
//
//	[]artifact.Record - Decoded records, in key order.
//	error - Wraps ErrStorageOpen if the database cannot be opened.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) ReadAll(ctx context.Context) ([]artifact.Record, error) {
	ctx, span := tracer.Start(ctx, "index.ReadAll")
	defer span.End()
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		readsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer db.Close()

	records := []artifact.Record{}
	skipped := 0
	tableExists := true

	err = db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get([]byte(markerKey)); err != nil {
			if errors.Is(err, dgbadger.ErrKeyNotFound) {
				tableExists = false
				return nil
			}
			return err
		}

		prefix := []byte(rowPrefix)
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var record artifact.Record
			err := item.Value(func(val []byte) error {
				return decodeRecord(val, &record)
			})
			if err != nil {
				skipped++
				recordsSkippedTotal.Inc()
				s.logger.Error("failed to read a key-value pair in the index",
					slog.String("key", fmt.Sprintf("%x", item.KeyCopy(nil))),
					slog.String("error", err.Error()))
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	readDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		readsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read %s table: %w", TableName, err)
	}

	span.SetAttributes(
		attribute.Bool("table_exists", tableExists),
		attribute.Int("record_count", len(records)),
		attribute.Int("skipped_count", skipped),
	)
	readsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("read records",
		slog.Int("count", len(records)),
		slog.Int("skipped", skipped),
		slog.Bool("table_exists", tableExists))
	return records, nil
}

func decodeRecord(val []byte, record *artifact.Record) error {
	if err := pkgkey.Unmarshal(val, record); err != nil {
		return fmt.Errorf("%w: %w", ErrRecordDecode, err)
	}
	if record.Key.IsZero() {
		return fmt.Errorf("%w: record has no package key", ErrRecordDecode)
	}
	return nil
}
