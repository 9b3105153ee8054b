// Package persist is the only write path from the aggregation layer into
// the durable record store. It inserts or updates by id and never deletes.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// RecordWriter stores one record, replacing any stored record with the same id.
type RecordWriter interface {
	UpsertRecord(ctx context.Context, rec models.CanonicalRecord) error
}

// SyncError reports records a batch could not store. The rest of the batch
// was still written.
type SyncError struct {
	Failed []string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %d record(s) failed: %v", len(e.Failed), e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Syncer upserts batches through a RecordWriter.
type Syncer struct {
	store RecordWriter
	log   *slog.Logger
}

// NewSyncer returns a Syncer writing to store.
func NewSyncer(store RecordWriter, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{store: store, log: logger}
}

// Upsert writes each distinct record of the batch and returns how many were
// written. Duplicated ids keep the last occurrence. Invalid records and
// store failures are collected into a *SyncError; a cancelled ctx stops the
// batch early.
func (s *Syncer) Upsert(ctx context.Context, records []models.CanonicalRecord) (int, error) {
	batch := dedupe(records)

	var (
		written int
		failed  []string
		errs    []error
	)
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("sync records: %w", err)
		}
		if err := validate(rec); err != nil {
			failed = append(failed, rec.ID)
			errs = append(errs, err)
			continue
		}
		if err := s.store.UpsertRecord(ctx, rec); err != nil {
			s.log.Warn("upsert record", slog.String("id", rec.ID), slog.Any("err", err))
			failed = append(failed, rec.ID)
			errs = append(errs, fmt.Errorf("upsert %s: %w", rec.ID, err))
			continue
		}
		written++
	}

	if len(errs) > 0 {
		return written, &SyncError{Failed: failed, Err: errors.Join(errs...)}
	}
	s.log.Debug("synced records", slog.Int("written", written))
	return written, nil
}

func dedupe(records []models.CanonicalRecord) []models.CanonicalRecord {
	index := make(map[string]int, len(records))
	out := make([]models.CanonicalRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := index[rec.ID]; ok {
			out[i] = rec
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}

func validate(rec models.CanonicalRecord) error {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return errors.New("record without id")
	case rec.Source == "":
		return fmt.Errorf("record %s without source", rec.ID)
	case strings.TrimSpace(rec.Title) == "":
		return fmt.Errorf("record %s without title", rec.ID)
	}
	return nil
}
