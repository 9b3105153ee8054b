package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// UpsertRecord inserts rec or updates the stored row with the same id.
// first_synced_at is kept from the original insert so re-applying a batch
// leaves the row unchanged.
func (d *DB) UpsertRecord(ctx context.Context, rec models.CanonicalRecord) error {
	query := `
	INSERT INTO records (
		id, title, kind, source, published_at, url, excerpt, issuer, amount, first_synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		kind = excluded.kind,
		source = excluded.source,
		published_at = excluded.published_at,
		url = excluded.url,
		excerpt = excluded.excerpt,
		issuer = excluded.issuer,
		amount = excluded.amount
	`

	_, err := d.db.ExecContext(ctx, query,
		rec.ID, rec.Title, string(rec.Kind), string(rec.Source),
		rec.PublishedAt.UTC().Format(timeLayout), rec.URL, rec.Excerpt, rec.Issuer, rec.Amount,
		d.now().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = `id, title, kind, source, published_at, url, excerpt, issuer, amount`

// Get retrieves a record by id.
func (d *DB) Get(ctx context.Context, id string) (models.CanonicalRecord, bool, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CanonicalRecord{}, false, nil
	}
	if err != nil {
		return models.CanonicalRecord{}, false, fmt.Errorf("get record %s: %w", id, err)
	}
	return rec, true, nil
}

// StoredQuery filters persisted records.
type StoredQuery struct {
	Query  string
	Source models.Source
	Kind   models.Kind
	Limit  int
	Offset int
}

// SearchStored runs a substring match over stored titles and excerpts,
// newest first.
func (d *DB) SearchStored(ctx context.Context, q StoredQuery) ([]models.CanonicalRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		where []string
		args  []any
	)
	for _, term := range strings.Fields(strings.ToLower(q.Query)) {
		where = append(where, `(lower(title) LIKE ? ESCAPE '\' OR lower(excerpt) LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(term) + "%"
		args = append(args, pattern, pattern)
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(q.Source))
	}
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY published_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	out := []models.CanonicalRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.CanonicalRecord, error) {
	var (
		rec       models.CanonicalRecord
		kind, src string
		published string
	)
	if err := s.Scan(&rec.ID, &rec.Title, &kind, &src, &published, &rec.URL, &rec.Excerpt, &rec.Issuer, &rec.Amount); err != nil {
		return models.CanonicalRecord{}, err
	}
	ts, err := time.Parse(timeLayout, published)
	if err != nil {
		return models.CanonicalRecord{}, fmt.Errorf("parse published_at of %s: %w", rec.ID, err)
	}
	rec.Kind = models.Kind(kind)
	rec.Source = models.Source(src)
	rec.PublishedAt = ts
	return rec, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
