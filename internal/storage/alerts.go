package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// ErrAlertNotFound is returned for unknown alert ids.
var ErrAlertNotFound = errors.New("alert not found")

// CreateAlert stores a new active alert for owner.
func (d *DB) CreateAlert(ctx context.Context, ownerID, keywords string, filter models.Source) (models.Alert, error) {
	ownerID = strings.TrimSpace(ownerID)
	keywords = strings.TrimSpace(keywords)
	if ownerID == "" || keywords == "" {
		return models.Alert{}, errors.New("create alert: owner and keywords are required")
	}

	alert := models.Alert{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Keywords:     keywords,
		SourceFilter: filter,
		Active:       true,
		LastSeenIDs:  []string{},
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO alerts (id, owner_id, keywords, source_filter, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		alert.ID, alert.OwnerID, alert.Keywords, string(alert.SourceFilter), d.now().Format(timeLayout),
	)
	if err != nil {
		return models.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	return alert, nil
}

// GetAlert loads one alert with its seen ids.
func (d *DB) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	alerts, err := d.queryAlerts(ctx, `WHERE id = ?`, id)
	if err != nil {
		return models.Alert{}, err
	}
	if len(alerts) == 0 {
		return models.Alert{}, ErrAlertNotFound
	}
	return alerts[0], nil
}

// ListAlerts returns every alert of owner, oldest first.
func (d *DB) ListAlerts(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return d.queryAlerts(ctx, `WHERE owner_id = ?`, ownerID)
}

// ListActiveAlerts returns the alerts a sweep should verify.
func (d *DB) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return d.queryAlerts(ctx, `WHERE active = 1`)
}

// SetAlertActive pauses or resumes an alert.
func (d *DB) SetAlertActive(ctx context.Context, id string, active bool) error {
	res, err := d.db.ExecContext(ctx, `UPDATE alerts SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// SaveSeen replaces the seen-id list of an alert, preserving order.
func (d *DB) SaveSeen(ctx context.Context, alertID string, ids []string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE id = ?`, alertID).Scan(&exists); err != nil {
		return fmt.Errorf("check alert %s: %w", alertID, err)
	}
	if exists == 0 {
		return ErrAlertNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM alert_seen WHERE alert_id = ?`, alertID); err != nil {
		return fmt.Errorf("clear seen ids: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alert_seen (alert_id, position, record_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare seen insert: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, alertID, i, id); err != nil {
			return fmt.Errorf("insert seen id: %w", err)
		}
	}
	return tx.Commit()
}

func (d *DB) queryAlerts(ctx context.Context, where string, args ...any) ([]models.Alert, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, owner_id, keywords, source_filter, active FROM alerts `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}

	alerts := []models.Alert{}
	for rows.Next() {
		var (
			a      models.Alert
			filter string
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Keywords, &filter, &a.Active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.SourceFilter = models.Source(filter)
		alerts = append(alerts, a)
	}
	// Close before issuing more queries; an in-memory database has a single connection.
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range alerts {
		seen, err := d.seenIDs(ctx, alerts[i].ID)
		if err != nil {
			return nil, err
		}
		alerts[i].LastSeenIDs = seen
	}
	return alerts, nil
}

func (d *DB) seenIDs(ctx context.Context, alertID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT record_id FROM alert_seen WHERE alert_id = ? ORDER BY position`, alertID)
	if err != nil {
		return nil, fmt.Errorf("query seen ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seen id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
