package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/legal-radar/backend/internal/models"
	"github.com/DeafMist/legal-radar/backend/internal/persist"
	"github.com/DeafMist/legal-radar/backend/internal/storage"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "data", "legal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sample(id, title string, day int) models.CanonicalRecord {
	return models.CanonicalRecord{
		ID:          id,
		Title:       title,
		Kind:        models.KindResolution,
		Source:      models.SourceGazette,
		PublishedAt: time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		URL:         "https://www.boe.es/diario_boe/txt.php?id=" + id,
		Excerpt:     "Contrato de servicios de limpieza",
		Issuer:      "Ministerio de Hacienda",
		Amount:      15000,
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	rec := sample("BOE-A-2024-1", "Resolución de contratación", 2)

	require.NoError(t, db.UpsertRecord(ctx, rec))
	got, ok, err := db.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, got)

	rec.Title = "Resolución corregida"
	require.NoError(t, db.UpsertRecord(ctx, rec))
	got, _, err = db.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "Resolución corregida", got.Title)

	_, ok, err = db.Get(ctx, "BOE-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSyncerTwiceKeepsOneRowPerID(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	batch := []models.CanonicalRecord{
		sample("BOE-A-2024-1", "Uno", 1),
		sample("BOE-A-2024-2", "Dos", 2),
		sample("BOE-A-2024-2", "Dos", 2),
	}
	s := persist.NewSyncer(db, nil)

	for range 2 {
		n, err := s.Upsert(ctx, batch)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	}
	count, err := db.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSearchStored(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	gazette := sample("BOE-A-2024-1", "Orden de ayudas", 1)
	newer := sample("BOE-A-2024-2", "Resolución de contrato", 5)
	judgment := models.CanonicalRecord{
		ID:          "CENDOJ-1",
		Title:       "Sentencia sobre contrato de obra",
		Kind:        models.KindJudgment,
		Source:      models.SourceCaseLaw,
		PublishedAt: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		URL:         "https://www.poderjudicial.es/search/openDocument/1",
	}
	for _, r := range []models.CanonicalRecord{gazette, newer, judgment} {
		require.NoError(t, db.UpsertRecord(ctx, r))
	}

	tests := []struct {
		name  string
		query storage.StoredQuery
		want  []string
	}{
		{"all newest first", storage.StoredQuery{}, []string{"BOE-A-2024-2", "CENDOJ-1", "BOE-A-2024-1"}},
		{"text in title", storage.StoredQuery{Query: "CONTRATO obra"}, []string{"CENDOJ-1"}},
		{"text in excerpt", storage.StoredQuery{Query: "limpieza"}, []string{"BOE-A-2024-2", "BOE-A-2024-1"}},
		{"source filter", storage.StoredQuery{Source: models.SourceCaseLaw}, []string{"CENDOJ-1"}},
		{"kind filter", storage.StoredQuery{Kind: models.KindJudgment}, []string{"CENDOJ-1"}},
		{"limit offset", storage.StoredQuery{Limit: 1, Offset: 1}, []string{"CENDOJ-1"}},
		{"like wildcard is literal", storage.StoredQuery{Query: "%"}, []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := db.SearchStored(ctx, tc.query)
			require.NoError(t, err)
			ids := []string{}
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			require.Equal(t, tc.want, ids)
		})
	}
}

func TestAlertLifecycle(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	a, err := db.CreateAlert(ctx, "owner-1", "contrato menor", models.SourceGazette)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.True(t, a.Active)

	_, err = db.CreateAlert(ctx, "owner-1", "sentencia", "")
	require.NoError(t, err)
	_, err = db.CreateAlert(ctx, "owner-2", "subvención", "")
	require.NoError(t, err)
	_, err = db.CreateAlert(ctx, "", "x", "")
	require.Error(t, err)

	owned, err := db.ListAlerts(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	require.Equal(t, a.ID, owned[0].ID)
	require.Equal(t, models.SourceGazette, owned[0].SourceFilter)

	require.NoError(t, db.SaveSeen(ctx, a.ID, []string{"BOE-3", "BOE-1", "BOE-2"}))
	got, err := db.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"BOE-3", "BOE-1", "BOE-2"}, got.LastSeenIDs)

	require.NoError(t, db.SaveSeen(ctx, a.ID, []string{"BOE-2"}))
	got, err = db.GetAlert(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"BOE-2"}, got.LastSeenIDs)

	require.NoError(t, db.SetAlertActive(ctx, a.ID, false))
	active, err := db.ListActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, alert := range active {
		require.NotEqual(t, a.ID, alert.ID)
	}

	require.ErrorIs(t, db.SaveSeen(ctx, "missing", nil), storage.ErrAlertNotFound)
	require.ErrorIs(t, db.SetAlertActive(ctx, "missing", true), storage.ErrAlertNotFound)
	_, err = db.GetAlert(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrAlertNotFound)
}
