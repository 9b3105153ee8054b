// Package sources fetches legal documents from upstream sources and maps
// them into canonical records.
package sources

import (
	"context"

	"github.com/DeafMist/legal-radar/backend/internal/models"
)

// Adapter is implemented by every upstream source.
type Adapter interface {
	Source() models.Source
	// Search runs one rate-limited query and returns at most spec.Limit
	// records plus the upstream's total when it reports one. Zero records
	// from a successful response is a valid empty result.
	Search(ctx context.Context, spec models.QuerySpec) ([]models.CanonicalRecord, int, error)
	// GetByNativeID fetches a single document by its id without the source prefix.
	GetByNativeID(ctx context.Context, nativeID string) (models.CanonicalRecord, error)
}

func truncate(records []models.CanonicalRecord, limit int) []models.CanonicalRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func filterKind(records []models.CanonicalRecord, kind models.Kind) []models.CanonicalRecord {
	if kind == "" {
		return records
	}
	out := records[:0]
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
