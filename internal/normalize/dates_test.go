package normalize_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/legal-radar/backend/internal/normalize"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  string
	}{
		{name: "slashes", raw: "15/03/2024"},
		{name: "dashes", raw: "15-03-2024"},
		{name: "single digits", raw: "Madrid, 15/3/2024"},
		{name: "iso", raw: "2024-03-15"},
		{name: "iso timestamp", raw: "2024-03-15T10:20:00Z"},
		{name: "compact", raw: "20240315"},
		{name: "rfc1123", raw: "Fri, 15 Mar 2024 08:00:00 +0100"},
		{name: "rfc1123 local midnight", raw: "Fri, 15 Mar 2024 00:00:00 +0100"},
		{name: "rfc3339 local midnight", raw: "2024-03-15T00:30:00+02:00"},
		{name: "long spanish", raw: "Sentencia de 15 de marzo de 2024"},
		{name: "embedded", raw: "Fecha de resolución: 15/03/2024. Ponente: X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalize.ParseDate(tt.raw)
			require.True(t, ok)
			require.Equal(t, want, got)
		})
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "sin fecha", "31/02/2024", "99/99/9999", "32 de marzo de 2024"} {
		got, ok := normalize.ParseDate(raw)
		require.False(t, ok, raw)
		require.True(t, got.IsZero(), raw)
	}
}

func TestDateOrFallsBack(t *testing.T) {
	today := normalize.Today(time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC))
	require.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), today)
	require.Equal(t, today, normalize.DateOr("???", today))
	require.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), normalize.DateOr("15/03/2024", today))
}
