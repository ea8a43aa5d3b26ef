package certificate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		year  int
		level fluency.Level
		seq   int64
		want  string
	}{
		{2025, fluency.A2, 1, "DLA-2025-A2-000001"},
		{2025, fluency.B1, 42, "DLA-2025-B1-000042"},
		{2026, fluency.C1, 999999, "DLA-2026-C1-999999"},
		{2026, fluency.C1, 1000000, "DLA-2026-C1-1000000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.year, tt.level, tt.seq))
		})
	}
}

func TestSortOldestFirst(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	certs := []*Certificate{
		{ID: "c", IssuedAt: base.Add(2 * time.Hour)},
		{ID: "b", IssuedAt: base},
		{ID: "a", IssuedAt: base},
		{ID: "d", IssuedAt: base.Add(time.Hour)},
	}
	SortOldestFirst(certs)

	ids := make([]string, 0, len(certs))
	for _, c := range certs {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, ids)
}
