package mydmhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/mydm/internal/types"
)

func TestPlan(t *testing.T) {
	const mib = 1024 * 1024
	tests := []struct {
		name           string
		size           int64
		rangeSupported bool
		opts           PlanOptions
		wantLens       []int64
		wantBounded    bool
	}{
		{
			name:           "even split",
			size:           10 * mib,
			rangeSupported: true,
			opts:           PlanOptions{Threads: 4, Threshold: mib},
			wantLens:       []int64{10 * mib / 4, 10 * mib / 4, 10 * mib / 4, 10 * mib / 4},
			wantBounded:    true,
		},
		{
			name:           "remainder goes to the last segment",
			size:           10,
			rangeSupported: true,
			opts:           PlanOptions{Threads: 4},
			wantLens:       []int64{2, 2, 2, 4},
			wantBounded:    true,
		},
		{
			name:           "more threads than bytes",
			size:           3,
			rangeSupported: true,
			opts:           PlanOptions{Threads: 8},
			wantLens:       []int64{1, 1, 1},
			wantBounded:    true,
		},
		{
			name:        "no range support",
			size:        10 * mib,
			opts:        PlanOptions{Threads: 8, Threshold: mib},
			wantLens:    []int64{10 * mib},
			wantBounded: true,
		},
		{
			name:           "below threshold",
			size:           mib - 1,
			rangeSupported: true,
			opts:           PlanOptions{Threads: 8, Threshold: mib},
			wantLens:       []int64{mib - 1},
			wantBounded:    true,
		},
		{
			name:           "empty resource",
			size:           0,
			rangeSupported: true,
			opts:           PlanOptions{Threads: 8},
			wantLens:       []int64{0},
			wantBounded:    true,
		},
		{
			name:           "unknown size",
			size:           types.UnknownSize,
			rangeSupported: true,
			opts:           PlanOptions{Threads: 8},
			wantLens:       []int64{types.UnknownSize},
			wantBounded:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, err := Plan(tt.size, tt.rangeSupported, tt.opts)
			require.NoError(t, err)
			require.Len(t, segments, len(tt.wantLens))

			var next int64
			for i, seg := range segments {
				assert.Equal(t, i, seg.Index)
				assert.Equal(t, tt.wantBounded, seg.Bounded)
				assert.Equal(t, tt.wantLens[i], seg.Length())
				assert.Equal(t, types.SegmentPending, seg.Status())
				assert.Equal(t, next, seg.Start, "segments must be contiguous")
				next = seg.End + 1
			}
			if tt.wantBounded {
				assert.Equal(t, tt.size, next, "segments must cover the whole resource")
			}
		})
	}
}

func TestPlanRejectsInvalidInput(t *testing.T) {
	_, err := Plan(-2, true, PlanOptions{Threads: 4})
	var planErr *types.PlanError
	require.ErrorAs(t, err, &planErr)

	_, err = Plan(100, true, PlanOptions{Threads: 0})
	require.ErrorAs(t, err, &planErr)
}
