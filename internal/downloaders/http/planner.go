package mydmhttp

import (
	"fmt"

	"github.com/tanq16/mydm/internal/types"
)

type PlanOptions struct {
	Threads   int
	Threshold int64 // resources smaller than this are fetched as one segment
}

// Plan splits a resource into contiguous, non-overlapping segments covering
// [0, totalSize-1]. The remainder of an uneven split goes to the last
// segment. Without range support, below the threshold, or with an unknown
// size the whole resource is one segment; an unknown size makes it unbounded.
func Plan(totalSize int64, rangeSupported bool, opts PlanOptions) ([]*types.Segment, error) {
	if totalSize < types.UnknownSize {
		return nil, &types.PlanError{Reason: fmt.Sprintf("negative size %d", totalSize)}
	}
	if opts.Threads < 1 {
		return nil, &types.PlanError{Reason: fmt.Sprintf("thread count %d", opts.Threads)}
	}
	if totalSize == types.UnknownSize {
		return []*types.Segment{types.NewSegment(0, 0, types.UnknownSize, false)}, nil
	}
	if !rangeSupported || totalSize < opts.Threshold || opts.Threads == 1 || totalSize <= 1 {
		return []*types.Segment{types.NewSegment(0, 0, totalSize-1, true)}, nil
	}

	count := int64(opts.Threads)
	if count > totalSize {
		count = totalSize
	}
	segmentSize := totalSize / count
	segments := make([]*types.Segment, count)
	for i := range count {
		start := i * segmentSize
		end := start + segmentSize - 1
		if i == count-1 {
			end = totalSize - 1
		}
		segments[i] = types.NewSegment(int(i), start, end, true)
	}
	return segments, nil
}
