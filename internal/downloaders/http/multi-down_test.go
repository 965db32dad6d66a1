package mydmhttp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

func plannedParts(t *testing.T, data []byte, threads int) []*types.Segment {
	t.Helper()
	segments, err := Plan(int64(len(data)), true, PlanOptions{Threads: threads})
	require.NoError(t, err)
	tempDir := t.TempDir()
	for _, seg := range segments {
		seg.PartPath = utils.PartPath(tempDir, "job", seg.Index)
		writePart(t, seg, data[seg.Start:seg.End+1])
	}
	return segments
}

func TestAssemble(t *testing.T) {
	data := testPayload(1000)
	segments := plannedParts(t, data, 4)
	// merge order must not depend on slice order
	segments[0], segments[3] = segments[3], segments[0]
	dest := filepath.Join(t.TempDir(), "out", "file.bin")

	path, err := Assemble(segments, dest)
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	for _, seg := range segments {
		assert.NoFileExists(t, seg.PartPath)
	}
}

func TestAssembleAvoidsExistingFile(t *testing.T) {
	data := testPayload(10)
	dir := t.TempDir()
	dest := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(dest, []byte("keep me"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report-(1).pdf"), []byte("me too"), 0644))

	path, err := Assemble(plannedParts(t, data, 2), dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report-(2).pdf"), path)

	existing, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(existing))
}

func TestAssembleMissingPart(t *testing.T) {
	segments := plannedParts(t, testPayload(100), 3)
	require.NoError(t, os.Remove(segments[1].PartPath))
	dest := filepath.Join(t.TempDir(), "file.bin")

	_, err := Assemble(segments, dest)
	var mergeErr *types.MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, 1, mergeErr.Segment)
	assert.NoFileExists(t, dest)
	assert.FileExists(t, segments[0].PartPath)
}

func TestAssembleShortPart(t *testing.T) {
	segments := plannedParts(t, testPayload(100), 2)
	require.NoError(t, os.Truncate(segments[1].PartPath, 10))
	dest := filepath.Join(t.TempDir(), "file.bin")

	_, err := Assemble(segments, dest)
	var mergeErr *types.MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, int64(50), mergeErr.Expected)
	assert.Equal(t, int64(10), mergeErr.Actual)
	assert.NoFileExists(t, dest)
}

func TestAssembleUnboundedPart(t *testing.T) {
	data := testPayload(77)
	seg := types.NewSegment(0, 0, types.UnknownSize, false)
	seg.PartPath = utils.PartPath(t.TempDir(), "job", 0)
	writePart(t, seg, data)
	dest := filepath.Join(t.TempDir(), "stream.ts")

	path, err := Assemble([]*types.Segment{seg}, dest)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
