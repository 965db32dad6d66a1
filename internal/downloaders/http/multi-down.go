package mydmhttp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

// Assemble verifies every part file against its planned length, then
// concatenates them in index order into dest. If dest is taken a numbered
// sibling is used instead; the path actually written is returned. Part files
// are removed only after a successful merge. On failure nothing is left at
// the destination.
func Assemble(segments []*types.Segment, dest string) (string, error) {
	log := utils.GetLogger("http/assemble")
	ordered := make([]*types.Segment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	for _, seg := range ordered {
		info, err := os.Stat(seg.PartPath)
		if err != nil {
			return "", &types.MergeError{Segment: seg.Index, Path: seg.PartPath, Err: fmt.Errorf("missing part: %w", err)}
		}
		if seg.Bounded && info.Size() != seg.Length() {
			return "", &types.MergeError{Segment: seg.Index, Path: seg.PartPath, Expected: seg.Length(), Actual: info.Size()}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", &types.DiskError{Path: dest, Err: err}
	}
	destFile, finalPath, err := utils.CreateUniqueFile(dest)
	if err != nil {
		return "", &types.DiskError{Path: dest, Err: err}
	}
	if err := appendParts(destFile, ordered); err != nil {
		destFile.Close()
		os.Remove(finalPath)
		return "", err
	}
	if err := destFile.Sync(); err != nil {
		destFile.Close()
		os.Remove(finalPath)
		return "", &types.DiskError{Path: finalPath, Err: err}
	}
	if err := destFile.Close(); err != nil {
		os.Remove(finalPath)
		return "", &types.DiskError{Path: finalPath, Err: err}
	}

	var cleanupErrs []error
	for _, seg := range ordered {
		if err := os.Remove(seg.PartPath); err != nil && !os.IsNotExist(err) {
			cleanupErrs = append(cleanupErrs, err)
		}
	}
	if err := errors.Join(cleanupErrs...); err != nil {
		log.Warn().Err(err).Msg("Some part files could not be removed")
	}
	log.Debug().Str("path", finalPath).Int("parts", len(ordered)).Msg("Parts assembled")
	return finalPath, nil
}

func appendParts(destFile *os.File, ordered []*types.Segment) error {
	for _, seg := range ordered {
		partFile, err := os.Open(seg.PartPath)
		if err != nil {
			return &types.MergeError{Segment: seg.Index, Path: seg.PartPath, Err: err}
		}
		written, err := io.Copy(destFile, partFile)
		partFile.Close()
		if err != nil {
			return &types.DiskError{Path: destFile.Name(), Err: fmt.Errorf("copying part %d: %w", seg.Index, err)}
		}
		if seg.Bounded && written != seg.Length() {
			return &types.MergeError{Segment: seg.Index, Path: seg.PartPath, Expected: seg.Length(), Actual: written}
		}
	}
	return nil
}
