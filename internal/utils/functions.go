package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/mydm/internal/types"
)

// CreateUniqueFile creates outputPath exclusively, falling back to numbered
// siblings while the name is taken. It returns the open file and the path
// that was actually used.
func CreateUniqueFile(outputPath string) (*os.File, string, error) {
	candidate := outputPath
	for index := 1; ; index++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, candidate, err
		}
		candidate = numberedPath(outputPath, index)
	}
}

func numberedPath(outputPath string, index int) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
}

// SanitizeFilename strips path separators, reserved and control characters.
// An empty result means nothing usable was left.
func SanitizeFilename(name string) string {
	name = reservedCharsRegex.ReplaceAllString(name, "")
	name = strings.Trim(name, " .")
	if windowsDeviceRegex.MatchString(name) {
		name = "_" + name
	}
	if len(name) > 240 {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:240-len(ext)], "") + ext
	}
	return name
}

// FilenameFromURL returns the last non-empty path segment of link, decoded.
func FilenameFromURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	base := path.Base(strings.TrimRight(parsed.Path, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func DefaultFilename(id string) string {
	return "download_" + id
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed <= 0 || bytes <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(float64(bytes)/elapsed)) + "/s"
}

func PartPath(tempDir, jobID string, index int) string {
	return filepath.Join(tempDir, fmt.Sprintf("%s.part%d", jobID, index))
}

// RemoveJobParts deletes every part file belonging to jobID. The temp
// directory itself is shared with other jobs and left in place.
func RemoveJobParts(tempDir, jobID string) error {
	files, err := os.ReadDir(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	prefix := jobID + ".part"
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(tempDir, file.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanTempDir removes the whole temp directory with every leftover part file.
func CleanTempDir(tempDir string) error {
	_, err := os.Stat(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(tempDir)
}

// ParseHeaderArgs turns "Key: Value" flag values into a header map; malformed
// entries are skipped.
func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		key, value, ok := strings.Cut(header, ":")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return result
}

func ReadDownloadList(filePath string) ([]types.DownloadEntry, error) {
	log := GetLogger("config")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []types.DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing link for entry %d", i+1)
		}
	}
	log.Debug().Int("count", len(entries)).Msg("Entries loaded from YAML")
	return entries, nil
}
