// internal/services/locator.go
package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
)

// LocateArtifact resolves the rendered video of one run. The expected path reported
// by the renderer wins; otherwise the first .mp4 in dir, by name, is returned.
func LocateArtifact(dir, expected string) (string, error) {
	if expected != "" {
		if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
			return expected, nil
		}
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", apperrors.NewArtifactNotFoundError(fmt.Sprintf("Output directory %s not found.", dir), nil)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", apperrors.NewArtifactNotFoundError(fmt.Sprintf("Output directory %s not found.", dir), err)
	}

	var videos []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".mp4") {
			videos = append(videos, entry.Name())
		}
	}
	if len(videos) == 0 {
		return "", apperrors.NewArtifactNotFoundError("No output video found. Check logs above.", nil)
	}

	sort.Strings(videos)
	return filepath.Join(dir, videos[0]), nil
}
