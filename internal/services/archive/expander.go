// -----------------------------------------------------------------------
// Package archive unpacks the zip bundles the image tool site produces
// when a stage processes more than one file.
// -----------------------------------------------------------------------

package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
)

// Expander extracts zip archives downloaded from the tool site.
type Expander struct {
	logger arbor.ILogger
}

// NewExpander creates a zip archive expander
func NewExpander(logger arbor.ILogger) *Expander {
	return &Expander{
		logger: logger,
	}
}

// Expand extracts the archive at archivePath into destDir and returns the
// paths of the files written. destDir is created if missing. Entries whose
// resolved path would escape destDir are rejected, failing the whole
// extraction rather than silently skipping them.
func (e *Expander) Expand(ctx context.Context, archivePath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		// OpenReader can hand back a usable reader alongside
		// ErrInsecurePath; close it either way.
		if reader != nil {
			reader.Close()
		}
		return nil, fmt.Errorf("failed to open archive %s: %w", filepath.Base(archivePath), err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination %s: %w", destDir, err)
	}

	var written []string
	for _, entry := range reader.File {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		target, err := securePath(destDir, entry.Name)
		if err != nil {
			return written, err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return written, fmt.Errorf("failed to create directory %s: %w", entry.Name, err)
			}
			continue
		}

		if err := e.extractFile(entry, target); err != nil {
			return written, err
		}
		written = append(written, target)
	}

	e.logger.Debug().
		Str("archive", filepath.Base(archivePath)).
		Int("files", len(written)).
		Msg("Archive expanded")

	return written, nil
}

// extractFile writes one archive entry to disk, preserving its mode
func (e *Expander) extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	mode := entry.Mode()
	if mode == 0 {
		mode = 0644
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return dst.Close()
}

// securePath resolves an archive entry name inside destDir, rejecting
// names that would land outside it (zip-slip).
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)

	base := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(target, base) {
		return "", fmt.Errorf("archive entry %q escapes destination directory", name)
	}
	return target, nil
}
