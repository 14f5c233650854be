package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/interfaces"
	"github.com/ternarybob/imago/internal/models"
)

// Normalizer reconciles the heterogeneous shapes a job's output can take
// into one canonical layout: only the final compressed images at the top
// level of the job output directory, under their original names.
//
// Every step is best-effort. I/O failures are logged and swallowed; a
// partially-normalized directory is an acceptable degraded outcome, never
// a pipeline failure. Running the normalizer again over an already clean
// directory changes nothing.
type Normalizer struct {
	expander interfaces.ArchiveExpander
	logger   arbor.ILogger
}

// NewNormalizer creates a normalizer backed by the given archive expander
func NewNormalizer(expander interfaces.ArchiveExpander, logger arbor.ILogger) *Normalizer {
	return &Normalizer{
		expander: expander,
		logger:   logger,
	}
}

// Normalize cleans up a job's output directory after compression.
// workDir is the job-scoped directory used during disambiguation.
func (n *Normalizer) Normalize(ctx context.Context, outputDir, workDir string) {
	n.expandFinalArchives(ctx, outputDir)
	n.stripFinalPrefixes(outputDir)
	n.removeIntermediates(outputDir)
	n.removeWorkDir(workDir)
	n.flattenSubdirs(outputDir)
}

// expandFinalArchives unpacks every compressed-stage archive at the top
// level into the output directory itself, then deletes the archive.
func (n *Normalizer) expandFinalArchives(ctx context.Context, outputDir string) {
	for _, entry := range n.listDir(outputDir) {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, models.CompressedPrefix) {
			continue
		}
		if strings.ToLower(filepath.Ext(name)) != ".zip" {
			continue
		}

		archivePath := filepath.Join(outputDir, name)
		if _, err := n.expander.Expand(ctx, archivePath, outputDir); err != nil {
			n.logger.Warn().Err(err).Str("archive", name).Msg("Failed to expand final archive")
			continue
		}
		if err := os.Remove(archivePath); err != nil {
			n.logger.Warn().Err(err).Str("archive", name).Msg("Failed to remove expanded archive")
		}
	}
}

// stripFinalPrefixes renames lone compressed images back to their
// original names.
func (n *Normalizer) stripFinalPrefixes(outputDir string) {
	for _, entry := range n.listDir(outputDir) {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, models.CompressedPrefix) {
			continue
		}
		if strings.ToLower(filepath.Ext(name)) == ".zip" {
			continue
		}

		stripped := strings.TrimPrefix(name, models.CompressedPrefix)
		if stripped == "" {
			continue
		}
		if err := os.Rename(filepath.Join(outputDir, name), filepath.Join(outputDir, stripped)); err != nil {
			n.logger.Warn().Err(err).Str("file", name).Msg("Failed to strip final prefix")
		}
	}
}

// removeIntermediates deletes convert-stage leftovers at the top level,
// whatever shape they have.
func (n *Normalizer) removeIntermediates(outputDir string) {
	for _, entry := range n.listDir(outputDir) {
		name := entry.Name()
		if !strings.HasPrefix(name, models.ConvertedPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(outputDir, name)); err != nil {
			n.logger.Warn().Err(err).Str("entry", name).Msg("Failed to remove intermediate artifact")
		}
	}
}

// removeWorkDir drops the disambiguation directory. Absence is fine.
func (n *Normalizer) removeWorkDir(workDir string) {
	if workDir == "" {
		return
	}
	if err := os.RemoveAll(workDir); err != nil {
		n.logger.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove work directory")
	}
}

// flattenSubdirs promotes files out of directories left behind by archive
// expansion. Only direct children are moved; a directory nested two or
// more levels deep is not flattened further.
func (n *Normalizer) flattenSubdirs(outputDir string) {
	for _, entry := range n.listDir(outputDir) {
		if !entry.IsDir() {
			continue
		}

		subDir := filepath.Join(outputDir, entry.Name())
		subEntries, err := os.ReadDir(subDir)
		if err != nil {
			n.logger.Warn().Err(err).Str("dir", entry.Name()).Msg("Failed to read nested directory")
			continue
		}

		for _, subEntry := range subEntries {
			if subEntry.IsDir() {
				continue
			}
			src := filepath.Join(subDir, subEntry.Name())
			dst := filepath.Join(outputDir, subEntry.Name())
			if err := os.Rename(src, dst); err != nil {
				n.logger.Warn().Err(err).Str("file", subEntry.Name()).Msg("Failed to move nested file up")
			}
		}

		// Remove, not RemoveAll: flattening stops at one level, so a
		// directory with deeper residue stays behind.
		if err := os.Remove(subDir); err != nil {
			n.logger.Warn().Err(err).Str("dir", entry.Name()).Msg("Nested directory not empty after flatten")
		}
	}
}

// listDir reads a directory, logging and returning nothing on failure.
func (n *Normalizer) listDir(dir string) []os.DirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		n.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to list output directory")
		return nil
	}
	return entries
}
