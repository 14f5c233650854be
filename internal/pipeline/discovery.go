package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/imago/internal/common"
	"github.com/ternarybob/imago/internal/models"
)

// FindImages returns the image files forming one job's input set.
//
// Direct children of dir win: if any supported images sit at the top
// level, exactly those are returned and subfolders are never inspected.
// Otherwise the immediate subfolders are checked in listing order and the
// first one holding images supplies the whole set. The search never goes
// deeper than that, and later sibling subfolders are not considered once
// one has matched.
//
// An empty result with a nil error means the folder holds nothing usable;
// callers treat that as a skipped job rather than a failure.
func FindImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source folder %s: %w", dir, err)
	}

	images := imagesIn(dir, entries)
	if len(images) > 0 {
		return images, nil
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subDir := filepath.Join(dir, entry.Name())
		subEntries, err := os.ReadDir(subDir)
		if err != nil {
			// Unreadable subfolder, try the next one
			continue
		}
		if subImages := imagesIn(subDir, subEntries); len(subImages) > 0 {
			return subImages, nil
		}
	}

	return nil, nil
}

// imagesIn collects the supported image files among a directory's entries.
func imagesIn(dir string, entries []os.DirEntry) []string {
	var images []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if models.IsImageFile(entry.Name()) {
			images = append(images, filepath.Join(dir, entry.Name()))
		}
	}
	return images
}

// EnumerateJobs lists the jobs beneath the source root. Every immediate
// subdirectory becomes one job, excluding the output folder and hidden
// directories. A root with no job subdirectories but images of its own
// becomes a single job covering the root itself.
func EnumerateJobs(root, outputFolder string) ([]models.Job, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read source root %s: %w", root, err)
	}

	var jobs []models.Job
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == outputFolder || strings.HasPrefix(name, ".") {
			continue
		}
		jobs = append(jobs, models.Job{
			ID:        common.NewJobID(),
			Name:      name,
			SourceDir: filepath.Join(root, name),
			OutputDir: filepath.Join(root, outputFolder, name),
			CreatedAt: time.Now(),
		})
	}

	if len(jobs) > 0 {
		return jobs, nil
	}

	// No job folders: treat the root itself as a single job when it holds
	// images directly.
	if images := imagesIn(root, entries); len(images) > 0 {
		jobs = append(jobs, models.Job{
			ID:        common.NewJobID(),
			Name:      filepath.Base(root),
			SourceDir: root,
			OutputDir: filepath.Join(root, outputFolder),
			CreatedAt: time.Now(),
		})
	}

	return jobs, nil
}
