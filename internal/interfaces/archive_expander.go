package interfaces

import "context"

// ArchiveExpander unpacks a downloaded archive into a directory.
type ArchiveExpander interface {
	// Expand extracts the archive at archivePath into destDir and returns
	// the paths of the files it wrote. Entries that would escape destDir
	// are rejected.
	Expand(ctx context.Context, archivePath, destDir string) ([]string, error)
}
