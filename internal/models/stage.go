package models

import (
	"path/filepath"
	"strings"
)

// StageKind identifies a processing stage on the image tool site.
type StageKind string

const (
	StageConvert  StageKind = "convert"
	StageCompress StageKind = "compress"
)

// String returns the string representation of the StageKind
func (s StageKind) String() string {
	return string(s)
}

// ArtifactKind classifies what a stage produced after the download completes.
type ArtifactKind string

const (
	// ArtifactNone means the stage finished without yielding a usable file.
	ArtifactNone ArtifactKind = "none"
	// ArtifactFile is a single processed image.
	ArtifactFile ArtifactKind = "file"
	// ArtifactArchive is a zip bundle containing the processed images.
	ArtifactArchive ArtifactKind = "archive"
)

// StageResult is the outcome of one stage execution. Path is only
// meaningful when Kind is ArtifactFile or ArtifactArchive.
type StageResult struct {
	Kind ArtifactKind `json:"kind"`
	Path string       `json:"path,omitempty"`
}

// Output name prefixes distinguish intermediate conversion artifacts
// from final compression artifacts in the job output folder.
const (
	ConvertedPrefix  = "converted_"
	CompressedPrefix = "compressed_"
)

// StagePrefix returns the output name prefix for artifacts of the given stage.
func StagePrefix(kind StageKind) string {
	if kind == StageCompress {
		return CompressedPrefix
	}
	return ConvertedPrefix
}

// imageExtensions are the input formats the tool site accepts for upload.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
}

// IsImageFile reports whether the file name carries a supported image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// ImageExtensions returns the supported input extensions (lowercase, with dot).
func ImageExtensions() []string {
	exts := make([]string, 0, len(imageExtensions))
	for ext := range imageExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// ClassifyArtifact maps a downloaded file to its artifact kind by extension.
// Zip bundles are archives, supported image formats are single files, and
// anything else is treated as no usable output.
func ClassifyArtifact(path string) ArtifactKind {
	if path == "" {
		return ArtifactNone
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".zip" {
		return ArtifactArchive
	}
	if imageExtensions[ext] {
		return ArtifactFile
	}
	return ArtifactNone
}
