package models

import (
	"testing"
)

func TestClassifyArtifact(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected ArtifactKind
	}{
		{name: "zip archive", path: "/tmp/downloads/images.zip", expected: ArtifactArchive},
		{name: "zip archive uppercase", path: "/tmp/downloads/IMAGES.ZIP", expected: ArtifactArchive},
		{name: "png image", path: "/tmp/downloads/photo.png", expected: ArtifactFile},
		{name: "webp image", path: "photo.webp", expected: ArtifactFile},
		{name: "jpeg image", path: "scan.JPEG", expected: ArtifactFile},
		{name: "unknown extension", path: "notes.txt", expected: ArtifactNone},
		{name: "no extension", path: "download", expected: ArtifactNone},
		{name: "empty path", path: "", expected: ArtifactNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyArtifact(tt.path)
			if got != tt.expected {
				t.Errorf("ClassifyArtifact(%q) = %v, want %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		expected bool
	}{
		{name: "png", file: "a.png", expected: true},
		{name: "jpg", file: "b.jpg", expected: true},
		{name: "jpeg", file: "c.jpeg", expected: true},
		{name: "webp", file: "d.webp", expected: true},
		{name: "gif", file: "e.gif", expected: true},
		{name: "bmp", file: "f.bmp", expected: true},
		{name: "tiff", file: "g.tiff", expected: true},
		{name: "mixed case", file: "H.PnG", expected: true},
		{name: "zip is not an image", file: "bundle.zip", expected: false},
		{name: "text file", file: "readme.txt", expected: false},
		{name: "hidden file without extension", file: ".DS_Store", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsImageFile(tt.file); got != tt.expected {
				t.Errorf("IsImageFile(%q) = %v, want %v", tt.file, got, tt.expected)
			}
		})
	}
}

func TestStagePrefix(t *testing.T) {
	if got := StagePrefix(StageConvert); got != ConvertedPrefix {
		t.Errorf("StagePrefix(StageConvert) = %q, want %q", got, ConvertedPrefix)
	}
	if got := StagePrefix(StageCompress); got != CompressedPrefix {
		t.Errorf("StagePrefix(StageCompress) = %q, want %q", got, CompressedPrefix)
	}
}

func TestPipelineStateTerminal(t *testing.T) {
	terminal := []PipelineState{StateDone, StateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []PipelineState{StateDiscovering, StateConverting, StateDisambiguating, StateCompressing, StateNormalizing}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
