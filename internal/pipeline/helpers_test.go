package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/imago/internal/interfaces"
	"github.com/ternarybob/imago/internal/models"
)

// createTestLogger creates a logger for testing
func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

// writeFile creates a file with throwaway content, failing the test on error
func writeFile(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte("fake image data"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// listNames returns the sorted entry names of a directory
func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// stageCall records one ExecuteStage invocation
type stageCall struct {
	req  interfaces.StageRequest
	slot int
}

// fakeExecutor scripts stage behavior per stage kind and records calls.
// The scripted functions are responsible for creating any artifact files
// they claim to have downloaded, like the real executor would.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []stageCall
	convert  func(req interfaces.StageRequest) (models.StageResult, error)
	compress func(req interfaces.StageRequest) (models.StageResult, error)
}

func (f *fakeExecutor) ExecuteStage(ctx context.Context, slot int, req interfaces.StageRequest) (models.StageResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stageCall{req: req, slot: slot})
	f.mu.Unlock()

	switch req.Stage {
	case models.StageConvert:
		if f.convert != nil {
			return f.convert(req)
		}
	case models.StageCompress:
		if f.compress != nil {
			return f.compress(req)
		}
	}
	return models.StageResult{Kind: models.ArtifactNone}, nil
}

// callsFor returns the recorded calls for one stage kind
func (f *fakeExecutor) callsFor(stage models.StageKind) []stageCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []stageCall
	for _, call := range f.calls {
		if call.req.Stage == stage {
			out = append(out, call)
		}
	}
	return out
}

// fakeExpander simulates archive extraction by writing the configured
// file names into the destination directory.
type fakeExpander struct {
	mu    sync.Mutex
	files []string
	err   error
	calls int
}

func (f *fakeExpander) Expand(ctx context.Context, archivePath, destDir string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	var written []string
	for _, name := range f.files {
		path := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte("expanded"), 0644); err != nil {
			return nil, err
		}
		written = append(written, path)
	}
	return written, nil
}

// fastRetry keeps stage retries from slowing the suite down
func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 2, Backoff: 0}
}
