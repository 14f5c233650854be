package imagestool

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/imago/internal/interfaces"
	"github.com/ternarybob/imago/internal/models"
	"github.com/ternarybob/imago/internal/services/browser"
)

func TestStageURL(t *testing.T) {
	executor := NewExecutor(nil, DefaultConfig())

	tests := []struct {
		name     string
		req      interfaces.StageRequest
		expected string
		wantErr  bool
	}{
		{
			name:     "convert webp",
			req:      interfaces.StageRequest{Stage: models.StageConvert, Format: "webp"},
			expected: "https://to.imagestool.com/to-webp",
		},
		{
			name:     "convert uppercase format",
			req:      interfaces.StageRequest{Stage: models.StageConvert, Format: "AVIF"},
			expected: "https://to.imagestool.com/to-avif",
		},
		{
			name:    "convert without format",
			req:     interfaces.StageRequest{Stage: models.StageConvert},
			wantErr: true,
		},
		{
			name:     "compress",
			req:      interfaces.StageRequest{Stage: models.StageCompress},
			expected: "https://imagestool.com/compress-image",
		},
		{
			name:    "unknown stage",
			req:     interfaces.StageRequest{Stage: models.StageKind("resize")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, err := executor.stageURL(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, url)
		})
	}
}

func TestNewExecutor_FillsDefaultEndpoints(t *testing.T) {
	executor := NewExecutor(nil, Config{ProcessingTimeout: time.Minute})

	assert.Equal(t, DefaultConvertBaseURL, executor.config.ConvertBaseURL)
	assert.Equal(t, DefaultCompressURL, executor.config.CompressURL)
}

func TestClaimDownload(t *testing.T) {
	dir := t.TempDir()
	executor := NewExecutor(nil, DefaultConfig())

	guid := "4f2a9b"
	require.NoError(t, os.WriteFile(filepath.Join(dir, guid), []byte("zip bytes"), 0644))

	req := interfaces.StageRequest{Stage: models.StageCompress, DownloadDir: dir}
	path, err := executor.claimDownload(req, downloadInfo{GUID: guid, SuggestedName: "images.zip"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "compressed_images.zip"), path)
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(dir, guid))
}

func TestClaimDownload_NoSuggestedName(t *testing.T) {
	dir := t.TempDir()
	executor := NewExecutor(nil, DefaultConfig())

	guid := "7c1d2e"
	require.NoError(t, os.WriteFile(filepath.Join(dir, guid), []byte("data"), 0644))

	req := interfaces.StageRequest{Stage: models.StageConvert, DownloadDir: dir}
	path, err := executor.claimDownload(req, downloadInfo{GUID: guid})
	require.NoError(t, err)

	// Without a suggested name the GUID carries through under the prefix
	assert.Equal(t, filepath.Join(dir, "converted_"+guid), path)
}

func TestExecuteStage_NoInputs(t *testing.T) {
	executor := NewExecutor(nil, DefaultConfig())

	_, err := executor.ExecuteStage(context.Background(), 0, interfaces.StageRequest{
		Stage:       models.StageCompress,
		DownloadDir: t.TempDir(),
	})
	assert.Error(t, err)
}

// skipIfNoChrome skips the test when no Chrome binary is available
func skipIfNoChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("Skipping test - Chrome/Chromium not found in PATH")
}

// toolPage mimics the tool site: a hidden upload input, then a
// download-all button once files arrive, whose click fetches the bundle.
const toolPage = `<!DOCTYPE html>
<html>
<body>
<input type="file" multiple style="display:none">
<script>
	const input = document.querySelector('input[type="file"]');
	const timer = setInterval(() => {
		if (input.files.length > 0) {
			clearInterval(timer);
			const btn = document.createElement('button');
			btn.className = 'download-all';
			btn.textContent = 'Download all';
			btn.addEventListener('click', () => { window.location.href = '/bundle.zip'; });
			document.body.appendChild(btn);
		}
	}, 100);
</script>
</body>
</html>`

// newFakeToolServer serves the tool page and a zip bundle download
func newFakeToolServer(t *testing.T) *httptest.Server {
	t.Helper()

	var bundle bytes.Buffer
	w := zip.NewWriter(&bundle)
	for _, name := range []string{"a.webp", "b.webp"} {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte("image data"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	mux := http.NewServeMux()
	mux.HandleFunc("/compress-image", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/html")
		rw.Write([]byte(toolPage))
	})
	mux.HandleFunc("/bundle.zip", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/zip")
		rw.Header().Set("Content-Disposition", `attachment; filename="images.zip"`)
		rw.Write(bundle.Bytes())
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestExecuteStage_AgainstLocalToolPage(t *testing.T) {
	skipIfNoChrome(t)

	server := newFakeToolServer(t)

	pool, err := browser.NewPool(browser.PoolConfig{Slots: 1, Headless: true}, arbor.NewLogger())
	require.NoError(t, err)
	defer pool.Shutdown()

	config := DefaultConfig()
	config.CompressURL = server.URL + "/compress-image"
	config.SettleTimeout = 15 * time.Second
	config.ProcessingTimeout = 30 * time.Second
	config.DownloadTimeout = 15 * time.Second

	executor := NewExecutor(pool, config, WithSubmitLimiter(rate.NewLimiter(rate.Inf, 1)))

	downloadDir := t.TempDir()
	sourceDir := t.TempDir()
	image := filepath.Join(sourceDir, "photo.png")
	require.NoError(t, os.WriteFile(image, []byte("png bytes"), 0644))

	result, err := executor.ExecuteStage(context.Background(), 0, interfaces.StageRequest{
		Stage:       models.StageCompress,
		Images:      []string{image},
		DownloadDir: downloadDir,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ArtifactArchive, result.Kind)
	assert.Equal(t, filepath.Join(downloadDir, "compressed_images.zip"), result.Path)
	assert.FileExists(t, result.Path)
}
