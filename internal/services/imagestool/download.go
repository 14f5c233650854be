package imagestool

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// downloadInfo describes one browser download as reported by CDP events.
// The file sits in the download directory under its GUID until the
// executor renames it.
type downloadInfo struct {
	GUID          string
	SuggestedName string
	URL           string
}

// downloadCapture collects the download events of one stage. Each browser
// instance belongs to exactly one slot and a slot runs one stage at a
// time, so at most one download is ever in flight per capture.
type downloadCapture struct {
	begin chan downloadInfo
	done  chan string
	fail  chan string
}

// listenForDownloads subscribes to the browser's download events for the
// given tab. Must be called before the download is triggered or the
// begin event can be missed.
func listenForDownloads(tabCtx context.Context) *downloadCapture {
	c := &downloadCapture{
		begin: make(chan downloadInfo, 1),
		done:  make(chan string, 1),
		fail:  make(chan string, 1),
	}

	chromedp.ListenBrowser(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			info := downloadInfo{
				GUID:          e.GUID,
				SuggestedName: e.SuggestedFilename,
				URL:           e.URL,
			}
			select {
			case c.begin <- info:
			default:
			}

		case *browser.EventDownloadProgress:
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				select {
				case c.done <- e.GUID:
				default:
				}
			case browser.DownloadProgressStateCanceled:
				select {
				case c.fail <- e.GUID:
				default:
				}
			}
		}
	})

	return c
}

// wait blocks until the stage's download finishes, the timeout passes, or
// the tab context dies.
func (c *downloadCapture) wait(ctx context.Context, timeout time.Duration) (downloadInfo, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var info downloadInfo
	started := false

	for {
		select {
		case info = <-c.begin:
			started = true

		case guid := <-c.done:
			if !started {
				// Completion can slip in before the begin event is drained
				select {
				case info = <-c.begin:
					started = true
				default:
					info = downloadInfo{GUID: guid}
				}
			}
			return info, nil

		case <-c.fail:
			return info, fmt.Errorf("download was canceled by the browser")

		case <-deadline.C:
			if started {
				return info, fmt.Errorf("download did not complete within %s", timeout)
			}
			return info, fmt.Errorf("download did not start within %s", timeout)

		case <-ctx.Done():
			return info, ctx.Err()
		}
	}
}

// allowDownloads configures the browser to accept downloads into dir and
// to emit the progress events the capture relies on.
func allowDownloads(dir string) chromedp.Action {
	return browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
		WithDownloadPath(dir).
		WithEventsEnabled(true)
}

// triggerDownloadScript clicks whatever download control the tool page
// offers: the download-all button when present (by class, then by its
// Chinese label), falling back to the first per-file download button.
// Evaluates to "all", "single", or "none".
const triggerDownloadScript = `
(function() {
	const all = document.querySelector('.download-all, [class*="downloadAll"]');
	if (all) {
		all.click();
		return 'all';
	}
	const labelled = Array.from(document.querySelectorAll('button'))
		.find(b => b.textContent.includes('全部下载'));
	if (labelled) {
		labelled.click();
		return 'all';
	}
	const single = document.querySelector('.download-btn, [class*="download"]:not([class*="all"])');
	if (single) {
		single.click();
		return 'single';
	}
	return 'none';
})()
`
