package execengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/filehash"
)

// scratchNameHint turns a download URL into a short, filesystem-safe
// fragment for the scratch file's name, so an in-progress download is
// identifiable on disk (e.g. during a `ls` of the cache dir) without
// leaking any query-string signature/token into the filename.
func scratchNameHint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	hint := common.URLToFilePath(u.Scheme + "://" + u.Host + u.Path)
	const maxLen = 64
	if len(hint) > maxLen {
		hint = hint[:maxLen]
	}
	return hint
}

// progressCounter tracks bytes written so far, generalized from the
// teacher's network.WriteCounter (an io.Writer wrapping a running byte
// total for progress display).
type progressCounter struct {
	total uint64
	log   *common.ContextLogger
}

func (c *progressCounter) Write(p []byte) (int, error) {
	n := len(p)
	c.total += uint64(n)
	return n, nil
}

// RunDownload fetches payload.URL to a scratch file, verifies its digest
// against ExpectedHash, and publishes it into the cache. Grounded on the
// deleted network/downloader.go's temp-file-then-rename discipline,
// generalized to verify a pinned digest instead of trusting the server.
func RunDownload(ctx context.Context, c *cache.Cache, payload *action.DownloadPayload) (filehash.Hash, error) {
	log := common.NewContextLogger(common.Logger, map[string]interface{}{"component": "execengine.download", "url": payload.URL})

	tmp, err := os.CreateTemp(c.Dir, "download-"+scratchNameHint(payload.URL)+"-*")
	if err != nil {
		return filehash.Hash{}, fmt.Errorf("execengine: creating scratch file: %w", err)
	}
	scratchPath := tmp.Name()
	defer os.Remove(scratchPath) // no-op once MoveInto has renamed it away

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		tmp.Close()
		return filehash.Hash{}, fmt.Errorf("execengine: building request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		tmp.Close()
		return filehash.Hash{}, fmt.Errorf("execengine: fetching %s: %w", payload.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tmp.Close()
		return filehash.Hash{}, fmt.Errorf("execengine: %s: unexpected status %d", payload.URL, resp.StatusCode)
	}

	counter := &progressCounter{log: log}
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, counter)); err != nil {
		tmp.Close()
		return filehash.Hash{}, fmt.Errorf("execengine: downloading %s: %w", payload.URL, err)
	}
	if err := tmp.Close(); err != nil {
		return filehash.Hash{}, err
	}

	actual, err := cache.HashFile(scratchPath)
	if err != nil {
		return filehash.Hash{}, err
	}
	if !payload.ExpectedHash.Zero() && !actual.Equal(payload.ExpectedHash) {
		return filehash.Hash{}, fmt.Errorf("execengine: %s: digest mismatch: got %s, want %s", payload.URL, actual, payload.ExpectedHash)
	}

	if _, err := c.MoveInto(scratchPath, actual, payload.Executable); err != nil {
		return filehash.Hash{}, err
	}

	log.WithField("bytes", humanize.Bytes(counter.total)).Info("download complete")
	return actual, nil
}
