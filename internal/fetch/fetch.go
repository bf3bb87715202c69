// Package fetch retrieves raw structure files from the archive, trying the
// legacy format first and falling back to mmCIF, with incremental skips and
// atomic on-disk writes so batch runs are cheaply resumable.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/absplit-io/absplit/internal/pdb"
)

// ErrUnavailable is returned when the archive entry could not be retrieved
// in any supported format: missing entry, network failure, or timeout.
var ErrUnavailable = errors.New("archive entry unavailable")

// formatOrder is the retrieval preference: legacy format first, mmCIF fallback.
var formatOrder = [...]pdb.Format{pdb.FormatPDB, pdb.FormatCIF}

// Result describes a completed fetch: where the raw file lives, which format
// it is in, and whether the incremental short-circuit skipped the network.
type Result struct {
	Path    string
	Format  pdb.Format
	Skipped bool
}

// Client downloads raw structure files into a single directory. All workers
// of a batch share one Client; the rate limiter caps outgoing requests
// across them. Client has no mutable state beyond the limiter, so concurrent
// Fetch calls for distinct identifiers are safe.
type Client struct {
	baseURL string
	rawDir  string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClient creates a fetch client writing raw files under rawDir.
// ratePerSec <= 0 disables throttling.
func NewClient(baseURL, rawDir string, timeout time.Duration, ratePerSec int) *Client {
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}

	return &Client{
		baseURL: baseURL,
		rawDir:  rawDir,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
	}
}

// Fetch retrieves the raw file for an identifier. When incremental is true
// and a file already exists in either supported format, that file is
// returned without any network call. Otherwise formats are attempted in
// preference order; a failure in one format (non-2xx, network error, or
// timeout) falls through to the next. The file is written via a temporary
// sibling and renamed into place, so an interrupted download never leaves a
// partial file where a later incremental run would trust it.
func (c *Client) Fetch(ctx context.Context, id string, incremental bool) (*Result, error) {
	id = pdb.NormalizeID(id)

	if incremental {
		if res, ok := c.existing(id); ok {
			slog.Debug("Skipping fetch, raw file exists",
				slog.String("pdb_id", id),
				slog.String("path", res.Path))

			return res, nil
		}
	}

	var lastErr error

	for _, format := range formatOrder {
		data, err := c.download(ctx, c.baseURL+id+"."+format.Ext())
		if err != nil {
			lastErr = err

			slog.Debug("Fetch attempt failed",
				slog.String("pdb_id", id),
				slog.String("format", string(format)),
				slog.String("error", err.Error()))

			continue
		}

		path := c.rawPath(id, format)
		if err := writeAtomic(path, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		slog.Info("Fetched structure",
			slog.String("pdb_id", id),
			slog.String("format", string(format)))

		return &Result{Path: path, Format: format}, nil
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, id, lastErr)
}

// existing reports whether a raw file for the identifier is already on disk,
// checking formats in preference order.
func (c *Client) existing(id string) (*Result, bool) {
	for _, format := range formatOrder {
		path := c.rawPath(id, format)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return &Result{Path: path, Format: format, Skipped: true}, true
		}
	}

	return nil, false
}

func (c *Client) rawPath(id string, format pdb.Format) string {
	return filepath.Join(c.rawDir, id+"."+format.Ext())
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status code %d", res.StatusCode)
	}

	return io.ReadAll(res.Body)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return nil
}
