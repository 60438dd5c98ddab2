package fetch

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/zeebo/blake3"

	"github.com/keepup-labs/keepup/internal/branding"
	"github.com/keepup-labs/keepup/internal/digest"
)

// ErrSourceUnavailable indicates the payload could not be retrieved: the
// server answered with a failure status or never answered at all.
var ErrSourceUnavailable = errors.New("source unavailable")

const (
	defaultMaxRetries      = 3 // 4 attempts total
	defaultInitialInterval = 500 * time.Millisecond

	// checksumFileLimit caps how much of a published digest file is read.
	checksumFileLimit = 1 << 20
)

// Staged describes a payload downloaded into the staging area.
type Staged struct {
	Path string
	Size int64
	MD5  string // lowercase hex
	B3   string // lowercase hex BLAKE3, used as a content identity token
}

// Fetcher downloads payloads with retry into a staging root.
type Fetcher struct {
	httpClient      *http.Client
	stagingRoot     string
	userAgent       string
	maxRetries      uint64
	initialInterval time.Duration
	logger          *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithStagingRoot sets the directory downloads are staged under.
func WithStagingRoot(dir string) Option {
	return func(f *Fetcher) {
		f.stagingRoot = dir
	}
}

// WithRetryPolicy overrides the retry count and initial backoff interval.
func WithRetryPolicy(retries uint64, initial time.Duration) Option {
	return func(f *Fetcher) {
		f.maxRetries = retries
		f.initialInterval = initial
	}
}

// WithLogger sets the logger for retry notifications.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New creates a Fetcher with the given options.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient:      &http.Client{Timeout: 10 * time.Minute},
		stagingRoot:     filepath.Join(os.TempDir(), branding.CLIName()),
		userAgent:       branding.UserAgent(),
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		logger:          log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Download retrieves rawURL into the entry's staging directory under
// assetName, retrying transient failures. The digests in the returned Staged
// are computed from the bytes as they stream in.
func (f *Fetcher) Download(ctx context.Context, rawURL, entryName, assetName string) (*Staged, error) {
	dir := filepath.Join(f.stagingRoot, entryName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	destPath := filepath.Join(dir, assetName)

	var staged *Staged
	op := func() error {
		s, err := f.downloadOnce(ctx, rawURL, destPath)
		if err != nil {
			return err
		}
		staged = s
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("retrying download", "url", rawURL, "wait", wait, "err", err)
	}

	if err := backoff.RetryNotify(op, f.policy(ctx), notify); err != nil {
		if errors.Is(err, ErrSourceUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return staged, nil
}

// FetchChecksum retrieves a published digest file and extracts the MD5
// expected for assetName.
func (f *Fetcher) FetchChecksum(ctx context.Context, rawURL, assetName string) (string, error) {
	var body []byte
	op := func() error {
		b, err := f.getOnce(ctx, rawURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("retrying checksum fetch", "url", rawURL, "wait", wait, "err", err)
	}

	if err := backoff.RetryNotify(op, f.policy(ctx), notify); err != nil {
		if errors.Is(err, ErrSourceUnavailable) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	hash, err := digest.ParseChecksumFile(bytes.NewReader(body), assetName)
	if err != nil {
		return "", fmt.Errorf("parsing checksum file %s: %w", rawURL, err)
	}
	return hash, nil
}

// Cleanup removes an entry's staging directory and everything in it.
func (f *Fetcher) Cleanup(entryName string) error {
	return os.RemoveAll(filepath.Join(f.stagingRoot, entryName))
}

// policy builds the per-call backoff policy, bounded by ctx.
func (f *Fetcher) policy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initialInterval
	bo.MaxElapsedTime = 0 // retry count is the only bound
	return backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx)
}

// downloadOnce performs a single download attempt, streaming the body into
// destPath and both digest functions at once. Partial files are removed.
func (f *Fetcher) downloadOnce(ctx context.Context, rawURL, destPath string) (*Staged, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating staging file: %w", err))
	}

	md5h := md5.New()
	b3h := blake3.New()
	written, err := io.Copy(io.MultiWriter(out, md5h, b3h), resp.Body)
	if err != nil {
		out.Close()
		os.Remove(destPath)
		return nil, fmt.Errorf("reading download stream: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return nil, backoff.Permanent(fmt.Errorf("closing staging file: %w", err))
	}

	return &Staged{
		Path: destPath,
		Size: written,
		MD5:  hex.EncodeToString(md5h.Sum(nil)),
		B3:   hex.EncodeToString(b3h.Sum(nil)),
	}, nil
}

// getOnce performs a single GET attempt and returns the body, capped at
// checksumFileLimit.
func (f *Fetcher) getOnce(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, checksumFileLimit))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}

// get issues the request and classifies failure statuses: retryable ones
// return plain errors, the rest are marked permanent so backoff stops.
func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating download request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", rawURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := fmt.Errorf("%w: %s returned status %d", ErrSourceUnavailable, rawURL, resp.StatusCode)
		if !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return resp, nil
}

// retryableStatus reports whether a failure status is worth another attempt.
func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
