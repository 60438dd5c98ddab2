package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/keepup-labs/keepup/internal/branding"
	"github.com/keepup-labs/keepup/internal/entries"
)

var (
	// ErrUnavailable indicates the source could not be reached or answered
	// with a definitive failure during resolution.
	ErrUnavailable = errors.New("source unavailable")

	// ErrAssetNotFound indicates no release asset matched the entry's
	// asset pattern.
	ErrAssetNotFound = errors.New("no matching release asset")
)

// Token prefixes distinguish where an identity token came from. Tokens are
// opaque to everything but string comparison; the prefix keeps a release tag
// from ever colliding with an ETag of the same spelling.
const (
	tokenTag         = "tag:"
	tokenETag        = "etag:"
	tokenLastMod     = "lastmod:"
	TokenFingerprint = "b3:"
)

// Resolved describes a concrete download decided by a resolver.
type Resolved struct {
	// URL is the direct download location for the payload.
	URL string
	// Token identifies the remote content for skip-if-unchanged checks.
	// Empty when the source offered no validators; the pipeline then
	// fingerprints the downloaded payload instead.
	Token string
	// AssetName is the filename the payload should be staged as.
	AssetName string
	// Size is the payload size in bytes when the source reports it, else 0.
	Size int64
}

// Resolver turns entry sources into Resolved downloads.
type Resolver struct {
	httpClient *http.Client
	apiBase    string
	token      string
	userAgent  string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = c
	}
}

// WithAPIBase overrides the GitHub API base URL (useful for testing).
func WithAPIBase(base string) Option {
	return func(r *Resolver) {
		r.apiBase = base
	}
}

// WithToken sets the token attached to GitHub API requests.
func WithToken(token string) Option {
	return func(r *Resolver) {
		r.token = token
	}
}

// WithUserAgent sets the User-Agent header on outgoing requests.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		r.userAgent = ua
	}
}

// New creates a Resolver with the given options.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    githubAPIBase,
		userAgent:  branding.UserAgent(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve dispatches on the source type.
func (r *Resolver) Resolve(ctx context.Context, src entries.Source) (*Resolved, error) {
	switch src.Type {
	case entries.SourceURL:
		return r.resolveURL(ctx, src)
	case entries.SourceGitHubRelease:
		return r.resolveGitHub(ctx, src)
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}
