package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/keepup-labs/keepup/internal/entries"
)

func (r *Resolver) resolveURL(ctx context.Context, src entries.Source) (*Resolved, error) {
	name, err := assetNameFromURL(src.URL)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		URL:       src.URL,
		AssetName: name,
	}

	// Probe for HTTP validators. A server that rejects HEAD or offers no
	// validators is not an error; the payload gets fingerprinted after
	// download instead.
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating probe request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return resolved, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrUnavailable, src.URL, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resolved, nil
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		resolved.Token = tokenETag + etag
	} else if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		resolved.Token = tokenLastMod + lastMod
	}
	if resp.ContentLength > 0 {
		resolved.Size = resp.ContentLength
	}

	return resolved, nil
}

// assetNameFromURL derives a staging filename from the URL path.
func assetNameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing source url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download", nil
	}
	return name, nil
}
