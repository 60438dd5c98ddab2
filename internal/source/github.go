package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/keepup-labs/keepup/internal/entries"
)

const githubAPIBase = "https://api.github.com"

// Release represents a GitHub release.
type Release struct {
	TagName    string    `json:"tag_name"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	Assets     []Asset   `json:"assets"`
	Published  time.Time `json:"published_at"`
}

// Asset represents a downloadable file attached to a release.
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

func (r *Resolver) resolveGitHub(ctx context.Context, src entries.Source) (*Resolved, error) {
	var (
		release *Release
		err     error
	)
	if src.IncludePrerelease {
		release, err = r.newestRelease(ctx, src.Repo)
	} else {
		release, err = r.latestRelease(ctx, src.Repo)
	}
	if err != nil {
		return nil, err
	}

	asset, err := matchAsset(release.Assets, src.AssetPattern, src.AssetSelect)
	if err != nil {
		return nil, fmt.Errorf("release %s of %s: %w", release.TagName, src.Repo, err)
	}

	return &Resolved{
		URL:       asset.DownloadURL,
		Token:     tokenTag + release.TagName,
		AssetName: asset.Name,
		Size:      asset.Size,
	}, nil
}

// latestRelease fetches /releases/latest, which GitHub restricts to the
// newest non-prerelease, non-draft release.
func (r *Resolver) latestRelease(ctx context.Context, repo string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", r.apiBase, repo)

	var release Release
	if err := r.getJSON(ctx, url, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

// newestRelease lists releases and picks the highest semver tag, prereleases
// included. Tags that do not parse as semver are skipped; when none parse,
// the first listed release (newest by publication) wins.
func (r *Resolver) newestRelease(ctx context.Context, repo string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=100", r.apiBase, repo)

	var releases []Release
	if err := r.getJSON(ctx, url, &releases); err != nil {
		return nil, err
	}

	var (
		best    *Release
		bestVer *semver.Version
	)
	for i := range releases {
		rel := &releases[i]
		if rel.Draft {
			continue
		}
		v, err := semver.NewVersion(strings.TrimPrefix(rel.TagName, "v"))
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = rel, v
		}
	}
	if best != nil {
		return best, nil
	}

	for i := range releases {
		if !releases[i].Draft {
			return &releases[i], nil
		}
	}
	return nil, fmt.Errorf("%w: repository %s has no releases", ErrUnavailable, repo)
}

// getJSON performs an authenticated GET against the GitHub API and decodes
// the response body into out.
func (r *Resolver) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", r.userAgent)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s returned 404", ErrUnavailable, url)
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return fmt.Errorf("%w: GitHub API rate limit exceeded, set a token for higher limits", ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: GitHub API returned status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing release JSON: %w", err)
	}
	return nil
}

// matchAsset finds the release asset matching pattern, breaking multi-match
// ties per select mode.
func matchAsset(assets []Asset, pattern, selectMode string) (*Asset, error) {
	var matched []*Asset
	for i := range assets {
		ok, err := assetMatches(assets[i].Name, pattern)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, &assets[i])
		}
	}

	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: pattern %q matched none of %d assets", ErrAssetNotFound, pattern, len(assets))
	case 1:
		return matched[0], nil
	}

	switch selectMode {
	case entries.SelectAlphabetical:
		sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
		return matched[0], nil
	case entries.SelectLargest:
		largest := matched[0]
		for _, a := range matched[1:] {
			if a.Size > largest.Size {
				largest = a
			}
		}
		return largest, nil
	default:
		// "first": the API's own ordering.
		return matched[0], nil
	}
}

// assetMatches tests name against pattern, exact or glob.
func assetMatches(name, pattern string) (bool, error) {
	if name == pattern {
		return true, nil
	}
	ok, err := path.Match(pattern, name)
	if err != nil {
		return false, fmt.Errorf("invalid asset pattern %q: %w", pattern, err)
	}
	return ok, nil
}
