package schedule

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "f1sync/internal/log"
)

const (
	defaultCacheDir = "./var/schedule-cache"

	metaFile = "meta.json"
	bodyFile = "body"
)

// FetchResult is the outcome of one remote schedule fetch.
type FetchResult struct {
	URL         string
	Body        []byte
	ContentType string
	// FromCache is true when the body came from disk (304, network error or
	// non-OK status with a cached copy).
	FromCache bool
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads schedule documents with conditional requests and keeps
// the last good body on disk, one directory per URL.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir. A nil client gets a
// 15 second timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Fetch retrieves rawURL, honoring ETag and Last-Modified. When the server
// is unreachable or answers with an error the cached body is served instead,
// if there is one.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("schedule url is empty")
	}

	dir := f.cacheDirFor(rawURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, err
	}
	meta, _ := readMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, bodyFile))
	fromCache := FetchResult{URL: rawURL, Body: cached, ContentType: meta.ContentType, FromCache: true}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	log := redactURL(rawURL)
	appLog.Debug("schedule fetch start", "url", log)

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("schedule fetch failed, using cached body", err, "url", log)
			return fromCache, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		next := cacheMeta{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			ContentType:  resp.Header.Get("Content-Type"),
		}
		if err := writeCache(dir, next, body); err != nil {
			appLog.Error("schedule cache save failed", err, "url", log)
		}
		appLog.Info("schedule fetched", "url", log, "bytes", len(body))
		return FetchResult{URL: rawURL, Body: body, ContentType: next.ContentType}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("schedule not modified", "url", log)
		return fromCache, nil

	default:
		if len(cached) > 0 {
			appLog.Error("schedule fetch non-OK, using cached body", errors.New(resp.Status), "url", log)
			return fromCache, nil
		}
		return FetchResult{}, fmt.Errorf("GET %s: %s", log, resp.Status)
	}
}

func (f *Fetcher) cacheDirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func readMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheMeta{}, err
	}
	return meta, nil
}

// writeCache stores the body before the metadata so meta never points at a
// missing body.
func writeCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, bodyFile), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, metaFile), data, 0o600)
}

// redactURL keeps scheme and host only; schedule URLs may carry tokens.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
