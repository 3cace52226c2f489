package catalog

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/goccy/go-json"

	"github.com/vrpsync/vrpsync/internal/safety"
)

// maxManifestSize bounds the manifest body; the real document is a few hundred bytes.
const maxManifestSize = 1 << 20

// Manifest is the decoded public manifest: where releases are downloaded from
// and the secret that unlocks their archives.
type Manifest struct {
	BaseURI  string
	Password string
}

type rawManifest struct {
	BaseURI  string `json:"baseUri"`
	Password string `json:"password"`
}

// ManifestFetcher retrieves the manifest over HTTP, falling back to a cached
// copy on disk when the upstream cannot be reached.
type ManifestFetcher struct {
	client    *http.Client
	url       string
	cachePath string
	logger    *slog.Logger
}

// NewManifestFetcher creates a fetcher. cachePath may be empty to disable the fallback.
func NewManifestFetcher(client *http.Client, url, cachePath string, logger *slog.Logger) *ManifestFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestFetcher{
		client:    client,
		url:       url,
		cachePath: cachePath,
		logger:    logger,
	}
}

// Fetch returns the current manifest. A successful download refreshes the
// cache; a failed one is retried against the cache before giving up with a
// *CatalogError.
func (f *ManifestFetcher) Fetch(ctx context.Context) (*Manifest, error) {
	data, fetchErr := f.download(ctx)
	if fetchErr == nil {
		m, err := DecodeManifest(data)
		if err == nil {
			f.refreshCache(data)
			return m, nil
		}
		fetchErr = err
	}

	f.logger.Warn("manifest download failed, trying cached copy", "url", f.url, "cache", f.cachePath, "error", fetchErr)

	if f.cachePath == "" {
		return nil, &CatalogError{Op: "load manifest", Err: fetchErr}
	}
	data, err := os.ReadFile(f.cachePath)
	if err != nil {
		return nil, &CatalogError{Op: "load manifest", Err: fmt.Errorf("%w (no usable cache: %v)", fetchErr, err)}
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, &CatalogError{Op: "load cached manifest", Err: err}
	}
	return m, nil
}

func (f *ManifestFetcher) download(ctx context.Context) ([]byte, error) {
	u, err := safety.ValidateHTTPURL(f.url)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "vrpsync/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error %d: %s", resp.StatusCode, resp.Status)
	}

	return safety.ReadAllWithLimit(resp.Body, maxManifestSize)
}

func (f *ManifestFetcher) refreshCache(data []byte) {
	if f.cachePath == "" {
		return
	}
	if err := os.WriteFile(f.cachePath, data, 0644); err != nil {
		f.logger.Warn("failed to refresh manifest cache", "cache", f.cachePath, "error", err)
	}
}

// DecodeManifest parses the manifest JSON and decodes its base64 password.
func DecodeManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if raw.BaseURI == "" {
		return nil, fmt.Errorf("manifest has no baseUri")
	}
	password, err := base64.StdEncoding.DecodeString(raw.Password)
	if err != nil {
		return nil, fmt.Errorf("decoding manifest password: %w", err)
	}
	return &Manifest{
		BaseURI:  raw.BaseURI,
		Password: string(password),
	}, nil
}
