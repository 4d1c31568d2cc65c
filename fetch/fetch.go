// Package fetch manages the on-disk cache for model files and semantic
// auxiliary data: platform cache-root resolution, idempotent HTTP downloads
// with atomic writes, and de-duplication of concurrent fetches of the same
// file.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultHTTPTimeout = 5 * time.Minute
	// maxDownloadSize bounds a single file download (the ONNX model is the
	// largest artifact).
	maxDownloadSize = 2 * 1024 * 1024 * 1024
)

// CacheRoot returns the per-user cache directory for the application:
// ~/Library/Caches/<app> on macOS, $XDG_CACHE_HOME/<app> (or ~/.cache/<app>)
// on Linux, %LOCALAPPDATA%/<app> on Windows.
func CacheRoot(app string) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Caches", app), nil
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, app), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, "AppData", "Local", app), nil
	default:
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, app), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, ".cache", app), nil
	}
}

// ModelDir returns the cache subdirectory for model files of the given mode.
func ModelDir(root, mode string) string {
	return filepath.Join(root, "models", mode)
}

// SemanticDataDir returns the cache subdirectory for auxiliary data files.
func SemanticDataDir(root string) string {
	return filepath.Join(root, "semantic-data")
}

// Client downloads files into the cache. Presence on disk makes downloads
// idempotent across processes; a singleflight group collapses concurrent
// downloads of the same path within a process.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	group      singleflight.Group
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a download client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureFile makes sure path exists, downloading it from url when missing.
// The download goes to a temp file first and is renamed into place, so a
// concurrent reader never observes a partial file.
func (c *Client) EnsureFile(ctx context.Context, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	_, err, _ := c.group.Do(path, func() (any, error) {
		// Re-check after winning the flight; a sibling may have finished.
		if _, err := os.Stat(path); err == nil {
			return nil, nil
		}
		return nil, c.download(ctx, url, path)
	})
	return err
}

func (c *Client) download(ctx context.Context, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	c.logger.Info("downloading", "url", url, "path", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxDownloadSize)); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into cache: %w", err)
	}
	return nil
}

// EnsureAll fetches every url->path pair, stopping on the first failure.
func (c *Client) EnsureAll(ctx context.Context, files map[string]string) error {
	for url, path := range files {
		if err := c.EnsureFile(ctx, url, path); err != nil {
			return err
		}
	}
	return nil
}
