package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/conneroisu/inlinesvg/internal/validation"
)

// maxBodySize caps the size of a single SVG response.
const maxBodySize = 10 << 20

// Fetcher performs a single retrieval of the resource at path and reports
// the status in HTTP terms.
type Fetcher interface {
	Get(ctx context.Context, path string) (status int, body string, err error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, path string) (int, string, error)

// Get calls f.
func (f FetcherFunc) Get(ctx context.Context, path string) (int, string, error) {
	return f(ctx, path)
}

// HTTPFetcher retrieves SVG files over HTTP. Relative paths are resolved
// against the base URL.
type HTTPFetcher struct {
	client  *http.Client
	base    *url.URL
	limiter *rate.Limiter
}

// NewHTTPFetcher returns a fetcher using client, which defaults to
// http.DefaultClient. A nil limiter disables throttling.
func NewHTTPFetcher(client *http.Client, baseURL string, limiter *rate.Limiter) (*HTTPFetcher, error) {
	if client == nil {
		client = http.DefaultClient
	}

	f := &HTTPFetcher{client: client, limiter: limiter}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
		}
		f.base = base
	}
	return f, nil
}

// Get issues one GET request.
func (f *HTTPFetcher) Get(ctx context.Context, p string) (int, string, error) {
	target, err := url.Parse(p)
	if err != nil {
		return 0, "", fmt.Errorf("invalid url %q: %w", p, err)
	}
	if f.base != nil {
		target = f.base.ResolveReference(target)
	}
	if !target.IsAbs() {
		return 0, "", fmt.Errorf("relative url %q without base url", p)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return 0, "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Accept", "image/svg+xml, text/plain;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return resp.StatusCode, "", err
	}
	if err := checkBodySize(len(body)); err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(body), nil
}

func checkBodySize(n int) error {
	if n > maxBodySize {
		return fmt.Errorf("svg body exceeds %d bytes", maxBodySize)
	}
	return nil
}

// FileFetcher reads SVG files from a directory tree. Query strings and
// fragments are ignored; a missing file reports status 404.
type FileFetcher struct {
	fs   afero.Fs
	root string
}

// NewFileFetcher returns a fetcher serving files below root on fs.
func NewFileFetcher(fs afero.Fs, root string) *FileFetcher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileFetcher{fs: fs, root: root}
}

// Get reads the file named by p.
func (f *FileFetcher) Get(_ context.Context, p string) (int, string, error) {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}

	if err := validation.ValidateRelativePath(p); err != nil {
		return http.StatusForbidden, "", nil
	}

	clean := path.Clean("/" + p)
	data, err := afero.ReadFile(f.fs, filepath.Join(f.root, filepath.FromSlash(clean)))
	if err != nil {
		if os.IsNotExist(err) {
			return http.StatusNotFound, "", nil
		}
		return 0, "", err
	}
	if err := checkBodySize(len(data)); err != nil {
		return http.StatusOK, "", err
	}
	return http.StatusOK, string(data), nil
}
