//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/inlinesvg/internal/fetch"
)

const (
	starSVG   = `<svg viewBox="0 0 24 24"><path d="M12 2l3 7h7l-6 4 2 7-6-4-6 4 2-7-6-4h7z"></path></svg>`
	circleSVG = `<svg viewBox="0 0 24 24"><circle cx="12" cy="12" r="10"></circle></svg>`
)

// writeSite creates files below dir, creating directories as needed.
func writeSite(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// countingFetcher records how many retrievals reach the wrapped fetcher.
type countingFetcher struct {
	next  fetch.Fetcher
	calls atomic.Int64
}

func (f *countingFetcher) Get(ctx context.Context, path string) (int, string, error) {
	f.calls.Add(1)
	return f.next.Get(ctx, path)
}

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// HealthResponse represents the structure of health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Cache   struct {
		Generation string `json:"generation"`
		Entries    int    `json:"entries"`
		Fetches    int64  `json:"fetches"`
	} `json:"cache"`
	Capabilities map[string]bool `json:"capabilities"`
}

// WaitForServerReadiness polls the health endpoint until the server reports
// healthy or ctx expires.
func WaitForServerReadiness(ctx context.Context, baseURL string) (*HealthResponse, error) {
	client := &http.Client{Timeout: time.Second}
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("server at %s not ready: %w", baseURL, ctx.Err())
		case <-ticker.C:
			health, err := checkServerHealth(client, baseURL)
			if err == nil {
				return health, nil
			}
		}
	}
}

func checkServerHealth(client *http.Client, baseURL string) (*HealthResponse, error) {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "healthy" {
		return nil, fmt.Errorf("server status is %s", health.Status)
	}
	return &health, nil
}
