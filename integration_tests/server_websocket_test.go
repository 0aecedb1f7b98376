//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/inliner"
	"github.com/conneroisu/inlinesvg/internal/server"
)

func startServer(t *testing.T, dir string) (*server.PreviewServer, string) {
	t.Helper()

	cfg := config.Default()
	cfg.Fetch.Root = dir
	cfg.Cache.RemoveRevisions = false
	cfg.Server.Host = "localhost"
	cfg.Server.Port = freePort(t)

	plugin, err := inliner.Install(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = plugin.Close() })

	srv, err := server.New(plugin, dir, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = srv.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	})

	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	readyCtx, readyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer readyCancel()
	_, err = WaitForServerReadiness(readyCtx, baseURL)
	require.NoError(t, err)

	return srv, baseURL
}

func TestServer_ServesInlinedPages(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, map[string]string{
		"index.html":       `<html><body><img v-svg-inline src="icons/star.svg"></body></html>`,
		"icons/star.svg":   starSVG,
		"blog/index.html":  `<html><body><img v-svg-inline-sprite src="icons/star.svg"></body></html>`,
		"styles/site.css":  `body { margin: 0 }`,
		"icons/circle.svg": circleSVG,
	})

	_, baseURL := startServer(t, dir)

	resp, err := http.Get(baseURL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "M12 2l3")
	assert.Contains(t, string(body), "/ws")
	assert.NotEmpty(t, resp.Header.Get("ETag"))
	assert.NotEmpty(t, resp.Header.Get(server.HeaderRequestID))

	resp, err = http.Get(baseURL + "/styles/site.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(baseURL + "/nope.html")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	health, err := checkServerHealth(http.DefaultClient, baseURL)
	require.NoError(t, err)
	assert.Equal(t, "inlinesvg:1", health.Cache.Generation)
	assert.Equal(t, 1, health.Cache.Entries)
	assert.True(t, health.Capabilities["fetch"])
}

func TestServer_ReloadsOnSVGChange(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, map[string]string{
		"index.html":     `<html><body><img v-svg-inline src="star.svg"></body></html>`,
		"star.svg":       starSVG,
		".hidden/x.html": `<html></html>`,
	})

	srv, baseURL := startServer(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + baseURL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{baseURL}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return srv.ClientCount() == 1 }, 5*time.Second, 20*time.Millisecond)

	// Prime the cache, then change the file behind it.
	resp, err := http.Get(baseURL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "star.svg"), []byte(circleSVG), 0o644))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg server.UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, server.MessageReload, msg.Type)
	assert.Equal(t, "star.svg", filepath.Base(msg.Target))

	resp, err = http.Get(baseURL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "<circle")
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	dir := t.TempDir()
	writeSite(t, dir, map[string]string{"index.html": `<html></html>`})

	_, baseURL := startServer(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+baseURL[len("http"):]+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://evil.example"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
