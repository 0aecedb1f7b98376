package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/fetch"
	"github.com/conneroisu/inlinesvg/internal/inliner"
	"github.com/conneroisu/inlinesvg/internal/watcher"
)

const (
	iconSVG   = `<svg viewBox="0 0 10 10"><path d="M0 0h10"></path></svg>`
	indexHTML = `<!DOCTYPE html><html><head><title>t</title></head><body><img v-svg-inline src="icon.svg" class="icon"></body></html>`
)

func newTestServer(t *testing.T) (*PreviewServer, string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexHTML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "icon.svg"), []byte(iconSVG), 0o644))

	cfg := config.Default()
	cfg.Fetch.Root = dir
	cfg.Server.Port = 8080

	plugin, err := inliner.Install(context.Background(), cfg, nil,
		inliner.WithFetcher(fetch.NewFileFetcher(afero.NewOsFs(), dir)),
		inliner.WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = plugin.Close() })

	s, err := New(plugin, dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return s, dir
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew(t *testing.T) {
	s, dir := newTestServer(t)

	assert.Equal(t, dir, s.root)
	assert.NotNil(t, s.clients)
	assert.NotNil(t, s.broadcast)
	assert.NotNil(t, s.register)
	assert.NotNil(t, s.unregister)
	assert.NotNil(t, s.watcher)
	assert.Equal(t, "localhost:8080", s.Addr())
}

func TestNewRejectsMissingRoot(t *testing.T) {
	s, _ := newTestServer(t)

	_, err := New(s.plugin, filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(file, []byte(indexHTML), 0o644))
	_, err = New(s.plugin, file, nil)
	assert.Error(t, err)

	_, err = New(nil, t.TempDir(), nil)
	assert.Error(t, err)
}

func TestServePageInlinesSVG(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, `class="icon"`)
	assert.NotContains(t, body, "<img")
	assert.NotContains(t, body, "v-svg-inline")
	assert.Contains(t, body, `"/ws"`)
	assert.Less(t, strings.Index(body, "<script>"), strings.Index(body, "</body>"))

	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	_, err := uuid.Parse(rec.Header().Get(HeaderRequestID))
	assert.NoError(t, err)
}

func TestServePageKeepsRequestID(t *testing.T) {
	s, _ := newTestServer(t)
	id := uuid.NewString()

	rec := get(t, s.Handler(), "/index.html", http.Header{HeaderRequestID: {id}})
	assert.Equal(t, id, rec.Header().Get(HeaderRequestID))

	rec = get(t, s.Handler(), "/", http.Header{HeaderRequestID: {"not-a-uuid"}})
	assert.NotEqual(t, "not-a-uuid", rec.Header().Get(HeaderRequestID))
}

func TestServePageNotModified(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	first := get(t, h, "/", nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")

	second := get(t, h, "/", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())

	third := get(t, h, "/", http.Header{"If-None-Match": {`"stale"`}})
	assert.Equal(t, http.StatusOK, third.Code)
}

func TestServeStaticFile(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/icon.svg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, iconSVG, rec.Body.String())
}

func TestServeErrors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing.html", nil).Code)

	traversal := httptest.NewRecorder()
	s.handlePage(traversal, httptest.NewRequest(http.MethodGet, "/../../etc/passwd", nil))
	assert.Equal(t, http.StatusNotFound, traversal.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	get(t, h, "/", nil)
	rec := get(t, h, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])

	cache, ok := health["cache"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "inlinesvg:1", cache["generation"])
	assert.Equal(t, float64(1), cache["entries"])
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	get(t, h, "/", nil)
	rec := get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inlinesvg_")
}

func TestCheckOrigin(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"configured", "http://localhost:8080", "localhost:8080", true},
		{"loopback", "http://127.0.0.1:8080", "localhost:8080", true},
		{"same host", "https://preview.test:9000", "preview.test:9000", true},
		{"missing", "", "localhost:8080", false},
		{"other host", "http://evil.test", "localhost:8080", false},
		{"other port", "http://localhost:3001", "localhost:8080", false},
		{"bad scheme", "file://localhost:8080", "localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(req))
		})
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebSocketReload(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runWebSocketHub(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": {ts.URL}},
	})
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Reload("index.html")

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	require.NoError(t, err)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageReload, msg.Type)
	assert.Equal(t, "index.html", msg.Target)
}

func TestHandleFileChangeResetsCache(t *testing.T) {
	s, dir := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.runWebSocketHub(ctx)

	get(t, s.Handler(), "/", nil)
	require.Equal(t, 1, s.plugin.Cache().Stats().Entries)

	require.NoError(t, s.handleFileChange(ctx, []watcher.ChangeEvent{
		{Type: watcher.EventTypeModified, Path: filepath.Join(dir, "index.html")},
	}))
	assert.Equal(t, 1, s.plugin.Cache().Stats().Entries)

	require.NoError(t, s.handleFileChange(ctx, []watcher.ChangeEvent{
		{Type: watcher.EventTypeModified, Path: filepath.Join(dir, "icon.svg")},
	}))
	assert.Equal(t, 0, s.plugin.Cache().Stats().Entries)

	updated := `<svg viewBox="0 0 20 20"><circle r="5"></circle></svg>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "icon.svg"), []byte(updated), 0o644))
	rec := get(t, s.Handler(), "/", nil)
	assert.Contains(t, rec.Body.String(), "<circle")
}

func TestShutdownIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)

	assert.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, s.Shutdown(context.Background()))

	// Broadcasting after shutdown must not block.
	done := make(chan struct{})
	go func() {
		s.Reload("index.html")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reload blocked after shutdown")
	}
}

func TestInjectReloadScript(t *testing.T) {
	ctx := context.Background()

	out, err := injectReloadScript(ctx, []byte("<html><body><p>x</p></BODY></html>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<html><body><p>x</p><script>"))
	assert.True(t, strings.HasSuffix(string(out), "</script></BODY></html>"))

	out, err = injectReloadScript(ctx, []byte("<p>fragment</p>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<p>fragment</p><script>"))

	var b strings.Builder
	require.NoError(t, ReloadScript(ReloadPath).Render(ctx, &b))
	assert.Contains(t, b.String(), `("/ws", "full_reload");`)
}

func TestReloadScriptEncodesEndpoint(t *testing.T) {
	var b strings.Builder
	require.NoError(t, ReloadScript(`/ws"</script><script>alert(1)//`).Render(context.Background(), &b))

	out := b.String()
	assert.Equal(t, 1, strings.Count(out, "</script>"))
	assert.Contains(t, out, `"/ws\"\u003c/script\u003e\u003cscript\u003ealert(1)//"`)
}

func TestETagMatches(t *testing.T) {
	etag := pageETag([]byte("page"))
	assert.Equal(t, etag, pageETag([]byte("page")))
	assert.NotEqual(t, etag, pageETag([]byte("other")))

	assert.True(t, etagMatches(etag, etag))
	assert.True(t, etagMatches(`"a", `+etag, etag))
	assert.True(t, etagMatches("W/"+etag, etag))
	assert.True(t, etagMatches("*", etag))
	assert.False(t, etagMatches("", etag))
}
