// Package server serves a directory of HTML pages with their SVG images
// inlined on the fly, and reloads connected browsers when a page or an SVG
// file changes.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/conneroisu/inlinesvg/internal/config"
	"github.com/conneroisu/inlinesvg/internal/errors"
	"github.com/conneroisu/inlinesvg/internal/inliner"
	"github.com/conneroisu/inlinesvg/internal/logging"
	"github.com/conneroisu/inlinesvg/internal/version"
	"github.com/conneroisu/inlinesvg/internal/watcher"
)

// HeaderRequestID carries the request id on requests and responses.
const HeaderRequestID = "X-Request-ID"

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *PreviewServer
}

// PreviewServer serves inlined pages with live reload
type PreviewServer struct {
	config  *config.Config
	plugin  *inliner.Plugin
	root    string
	logger  logging.Logger
	watcher *watcher.FileWatcher

	httpServer  *http.Server
	serverMutex sync.RWMutex

	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn

	done         chan struct{}
	shutdownOnce sync.Once
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageReload asks the browser to reload the page.
const MessageReload = "full_reload"

// ReloadPath is the websocket endpoint the reload client connects to.
const ReloadPath = "/ws"

// New creates a preview server for the pages below root.
func New(plugin *inliner.Plugin, root string, logger logging.Logger) (*PreviewServer, error) {
	if plugin == nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "missing inliner", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.WrapConfig(err, "invalid page root")
	}
	if !info.IsDir() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, fmt.Sprintf("page root %s is not a directory", root))
	}

	fileWatcher, err := watcher.NewFileWatcher(300*time.Millisecond, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &PreviewServer{
		config:     plugin.Config(),
		plugin:     plugin,
		root:       root,
		logger:     logger,
		watcher:    fileWatcher,
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}, nil
}

// Handler returns the routes of the server wrapped in its middleware.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ReloadPath, s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.plugin.Metrics().Handler())
	mux.HandleFunc("/", s.handlePage)
	return s.addMiddleware(mux)
}

// Addr returns the configured listen address.
func (s *PreviewServer) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// Start watches the page root and serves until Shutdown is called.
func (s *PreviewServer) Start(ctx context.Context) error {
	s.setupFileWatcher(ctx)

	go s.runWebSocketHub(ctx)

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Serving pages", "addr", server.Addr, "root", s.root)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *PreviewServer) setupFileWatcher(ctx context.Context) {
	s.watcher.AddFilter(watcher.AnyFilter(watcher.HTMLFilter, watcher.SVGFilter))
	s.watcher.AddFilter(watcher.NoHiddenFilter)
	s.watcher.AddHandler(s.handleFileChange)

	paths := []string{s.root}
	if svgRoot := s.config.Fetch.Root; s.config.Fetch.BaseURL == "" && svgRoot != "" && filepath.Clean(svgRoot) != filepath.Clean(s.root) {
		paths = append(paths, svgRoot)
	}
	for _, p := range paths {
		if err := s.watcher.AddRecursive(p); err != nil {
			s.logger.Warn(ctx, err, "Failed to watch path", "path", p)
		}
	}

	if err := s.watcher.Start(ctx); err != nil {
		s.logger.Warn(ctx, err, "Failed to start file watcher")
	}
}

// handleFileChange drops cached SVG files when one of them changed and asks
// every browser to reload.
func (s *PreviewServer) handleFileChange(ctx context.Context, events []watcher.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		s.logger.Debug(ctx, "File changed", "path", event.Path, "type", event.Type.String())
		if watcher.SVGFilter(event.Path) {
			s.plugin.Cache().Reset()
			break
		}
	}

	s.Reload(events[0].Path)
	return nil
}

// Reload tells every connected browser to reload.
func (s *PreviewServer) Reload(target string) {
	s.broadcastMessage(UpdateMessage{
		Type:      MessageReload,
		Target:    target,
		Timestamp: time.Now().UTC(),
	})
}

func (s *PreviewServer) broadcastMessage(msg UpdateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to marshal message")
		data = []byte(`{"type":"full_reload"}`)
	}

	select {
	case s.broadcast <- data:
	case <-s.done:
	}
}

func (s *PreviewServer) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler.ServeHTTP(rec, r)

		s.logger.With("request_id", requestID).Debug(r.Context(), "Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// statusRecorder remembers the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.plugin.Cache().Stats()
	capabilities := s.plugin.Capabilities()
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.GetShortVersion(),
		"root":      s.root,
		"clients":   s.ClientCount(),
		"cache": map[string]interface{}{
			"generation": s.plugin.Cache().Key(),
			"entries":    stats.Entries,
			"hits":       stats.Hits,
			"misses":     stats.Misses,
			"fetches":    stats.Fetches,
		},
		"capabilities": map[string]bool{
			"fetch":    capabilities.Fetch,
			"observer": capabilities.Observer,
			"storage":  capabilities.Storage,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode health response")
	}
}

func (s *PreviewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
	}
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if !watcher.HTMLFilter(name) {
		http.ServeFile(w, r, name)
		return
	}
	s.renderPage(w, r, name)
}

func (s *PreviewServer) renderPage(w http.ResponseWriter, r *http.Request, name string) {
	ctx := r.Context()

	f, err := os.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	report, err := s.plugin.Render(ctx, f, &buf)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to render page", "page", name)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	s.logger.Debug(ctx, "Rendered page",
		"page", name,
		"processed", len(report.Processed),
		"pending", len(report.Pending),
		"failed", len(report.Failed))

	body, err := injectReloadScript(ctx, buf.Bytes())
	if err != nil {
		s.logger.Error(ctx, err, "Failed to inject reload script", "page", name)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}

	etag := pageETag(body)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		s.logger.Debug(ctx, "Failed to write page", "page", name, "error", err)
	}
}

func pageETag(body []byte) string {
	sum := blake3.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// ClientCount returns the number of connected browsers.
func (s *PreviewServer) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

// Shutdown stops the watcher, disconnects every browser and stops the HTTP
// server. It is safe to call more than once.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		close(s.done)

		if err := s.watcher.Stop(); err != nil {
			s.logger.Debug(ctx, "Failed to stop file watcher", "error", err)
		}

		s.clientsMutex.Lock()
		for conn, client := range s.clients {
			close(client.send)
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*websocket.Conn]*Client)
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
