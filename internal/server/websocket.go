package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/inlinesvg/internal/validation"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

func (s *PreviewServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedHosts(r),
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	go client.writePump()
	go client.readPump()

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// allowedHosts lists the origin hosts accepted for live reload: the
// configured address, its loopback aliases and the host of the request.
func (s *PreviewServer) allowedHosts(r *http.Request) []string {
	port := strconv.Itoa(s.config.Server.Port)
	hosts := []string{
		s.Addr(),
		"localhost:" + port,
		"127.0.0.1:" + port,
	}
	if r.Host != "" {
		hosts = append(hosts, r.Host)
	}
	return hosts
}

// checkOrigin validates the request origin for security
func (s *PreviewServer) checkOrigin(r *http.Request) bool {
	err := validation.ValidateOrigin(r.Header.Get("Origin"), s.allowedHosts(r))
	if err != nil {
		s.logger.Debug(r.Context(), "Rejected WebSocket origin", "error", err.Error())
		return false
	}
	return true
}

func (s *PreviewServer) runWebSocketHub(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return

		case client := <-s.register:
			if client == nil || client.conn == nil {
				continue
			}
			s.clientsMutex.Lock()
			s.clients[client.conn] = client
			count := len(s.clients)
			s.clientsMutex.Unlock()
			s.logger.Debug(ctx, "Client connected", "clients", count)

		case conn := <-s.unregister:
			if conn == nil {
				continue
			}
			s.clientsMutex.Lock()
			if client, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				close(client.send)
				conn.Close(websocket.StatusNormalClosure, "")
			}
			count := len(s.clients)
			s.clientsMutex.Unlock()
			s.logger.Debug(ctx, "Client disconnected", "clients", count)

		case message := <-s.broadcast:
			var failedClients []*websocket.Conn
			s.clientsMutex.RLock()
			for conn, client := range s.clients {
				select {
				case client.send <- message:
				default:
					failedClients = append(failedClients, conn)
				}
			}
			s.clientsMutex.RUnlock()

			if len(failedClients) > 0 {
				s.clientsMutex.Lock()
				for _, conn := range failedClients {
					if client, ok := s.clients[conn]; ok {
						delete(s.clients, conn)
						close(client.send)
						conn.Close(websocket.StatusPolicyViolation, "client too slow")
					}
				}
				s.clientsMutex.Unlock()
			}
		}
	}
}

// readPump discards incoming messages until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c.conn:
		case <-c.server.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	// No read deadline; writePump pings detect dead peers.
	for {
		_, _, err := c.conn.Read(context.Background())
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.server.logger.Debug(context.Background(), "WebSocket closed", "error", err)
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-c.server.done:
			return

		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.server.logger.Debug(context.Background(), "WebSocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
