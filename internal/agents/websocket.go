// Package agents - WebSocket Handler
// Real-time status streaming between a workspace and its clients
package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/logging"
	"github.com/InvictusSEO/vibephp/internal/metrics"
	"github.com/InvictusSEO/vibephp/internal/preview"
)

// WebSocket message types.
const (
	MsgConnected    = "connection:established"
	MsgWorkspace    = "workspace:state"
	MsgStatus       = "agent:status"
	MsgPreview      = "preview:update"
	MsgError        = "error"
	MsgUserPrompt   = "user:message"
	MsgAgentConfirm = "agent:confirm"
	MsgAgentCancel  = "agent:cancel"
)

const (
	wsSendBuffer     = 256
	wsStatusBuffer   = 100
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 512 * 1024
)

// WSMessage is the envelope of every frame sent to clients.
type WSMessage struct {
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspace_id"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		// Allow env-configured origins first
		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			for _, allowed := range strings.Split(envOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					return true
				}
			}
			return false
		}

		// Non-production: allow all for local development
		if os.Getenv("ENVIRONMENT") != "production" {
			return true
		}

		// Production: same host only
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	},
}

// WSHub manages WebSocket connections per workspace.
type WSHub struct {
	manager     *Manager
	connections map[string]map[*WSConnection]bool
	mu          sync.RWMutex
	log         *zap.Logger
}

// WSConnection represents a single WebSocket connection.
type WSConnection struct {
	hub       *WSHub
	conn      *websocket.Conn
	ws        *Workspace
	send      chan []byte
	closeOnce sync.Once
}

// NewWSHub creates a hub for the workspaces of manager.
func NewWSHub(manager *Manager) *WSHub {
	return &WSHub{
		manager:     manager,
		connections: make(map[string]map[*WSConnection]bool),
		log:         logging.Named("websocket"),
	}
}

// Broadcast sends a message to every connection of a workspace. Slow connections
// are dropped.
func (h *WSHub) Broadcast(workspaceID string, msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal websocket message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections[workspaceID] {
		select {
		case conn.send <- data:
			metrics.Get().RecordWebSocketMessage(msg.Type)
		default:
			conn.closeSend()
			delete(h.connections[workspaceID], conn)
		}
	}
}

// BroadcastPreview forwards a preview state change. It matches ManagerDeps.OnPreview.
func (h *WSHub) BroadcastPreview(workspaceID string, st preview.State) {
	h.Broadcast(workspaceID, &WSMessage{
		Type:        MsgPreview,
		WorkspaceID: workspaceID,
		Timestamp:   time.Now(),
		Data:        st,
	})
}

// ConnectionCount returns the number of live connections of a workspace.
func (h *WSHub) ConnectionCount(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[workspaceID])
}

// HandleWebSocket upgrades GET /sessions/:id/ws and streams agent status.
func (h *WSHub) HandleWebSocket(c *gin.Context) {
	id := c.Param("id")
	ws, err := h.manager.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "workspace not found", "code": "WORKSPACE_NOT_FOUND"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("workspace_id", id), zap.Error(err))
		return
	}

	wsConn := &WSConnection{
		hub:  h,
		conn: conn,
		ws:   ws,
		send: make(chan []byte, wsSendBuffer),
	}
	h.register(wsConn)

	updates, unsubscribe := ws.Subscribe(wsStatusBuffer)
	go wsConn.forward(updates)

	wsConn.sendJSON(&WSMessage{
		Type:        MsgConnected,
		WorkspaceID: id,
		Timestamp:   time.Now(),
		Data:        gin.H{"message": "Connected to workspace stream", "session_id": ws.SessionID()},
	})
	wsConn.sendWorkspaceState()

	go wsConn.writePump()
	go wsConn.readPump(unsubscribe)
}

func (h *WSHub) register(c *WSConnection) {
	id := c.ws.WorkspaceID()
	h.mu.Lock()
	if h.connections[id] == nil {
		h.connections[id] = make(map[*WSConnection]bool)
	}
	h.connections[id][c] = true
	h.mu.Unlock()

	metrics.Get().RecordWebSocketConnection(1)
	h.log.Debug("websocket client connected", zap.String("workspace_id", id))
}

func (h *WSHub) unregister(c *WSConnection) {
	id := c.ws.WorkspaceID()
	h.mu.Lock()
	if conns, ok := h.connections[id]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.closeSend()
		}
		if len(conns) == 0 {
			delete(h.connections, id)
		}
	}
	h.mu.Unlock()

	metrics.Get().RecordWebSocketConnection(-1)
	h.log.Debug("websocket client disconnected", zap.String("workspace_id", id))
}

func (c *WSConnection) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// forward relays orchestrator status updates until the subscription closes.
func (c *WSConnection) forward(updates <-chan Status) {
	for st := range updates {
		c.sendJSON(&WSMessage{
			Type:        MsgStatus,
			WorkspaceID: c.ws.WorkspaceID(),
			Timestamp:   time.Now(),
			Data:        st,
		})
	}
}

func (c *WSConnection) sendJSON(msg *WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("failed to marshal websocket message", zap.Error(err))
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.connections[c.ws.WorkspaceID()][c] {
		return
	}
	select {
	case c.send <- data:
		metrics.Get().RecordWebSocketMessage(msg.Type)
	default:
		c.hub.log.Warn("websocket send buffer full, dropping message",
			zap.String("workspace_id", c.ws.WorkspaceID()),
			zap.String("type", msg.Type))
	}
}

// sendWorkspaceState sends the current snapshot to a new connection.
func (c *WSConnection) sendWorkspaceState() {
	var previewState *preview.State
	if c.ws.Preview != nil {
		st := c.ws.Preview.State()
		previewState = &st
	}
	c.sendJSON(&WSMessage{
		Type:        MsgWorkspace,
		WorkspaceID: c.ws.WorkspaceID(),
		Timestamp:   time.Now(),
		Data: gin.H{
			"status":   c.ws.Status(),
			"messages": c.ws.Messages(),
			"files":    c.ws.Files(),
			"versions": len(c.ws.Versions()),
			"preview":  previewState,
		},
	})
}

// writePump sends messages to the WebSocket connection.
func (c *WSConnection) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client commands until the connection drops.
func (c *WSConnection) readPump(unsubscribe func()) {
	defer func() {
		unsubscribe()
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage processes incoming client commands. Long steps run in the background;
// their progress arrives as status frames.
func (c *WSConnection) handleMessage(message []byte) {
	var msg struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("invalid message")
		return
	}

	var err error
	switch msg.Type {
	case MsgUserPrompt:
		err = c.ws.Start("submit", func(ctx context.Context) error { return c.ws.Submit(ctx, msg.Content) })
	case MsgAgentConfirm:
		err = c.ws.Start("confirm", c.ws.Confirm)
	case MsgAgentCancel:
		c.ws.Cancel()
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
	if err != nil {
		c.sendError(err.Error())
	}
}

func (c *WSConnection) sendError(text string) {
	c.sendJSON(&WSMessage{
		Type:        MsgError,
		WorkspaceID: c.ws.WorkspaceID(),
		Timestamp:   time.Now(),
		Data:        gin.H{"error": text},
	})
}
