package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/example/pickup-dispatch/internal/agents"
	"github.com/example/pickup-dispatch/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// inboundMessage is what observers may send. Only updateLocation is acted on.
type inboundMessage struct {
	Type        string          `json:"type"`
	AgentID     int64           `json:"agentId"`
	Latitude    decimal.Decimal `json:"latitude"`
	Longitude   decimal.Decimal `json:"longitude"`
	IsAvailable *bool           `json:"isAvailable"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWS attaches an observer to the live hub. The subscription exists
// before the handshake completes, so the client sees every event published
// after its dial returns.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sub := s.hub.Subscribe()
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &wsConn{conn: raw}
	ctx, cancel := context.WithCancel(context.Background())
	s.logger.Info("websocket client connected", "subscriber", sub.ID)

	go s.pingLoop(ctx, conn)
	go func() {
		err := s.hub.Deliver(ctx, sub, func(ev models.Event) error { return conn.writeJSON(ev) })
		if err != nil && ctx.Err() == nil {
			s.logger.Info("websocket delivery stopped", "subscriber", sub.ID, "error", err)
		}
		// Dropped by the hub or failed to write: make the reader exit too.
		_ = raw.Close()
	}()

	s.readLoop(ctx, conn, sub.ID)
	cancel()
	_ = raw.Close()
	s.logger.Info("websocket client disconnected", "subscriber", sub.ID)
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, subID string) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("websocket message ignored", "subscriber", subID, "error", err)
			continue
		}
		if msg.Type != "updateLocation" {
			continue
		}
		_, err = s.agents.UpsertLocation(ctx, agents.LocationUpdate{
			AgentID:     msg.AgentID,
			Latitude:    msg.Latitude,
			Longitude:   msg.Longitude,
			IsAvailable: msg.IsAvailable,
		})
		if err != nil {
			_ = c.writeJSON(errorFrame{Type: "error", Message: err.Error()})
		}
	}
}
