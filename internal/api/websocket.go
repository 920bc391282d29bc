package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/alexbotov/sweepsrgs/internal/domain"
	"github.com/alexbotov/sweepsrgs/internal/game"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsMaxMessage = 4096
	wsOpTimeout  = 15 * time.Second
)

// WSMessage represents a WebSocket message. Ref echoes the client's
// correlation id.
type WSMessage struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSClient represents a WebSocket client connection
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	player game.Player
	mu     sync.Mutex
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(h.origins) == 0 ||
				slices.Contains(h.origins, "*") || slices.Contains(h.origins, origin)
		},
	}
}

// HandleWebSocket handles GET /ws/play. Every message is one wager, round
// action or query, answered with the same payloads as the REST routes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, ok := bearer(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		player: game.Player{UserID: claims.Subject, IP: h.clientIP(r)},
	}
	log.WithField("user_id", claims.Subject).Debug("WebSocket connected")

	go client.writePump()
	go h.readPump(client)
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *WSClient) writePump() {
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

// readPump handles messages one at a time until the connection closes
func (h *Handler) readPump(c *WSClient) {
	defer func() {
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	h.sendMessage(c, "connected", "", map[string]any{"user_id": c.player.UserID})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("WebSocket closed unexpectedly")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.sendError(c, "", &APIError{Code: "INVALID_MESSAGE", Message: "Invalid message format"})
			continue
		}
		h.handleWSMessage(c, &msg)
	}
}

type wsPlay struct {
	GameID string `json:"game_id"`
	PlayRequest
}

type wsAction struct {
	RoundID string `json:"round_id"`
	Action  string `json:"action"`
	Held    []int  `json:"held,omitempty"`
}

// handleWSMessage processes one incoming message
func (h *Handler) handleWSMessage(c *WSClient, msg *WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	var (
		res any
		err error
	)
	switch msg.Type {
	case "play":
		var p wsPlay
		if json.Unmarshal(msg.Payload, &p) != nil {
			h.sendError(c, msg.Ref, &APIError{Code: "INVALID_PAYLOAD", Message: "Invalid play payload"})
			return
		}
		var wager domain.Wager
		if wager, err = p.wager(p.GameID); err == nil {
			res, _, err = h.dispatch(ctx, c.player, &p.PlayRequest, wager)
		}

	case "action":
		var a wsAction
		if json.Unmarshal(msg.Payload, &a) != nil {
			h.sendError(c, msg.Ref, &APIError{Code: "INVALID_PAYLOAD", Message: "Invalid action payload"})
			return
		}
		res, err = h.roundAction(ctx, c.player, a)

	case "balance":
		res, err = h.wallet.GetBalance(ctx, c.player.UserID)

	case "history":
		res, err = h.wallet.History(ctx, domain.HistoryFilter{UserID: c.player.UserID, Limit: 10})

	case "ping":
		res = map[string]any{"timestamp": time.Now().Unix()}
		msg.Type = "pong"

	default:
		h.sendError(c, msg.Ref, &APIError{Code: "UNKNOWN_MESSAGE", Message: "Unknown message type: " + msg.Type})
		return
	}

	if err != nil {
		status, body := errorBody(err)
		if status >= 500 {
			log.WithError(err).WithField("user_id", c.player.UserID).Error("WebSocket request failed")
		}
		h.sendError(c, msg.Ref, body)
		return
	}
	h.sendMessage(c, msg.Type, msg.Ref, res)
}

func (h *Handler) roundAction(ctx context.Context, p game.Player, a wsAction) (*game.RoundResult, error) {
	switch a.Action {
	case "hit":
		return h.engine.Hit(ctx, p, a.RoundID)
	case "stand":
		return h.engine.Stand(ctx, p, a.RoundID)
	case "double":
		return h.engine.DoubleDown(ctx, p, a.RoundID)
	case "draw":
		return h.engine.Draw(ctx, p, a.RoundID, a.Held)
	case "get":
		return h.engine.Round(ctx, p, a.RoundID)
	}
	return nil, domain.ErrInvalidRoundState
}

// sendMessage queues a message for the client, dropping it when the
// buffer is full
func (h *Handler) sendMessage(c *WSClient, msgType, ref string, payload any) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).Error("Failed to encode WebSocket payload")
		return
	}
	msgBytes, _ := json.Marshal(WSMessage{Type: msgType, Ref: ref, Payload: payloadBytes})

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case c.send <- msgBytes:
	default:
		log.WithField("user_id", c.player.UserID).Warn("WebSocket send buffer full, message dropped")
	}
}

func (h *Handler) sendError(c *WSClient, ref string, e *APIError) {
	h.sendMessage(c, "error", ref, e)
}
