package ws

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"pokervault/internal/service/hand"
	appErr "pokervault/pkg/errors"
	"pokervault/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	hub     *Hub
	handSvc *hand.Service
}

func NewHandler(hub *Hub, handSvc *hand.Service) *Handler {
	return &Handler{hub: hub, handSvc: handSvc}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// HandleHandWS streams the public hand state for spectators. Hole
// cards never appear here; the stream carries only what the ledger
// itself reveals.
func (h *Handler) HandleHandWS(c *gin.Context) {
	gameIDStr := c.Param("gameId")
	gameID, err := strconv.ParseUint(gameIDStr, 10, 64)
	if err != nil || gameID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	state, err := h.handSvc.GetHand(c.Request.Context(), gameID)
	if err != nil {
		if errors.Is(err, appErr.ErrGameNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New spectator connection", zap.Uint64("gameID", gameID))

	client := newClient(conn, gameID, h.hub)
	client.sendInitial(*state)
	client.run()
}

type client struct {
	conn      *websocket.Conn
	gameID    uint64
	hub       *Hub
	subID     int64
	outbound  <-chan OutgoingMessage
	done      chan struct{}
	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, gameID uint64, hub *Hub) *client {
	conn.SetReadLimit(1 << 16)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	subID, outbound := hub.Subscribe(gameID)
	return &client{
		conn:      conn,
		gameID:    gameID,
		hub:       hub,
		subID:     subID,
		outbound:  outbound,
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

func (c *client) sendInitial(state hand.State) {
	if err := c.conn.WriteJSON(OutgoingMessage{Type: "state", Data: state}); err != nil {
		logger.Log.Info("WS write error", zap.Error(err), zap.Uint64("gameID", c.gameID))
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.hub.Unsubscribe(c.gameID, c.subID)
		c.conn.Close()
	}()

	// Spectators only listen; the read loop exists to notice closes
	// and keep the pong handler serviced.
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Uint64("gameID", c.gameID))
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.Uint64("gameID", c.gameID))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
