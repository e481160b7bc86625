package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/auth"
	"github.com/services-marketplace/backend/internal/events"
)

// WSHub pushes booking and wallet events to connected users. A user may hold
// several connections (multiple tabs); every one receives the event.
type WSHub struct {
	subscriber events.Subscriber
	jwtSecret  string
	log        *zap.Logger

	mu    sync.RWMutex
	conns map[uuid.UUID]map[*websocket.Conn]bool
}

func NewWSHub(subscriber events.Subscriber, jwtSecret string, log *zap.Logger) *WSHub {
	return &WSHub{
		subscriber: subscriber,
		jwtSecret:  jwtSecret,
		log:        log,
		conns:      make(map[uuid.UUID]map[*websocket.Conn]bool),
	}
}

// Run subscribes to the event streams and fans events out to interested
// connections until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) error {
	for _, stream := range []string{events.StreamBooking, events.StreamWallet} {
		if err := h.subscriber.Subscribe(ctx, stream, h.dispatch); err != nil {
			return err
		}
	}
	return nil
}

// dispatch routes an event to every user named in its payload.
func (h *WSHub) dispatch(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal event for ws push", zap.Error(err))
		return
	}

	for _, key := range []string{"user_id", "client_id", "worker_id"} {
		raw, ok := event.Payload[key].(string)
		if !ok {
			continue
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		h.push(userID, data)
	}
}

func (h *WSHub) push(userID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

func (h *WSHub) register(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*websocket.Conn]bool)
	}
	h.conns[userID][conn] = true
}

func (h *WSHub) unregister(userID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], conn)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Upgrade gates the HTTP -> WebSocket upgrade. The token travels as a query
// parameter because browsers cannot set headers on WebSocket dials.
func (h *WSHub) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	claims, err := auth.ParseJWT(h.jwtSecret, c.Query("token"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid or expired token",
		})
	}
	c.Locals("ws_user_id", claims.UserID)
	return c.Next()
}

// Handler holds the connection open and discards inbound frames; the socket
// is push-only.
func (h *WSHub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, ok := conn.Locals("ws_user_id").(uuid.UUID)
		if !ok {
			_ = conn.Close()
			return
		}

		h.register(userID, conn)
		defer func() {
			h.unregister(userID, conn)
			_ = conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}
