package relay

import (
	"context"
	"sync"
	"time"

	"campuscall/internal/core/domain"
	"campuscall/internal/infrastructure/monitoring"
	"campuscall/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Hub groups connected chat clients into rooms keyed by call id and fans
// every inbound frame out to the whole room, sender included. Frames pass
// through verbatim: the hub does not parse or rewrite them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[domain.CallID]map[*client]struct{}

	metrics *monitoring.Metrics
	logger  *zap.SugaredLogger
}

func NewHub(metrics *monitoring.Metrics, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		rooms:   make(map[domain.CallID]map[*client]struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

func (h *Hub) join(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.callID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[c.callID] = room
		h.metrics.RoomOpened()
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.ClientConnected()
	h.logger.Infow("chat client joined", "call_id", c.callID, "user_id", c.identity.ID)
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.callID]
	if ok {
		if _, member := room[c]; member {
			delete(room, c)
			// send stays open: a concurrent broadcast may still be holding a
			// reference to this client. writePump shuts down via done instead.
			close(c.done)
			h.metrics.ClientGone()
		}
		if len(room) == 0 {
			delete(h.rooms, c.callID)
			h.metrics.RoomClosed()
		}
	}
	h.mu.Unlock()

	h.logger.Infow("chat client left", "call_id", c.callID, "user_id", c.identity.ID)
}

// broadcast delivers payload to every client in the room. Clients whose send
// buffer is full are dropped from the room rather than blocking the sender.
func (h *Hub) broadcast(callID domain.CallID, payload []byte) {
	h.mu.RLock()
	room := h.rooms[callID]
	receivers := make([]*client, 0, len(room))
	for c := range room {
		receivers = append(receivers, c)
	}
	h.mu.RUnlock()

	var stalled []*client
	for _, c := range receivers {
		select {
		case <-c.done:
		case c.send <- payload:
		default:
			stalled = append(stalled, c)
		}
	}

	for _, c := range stalled {
		h.logger.Warnw("dropping slow chat client", "call_id", c.callID, "user_id", c.identity.ID)
		h.leave(c)
	}

	h.metrics.MessageRelayed(len(payload))
}

// RoomSize reports how many clients are connected for a call.
func (h *Hub) RoomSize(callID domain.CallID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[callID])
}

// client is one WebSocket connection attached to a room.
type client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity domain.Identity
	callID   domain.CallID
	send     chan []byte
	done     chan struct{}
	limiter  *rate.Limiter

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	maxMsgSize   int64

	logger *zap.SugaredLogger
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Infow("chat read error", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.metrics.MessageDropped("rate_limited")
			c.logger.Warnw("chat message rate limited")
			continue
		}

		_, span := tracing.TraceRelayMessage(context.Background(), string(c.callID), string(c.identity.ID))
		c.hub.broadcast(c.callID, payload)
		span.End()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
