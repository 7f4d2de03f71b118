// Package realtime pushes Job Record status changes to websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clueso-studio/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60

	// EventJobStatus is the websocket event carrying a models.JobEvent.
	EventJobStatus = "job_status"
)

// Publisher fans a job event out to every API instance.
type Publisher interface {
	PublishJobEvent(ctx context.Context, userID uuid.UUID, ev models.JobEvent) error
}

// Subscriber delivers a user's job events published by any instance.
type Subscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(ev models.JobEvent)) (cancel func(), err error)
}

// Hub maintains user_id -> set of connections.
// With Redis configured, events are published only and the per-user
// subscription performs the local broadcast, so each client sees an event once.
type Hub struct {
	users  map[uuid.UUID]map[string]*Client
	subs   map[uuid.UUID]func()
	mu     sync.RWMutex
	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
}

// NewHub creates a hub. pub and sub may be nil for a single-instance deployment.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// Register adds a client. The first client of a user starts the user's subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.sub != nil {
			userID := c.UserID
			cancel, err := h.sub.SubscribeUser(userID, func(ev models.JobEvent) {
				h.BroadcastToUser(userID, ev)
			})
			if err != nil {
				h.logger.Warn("subscribe job events", zap.String("user_id", userID.String()), zap.Error(err))
			} else {
				h.subs[userID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a client and closes its send channel. The last client of a user cancels the subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// BroadcastToUser sends ev to the user's local clients. Slow clients drop the event.
func (h *Hub) BroadcastToUser(userID uuid.UUID, ev models.JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := WSMessage{Event: EventJobStatus, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.users[userID] {
		if !c.wants(ev.JobID) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, event dropped", zap.String("client_id", c.ID))
		}
	}
}

// PublishJobEvent delivers ev to the user's clients on every instance.
func (h *Hub) PublishJobEvent(ctx context.Context, userID uuid.UUID, ev models.JobEvent) error {
	if h.pub != nil {
		return h.pub.PublishJobEvent(ctx, userID, ev)
	}
	h.BroadcastToUser(userID, ev)
	return nil
}

// Connections returns the number of local clients of a user.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
