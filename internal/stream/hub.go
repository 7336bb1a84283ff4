// Package stream fans map session events out to the dashboard viewers
// watching them. With Redis configured, events travel through Redis pub/sub
// so viewers connected to any instance receive them.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "mapsession:"
	channelSuffix = ":events"

	// sendBuffer is the per-viewer queue; a viewer that falls further
	// behind misses events rather than stalling the publisher.
	sendBuffer = 64

	// outboxSize bounds events waiting for a Redis PUBLISH. When it is
	// full, events are delivered to local viewers only.
	outboxSize = 256

	publishTimeout = 2 * time.Second
)

// Event types.
const (
	EventSnapshot = "snapshot"
	EventNotice   = "notice"
)

// Event is the envelope written to viewers.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
}

// Client is one viewer of one session.
type Client struct {
	SessionID string
	Send      chan []byte
}

type outbound struct {
	sessionID string
	payload   []byte
}

// Hub tracks viewers per session. Broadcast never waits on Redis: a single
// publisher goroutine drains the outbox.
type Hub struct {
	redis   *redis.Client
	log     *zap.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	pubsub  *redis.PubSub
	outbox  chan outbound
	ctx     context.Context
	stop    context.CancelFunc
	done    chan struct{}
	pubDone chan struct{}
	once    sync.Once
}

// NewHub returns a hub. A nil redisClient keeps delivery in-process. When a
// client is given, NewHub waits for the pattern subscription to be
// confirmed before returning.
func NewHub(redisClient *redis.Client, log *zap.Logger) (*Hub, error) {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
		pubDone: make(chan struct{}),
	}
	h.ctx, h.stop = context.WithCancel(context.Background())
	if redisClient == nil {
		close(h.done)
		close(h.pubDone)
		return h, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	if _, err := h.pubsub.Receive(ctx); err != nil {
		_ = h.pubsub.Close()
		h.stop()
		return nil, fmt.Errorf("stream: subscribe: %w", err)
	}
	h.outbox = make(chan outbound, outboxSize)
	go h.subscribeRedis()
	go h.publishRedis()
	return h, nil
}

// Register adds a viewer to sessionID.
func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

// Unregister removes the viewer and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Viewers returns the number of viewers registered for sessionID.
func (h *Hub) Viewers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Publish encodes an event and broadcasts it.
func (h *Hub) Publish(sessionID, eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, SessionID: sessionID, Data: data})
	if err != nil {
		h.log.Error("stream: encode event", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	h.Broadcast(sessionID, payload)
}

// Broadcast delivers payload to every viewer of sessionID and returns
// without blocking. With Redis the payload is queued for publishing and
// delivered on the way back from the subscription, so local viewers see it
// exactly once. If the queue is full, the hub is closed or publishing
// fails, it is delivered locally instead.
func (h *Hub) Broadcast(sessionID string, payload []byte) {
	if h.redis == nil || h.ctx.Err() != nil {
		h.deliver(sessionID, payload)
		return
	}
	select {
	case h.outbox <- outbound{sessionID: sessionID, payload: payload}:
	default:
		h.log.Warn("stream: publish queue full, delivering locally", zap.String("session_id", sessionID))
		h.deliver(sessionID, payload)
	}
}

// CloseSession unregisters every viewer of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[sessionID] {
		close(client.Send)
	}
	delete(h.clients, sessionID)
}

// Close stops the publisher and the Redis subscription. Events still queued
// are dropped. Registered viewers are left alone.
func (h *Hub) Close() error {
	var err error
	h.once.Do(func() {
		h.stop()
		<-h.pubDone
		if h.pubsub != nil {
			err = h.pubsub.Close()
			<-h.done
		}
	})
	return err
}

// Pending returns the number of events waiting to be published.
func (h *Hub) Pending() int { return len(h.outbox) }

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
			h.log.Debug("stream: viewer too slow, dropping event", zap.String("session_id", sessionID))
		}
	}
}

func (h *Hub) publishRedis() {
	defer close(h.pubDone)
	for {
		select {
		case <-h.ctx.Done():
			return
		case m := <-h.outbox:
			ctx, cancel := context.WithTimeout(h.ctx, publishTimeout)
			err := h.redis.Publish(ctx, redisChannel(m.sessionID), m.payload).Err()
			cancel()
			if err != nil {
				h.log.Warn("stream: redis publish failed, delivering locally",
					zap.String("session_id", m.sessionID), zap.Error(err))
				h.deliver(m.sessionID, m.payload)
			}
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)
	for msg := range h.pubsub.Channel() {
		sessionID := sessionIDFromChannel(msg.Channel)
		if sessionID == "" {
			continue
		}
		h.deliver(sessionID, []byte(msg.Payload))
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	// mapsession:{session}:events
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
