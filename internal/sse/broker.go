package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/pairbridge/pairing-server-go/internal/redis"
)

// HeartbeatInterval paces SSE keep-alive comments so idle proxies do not cut
// the stream while a browser waits for its pairing to confirm.
const HeartbeatInterval = 30 * time.Second

// clientBuffer bounds the per-client event queue. A pairing session emits a
// handful of lifecycle events over its whole life, so a small buffer only
// fills when the client has stopped reading.
const clientBuffer = 8

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker connects pairing lifecycle publishers to SSE subscribers through
// redis pubsub. The pairing service publishes into redis; one listener
// goroutine per watched session fans the messages out locally. Routing
// through redis keeps publish fire-and-forget and lets subscribers sit on a
// different replica than the socket that owns the session.
type Broker struct {
	redis  *redisclient.Client
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	watchers map[string]map[*Client]struct{}
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:    redisClient,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[string]map[*Client]struct{}),
	}
}

// Publish pushes one event onto the session's redis channel. It succeeds even
// when nobody is subscribed.
func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.SessionChannel(sessionID), payload).Err()
}

// Subscribe registers a new client for one session's events. The first client
// for a session starts the redis listener for its channel.
func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBuffer),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	set, ok := b.watchers[sessionID]
	if !ok {
		set = make(map[*Client]struct{})
		b.watchers[sessionID] = set
		go b.listen(sessionID)
	}
	set[client] = struct{}{}
	count := len(set)
	b.mu.Unlock()

	log.Info().Str("sessionId", sessionID).Int("clientCount", count).Msg("sse client subscribed")
	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.watchers[client.SessionID]
	if !ok {
		return
	}
	delete(set, client)
	close(client.Done)
	if len(set) == 0 {
		delete(b.watchers, client.SessionID)
	}

	log.Info().Str("sessionId", client.SessionID).Int("clientCount", len(set)).Msg("sse client unsubscribed")
}

// listen consumes the session's redis channel until the broker shuts down.
func (b *Broker) listen(sessionID string) {
	pubsub := b.redis.Subscribe(b.ctx, redisclient.SessionChannel(sessionID))
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("malformed session event payload")
				continue
			}
			b.fanout(sessionID, event)
		}
	}
}

func (b *Broker) fanout(sessionID string, event Event) {
	b.mu.RLock()
	set := b.watchers[sessionID]
	b.mu.RUnlock()

	for client := range set {
		select {
		case client.Events <- event:
		default:
			// Slow reader: drop rather than block delivery to the rest.
			log.Warn().Str("sessionId", sessionID).Msg("sse client lagging, event dropped")
		}
	}
}

// Close stops every listener and releases all clients.
func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.watchers {
		for client := range set {
			close(client.Done)
		}
	}
	b.watchers = make(map[string]map[*Client]struct{})
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers[sessionID])
}
