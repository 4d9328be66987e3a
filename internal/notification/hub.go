package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const subscriberBuffer = 16

// Pusher delivers notifications to connected sessions. Pushing to a
// recipient with no session is not an error.
type Pusher interface {
	Push(ctx context.Context, n Notification) error
	Subscribe(ctx context.Context, recipientID uuid.UUID) (<-chan Notification, error)
}

func recipientChannel(recipientID uuid.UUID) string {
	return fmt.Sprintf("notifications:live:%s", recipientID)
}

// subscribers is the local fan-out shared by both hubs.
type subscribers struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[chan Notification]struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[uuid.UUID]map[chan Notification]struct{})}
}

// add reports whether ch is the first subscriber for recipientID.
func (s *subscribers) add(recipientID uuid.UUID, ch chan Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[recipientID]
	if !ok {
		set = make(map[chan Notification]struct{})
		s.subs[recipientID] = set
	}
	set[ch] = struct{}{}
	return !ok
}

// remove reports whether recipientID has no subscribers left.
func (s *subscribers) remove(recipientID uuid.UUID, ch chan Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[recipientID]
	if !ok {
		return true
	}
	if _, ok := set[ch]; ok {
		delete(set, ch)
		close(ch)
	}
	if len(set) == 0 {
		delete(s.subs, recipientID)
		return true
	}
	return false
}

// broadcast returns how many subscribers were skipped because their buffer was full.
func (s *subscribers) broadcast(n Notification) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	skipped := 0
	for ch := range s.subs[n.RecipientID] {
		select {
		case ch <- n:
		default:
			skipped++
		}
	}
	return skipped
}

// MemoryHub fans out in process. Used when there is a single API instance.
type MemoryHub struct {
	subs *subscribers
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: newSubscribers()}
}

func (h *MemoryHub) Push(_ context.Context, n Notification) error {
	h.subs.broadcast(n)
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, recipientID uuid.UUID) (<-chan Notification, error) {
	ch := make(chan Notification, subscriberBuffer)
	h.subs.add(recipientID, ch)
	go func() {
		<-ctx.Done()
		h.subs.remove(recipientID, ch)
	}()
	return ch, nil
}

// RedisHub publishes on a per-recipient Redis channel so any API instance
// holding the recipient's stream can deliver it.
type RedisHub struct {
	client *redis.Client
	logger zerolog.Logger
	subs   *subscribers

	mu      sync.Mutex
	pubsubs map[uuid.UUID]*redis.PubSub
}

func NewRedisHub(client *redis.Client, logger zerolog.Logger) *RedisHub {
	return &RedisHub{
		client:  client,
		logger:  logger.With().Str("component", "notification_hub").Logger(),
		subs:    newSubscribers(),
		pubsubs: make(map[uuid.UUID]*redis.PubSub),
	}
}

func (h *RedisHub) Push(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := h.client.Publish(ctx, recipientChannel(n.RecipientID), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, recipientID uuid.UUID) (<-chan Notification, error) {
	h.mu.Lock()
	if _, ok := h.pubsubs[recipientID]; !ok {
		ps := h.client.Subscribe(context.WithoutCancel(ctx), recipientChannel(recipientID))
		if _, err := ps.Receive(ctx); err != nil {
			h.mu.Unlock()
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe notifications: %w", err)
		}
		h.pubsubs[recipientID] = ps
		go h.receive(ps)
	}
	ch := make(chan Notification, subscriberBuffer)
	h.subs.add(recipientID, ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.subs.remove(recipientID, ch) {
			if ps, ok := h.pubsubs[recipientID]; ok {
				_ = ps.Close()
				delete(h.pubsubs, recipientID)
			}
		}
	}()
	return ch, nil
}

func (h *RedisHub) receive(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		var n Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			h.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable notification")
			continue
		}
		if skipped := h.subs.broadcast(n); skipped > 0 {
			h.logger.Warn().
				Str("recipient_id", n.RecipientID.String()).
				Int("skipped", skipped).
				Msg("subscriber buffer full, live update dropped")
		}
	}
}

// Close tears down every Redis subscription.
func (h *RedisHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ps := range h.pubsubs {
		_ = ps.Close()
		delete(h.pubsubs, id)
	}
	return nil
}
