package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/openpredict/predictd/internal/domain"
)

// Cache implements domain.MarketCache with a plain map. It exists so the
// memory storage backend runs without Redis; the Redis cache is the
// production implementation.
type Cache struct {
	mu      sync.RWMutex
	markets map[string]domain.Market
}

// NewCache creates an empty in-memory market cache.
func NewCache() *Cache {
	return &Cache{markets: make(map[string]domain.Market)}
}

// Set stores a market.
func (c *Cache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

// Get returns a cached market or domain.ErrMarketNotFound on a miss.
func (c *Cache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.markets[id]; ok {
		return m, nil
	}
	return domain.Market{}, domain.ErrMarketNotFound
}

// Invalidate drops a cached market.
func (c *Cache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*Cache)(nil)

// Bus implements domain.SignalBus in process: fan-out pub/sub plus an
// append-only stream per name.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

// NewBus creates an empty in-process signal bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish fans the payload out to current subscribers. Slow subscribers drop
// messages rather than block the publisher.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber channel; it is closed when the
// context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// StreamAppend appends a payload to the named stream.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := strconv.Itoa(len(b.streams[stream]) + 1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead returns up to count messages with IDs after lastID ("0" reads
// from the beginning).
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, err := strconv.Atoi(lastID)
	if err != nil {
		last = 0
	}
	msgs := b.streams[stream]
	if last >= len(msgs) {
		return nil, nil
	}
	out := msgs[last:]
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	res := make([]domain.StreamMessage, len(out))
	copy(res, out)
	return res, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*Bus)(nil)
