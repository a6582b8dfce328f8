package notify

import (
	"context"
	"sync"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// localHistory is how many payloads LocalBus keeps per channel.
const localHistory = 200

// LocalBus is an in-process domain.SignalBus used when Redis is not
// configured. Slow subscribers drop messages rather than block publishers.
type LocalBus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan []byte]struct{}
	history map[string][][]byte
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		history: make(map[string][][]byte),
	}
}

// Publish delivers payload to current subscribers of channel.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	msg := append([]byte(nil), payload...)
	b.mu.Lock()
	h := append(b.history[channel], msg)
	if len(h) > localHistory {
		h = h[len(h)-localHistory:]
	}
	b.history[channel] = h
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel until ctx
// ends.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Recent returns up to n of the latest payloads on channel, newest first.
func (b *LocalBus) Recent(_ context.Context, channel string, n int) ([][]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.history[channel]
	if n > len(h) {
		n = len(h)
	}
	out := make([][]byte, 0, n)
	for i := len(h) - 1; i >= len(h)-n; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

var _ domain.SignalBus = (*LocalBus)(nil)
