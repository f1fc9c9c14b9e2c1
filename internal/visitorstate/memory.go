package visitorstate

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memEntry struct {
	val     []byte
	expires time.Time
}

// MemoryBackend keeps values in process, honoring expiry against its clock.
type MemoryBackend struct {
	mu    sync.Mutex
	clock clock.Clock
	data  map[string]memEntry
}

func NewMemoryBackend(clk clock.Clock) *MemoryBackend {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryBackend{clock: clk, data: map[string]memEntry{}}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.data, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.val...), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{val: append([]byte(nil), val...), expires: m.clock.Now().Add(ttl)}
	return nil
}

// Raw stores val without encoding; used to seed malformed values.
func (m *MemoryBackend) Raw(key string, val string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{val: []byte(val), expires: m.clock.Now().Add(MaxExpiry)}
}
