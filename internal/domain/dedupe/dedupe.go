// Package dedupe tracks submitted event ids so asynchronous submissions are
// applied at most once.
package dedupe

import (
	"context"
	"sync"

	"github.com/golang/groupcache/lru"
)

const defaultMaxSize = 50000

// Deduper records seen event ids.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a submission rejected downstream, for example by
	// queue backpressure, can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    *lru.Cache
	maxSize int
}

// NewInMemoryDeduper creates a deduper bounded by WithMaxSize.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize < 0 {
		d.maxSize = 0
	}
	d.seen = lru.New(d.maxSize)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen.Get(id); ok {
		return true
	}
	d.seen.Add(id, struct{}{})
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen.Remove(id)
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.seen.Len())
}
