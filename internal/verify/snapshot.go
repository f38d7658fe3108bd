package verify

import (
	"context"
	"sync"

	"github.com/roach88/listproof/internal/oracle"
	"github.com/roach88/listproof/internal/resource"
)

// Snapshotter computes a fresh snapshot for a resource.
type Snapshotter interface {
	Snapshot(ctx context.Context, spec resource.Spec) (oracle.Snapshot, error)
}

// SnapshotCache holds one snapshot per resource for the life of a run.
// Writers must call Invalidate after changing a resource's rows.
type SnapshotCache struct {
	src     Snapshotter
	mu      sync.Mutex
	entries map[string]oracle.Snapshot
}

// NewSnapshotCache creates an empty cache over src.
func NewSnapshotCache(src Snapshotter) *SnapshotCache {
	return &SnapshotCache{src: src, entries: make(map[string]oracle.Snapshot)}
}

// Get returns the cached snapshot for spec, computing it on first use.
func (c *SnapshotCache) Get(ctx context.Context, spec resource.Spec) (oracle.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.entries[spec.Name]; ok {
		return s, nil
	}
	s, err := c.src.Snapshot(ctx, spec)
	if err != nil {
		return oracle.Snapshot{}, err
	}
	c.entries[spec.Name] = s
	return s, nil
}

// Invalidate drops the snapshot of the named resources. With no names the
// whole cache is dropped.
func (c *SnapshotCache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 {
		clear(c.entries)
		return
	}
	for _, n := range names {
		delete(c.entries, n)
	}
}
