package backup

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
)

// Guard orders exports and restores on one store. Any number of exports may
// run together; a restore runs alone, so an export never sees a table
// between its clear and its refill.
type Guard struct {
	mu sync.RWMutex
}

// Export runs Export under the shared lock
func (g *Guard) Export(ctx context.Context, src Source, dir string) (Files, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Export(ctx, src, dir)
}

// Restore runs Restore under the exclusive lock
func (g *Guard) Restore(ctx context.Context, dst Target, table string, rows []json.RawMessage) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Restore(ctx, dst, table, rows)
}
