package ledger

import (
	"context"
	"sync"
)

// chain is an ordered in-memory sequence of entries. Callers synchronise.
type chain struct {
	entries []Entry
}

func (c *chain) tip() (uint64, string) {
	n := len(c.entries)
	if n == 0 {
		return 0, GenesisPrevHash
	}
	return uint64(n), c.entries[n-1].Hash
}

func (c *chain) readAll(page Page) []Entry {
	n := len(c.entries)
	if page.Offset < 0 {
		page.Offset = 0
	}
	if page.Offset >= n {
		return []Entry{}
	}
	count := n - page.Offset
	if page.Limit > 0 && page.Limit < count {
		count = page.Limit
	}
	out := make([]Entry, 0, count)
	for i := n - 1 - page.Offset; i >= 0 && len(out) < count; i-- {
		out = append(out, c.entries[i].clone())
	}
	return out
}

func (c *chain) get(index uint64) (*Entry, error) {
	if index >= uint64(len(c.entries)) {
		return nil, ErrNotFound
	}
	e := c.entries[index].clone()
	return &e, nil
}

func (c *chain) root() string {
	_, hash := c.tip()
	return hash
}

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	hooks
	mu    sync.RWMutex
	chain chain
}

// New creates an empty MemoryLedger. The first appended entry is the
// genesis entry and chains from GenesisPrevHash.
func New() *MemoryLedger {
	return &MemoryLedger{}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ctx context.Context, actor Actor, action, resource string, details map[string]any) (*Entry, error) {
	d, err := newDraft(actor, action, resource, details)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	index, prevHash := l.chain.tip()
	entry, err := d.seal(index, prevHash)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.chain.entries = append(l.chain.entries, entry)
	l.mu.Unlock()

	l.notify(ctx, entry)
	out := entry.clone()
	return &out, nil
}

// ReadAll implements Ledger.
func (l *MemoryLedger) ReadAll(_ context.Context, page Page) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.readAll(page), nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.get(index)
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain.entries), nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.root(), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) (*Verification, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyEntries(l.chain.entries), nil
}
