package ledger

import (
	"context"
	"sync"
)

// hooks holds the registered AppendHooks of a ledger.
type hooks struct {
	mu    sync.RWMutex
	funcs []AppendHook
}

// OnAppend implements Ledger.
func (h *hooks) OnAppend(hook AppendHook) {
	if hook == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, hook)
}

// notify passes each hook its own copy of e.
func (h *hooks) notify(ctx context.Context, e Entry) {
	h.mu.RLock()
	funcs := h.funcs
	h.mu.RUnlock()
	for _, fn := range funcs {
		fn(ctx, e.clone())
	}
}
