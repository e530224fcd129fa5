package repository

import (
	"context"
	"sync"
)

type hooksKey struct{}

// TxHooks collects callbacks tied to the end of the surrounding transaction.
// Commit hooks run only when it commits. End hooks run either way, after
// the store has settled on the outcome.
type TxHooks struct {
	mu     sync.Mutex
	commit []func()
	end    []func()
}

// WithTxHooks attaches a fresh hook list to ctx. Transactors call this when
// they open an outermost transaction.
func WithTxHooks(ctx context.Context) (context.Context, *TxHooks) {
	h := &TxHooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// AfterCommit defers fn until the transaction carried by ctx commits. Outside
// a transaction fn runs immediately. Rolled-back transactions drop their hooks.
func AfterCommit(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hooksKey{}).(*TxHooks); ok {
		h.mu.Lock()
		h.commit = append(h.commit, fn)
		h.mu.Unlock()
		return
	}
	fn()
}

// AfterTx defers fn until the transaction carried by ctx ends, whether it
// commits or rolls back. Outside a transaction fn runs immediately.
//
// Writes may be visible to readers before the outcome is known, so anything
// derived from them, such as cached permission sets, is dropped here.
func AfterTx(ctx context.Context, fn func()) {
	if h, ok := ctx.Value(hooksKey{}).(*TxHooks); ok {
		h.mu.Lock()
		h.end = append(h.end, fn)
		h.mu.Unlock()
		return
	}
	fn()
}

// Committed runs the commit hooks and then the end hooks, each in
// registration order.
func (h *TxHooks) Committed() {
	commit, end := h.drain()
	for _, fn := range commit {
		fn()
	}
	for _, fn := range end {
		fn()
	}
}

// RolledBack discards the commit hooks and runs the end hooks.
func (h *TxHooks) RolledBack() {
	_, end := h.drain()
	for _, fn := range end {
		fn()
	}
}

func (h *TxHooks) drain() (commit, end []func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	commit, end = h.commit, h.end
	h.commit, h.end = nil, nil
	return commit, end
}
