package service

import (
	"context"
	"sync"
	"time"

	dErrors "contactlink/pkg/domain-errors"
)

// defaultTxTimeout is the maximum duration for an in-memory resolution unit
// of work.
const defaultTxTimeout = 5 * time.Second

// memoryStoreTx provides the StoreTx boundary over an in-memory store using
// a single coarse mutex. Coarse is deliberate: any two submissions can bridge
// arbitrary clusters, so per-key sharding cannot guarantee exclusion here the
// way it can for keyed state.
type memoryStoreTx struct {
	mu      sync.Mutex
	store   ContactStore
	timeout time.Duration
}

// NewMemoryTx wraps a store in a coarse-lock transaction boundary for tests
// and dev mode.
func NewMemoryTx(store ContactStore) StoreTx {
	return &memoryStoreTx{store: store}
}

func (t *memoryStoreTx) RunInTx(ctx context.Context, fn func(txCtx context.Context, store ContactStore) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx, t.store)
}
