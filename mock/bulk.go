package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/grimoire/elk"
)

// BulkWriter records every bulk body written to it. If FailOn is set, the
// write with that (1 based) number fails with Err and is not recorded.
type BulkWriter struct {
	mu     sync.Mutex
	Bodies [][]byte
	Calls  int

	FailOn int
	Err    error

	// Hook, if set, runs at the start of every write.
	Hook func(call int)

	// IgnoreContext makes writes complete even when their context is done,
	// like a request already on the wire.
	IgnoreContext bool
}

// WriteBulk implements elk.BulkWriter.
func (b *BulkWriter) WriteBulk(ctx context.Context, body []byte) error {
	b.mu.Lock()
	b.Calls++
	call := b.Calls
	hook := b.Hook
	ignoreCtx := b.IgnoreContext
	b.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err := ctx.Err(); err != nil && !ignoreCtx {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailOn == call {
		if b.Err == nil {
			return fmt.Errorf("bulk write %d refused", call)
		}
		return b.Err
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	b.Bodies = append(b.Bodies, cp)
	return nil
}

// Written returns a copy of the recorded bodies.
func (b *BulkWriter) Written() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.Bodies...)
}

var _ elk.BulkWriter = &BulkWriter{}
