package chain

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrHeightOverflow is returned when advancing would move the height past
// the largest representable block.
var ErrHeightOverflow = errors.New("block height overflow")

// ManualClock is a BlockSource whose height only moves when Advance is
// called. It backs local runs and tests.
type ManualClock struct {
	height atomic.Uint64
}

func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.height.Store(start)
	return c
}

func (c *ManualClock) BlockNumber(context.Context) (uint64, error) {
	return c.height.Load(), nil
}

// Advance moves the clock forward and returns the new height. The height is
// left unchanged when the move would wrap.
func (c *ManualClock) Advance(blocks uint64) (uint64, error) {
	for {
		cur := c.height.Load()
		next := cur + blocks
		if next < cur {
			return cur, ErrHeightOverflow
		}
		if c.height.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}
