package chain

import (
	"context"
)

// BlockSource supplies the current block height. Heights never decrease.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HealthChecker is implemented by sources backed by a remote node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Advancer is implemented by sources whose height is moved by hand.
type Advancer interface {
	Advance(blocks uint64) (uint64, error)
}
