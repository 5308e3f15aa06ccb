// Package host is the execution context around the escrow engine. It runs
// one operation at a time, supplies the current block height, and logs
// outcomes. The engine itself never locks.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"commodrails/internal/chain"
	"commodrails/internal/config"
	"commodrails/internal/escrow"
)

// Host serializes access to a Registry and its Ledger.
type Host struct {
	mu        sync.Mutex
	lastBlock escrow.BlockIndex
	registry  *escrow.Registry
	ledger    *escrow.Ledger
	blocks    chain.BlockSource
	retry     config.RetryConfig
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

func New(registry *escrow.Registry, blocks chain.BlockSource, retry config.RetryConfig, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		registry: registry,
		ledger:   registry.Ledger(),
		blocks:   blocks,
		retry:    retry,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Blocks returns the block source the host reads heights from.
func (h *Host) Blocks() chain.BlockSource { return h.blocks }

// CreateRequest carries the terms of a new listing.
type CreateRequest struct {
	Price         escrow.Amount
	Total         escrow.Amount
	Quantity      escrow.Quantity
	FinalityBlock escrow.BlockIndex
}

func (h *Host) CreateContract(ctx context.Context, caller common.Address, req CreateRequest) (escrow.ContractID, error) {
	var id escrow.ContractID
	err := h.exec(ctx, "create_contract", caller, func(block escrow.BlockIndex) error {
		var err error
		id, err = h.registry.Create(caller, req.Price, req.Total, req.Quantity, req.FinalityBlock, block)
		return err
	})
	return id, err
}

func (h *Host) BuyContract(ctx context.Context, caller common.Address, id escrow.ContractID) error {
	return h.exec(ctx, "buy_contract", caller, func(block escrow.BlockIndex) error {
		return h.registry.Buy(caller, id, block)
	})
}

func (h *Host) FinalizeContract(ctx context.Context, caller common.Address, id escrow.ContractID) error {
	return h.exec(ctx, "finalize_contract", caller, func(block escrow.BlockIndex) error {
		return h.registry.Finalize(caller, id, block)
	})
}

func (h *Host) Transfer(ctx context.Context, caller, to common.Address, amount escrow.Amount) error {
	return h.exec(ctx, "transfer", caller, func(escrow.BlockIndex) error {
		return h.ledger.Transfer(caller, to, amount)
	})
}

func (h *Host) TransferFrom(ctx context.Context, caller, owner, to common.Address, amount escrow.Amount) error {
	return h.exec(ctx, "transfer_from", caller, func(escrow.BlockIndex) error {
		return h.ledger.TransferFrom(caller, owner, to, amount)
	})
}

func (h *Host) Approve(ctx context.Context, caller, spender common.Address, amount escrow.Amount) error {
	return h.exec(ctx, "approve", caller, func(escrow.BlockIndex) error {
		h.ledger.Approve(caller, spender, amount)
		return nil
	})
}

// exec reads the current block height, then runs fn under the host lock.
// The height seen by operations never decreases.
func (h *Host) exec(ctx context.Context, op string, caller common.Address, fn func(escrow.BlockIndex) error) error {
	read, err := h.currentBlock(ctx)
	if err != nil {
		h.logger.Warn("block height unavailable", zap.String("op", op), zap.Error(err))
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Heights are read outside the lock, so a slower reader may come back
	// with an older one than an operation already applied.
	block := max(read, h.lastBlock)
	h.lastBlock = block

	err = fn(block)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("caller", caller.Hex()),
		zap.Uint64("block", uint64(block)),
	}
	switch {
	case err == nil:
		h.logger.Info("operation applied", fields...)
	case escrow.IsFatal(err):
		h.logger.Error("ledger invariant violated", append(fields, zap.Error(err))...)
	default:
		h.logger.Info("operation rejected", append(fields, zap.String("code", escrow.CodeOf(err)))...)
	}
	return err
}

// currentBlock reads the block height, retrying transient source failures
// with exponential backoff. Engine errors are never retried.
func (h *Host) currentBlock(ctx context.Context) (escrow.BlockIndex, error) {
	attempts := h.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	backoff := h.retry.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		n, err := h.blocks.BlockNumber(ctx)
		if err == nil {
			return escrow.BlockIndex(n), nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || i == attempts {
			break
		}

		sleep := backoff
		if h.retry.MaxBackoff > 0 && sleep > h.retry.MaxBackoff {
			sleep = h.retry.MaxBackoff
		}
		if err := h.sleep(ctx, sleep); err != nil {
			return 0, err
		}
		if h.retry.BackoffMultiplier > 1 {
			backoff = backoff * time.Duration(h.retry.BackoffMultiplier)
		}
	}
	return 0, fmt.Errorf("read block height: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
