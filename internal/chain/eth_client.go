package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// EthBlockSource reads the block height from an Ethereum JSON-RPC node.
type EthBlockSource struct {
	client *ethclient.Client

	mu   sync.Mutex
	last uint64
}

type EthClientConfig struct {
	RPCURL string
}

func NewEthBlockSource(ctx context.Context, cfg EthClientConfig) (*EthBlockSource, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &EthBlockSource{client: cli}, nil
}

// BlockNumber returns the node's head. A node that reports a lower head
// than one seen before (a reorg or a lagging replica behind a balancer) is
// clamped to the highest height observed.
func (s *EthBlockSource) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := s.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch block number: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.last {
		s.last = n
	}
	return s.last, nil
}

func (s *EthBlockSource) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := s.client.BlockNumber(ctx)
	return err
}

func (s *EthBlockSource) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
