// internal/chain/rpc_pool.go
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	retryAttempts = 2
	retryDelay    = 500 * time.Millisecond
	reqTimeout    = 10 * time.Second
)

var (
	ErrNoRPCNodes = fmt.Errorf("no RPC nodes available")
	ErrTimeout    = fmt.Errorf("request timeout")
)

// rpcPool rotates requests across the configured RPC nodes, retrying on the
// next node when one fails.
type rpcPool struct {
	nodes   []*solanarpc.Client
	urls    []string
	current int
	mu      sync.Mutex
	logger  *zap.Logger
}

func newRPCPool(urls []string, logger *zap.Logger) (*rpcPool, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}

	nodes := make([]*solanarpc.Client, len(urls))
	for i, url := range urls {
		nodes[i] = solanarpc.New(url)
	}

	return &rpcPool{
		nodes:  nodes,
		urls:   urls,
		logger: logger.Named("rpc-pool"),
	}, nil
}

// execute runs operation against the current node, rotating to the next node
// between attempts.
func (p *rpcPool) execute(ctx context.Context, operation func(*solanarpc.Client) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		select {
		case <-timeoutCtx.Done():
			return ErrTimeout
		default:
		}

		p.mu.Lock()
		node := p.nodes[p.current]
		url := p.urls[p.current]
		p.current = (p.current + 1) % len(p.nodes)
		p.mu.Unlock()

		err := operation(node)
		if err == nil {
			return nil
		}
		lastErr = err
		p.logger.Debug("RPC node error, rotating",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-timeoutCtx.Done():
			return ErrTimeout
		case <-time.After(retryDelay):
		}
	}
	return lastErr
}
