// internal/chain/client.go
package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// maxTxVersion lets transaction lookups see versioned transactions.
var maxTxVersion uint64 = 1

// Client is a thin adapter over the Solana JSON-RPC API, shared by the
// engine, the swap providers and the relay confirmation poller.
type Client struct {
	pool   *rpcPool
	logger *zap.Logger
}

// NewClient creates a client rotating across the given RPC URLs.
func NewClient(urls []string, logger *zap.Logger) (*Client, error) {
	pool, err := newRPCPool(urls, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: logger.Named("chain"),
	}, nil
}

// GetBalance returns the lamport balance of pubkey.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.pool.execute(ctx, func(node *solanarpc.Client) error {
		result, err := node.GetBalance(ctx, pubkey, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		balance = result.Value
		return nil
	})
	return balance, err
}

// GetLatestBlockhash returns the most recent blockhash at confirmed
// commitment. Every transaction of a bundle is stamped with one shared
// result of this call.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.pool.execute(ctx, func(node *solanarpc.Client) error {
		result, err := node.GetLatestBlockhash(ctx, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		hash = result.Value.Blockhash
		return nil
	})
	return hash, err
}

// GetTokenAccountBalance returns the raw token amount and decimals of a
// token account (pool vaults, ATAs).
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error) {
	var (
		amount   uint64
		decimals uint8
	)
	err := c.pool.execute(ctx, func(node *solanarpc.Client) error {
		result, err := node.GetTokenAccountBalance(ctx, account, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if result.Value == nil {
			return fmt.Errorf("empty token balance for %s", account)
		}
		parsed, err := strconv.ParseUint(result.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("parse token amount: %w", err)
		}
		amount = parsed
		decimals = result.Value.Decimals
		return nil
	})
	return amount, decimals, err
}

// GetTokenBalance returns owner's balance of mint via the associated token
// account. A missing account reads as zero.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, uint8, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, 0, err
	}
	amount, decimals, err := c.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		if isNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	return amount, decimals, nil
}

// HasTokenAccount reports whether owner already has an associated token
// account for mint.
func (c *Client) HasTokenAccount(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return false, err
	}

	var exists bool
	err = c.pool.execute(ctx, func(node *solanarpc.Client) error {
		result, err := node.GetAccountInfo(ctx, ata)
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = result != nil && result.Value != nil
		return nil
	})
	return exists, err
}

// GetAccountData fetches an account's raw binary data.
func (c *Client) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	var data []byte
	err := c.pool.execute(ctx, func(node *solanarpc.Client) error {
		result, err := node.GetAccountInfo(ctx, pubkey)
		if err != nil {
			return err
		}
		if result == nil || result.Value == nil {
			return fmt.Errorf("account %s not found", pubkey)
		}
		data = result.Value.Data.GetBinary()
		return nil
	})
	return data, err
}

// HasTransaction reports whether the transaction with the given signature is
// observable at confirmed commitment.
func (c *Client) HasTransaction(ctx context.Context, sig solana.Signature) (bool, error) {
	var found bool
	err := c.pool.execute(ctx, func(node *solanarpc.Client) error {
		result, err := node.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Commitment:                     solanarpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxTxVersion,
		})
		if err != nil {
			if isNotFound(err) {
				found = false
				return nil
			}
			return err
		}
		found = result != nil
		return nil
	})
	return found, err
}

// SendTransaction submits a single signed transaction through the RPC.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.pool.execute(ctx, func(node *solanarpc.Client) error {
		s, err := node.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			MaxRetries: func() *uint { n := uint(3); return &n }(),
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	return sig, err
}

// ConfirmTransaction polls until sig is observable at confirmed commitment
// or the 30 second ceiling elapses.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			found, err := c.HasTransaction(ctx, sig)
			if err != nil {
				return struct{}{}, err
			}
			if !found {
				return struct{}{}, errors.New("transaction not yet confirmed")
			}
			return struct{}{}, nil
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(500*time.Millisecond)),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, solanarpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "could not find")
}
