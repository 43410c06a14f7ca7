// internal/swap/swap.go
// Package swap implements the per-pool-type swap providers. Each provider
// prices a trade against on-chain pool reserves and produces the instruction
// set for one buy or sell, leaving sequencing and submission to the engine.
package swap

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// PoolType enumerates the supported DEX pool mechanisms. The set is closed:
// dispatch happens through ForPool, not string comparison at call sites.
type PoolType string

const (
	PoolAMM               PoolType = "amm"      // Raydium AMM v4
	PoolCPMM              PoolType = "cpmm"     // Raydium CPMM
	PoolCLMM              PoolType = "clmm"     // Raydium concentrated liquidity
	PoolDLMM              PoolType = "dlmm"     // Meteora dynamic liquidity market maker
	PoolDynamic           PoolType = "dyn"      // Meteora dynamic AMM
	PoolBondingCurve      PoolType = "pumpfun"  // pump.fun bonding curve
	PoolConstantProductV2 PoolType = "pumpswap" // pump.swap constant product
)

// ParsePoolType maps a stored tag to a PoolType.
func ParsePoolType(tag string) (PoolType, error) {
	switch PoolType(tag) {
	case PoolAMM, PoolCPMM, PoolCLMM, PoolDLMM, PoolDynamic, PoolBondingCurve, PoolConstantProductV2:
		return PoolType(tag), nil
	default:
		return "", fmt.Errorf("unknown pool type %q", tag)
	}
}

// Direction of a trade relative to the pool's base token.
type Direction int

const (
	DirectionBuy  Direction = iota // quote in, base out
	DirectionSell                  // base in, quote out
)

func (d Direction) String() string {
	if d == DirectionBuy {
		return "buy"
	}
	return "sell"
}

// USDCMint is the canonical USDC mint; pools quoted in it price fees in USD.
var USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

// Pool is the resolved reference handle of one tradeable pool. The engine
// treats it as opaque; only the providers interpret it.
type Pool struct {
	Type      PoolType
	Address   solana.PublicKey
	ProgramID solana.PublicKey

	BaseMint      solana.PublicKey
	QuoteMint     solana.PublicKey
	BaseVault     solana.PublicKey
	QuoteVault    solana.PublicKey
	BaseDecimals  uint8
	QuoteDecimals uint8

	// FeeBps overrides the variant's default pool fee when non-zero
	// (CLMM fee tiers, DLMM bin fees).
	FeeBps uint16

	// Extra accounts the variant's swap instruction requires, in program
	// order (authorities, tick arrays, oracles, open-book market accounts).
	Extra []solana.PublicKey
}

// QuoteIsStable reports whether the pool's quote side is USDC rather than
// wrapped SOL; volume and fees are then priced through the SOL/USD oracle.
func (p *Pool) QuoteIsStable() bool {
	return p.QuoteMint.Equals(USDCMint)
}

// Quote is the result of pricing and building one swap.
type Quote struct {
	Instructions []solana.Instruction
	// EstimatedOut is the expected output in base units of the out token.
	EstimatedOut uint64
	// MinOut is EstimatedOut after slippage tolerance; encoded into the
	// swap instruction.
	MinOut uint64
}

// ErrSwapUnavailable marks a recoverable provider failure: the cycle is
// abandoned and the loop reschedules without touching the ledger.
var ErrSwapUnavailable = errors.New("swap unavailable")

// Provider builds priced swap instructions for one pool type.
type Provider interface {
	Name() string
	// QuoteAndBuild prices amount (base units of the in-token) against pool
	// and returns the instruction set for signer. amount must be positive.
	QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error)
}

// ReserveReader is the slice of the chain client the providers need.
type ReserveReader interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, uint8, error)
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
}

// ForPool returns the provider implementing the given pool type.
func ForPool(t PoolType, reader ReserveReader, logger *zap.Logger) (Provider, error) {
	switch t {
	case PoolAMM:
		return &ammProvider{reader: reader, logger: logger.Named("amm")}, nil
	case PoolCPMM:
		return &cpmmProvider{reader: reader, logger: logger.Named("cpmm")}, nil
	case PoolCLMM:
		return &clmmProvider{reader: reader, logger: logger.Named("clmm")}, nil
	case PoolDLMM:
		return &dlmmProvider{reader: reader, logger: logger.Named("dlmm")}, nil
	case PoolDynamic:
		return &dynProvider{reader: reader, logger: logger.Named("dyn")}, nil
	case PoolBondingCurve:
		return &pumpfunProvider{reader: reader, logger: logger.Named("pumpfun")}, nil
	case PoolConstantProductV2:
		return &pumpswapProvider{reader: reader, logger: logger.Named("pumpswap")}, nil
	default:
		return nil, fmt.Errorf("pool type %q is not supported", t)
	}
}
