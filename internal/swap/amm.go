// internal/swap/amm.go
package swap

import (
	"context"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Raydium AMM v4 (legacy liquidity pools over an OpenBook market).
var RaydiumAMMProgram = solana.MustPublicKeyFromBase58("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")

const (
	ammSwapBaseInTag = 9 // legacy single-byte instruction tag
	ammDefaultFeeBps = 25
)

type ammProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *ammProvider) Name() string { return "Raydium AMM" }

func (p *ammProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	baseReserve, quoteReserve, err := readReserves(ctx, p.reader, pool)
	if err != nil {
		return nil, err
	}

	in, out := reserves(baseReserve, quoteReserve, direction)
	estimated := constantProductOut(in, out, amount, feeFactorFromBps(pool.FeeBps, ammDefaultFeeBps))
	if estimated == 0 {
		return nil, ErrSwapUnavailable
	}
	minOut := withSlippage(estimated)

	userIn, userOut, err := userTokenAccounts(pool, signer, direction)
	if err != nil {
		return nil, err
	}

	// Legacy layout: tag byte then two u64s.
	data := make([]byte, 1+8+8)
	data[0] = ammSwapBaseInTag
	binary.LittleEndian.PutUint64(data[1:9], amount)
	binary.LittleEndian.PutUint64(data[9:17], minOut)

	metas := []*solana.AccountMeta{
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(pool.Address, true, false),
	}
	// Pool authority, open orders, target orders, vaults and the OpenBook
	// market accounts travel in the resolved handle, in program order.
	for _, extra := range pool.Extra {
		metas = append(metas, solana.NewAccountMeta(extra, true, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(pool.BaseVault, true, false),
		solana.NewAccountMeta(pool.QuoteVault, true, false),
		solana.NewAccountMeta(userIn, true, false),
		solana.NewAccountMeta(userOut, true, false),
		solana.NewAccountMeta(signer, true, true),
	)

	p.logger.Debug("Built AMM swap",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(programID(pool, RaydiumAMMProgram), metas, data)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}

// programID prefers the handle's program over the variant default, so forks
// sharing a layout stay tradeable.
func programID(pool *Pool, fallback solana.PublicKey) solana.PublicKey {
	if !pool.ProgramID.IsZero() {
		return pool.ProgramID
	}
	return fallback
}
