// internal/swap/dynamic.go
package swap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Meteora dynamic AMM (vault-backed constant product pools).
var MeteoraDynamicProgram = solana.MustPublicKeyFromBase58("Eo7WjKq67rjJQSZxS6z3YkapzY3eMj6Xy8X5EQVn5UaB")

const dynDefaultFeeBps = 25

type dynProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *dynProvider) Name() string { return "Meteora Dynamic" }

func (p *dynProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	baseReserve, quoteReserve, err := readReserves(ctx, p.reader, pool)
	if err != nil {
		return nil, err
	}

	in, out := reserves(baseReserve, quoteReserve, direction)
	estimated := constantProductOut(in, out, amount, feeFactorFromBps(pool.FeeBps, dynDefaultFeeBps))
	if estimated == 0 {
		return nil, ErrSwapUnavailable
	}
	minOut := withSlippage(estimated)

	userIn, userOut, err := userTokenAccounts(pool, signer, direction)
	if err != nil {
		return nil, err
	}

	metas := []*solana.AccountMeta{
		solana.NewAccountMeta(pool.Address, true, false),
		solana.NewAccountMeta(userIn, true, false),
		solana.NewAccountMeta(userOut, true, false),
	}
	// Vault program accounts (a/b vaults, LP mints, fee accounts) come from
	// the handle.
	for _, extra := range pool.Extra {
		metas = append(metas, solana.NewAccountMeta(extra, true, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(pool.BaseVault, true, false),
		solana.NewAccountMeta(pool.QuoteVault, true, false),
		solana.NewAccountMeta(signer, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	)

	p.logger.Debug("Built dynamic AMM swap",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(
			programID(pool, MeteoraDynamicProgram),
			metas,
			anchorSwapData(anchorSwapDiscriminator, amount, minOut),
		)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}
