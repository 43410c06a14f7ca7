// internal/swap/dlmm.go
package swap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Meteora DLMM (bin-based dynamic liquidity market maker).
var MeteoraDLMMProgram = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

const dlmmDefaultFeeBps = 20

type dlmmProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *dlmmProvider) Name() string { return "Meteora DLMM" }

// QuoteAndBuild prices against the pool's aggregate vault balances. Bin
// boundaries are not walked off-chain: the estimate feeds volume accounting
// while the program's minOut check guards the execution price.
func (p *dlmmProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	baseReserve, quoteReserve, err := readReserves(ctx, p.reader, pool)
	if err != nil {
		return nil, err
	}

	in, out := reserves(baseReserve, quoteReserve, direction)
	estimated := constantProductOut(in, out, amount, feeFactorFromBps(pool.FeeBps, dlmmDefaultFeeBps))
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
	}
	// Bin arrays, the oracle and the event authority come from the handle.
	for _, extra := range pool.Extra {
		metas = append(metas, solana.NewAccountMeta(extra, true, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(pool.BaseVault, true, false),
		solana.NewAccountMeta(pool.QuoteVault, true, false),
		solana.NewAccountMeta(userIn, true, false),
		solana.NewAccountMeta(userOut, true, false),
		solana.NewAccountMeta(pool.BaseMint, false, false),
		solana.NewAccountMeta(pool.QuoteMint, false, false),
		solana.NewAccountMeta(signer, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	)

	p.logger.Debug("Built DLMM swap",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(
			programID(pool, MeteoraDLMMProgram),
			metas,
			anchorSwapData(anchorSwapDiscriminator, amount, minOut),
		)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}
