// internal/swap/pumpswap.go
package swap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// pump.swap constant product pools (graduated pump.fun tokens).
var PumpSwapProgram = solana.MustPublicKeyFromBase58("pAMMBay6oceH9fJKBRHGP5D4bD4sWpmSwMn52FMfXEA")

var (
	pumpswapBuyDiscriminator  = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	pumpswapSellDiscriminator = []byte{51, 230, 133, 164, 1, 127, 131, 173}
)

const pumpswapDefaultFeeBps = 25

type pumpswapProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *pumpswapProvider) Name() string { return "Pump.swap" }

func (p *pumpswapProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	baseReserve, quoteReserve, err := readReserves(ctx, p.reader, pool)
	if err != nil {
		return nil, err
	}

	in, out := reserves(baseReserve, quoteReserve, direction)
	estimated := constantProductOut(in, out, amount, feeFactorFromBps(pool.FeeBps, pumpswapDefaultFeeBps))
	if estimated == 0 {
		return nil, ErrSwapUnavailable
	}
	minOut := withSlippage(estimated)

	userBase, _, err := solana.FindAssociatedTokenAddress(signer, pool.BaseMint)
	if err != nil {
		return nil, err
	}
	userQuote, _, err := solana.FindAssociatedTokenAddress(signer, pool.QuoteMint)
	if err != nil {
		return nil, err
	}

	// Buy encodes (baseAmountOut, maxQuoteAmountIn); sell
	// (baseAmountIn, minQuoteAmountOut).
	var data []byte
	if direction == DirectionBuy {
		maxQuoteIn := uint64(float64(amount) * (1.0 + slippagePercent/100.0))
		data = anchorSwapData(pumpswapBuyDiscriminator, estimated, maxQuoteIn)
	} else {
		data = anchorSwapData(pumpswapSellDiscriminator, amount, minOut)
	}

	metas := []*solana.AccountMeta{
		solana.NewAccountMeta(pool.Address, false, false),
		solana.NewAccountMeta(signer, true, true),
	}
	// Global config, protocol fee recipient accounts and the event
	// authority come from the handle.
	for _, extra := range pool.Extra {
		metas = append(metas, solana.NewAccountMeta(extra, true, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(pool.BaseMint, false, false),
		solana.NewAccountMeta(pool.QuoteMint, false, false),
		solana.NewAccountMeta(userBase, true, false),
		solana.NewAccountMeta(userQuote, true, false),
		solana.NewAccountMeta(pool.BaseVault, true, false),
		solana.NewAccountMeta(pool.QuoteVault, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
	)

	p.logger.Debug("Built pump.swap trade",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(
			programID(pool, PumpSwapProgram),
			metas,
			data,
		)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}
