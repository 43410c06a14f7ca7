// internal/swap/cpmm.go
package swap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Raydium CPMM (the OpenBook-free constant product program).
var RaydiumCPMMProgram = solana.MustPublicKeyFromBase58("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")

// Anchor discriminator of swap_base_input.
var cpmmSwapBaseInputDiscriminator = []byte{143, 190, 90, 218, 196, 30, 51, 222}

const cpmmDefaultFeeBps = 25

type cpmmProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *cpmmProvider) Name() string { return "Raydium CPMM" }

func (p *cpmmProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	baseReserve, quoteReserve, err := readReserves(ctx, p.reader, pool)
	if err != nil {
		return nil, err
	}

	in, out := reserves(baseReserve, quoteReserve, direction)
	estimated := constantProductOut(in, out, amount, feeFactorFromBps(pool.FeeBps, cpmmDefaultFeeBps))
	if estimated == 0 {
		return nil, ErrSwapUnavailable
	}
	minOut := withSlippage(estimated)

	userIn, userOut, err := userTokenAccounts(pool, signer, direction)
	if err != nil {
		return nil, err
	}

	inVault, outVault := pool.QuoteVault, pool.BaseVault
	inMint, outMint := pool.QuoteMint, pool.BaseMint
	if direction == DirectionSell {
		inVault, outVault = pool.BaseVault, pool.QuoteVault
		inMint, outMint = pool.BaseMint, pool.QuoteMint
	}

	metas := []*solana.AccountMeta{
		solana.NewAccountMeta(signer, true, true),
	}
	// Authority, amm config and observation state come from the handle.
	for _, extra := range pool.Extra {
		metas = append(metas, solana.NewAccountMeta(extra, true, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(pool.Address, true, false),
		solana.NewAccountMeta(userIn, true, false),
		solana.NewAccountMeta(userOut, true, false),
		solana.NewAccountMeta(inVault, true, false),
		solana.NewAccountMeta(outVault, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(inMint, false, false),
		solana.NewAccountMeta(outMint, false, false),
	)

	p.logger.Debug("Built CPMM swap",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(
			programID(pool, RaydiumCPMMProgram),
			metas,
			anchorSwapData(cpmmSwapBaseInputDiscriminator, amount, minOut),
		)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}
