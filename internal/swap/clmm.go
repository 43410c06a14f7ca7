// internal/swap/clmm.go
package swap

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Raydium CLMM (concentrated liquidity).
var RaydiumCLMMProgram = solana.MustPublicKeyFromBase58("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")

// Anchor discriminator of swap.
var anchorSwapDiscriminator = []byte{248, 198, 158, 145, 225, 117, 135, 200}

// CLMM pools carry their fee tier in the handle; 25 bps is the fallback for
// unresolved tiers.
const clmmDefaultFeeBps = 25

type clmmProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *clmmProvider) Name() string { return "Raydium CLMM" }

// QuoteAndBuild prices against the pool's vault balances. Within the active
// tick range that matches the constant-product estimate closely enough for
// volume sizing; the on-chain program enforces the exact concentrated math
// and the minOut bound protects against drift.
func (p *clmmProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	baseReserve, quoteReserve, err := readReserves(ctx, p.reader, pool)
	if err != nil {
		return nil, err
	}

	in, out := reserves(baseReserve, quoteReserve, direction)
	estimated := constantProductOut(in, out, amount, feeFactorFromBps(pool.FeeBps, clmmDefaultFeeBps))
	if estimated == 0 {
		return nil, ErrSwapUnavailable
	}
	minOut := withSlippage(estimated)

	userIn, userOut, err := userTokenAccounts(pool, signer, direction)
	if err != nil {
		return nil, err
	}

	inVault, outVault := pool.QuoteVault, pool.BaseVault
	if direction == DirectionSell {
		inVault, outVault = pool.BaseVault, pool.QuoteVault
	}

	metas := []*solana.AccountMeta{
		solana.NewAccountMeta(signer, true, true),
	}
	// Amm config, observation state and tick arrays come from the handle.
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
	)

	p.logger.Debug("Built CLMM swap",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(
			programID(pool, RaydiumCLMMProgram),
			metas,
			anchorSwapData(anchorSwapDiscriminator, amount, minOut),
		)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}
