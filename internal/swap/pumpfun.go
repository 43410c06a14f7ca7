// internal/swap/pumpfun.go
package swap

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// pump.fun bonding curve program.
var PumpFunProgram = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

// Anchor discriminators of buy and sell.
var (
	pumpfunBuyDiscriminator  = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	pumpfunSellDiscriminator = []byte{51, 230, 133, 164, 1, 127, 131, 173}
)

const pumpfunDefaultFeeBps = 100

// bondingCurveState is the on-chain layout of a pump.fun bonding curve
// account, discriminator included.
type bondingCurveState struct {
	Discriminator        [8]byte
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

type pumpfunProvider struct {
	reader ReserveReader
	logger *zap.Logger
}

func (p *pumpfunProvider) Name() string { return "Pump.fun" }

// QuoteAndBuild prices against the curve's virtual reserves. The pool handle
// addresses the bonding curve account itself; there are no vault token
// accounts on this variant.
func (p *pumpfunProvider) QuoteAndBuild(ctx context.Context, pool *Pool, signer solana.PublicKey, amount uint64, direction Direction) (*Quote, error) {
	if err := validateTrade(pool, amount); err != nil {
		return nil, err
	}

	raw, err := p.reader.GetAccountData(ctx, pool.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: bonding curve state: %v", ErrSwapUnavailable, err)
	}
	var curve bondingCurveState
	if err := bin.NewBorshDecoder(raw).Decode(&curve); err != nil {
		return nil, fmt.Errorf("%w: decode bonding curve: %v", ErrSwapUnavailable, err)
	}
	if curve.Complete {
		return nil, fmt.Errorf("%w: bonding curve is complete, token has graduated", ErrSwapUnavailable)
	}
	if curve.VirtualSolReserves == 0 || curve.VirtualTokenReserves == 0 {
		return nil, ErrSwapUnavailable
	}

	feeFactor := feeFactorFromBps(pool.FeeBps, pumpfunDefaultFeeBps)

	var estimated uint64
	if direction == DirectionBuy {
		estimated = constantProductOut(curve.VirtualSolReserves, curve.VirtualTokenReserves, amount, feeFactor)
	} else {
		estimated = constantProductOut(curve.VirtualTokenReserves, curve.VirtualSolReserves, amount, feeFactor)
	}
	if estimated == 0 {
		return nil, ErrSwapUnavailable
	}

	userATA, _, err := solana.FindAssociatedTokenAddress(signer, pool.BaseMint)
	if err != nil {
		return nil, err
	}

	// Buy encodes (tokenAmountOut, maxSolCost); sell (tokenAmountIn,
	// minSolOutput).
	var data []byte
	var minOut uint64
	if direction == DirectionBuy {
		minOut = withSlippage(estimated)
		maxSolCost := uint64(float64(amount) * (1.0 + slippagePercent/100.0))
		data = anchorSwapData(pumpfunBuyDiscriminator, estimated, maxSolCost)
	} else {
		minOut = withSlippage(estimated)
		data = anchorSwapData(pumpfunSellDiscriminator, amount, minOut)
	}

	metas := make([]*solana.AccountMeta, 0, len(pool.Extra)+8)
	// Global state, fee recipient, associated bonding curve and event
	// authority come from the handle.
	for _, extra := range pool.Extra {
		metas = append(metas, solana.NewAccountMeta(extra, true, false))
	}
	metas = append(metas,
		solana.NewAccountMeta(pool.BaseMint, false, false),
		solana.NewAccountMeta(pool.Address, true, false),
		solana.NewAccountMeta(userATA, true, false),
		solana.NewAccountMeta(signer, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	)

	p.logger.Debug("Built bonding curve swap",
		zap.String("direction", direction.String()),
		zap.Uint64("amount_in", amount),
		zap.Uint64("estimated_out", estimated),
		zap.Uint64("virtual_sol", curve.VirtualSolReserves),
		zap.Uint64("virtual_tokens", curve.VirtualTokenReserves))

	return &Quote{
		Instructions: []solana.Instruction{solana.NewInstruction(
			programID(pool, PumpFunProgram),
			metas,
			data,
		)},
		EstimatedOut: estimated,
		MinOut:       minOut,
	}, nil
}
