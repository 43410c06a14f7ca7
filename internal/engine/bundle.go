// internal/engine/bundle.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"solana-volume-bot/internal/jito"
	"solana-volume-bot/internal/swap"
	"solana-volume-bot/internal/wallet"
)

// ErrEmptyBundle is returned when every trade leg failed to build; nothing is
// submitted and the loop reschedules.
var ErrEmptyBundle = errors.New("no trade legs could be built")

// Operator fee split. The three fixed shares sum to 50 percent of the
// collected fee; the remainder goes to the referrer, who defaults to the
// first operator wallet.
const (
	feeShareTax1     = 0.20
	feeShareTax2     = 0.15
	feeShareTax3     = 0.15
	feeShareReferrer = 0.50
)

// cyclePlan is one assembled trading bundle, ready for submission.
type cyclePlan struct {
	txs []*solana.Transaction

	// volumeSol is the reported volume of the cycle in SOL: every leg's buy
	// amount counted twice, once for the buy and once for the matching sell.
	volumeSol float64
	// feeAmount is the collected fee in SOL, or in USDC when the pool is
	// quoted in it.
	feeAmount    float64
	stableQuoted bool
	legs         int
}

// buildCycleBundle assembles the buy/sell legs plus the closing fee and tip
// transaction. Every transaction is stamped with one shared blockhash
// immediately before signing, so the group is only valid together within a
// single ledger window.
//
// entries supplies one rotation wallet per intended leg; legs whose swap
// could not be built are skipped. referrer receives half the collected fee.
func (e *Engine) buildCycleBundle(
	ctx context.Context,
	dep *wallet.Wallet,
	pool *swap.Pool,
	provider swap.Provider,
	entries []*wallet.Entry,
	cycleSol float64,
	referrer solana.PublicKey,
) (*cyclePlan, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyBundle
	}

	solPrice := 0.0
	if pool.QuoteIsStable() {
		price, err := e.oracle.SolPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve SOL price: %w", err)
		}
		solPrice = price
	}

	// Residual tokens already sitting in the deposit wallet are folded into
	// the second leg's sell, once, then the carry is zeroed.
	carry, _, err := e.chain.GetTokenBalance(ctx, dep.PublicKey, pool.BaseMint)
	if err != nil {
		e.logger.Warn("Residual balance lookup failed, carrying zero", zap.Error(err))
		carry = 0
	}

	perLegSol := cycleSol / float64(len(entries))

	var (
		txs       []*solana.Transaction
		signers   [][]*wallet.Wallet
		volumeSol float64
		built     int
	)

	for i, entry := range entries {
		legSol := perLegSol * e.legFraction()

		var buyIn uint64
		if pool.QuoteIsStable() {
			buyIn = usdcUnits(legSol * solPrice)
		} else {
			buyIn = lamports(legSol)
		}
		if buyIn == 0 {
			continue
		}

		buyQuote, err := provider.QuoteAndBuild(ctx, pool, dep.PublicKey, buyIn, swap.DirectionBuy)
		if err != nil {
			e.logger.Warn("Buy leg skipped",
				zap.Int("leg", i),
				zap.String("wallet", entry.ID),
				zap.Error(err))
			continue
		}

		sellAmount := buyQuote.EstimatedOut
		if i == 1 && carry > 0 {
			sellAmount += carry
			carry = 0
		}

		sellQuote, err := provider.QuoteAndBuild(ctx, pool, dep.PublicKey, sellAmount, swap.DirectionSell)
		if err != nil {
			e.logger.Warn("Sell leg skipped",
				zap.Int("leg", i),
				zap.String("wallet", entry.ID),
				zap.Error(err))
			continue
		}

		// The rotation wallet pays the leg's transaction fees; the deposit
		// wallet owns the funds and co-signs the swap itself.
		buyTx, err := solana.NewTransaction(buyQuote.Instructions,
			solana.Hash{}, solana.TransactionPayer(entry.Wallet.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("build buy transaction: %w", err)
		}
		sellTx, err := solana.NewTransaction(sellQuote.Instructions,
			solana.Hash{}, solana.TransactionPayer(entry.Wallet.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("build sell transaction: %w", err)
		}

		txs = append(txs, buyTx, sellTx)
		signers = append(signers,
			[]*wallet.Wallet{entry.Wallet, dep},
			[]*wallet.Wallet{entry.Wallet, dep})

		if pool.QuoteIsStable() {
			volumeSol += 2 * legSol
		} else {
			volumeSol += 2 * float64(buyIn) / float64(solana.LAMPORTS_PER_SOL)
		}
		built++
	}

	if built == 0 {
		return nil, ErrEmptyBundle
	}

	feeTx, feeAmount, err := e.buildFeeTransaction(dep, pool, volumeSol, solPrice, referrer)
	if err != nil {
		return nil, err
	}
	txs = append(txs, feeTx)
	signers = append(signers, []*wallet.Wallet{dep})

	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}
	for i, tx := range txs {
		tx.Message.RecentBlockhash = blockhash
		for _, signer := range signers[i] {
			if err := signer.SignTransaction(tx); err != nil {
				return nil, fmt.Errorf("sign transaction %d: %w", i, err)
			}
		}
	}

	return &cyclePlan{
		txs:          txs,
		volumeSol:    volumeSol,
		feeAmount:    feeAmount,
		stableQuoted: pool.QuoteIsStable(),
		legs:         built,
	}, nil
}

// buildFeeTransaction produces the bundle's closing transaction: the relay
// tip plus the fee split across the operator wallets and the referrer. The
// deposit wallet pays it.
func (e *Engine) buildFeeTransaction(
	dep *wallet.Wallet,
	pool *swap.Pool,
	volumeSol float64,
	solPrice float64,
	referrer solana.PublicKey,
) (*solana.Transaction, float64, error) {
	instructions := []solana.Instruction{
		system.NewTransferInstruction(
			lamports(e.cfg.JitoTipSol),
			dep.PublicKey,
			jito.TipAccount(),
		).Build(),
	}

	var feeAmount float64
	if pool.QuoteIsStable() {
		// USD-quoted pools pay the whole fee in USDC to the first operator
		// wallet; the split stays an off-chain accounting concern there.
		feeAmount = volumeSol * solPrice * e.cfg.SwapFee
		feeUnits := usdcUnits(feeAmount)
		if feeUnits > 0 {
			source, err := dep.GetATA(swap.USDCMint)
			if err != nil {
				return nil, 0, err
			}
			dest, _, err := solana.FindAssociatedTokenAddress(e.cfg.TaxWallet1, swap.USDCMint)
			if err != nil {
				return nil, 0, err
			}
			instructions = append(instructions, token.NewTransferInstruction(
				feeUnits, source, dest, dep.PublicKey, nil,
			).Build())
		}
	} else {
		feeAmount = volumeSol * e.cfg.SwapFee
		feeLamports := lamports(feeAmount)
		shares := []struct {
			to       solana.PublicKey
			fraction float64
		}{
			{e.cfg.TaxWallet1, feeShareTax1},
			{e.cfg.TaxWallet2, feeShareTax2},
			{e.cfg.TaxWallet3, feeShareTax3},
			{referrer, feeShareReferrer},
		}
		for _, share := range shares {
			amount := uint64(float64(feeLamports) * share.fraction)
			if amount == 0 {
				continue
			}
			instructions = append(instructions,
				system.NewTransferInstruction(amount, dep.PublicKey, share.to).Build())
		}
	}

	tx, err := solana.NewTransaction(instructions,
		solana.Hash{}, solana.TransactionPayer(dep.PublicKey))
	if err != nil {
		return nil, 0, fmt.Errorf("build fee transaction: %w", err)
	}
	return tx, feeAmount, nil
}

// lamports converts SOL to lamports.
func lamports(sol float64) uint64 {
	return uint64(sol * float64(solana.LAMPORTS_PER_SOL))
}

const usdcDecimals = 1_000_000

// usdcUnits converts a USD amount to USDC base units.
func usdcUnits(usd float64) uint64 {
	return uint64(usd * usdcDecimals)
}
