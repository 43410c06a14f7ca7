// internal/engine/loop.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"solana-volume-bot/internal/storage/models"
	"solana-volume-bot/internal/swap"
	"solana-volume-bot/internal/wallet"
)

// randomLegFraction draws the per-leg trade size multiplier, 60 to 90
// percent of the leg's share of the cycle amount.
func randomLegFraction() float64 {
	return 0.60 + rand.Float64()*0.30
}

// legsFor returns the number of buy/sell legs per cycle for a pool type.
// DLMM pools spread the cycle across four wallets, every other variant
// trades with two.
func legsFor(t swap.PoolType) int {
	if t == swap.PoolDLMM {
		return 4
	}
	return 2
}

// tokenLoop is one token's trading loop. The loop exclusively owns the
// token's runtime ledger while it runs; at most one cycle is ever in flight.
type tokenLoop struct {
	chatID   string
	addr     string
	pool     *swap.Pool
	provider swap.Provider
	dep      *wallet.Wallet
	referrer solana.PublicKey

	cancel context.CancelFunc
	done   chan struct{}

	// lastCycle anchors the worked-time delta added to the ledger after
	// each successful cycle.
	lastCycle time.Time
}

// run drives cycles until the context is canceled. Each cycle attempts
// exactly one bundle submission; recoverable failures reschedule after the
// configured delay without touching the ledger.
func (lp *tokenLoop) run(ctx context.Context, e *Engine) {
	defer close(lp.done)

	timer := time.NewTimer(0) // first cycle fires immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay, stopped := lp.cycle(ctx, e)
		if stopped {
			return
		}
		timer.Reset(delay)
	}
}

// cycle runs one iteration: balance guard, wallet allocation, bundle build,
// submission and ledger update. It returns the delay before the next cycle
// and whether the loop auto-stopped.
func (lp *tokenLoop) cycle(ctx context.Context, e *Engine) (time.Duration, bool) {
	cycleID := uuid.NewString()[:8]
	log := e.logger.With(
		zap.String("cycle", cycleID),
		zap.String("chat_id", lp.chatID),
		zap.String("addr", lp.addr))

	token, err := e.store.GetToken(ctx, lp.chatID, lp.addr)
	if err != nil {
		log.Error("Token lookup failed, rescheduling", zap.Error(err))
		return 30 * time.Second, false
	}
	delay := token.Delay()

	// Balance guard: a deposit below the working threshold stops the bot,
	// with a notification. Adapter and relay failures further down never do.
	balance, err := e.chain.GetBalance(ctx, lp.dep.PublicKey)
	if err != nil {
		log.Warn("Balance lookup failed, rescheduling", zap.Error(err))
		return delay, false
	}
	if balance < lamports(e.cfg.MinWorkingBalance) {
		log.Info("Deposit below working threshold, stopping",
			zap.Uint64("balance", balance))
		e.notifier.Notify(ctx, lp.chatID, fmt.Sprintf(
			"Volume bot stopped for %s: deposit balance %.4f SOL is below the %.2f SOL working minimum.",
			token.Symbol,
			float64(balance)/float64(solana.LAMPORTS_PER_SOL),
			e.cfg.MinWorkingBalance))
		go e.stop(context.Background(), lp.chatID, lp.addr, true)
		return 0, true
	}

	// Never spend the cycle into the working reserve: the cycle amount is
	// clamped so the deposit keeps the minimum working balance.
	cycleSol := token.BuySellAmount
	maxSpend := float64(balance)/float64(solana.LAMPORTS_PER_SOL) - e.cfg.MinWorkingBalance
	if cycleSol > maxSpend {
		log.Debug("Cycle amount clamped to working reserve",
			zap.Float64("requested", cycleSol),
			zap.Float64("clamped", maxSpend))
		cycleSol = maxSpend
	}

	entries, didReset := e.pool.Allocate(lp.addr, legsFor(lp.pool.Type))
	if didReset {
		if err := e.store.ResetWalletUsage(ctx); err != nil {
			log.Error("Persisting rotation reset failed", zap.Error(err))
		}
		log.Debug("Rotation epoch reset")
	}
	for _, entry := range entries {
		e.pool.MarkUsed(entry, lp.addr)
		if err := e.store.MarkWalletUsed(ctx, entry.ID, lp.addr); err != nil {
			log.Error("Persisting wallet usage failed",
				zap.String("wallet", entry.ID), zap.Error(err))
		}
	}

	plan, err := e.buildCycleBundle(ctx, lp.dep, lp.pool, lp.provider, entries,
		cycleSol, lp.referrer)
	if err != nil {
		if errors.Is(err, ErrEmptyBundle) {
			log.Warn("Cycle skipped, nothing to submit")
		} else {
			log.Warn("Bundle build failed, rescheduling", zap.Error(err))
		}
		return delay, false
	}

	if err := e.relay.SubmitAndConfirm(ctx, plan.txs); err != nil {
		log.Warn("Bundle submission failed, rescheduling", zap.Error(err))
		return delay, false
	}

	// Ledger is touched only after a confirmed cycle.
	now := time.Now()
	worked := now.Sub(lp.lastCycle)
	lp.lastCycle = now
	if err := e.store.AddTokenVolume(ctx, lp.chatID, lp.addr, plan.volumeSol, worked, now); err != nil {
		log.Error("Ledger update failed", zap.Error(err))
	}
	if err := e.store.SaveTaxRecord(ctx, &models.TaxRecord{
		ChatID:    lp.chatID,
		Addr:      lp.addr,
		Amount:    plan.feeAmount,
		CreatedAt: now,
	}); err != nil {
		log.Error("Fee record write failed", zap.Error(err))
	}

	log.Info("Cycle confirmed",
		zap.Int("legs", plan.legs),
		zap.Float64("volume_sol", plan.volumeSol),
		zap.Float64("fee", plan.feeAmount),
		zap.Bool("stable_quoted", plan.stableQuoted),
		zap.Duration("next_in", delay))
	return delay, false
}
