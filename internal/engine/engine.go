// internal/engine/engine.go
// Package engine runs the per-token trading loops: wallet rotation, bundle
// assembly, relay submission and the volume ledger.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-volume-bot/internal/jito"
	"solana-volume-bot/internal/notify"
	"solana-volume-bot/internal/price"
	"solana-volume-bot/internal/storage"
	"solana-volume-bot/internal/storage/models"
	"solana-volume-bot/internal/swap"
	"solana-volume-bot/internal/wallet"
)

// baseTxFeeLamports is the flat signature fee of one transaction.
const baseTxFeeLamports = 5_000

// ChainClient is the slice of the RPC layer the engine uses.
type ChainClient interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, uint8, error)
	HasTokenAccount(ctx context.Context, owner, mint solana.PublicKey) (bool, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature) error
}

// BundleSubmitter sends a signed transaction group to the relay and waits for
// its confirmation.
type BundleSubmitter interface {
	SubmitAndConfirm(ctx context.Context, txs []*solana.Transaction) error
}

// ProviderFactory resolves the swap provider for a pool type.
type ProviderFactory func(t swap.PoolType) (swap.Provider, error)

// Config carries the trading parameters of the engine.
type Config struct {
	JitoTipSol        float64
	SwapFee           float64
	MinWorkingBalance float64

	TaxWallet1 solana.PublicKey
	TaxWallet2 solana.PublicKey
	TaxWallet3 solana.PublicKey
}

// Engine owns every running token loop. All mutable per-token runtime state
// lives in the loop that runs it; the engine's map only tracks which loops
// exist.
type Engine struct {
	cfg       Config
	store     storage.Store
	chain     ChainClient
	relay     BundleSubmitter
	pool      *wallet.Pool
	oracle    price.Oracle
	notifier  notify.Notifier
	providers ProviderFactory
	logger    *zap.Logger

	// legFraction randomizes each leg's trade size; replaced in tests.
	legFraction func() float64

	mu    sync.Mutex
	loops map[string]*tokenLoop
}

// New wires an engine from its collaborators.
func New(
	cfg Config,
	store storage.Store,
	chain ChainClient,
	relay BundleSubmitter,
	pool *wallet.Pool,
	oracle price.Oracle,
	notifier notify.Notifier,
	providers ProviderFactory,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		store:       store,
		chain:       chain,
		relay:       relay,
		pool:        pool,
		oracle:      oracle,
		notifier:    notifier,
		providers:   providers,
		logger:      logger.Named("engine"),
		legFraction: randomLegFraction,
		loops:       make(map[string]*tokenLoop),
	}
}

func loopKey(chatID, addr string) string {
	return chatID + ":" + addr
}

// StartBot starts the trading loop for chatID's token. Idempotent: starting
// an already running token reports success without side effects.
func (e *Engine) StartBot(ctx context.Context, chatID, addr string, pool *swap.Pool) ResultCode {
	key := loopKey(chatID, addr)

	e.mu.Lock()
	if _, running := e.loops[key]; running {
		e.mu.Unlock()
		return ResultSuccess
	}
	e.mu.Unlock()

	user, err := e.store.GetUser(ctx, chatID)
	if err != nil {
		e.logger.Error("User lookup failed", zap.String("chat_id", chatID), zap.Error(err))
		return ResultInternal
	}
	dep, err := wallet.New(user.DepositWallet)
	if err != nil {
		e.logger.Error("Deposit wallet is invalid", zap.String("chat_id", chatID), zap.Error(err))
		return ResultInternal
	}

	tokenRec, err := e.store.GetToken(ctx, chatID, addr)
	if err != nil {
		e.logger.Error("Token lookup failed", zap.String("addr", addr), zap.Error(err))
		return ResultInternal
	}

	balance, err := e.chain.GetBalance(ctx, dep.PublicKey)
	if err != nil {
		e.logger.Error("Balance lookup failed", zap.Error(err))
		return ResultInternal
	}
	if balance == 0 {
		return ResultInsufficientBalance
	}
	if balance < lamports(e.cfg.JitoTipSol)+baseTxFeeLamports {
		return ResultInsufficientRelayFee
	}
	if balance < lamports(e.cfg.MinWorkingBalance) {
		return ResultInsufficientWorkingBalance
	}

	if err := e.ensureTokenAccounts(ctx, dep, pool); err != nil {
		e.logger.Error("Token account setup failed", zap.Error(err))
		return ResultInternal
	}

	provider, err := e.providers(pool.Type)
	if err != nil {
		e.logger.Error("No provider for pool type", zap.String("pool_type", string(pool.Type)), zap.Error(err))
		return ResultInternal
	}

	now := time.Now()
	if err := e.store.SetTokenActive(ctx, chatID, addr, true, now); err != nil {
		e.logger.Error("Persisting active flag failed", zap.Error(err))
		return ResultInternal
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	lp := &tokenLoop{
		chatID:    chatID,
		addr:      addr,
		pool:      pool,
		provider:  provider,
		dep:       dep,
		referrer:  e.resolveReferrer(ctx, user),
		cancel:    cancel,
		done:      make(chan struct{}),
		lastCycle: now,
	}

	e.mu.Lock()
	if _, raced := e.loops[key]; raced {
		e.mu.Unlock()
		cancel()
		return ResultSuccess
	}
	e.loops[key] = lp
	e.mu.Unlock()

	go lp.run(loopCtx, e)

	e.logger.Info("Bot started",
		zap.String("chat_id", chatID),
		zap.String("token", tokenRec.Symbol),
		zap.String("addr", addr),
		zap.String("pool_type", string(pool.Type)))
	return ResultSuccess
}

// StopBot stops the token's loop, attempts a final liquidation of any
// residual token balance and persists the inactive state. Idempotent.
func (e *Engine) StopBot(ctx context.Context, chatID, addr string) {
	e.stop(ctx, chatID, addr, false)
}

func (e *Engine) stop(ctx context.Context, chatID, addr string, fromLoop bool) {
	key := loopKey(chatID, addr)

	e.mu.Lock()
	lp, running := e.loops[key]
	delete(e.loops, key)
	e.mu.Unlock()

	if !running {
		return
	}

	lp.cancel()
	if !fromLoop {
		// In-flight relay submissions are not cancelable; wait for the
		// cycle to run out before liquidating.
		<-lp.done
	}

	e.finalLiquidation(ctx, lp)

	if err := e.store.SetTokenActive(ctx, chatID, addr, false, time.Now()); err != nil {
		e.logger.Error("Persisting inactive flag failed",
			zap.String("addr", addr), zap.Error(err))
	}

	e.logger.Info("Bot stopped", zap.String("chat_id", chatID), zap.String("addr", addr))
}

// StopAll stops every running loop, used during shutdown.
func (e *Engine) StopAll(ctx context.Context) error {
	e.mu.Lock()
	keys := make([]string, 0, len(e.loops))
	loops := make(map[string]*tokenLoop, len(e.loops))
	for key, lp := range e.loops {
		keys = append(keys, key)
		loops[key] = lp
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		lp := loops[key]
		g.Go(func() error {
			e.stop(gctx, lp.chatID, lp.addr, false)
			return nil
		})
	}
	return g.Wait()
}

// Running reports whether a loop exists for the token.
func (e *Engine) Running(chatID, addr string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.loops[loopKey(chatID, addr)]
	return ok
}

// RegisterToken stores or updates a token's trading configuration.
func (e *Engine) RegisterToken(ctx context.Context, token *models.Token) error {
	if token.ChatID == "" || token.Addr == "" {
		return fmt.Errorf("token registration requires chat id and address")
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	return e.store.UpsertToken(ctx, token)
}

// SetTradeAmount updates the per-cycle SOL amount of a registered token.
func (e *Engine) SetTradeAmount(ctx context.Context, chatID, addr string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("trade amount must be positive")
	}
	token, err := e.store.GetToken(ctx, chatID, addr)
	if err != nil {
		return err
	}
	token.BuySellAmount = amount
	return e.store.UpsertToken(ctx, token)
}

// SetDelay updates the inter-cycle delay of a registered token.
func (e *Engine) SetDelay(ctx context.Context, chatID, addr string, seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("delay must be positive")
	}
	token, err := e.store.GetToken(ctx, chatID, addr)
	if err != nil {
		return err
	}
	token.DelaySeconds = seconds
	return e.store.UpsertToken(ctx, token)
}

// SetTargetVolume updates the volume goal of a registered token.
func (e *Engine) SetTargetVolume(ctx context.Context, chatID, addr string, target float64) error {
	if target <= 0 {
		return fmt.Errorf("target volume must be positive")
	}
	token, err := e.store.GetToken(ctx, chatID, addr)
	if err != nil {
		return err
	}
	token.TargetVolume = target
	return e.store.UpsertToken(ctx, token)
}

// resolveReferrer maps the user's referrer chat id to that referrer's
// deposit wallet. Without one on record, the share goes to the first
// operator wallet.
func (e *Engine) resolveReferrer(ctx context.Context, user *models.User) solana.PublicKey {
	if user.ReferredBy == "" {
		return e.cfg.TaxWallet1
	}
	ref, err := e.store.GetUser(ctx, user.ReferredBy)
	if err != nil {
		e.logger.Warn("Referrer lookup failed, fee share goes to operator",
			zap.String("referred_by", user.ReferredBy), zap.Error(err))
		return e.cfg.TaxWallet1
	}
	w, err := wallet.New(ref.DepositWallet)
	if err != nil {
		return e.cfg.TaxWallet1
	}
	return w.PublicKey
}

// ensureTokenAccounts creates the deposit wallet's missing associated token
// accounts for the traded mint (and USDC on stable-quoted pools).
func (e *Engine) ensureTokenAccounts(ctx context.Context, dep *wallet.Wallet, pool *swap.Pool) error {
	mints := []solana.PublicKey{pool.BaseMint}
	if pool.QuoteIsStable() {
		mints = append(mints, swap.USDCMint)
	}

	var instructions []solana.Instruction
	for _, mint := range mints {
		exists, err := e.chain.HasTokenAccount(ctx, dep.PublicKey, mint)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			dep.PublicKey, dep.PublicKey, mint,
		).Build())
	}
	if len(instructions) == 0 {
		return nil
	}

	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(dep.PublicKey))
	if err != nil {
		return err
	}
	if err := dep.SignTransaction(tx); err != nil {
		return err
	}
	sig, err := e.chain.SendTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("create token accounts: %w", err)
	}
	return e.chain.ConfirmTransaction(ctx, sig)
}

// finalLiquidation sells any residual token balance still held by the
// deposit wallet, as a sell plus tip-only fee transaction submitted through
// the relay. Best effort; failures are logged and ignored.
func (e *Engine) finalLiquidation(ctx context.Context, lp *tokenLoop) {
	balance, _, err := e.chain.GetTokenBalance(ctx, lp.dep.PublicKey, lp.pool.BaseMint)
	if err != nil || balance == 0 {
		return
	}

	quote, err := lp.provider.QuoteAndBuild(ctx, lp.pool, lp.dep.PublicKey, balance, swap.DirectionSell)
	if err != nil {
		e.logger.Warn("Final liquidation skipped", zap.String("addr", lp.addr), zap.Error(err))
		return
	}

	sellTx, err := solana.NewTransaction(quote.Instructions,
		solana.Hash{}, solana.TransactionPayer(lp.dep.PublicKey))
	if err != nil {
		return
	}
	tipTx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(
				lamports(e.cfg.JitoTipSol), lp.dep.PublicKey, jito.TipAccount(),
			).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(lp.dep.PublicKey),
	)
	if err != nil {
		return
	}

	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return
	}
	for _, tx := range []*solana.Transaction{sellTx, tipTx} {
		tx.Message.RecentBlockhash = blockhash
		if err := lp.dep.SignTransaction(tx); err != nil {
			return
		}
	}

	if err := e.relay.SubmitAndConfirm(ctx, []*solana.Transaction{sellTx, tipTx}); err != nil {
		e.logger.Warn("Final liquidation failed", zap.String("addr", lp.addr), zap.Error(err))
		return
	}
	e.logger.Info("Residual balance liquidated",
		zap.String("addr", lp.addr),
		zap.Uint64("amount", balance))
}
