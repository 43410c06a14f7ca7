package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"solana-volume-bot/internal/storage"
	"solana-volume-bot/internal/storage/models"
	"solana-volume-bot/internal/swap"
	"solana-volume-bot/internal/wallet"
)

// ---- collaborator fakes ----

type memStore struct {
	mu      sync.Mutex
	users   map[string]*models.User
	tokens  map[string]*models.Token
	wallets map[string]*models.WalletRecord
	taxes   []*models.TaxRecord

	volumeAdds  int
	addedVolume float64
	resets      int
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*models.User),
		tokens:  make(map[string]*models.Token),
		wallets: make(map[string]*models.WalletRecord),
	}
}

func tokenKey(chatID, addr string) string { return chatID + ":" + addr }

func (s *memStore) GetUser(_ context.Context, chatID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

func (s *memStore) UpsertUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ChatID] = user
	return nil
}

func (s *memStore) GetToken(_ context.Context, chatID, addr string) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenKey(chatID, addr)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *tok
	return &clone, nil
}

func (s *memStore) UpsertToken(_ context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(token.ChatID, token.Addr)] = token
	return nil
}

func (s *memStore) SetTokenActive(_ context.Context, chatID, addr string, active bool, lastWorked time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[tokenKey(chatID, addr)]; ok {
		tok.Active = active
		tok.LastWorkedTime = lastWorked
	}
	return nil
}

func (s *memStore) AddTokenVolume(_ context.Context, chatID, addr string, volume float64, worked time.Duration, lastWorked time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeAdds++
	s.addedVolume += volume
	if tok, ok := s.tokens[tokenKey(chatID, addr)]; ok {
		tok.CurrentVolume += volume
		tok.WorkingTime += worked.Milliseconds()
		tok.LastWorkedTime = lastWorked
	}
	return nil
}

func (s *memStore) ListWallets(_ context.Context, limit int) ([]*models.WalletRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.WalletRecord, 0, limit)
	for _, rec := range s.wallets {
		if len(out) >= limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *memStore) SaveWallet(_ context.Context, record *models.WalletRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[record.ID] = record
	return nil
}

func (s *memStore) MarkWalletUsed(_ context.Context, id, tokenAddr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.wallets[id]; ok {
		rec.UsedTokens = append(rec.UsedTokens, tokenAddr)
	}
	return nil
}

func (s *memStore) ResetWalletUsage(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	for _, rec := range s.wallets {
		rec.UsedTokens = nil
	}
	return nil
}

func (s *memStore) SaveTaxRecord(_ context.Context, record *models.TaxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxes = append(s.taxes, record)
	return nil
}

func (s *memStore) Close(context.Context) error { return nil }

func (s *memStore) tokenState(chatID, addr string) models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tokens[tokenKey(chatID, addr)]
}

func (s *memStore) volumeStats() (int, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volumeAdds, s.addedVolume
}

type mockChain struct {
	mu           sync.Mutex
	balances     []uint64 // consumed per GetBalance call, last value repeats
	tokenBalance uint64
	sent         []*solana.Transaction
}

func (c *mockChain) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.balances) == 0 {
		return 0, nil
	}
	balance := c.balances[0]
	if len(c.balances) > 1 {
		c.balances = c.balances[1:]
	}
	return balance, nil
}

func (c *mockChain) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1}, nil
}

func (c *mockChain) GetTokenBalance(context.Context, solana.PublicKey, solana.PublicKey) (uint64, uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenBalance, 9, nil
}

func (c *mockChain) HasTokenAccount(context.Context, solana.PublicKey, solana.PublicKey) (bool, error) {
	return true, nil
}

func (c *mockChain) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return solana.Signature{1}, nil
}

func (c *mockChain) ConfirmTransaction(context.Context, solana.Signature) error { return nil }

type mockRelay struct {
	mu          sync.Mutex
	err         error
	submissions [][]*solana.Transaction
}

func (r *mockRelay) SubmitAndConfirm(_ context.Context, txs []*solana.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.submissions = append(r.submissions, txs)
	return nil
}

func (r *mockRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submissions)
}

type provCall struct {
	amount    uint64
	direction swap.Direction
}

type fakeProvider struct {
	mu    sync.Mutex
	err   error
	calls []provCall
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) QuoteAndBuild(_ context.Context, _ *swap.Pool, signer solana.PublicKey, amount uint64, direction swap.Direction) (*swap.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.calls = append(p.calls, provCall{amount: amount, direction: direction})
	return &swap.Quote{
		Instructions: []solana.Instruction{
			system.NewTransferInstruction(1, signer, solana.NewWallet().PublicKey()).Build(),
		},
		EstimatedOut: amount * 2,
		MinOut:       amount * 2 * 95 / 100,
	}, nil
}

func (p *fakeProvider) recorded() []provCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provCall, len(p.calls))
	copy(out, p.calls)
	return out
}

type fixedOracle struct{ usd float64 }

func (o fixedOracle) SolPrice(context.Context) (float64, error) { return o.usd, nil }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, _, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// ---- fixtures ----

const (
	testChatID = "chat-1"
	testAddr   = "TokenMint1111111111111111111111111111111111"
)

type fixture struct {
	engine   *Engine
	store    *memStore
	chain    *mockChain
	relay    *mockRelay
	provider *fakeProvider
	notifier *recordingNotifier
	dep      *wallet.Wallet
	pool     *swap.Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	chain := &mockChain{balances: []uint64{solana.LAMPORTS_PER_SOL}} // 1 SOL
	relay := &mockRelay{}
	provider := &fakeProvider{}
	notifier := &recordingNotifier{}

	dep := wallet.Generate()
	store.users[testChatID] = &models.User{
		ChatID:        testChatID,
		DepositWallet: dep.PrivateKey.String(),
	}
	store.tokens[tokenKey(testChatID, testAddr)] = &models.Token{
		ChatID:        testChatID,
		Addr:          testAddr,
		Symbol:        "TKN",
		BuySellAmount: 0.4,
		DelaySeconds:  30,
	}

	keys := make([]string, 4)
	for i := range keys {
		keys[i] = solana.NewWallet().PrivateKey.String()
	}
	pool, err := wallet.NewPool(keys)
	require.NoError(t, err)

	cfg := Config{
		JitoTipSol:        0.0001,
		SwapFee:           0.005,
		MinWorkingBalance: 0.1,
		TaxWallet1:        solana.NewWallet().PublicKey(),
		TaxWallet2:        solana.NewWallet().PublicKey(),
		TaxWallet3:        solana.NewWallet().PublicKey(),
	}

	eng := New(cfg, store, chain, relay, pool, fixedOracle{usd: 100}, notifier,
		func(swap.PoolType) (swap.Provider, error) { return provider, nil },
		zaptest.NewLogger(t))
	eng.legFraction = func() float64 { return 0.75 }

	return &fixture{
		engine:   eng,
		store:    store,
		chain:    chain,
		relay:    relay,
		provider: provider,
		notifier: notifier,
		dep:      dep,
		pool: &swap.Pool{
			Type:       swap.PoolAMM,
			Address:    solana.NewWallet().PublicKey(),
			BaseMint:   solana.NewWallet().PublicKey(),
			QuoteMint:  solana.SolMint,
			BaseVault:  solana.NewWallet().PublicKey(),
			QuoteVault: solana.NewWallet().PublicKey(),
		},
	}
}

func (f *fixture) allocate(t *testing.T, count int) []*wallet.Entry {
	t.Helper()
	entries, _ := f.engine.pool.Allocate(testAddr, count)
	require.Len(t, entries, count)
	return entries
}

// ---- bundle builder ----

func TestBuildCycleBundleComposition(t *testing.T) {
	f := newFixture(t)
	entries := f.allocate(t, 2)

	plan, err := f.engine.buildCycleBundle(context.Background(), f.dep, f.pool,
		f.provider, entries, 0.4, f.engine.cfg.TaxWallet1)
	require.NoError(t, err)

	// Two legs of buy+sell plus the fee transaction.
	assert.Len(t, plan.txs, 5)
	assert.Equal(t, 2, plan.legs)

	// Each leg buys 0.4/2 × 0.75 = 0.15 SOL; buy and sell both count.
	assert.InDelta(t, 0.6, plan.volumeSol, 1e-9)
	assert.InDelta(t, 0.6*0.005, plan.feeAmount, 1e-9)
	assert.False(t, plan.stableQuoted)

	// Shared blockhash on every transaction, signed.
	for _, tx := range plan.txs {
		assert.Equal(t, solana.Hash{1}, tx.Message.RecentBlockhash)
		assert.NotEmpty(t, tx.Signatures)
	}

	calls := f.provider.recorded()
	require.Len(t, calls, 4)
	legBuy := uint64(0.4 / 2 * 0.75 * float64(solana.LAMPORTS_PER_SOL))
	assert.Equal(t, provCall{legBuy, swap.DirectionBuy}, calls[0])
	assert.Equal(t, provCall{legBuy * 2, swap.DirectionSell}, calls[1])
}

func TestBuildCycleBundleCarriesResidualOnce(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance = 500 // residual tokens in the deposit wallet
	entries := f.allocate(t, 2)

	_, err := f.engine.buildCycleBundle(context.Background(), f.dep, f.pool,
		f.provider, entries, 0.4, f.engine.cfg.TaxWallet1)
	require.NoError(t, err)

	calls := f.provider.recorded()
	require.Len(t, calls, 4)
	legBuy := uint64(0.4 / 2 * 0.75 * float64(solana.LAMPORTS_PER_SOL))
	// Leg 0 sells its own output; the carry folds into leg 1, once.
	assert.Equal(t, legBuy*2, calls[1].amount)
	assert.Equal(t, legBuy*2+500, calls[3].amount)
}

func TestBuildCycleBundleEmpty(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("pool math broke")
	entries := f.allocate(t, 2)

	_, err := f.engine.buildCycleBundle(context.Background(), f.dep, f.pool,
		f.provider, entries, 0.4, f.engine.cfg.TaxWallet1)
	require.ErrorIs(t, err, ErrEmptyBundle)
}

func TestBuildCycleBundleStableQuoted(t *testing.T) {
	f := newFixture(t)
	f.pool.QuoteMint = swap.USDCMint
	entries := f.allocate(t, 2)

	plan, err := f.engine.buildCycleBundle(context.Background(), f.dep, f.pool,
		f.provider, entries, 0.4, f.engine.cfg.TaxWallet1)
	require.NoError(t, err)

	assert.True(t, plan.stableQuoted)
	// Volume stays SOL-denominated; the fee is priced in USD.
	assert.InDelta(t, 0.6, plan.volumeSol, 1e-9)
	assert.InDelta(t, 0.6*100*0.005, plan.feeAmount, 1e-9)

	// Buys are placed in USDC base units: 0.15 SOL × $100.
	calls := f.provider.recorded()
	assert.Equal(t, uint64(15_000_000), calls[0].amount)
}

// transferLamports decodes the lamport amount of a compiled system transfer.
func transferLamports(t *testing.T, tx *solana.Transaction, index int) uint64 {
	t.Helper()
	data := []byte(tx.Message.Instructions[index].Data)
	require.GreaterOrEqual(t, len(data), 12)
	return binary.LittleEndian.Uint64(data[4:12])
}

func TestFeeSplitInvariant(t *testing.T) {
	f := newFixture(t)
	referrer := solana.NewWallet().PublicKey()

	tx, feeAmount, err := f.engine.buildFeeTransaction(f.dep, f.pool, 1.0, 0, referrer)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, feeAmount, 1e-9)

	// Tip plus the four fee shares.
	require.Len(t, tx.Message.Instructions, 5)
	assert.Equal(t, lamports(f.engine.cfg.JitoTipSol), transferLamports(t, tx, 0))

	feeLamports := lamports(feeAmount)
	var shared uint64
	for i := 1; i < 5; i++ {
		shared += transferLamports(t, tx, i)
	}
	// Shares sum to the full fee within rounding of one lamport each.
	assert.InDelta(t, float64(feeLamports), float64(shared), 4)

	assert.Equal(t, uint64(float64(feeLamports)*feeShareTax1), transferLamports(t, tx, 1))
	assert.Equal(t, uint64(float64(feeLamports)*feeShareReferrer), transferLamports(t, tx, 4))
}

// ---- loop and lifecycle ----

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.engine.StartBot(ctx, testChatID, testAddr, f.pool)
	require.Equal(t, ResultSuccess, code)
	assert.True(t, f.engine.Running(testChatID, testAddr))

	// Starting again is a no-op.
	assert.Equal(t, ResultSuccess, f.engine.StartBot(ctx, testChatID, testAddr, f.pool))

	// First cycle fires immediately and lands.
	require.Eventually(t, func() bool { return f.relay.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	adds, volume := f.store.volumeStats()
	assert.Equal(t, 1, adds)
	assert.InDelta(t, 0.6, volume, 1e-9)

	f.engine.StopBot(ctx, testChatID, testAddr)
	assert.False(t, f.engine.Running(testChatID, testAddr))
	assert.False(t, f.store.tokenState(testChatID, testAddr).Active)

	// Idempotent.
	f.engine.StopBot(ctx, testChatID, testAddr)
	assert.False(t, f.engine.Running(testChatID, testAddr))
}

func TestStartBotBalanceCodes(t *testing.T) {
	cases := []struct {
		name    string
		balance uint64
		want    ResultCode
	}{
		{"empty deposit", 0, ResultInsufficientBalance},
		{"cannot cover relay fee", 50_000, ResultInsufficientRelayFee},
		{"below working minimum", 50_000_000, ResultInsufficientWorkingBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.chain.balances = []uint64{tc.balance}
			code := f.engine.StartBot(context.Background(), testChatID, testAddr, f.pool)
			assert.Equal(t, tc.want, code)
			assert.False(t, f.engine.Running(testChatID, testAddr))
		})
	}
}

func TestAutoStopWhenBalanceDrops(t *testing.T) {
	f := newFixture(t)
	// Start sees a funded deposit; the first cycle sees it drained.
	f.chain.balances = []uint64{solana.LAMPORTS_PER_SOL, 1_000_000}

	code := f.engine.StartBot(context.Background(), testChatID, testAddr, f.pool)
	require.Equal(t, ResultSuccess, code)

	require.Eventually(t, func() bool { return !f.engine.Running(testChatID, testAddr) },
		2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.notifier.count())
	assert.Zero(t, f.relay.count())
	assert.Empty(t, f.provider.recorded(), "no legs built on an aborted cycle")
	require.Eventually(t, func() bool { return !f.store.tokenState(testChatID, testAddr).Active },
		2*time.Second, 10*time.Millisecond)
}

func TestFailedSubmissionLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	f.relay.err = errors.New("relay rejected bundle")

	code := f.engine.StartBot(context.Background(), testChatID, testAddr, f.pool)
	require.Equal(t, ResultSuccess, code)

	// Let the first cycle run and fail.
	require.Eventually(t, func() bool { return len(f.provider.recorded()) >= 4 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	adds, _ := f.store.volumeStats()
	assert.Zero(t, adds)
	assert.True(t, f.engine.Running(testChatID, testAddr), "submit failure reschedules, never stops")

	f.engine.StopBot(context.Background(), testChatID, testAddr)
}

func TestEmptyBundleSkipsSubmission(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("quote failed")

	code := f.engine.StartBot(context.Background(), testChatID, testAddr, f.pool)
	require.Equal(t, ResultSuccess, code)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, f.relay.count())
	adds, _ := f.store.volumeStats()
	assert.Zero(t, adds)
	assert.True(t, f.engine.Running(testChatID, testAddr))

	f.engine.StopBot(context.Background(), testChatID, testAddr)
}

func TestStopLiquidatesResidual(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance = 1_000

	require.Equal(t, ResultSuccess,
		f.engine.StartBot(context.Background(), testChatID, testAddr, f.pool))
	require.Eventually(t, func() bool { return f.relay.count() == 1 },
		2*time.Second, 10*time.Millisecond)

	f.engine.StopBot(context.Background(), testChatID, testAddr)

	// The stop appends a liquidation bundle: the sell plus the tip-only fee
	// transaction.
	require.Equal(t, 2, f.relay.count())
	f.relay.mu.Lock()
	defer f.relay.mu.Unlock()
	assert.Len(t, f.relay.submissions[1], 2)
}

func TestStopAll(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, ResultSuccess,
		f.engine.StartBot(context.Background(), testChatID, testAddr, f.pool))

	require.NoError(t, f.engine.StopAll(context.Background()))
	assert.False(t, f.engine.Running(testChatID, testAddr))
}

// ---- settings ----

func TestRegisterTokenAndSetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Error(t, f.engine.RegisterToken(ctx, &models.Token{}))

	require.NoError(t, f.engine.SetTradeAmount(ctx, testChatID, testAddr, 2.5))
	require.NoError(t, f.engine.SetDelay(ctx, testChatID, testAddr, 60))
	require.NoError(t, f.engine.SetTargetVolume(ctx, testChatID, testAddr, 1000))

	tok := f.store.tokenState(testChatID, testAddr)
	assert.Equal(t, 2.5, tok.BuySellAmount)
	assert.Equal(t, 60, tok.DelaySeconds)
	assert.Equal(t, float64(1000), tok.TargetVolume)

	require.Error(t, f.engine.SetTradeAmount(ctx, testChatID, testAddr, -1))
	require.Error(t, f.engine.SetDelay(ctx, testChatID, testAddr, 0))
	require.Error(t, f.engine.SetTargetVolume(ctx, testChatID, testAddr, 0))
}

// ---- treasury ----

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	target := solana.NewWallet().PublicKey()
	f.store.users[testChatID].WithdrawWallet = target.String()

	sol, err := f.engine.Withdraw(context.Background(), testChatID)
	require.NoError(t, err)
	assert.InDelta(t, float64(solana.LAMPORTS_PER_SOL-baseTxFeeLamports)/float64(solana.LAMPORTS_PER_SOL), sol, 1e-12)

	f.chain.mu.Lock()
	defer f.chain.mu.Unlock()
	require.Len(t, f.chain.sent, 1)
}

func TestWithdrawRequiresTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Withdraw(context.Background(), testChatID)
	require.Error(t, err)
}

func TestDisperse(t *testing.T) {
	f := newFixture(t)
	f.chain.balances = []uint64{10 * solana.LAMPORTS_PER_SOL}

	require.NoError(t, f.engine.Disperse(context.Background(), testChatID, 0.01))

	// Four rotation wallets fit one transaction, one bundle: the relay tip
	// plus one transfer per wallet.
	require.Equal(t, 1, f.relay.count())
	f.relay.mu.Lock()
	defer f.relay.mu.Unlock()
	require.Len(t, f.relay.submissions[0], 1)
	assert.Len(t, f.relay.submissions[0][0].Message.Instructions, 5)
	assert.Equal(t, lamports(f.engine.cfg.JitoTipSol), transferLamports(t, f.relay.submissions[0][0], 0))
}

func TestDisperseRejectsUnderfundedDeposit(t *testing.T) {
	f := newFixture(t)
	f.chain.balances = []uint64{1_000}
	require.Error(t, f.engine.Disperse(context.Background(), testChatID, 0.5))
}
