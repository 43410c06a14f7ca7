package swap

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader serves canned vault balances and account data.
type fakeReader struct {
	balances map[solana.PublicKey]uint64
	accounts map[solana.PublicKey][]byte
	err      error
}

func (f *fakeReader) GetTokenAccountBalance(_ context.Context, account solana.PublicKey) (uint64, uint8, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.balances[account], 9, nil
}

func (f *fakeReader) GetAccountData(_ context.Context, pubkey solana.PublicKey) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.accounts[pubkey]
	if !ok {
		return nil, errors.New("account not found")
	}
	return data, nil
}

func testPool(t PoolType) *Pool {
	return &Pool{
		Type:       t,
		Address:    solana.NewWallet().PublicKey(),
		BaseMint:   solana.NewWallet().PublicKey(),
		QuoteMint:  solana.SolMint,
		BaseVault:  solana.NewWallet().PublicKey(),
		QuoteVault: solana.NewWallet().PublicKey(),
	}
}

func TestParsePoolType(t *testing.T) {
	for _, tag := range []string{"amm", "cpmm", "clmm", "dlmm", "dyn", "pumpfun", "pumpswap"} {
		parsed, err := ParsePoolType(tag)
		require.NoError(t, err)
		assert.Equal(t, PoolType(tag), parsed)
	}

	_, err := ParsePoolType("orca")
	require.Error(t, err)
}

func TestForPoolCoversEveryVariant(t *testing.T) {
	reader := &fakeReader{}
	log := zap.NewNop()
	for _, pt := range []PoolType{PoolAMM, PoolCPMM, PoolCLMM, PoolDLMM, PoolDynamic, PoolBondingCurve, PoolConstantProductV2} {
		provider, err := ForPool(pt, reader, log)
		require.NoError(t, err, "pool type %s", pt)
		assert.NotEmpty(t, provider.Name())
	}

	_, err := ForPool(PoolType("orca"), reader, log)
	require.Error(t, err)
}

func TestAMMBuyQuote(t *testing.T) {
	pool := testPool(PoolAMM)
	reader := &fakeReader{balances: map[solana.PublicKey]uint64{
		pool.BaseVault:  1_000_000_000_000, // tokens
		pool.QuoteVault: 500_000_000_000,   // lamports
	}}

	provider, err := ForPool(PoolAMM, reader, zap.NewNop())
	require.NoError(t, err)

	signer := solana.NewWallet().PublicKey()
	amountIn := uint64(1_000_000_000)
	quote, err := provider.QuoteAndBuild(context.Background(), pool, signer, amountIn, DirectionBuy)
	require.NoError(t, err)

	expected := constantProductOut(500_000_000_000, 1_000_000_000_000, amountIn, feeFactorFromBps(0, ammDefaultFeeBps))
	assert.Equal(t, expected, quote.EstimatedOut)
	assert.Equal(t, withSlippage(expected), quote.MinOut)
	assert.Less(t, quote.MinOut, quote.EstimatedOut)

	require.Len(t, quote.Instructions, 1)
	instr := quote.Instructions[0]
	assert.Equal(t, RaydiumAMMProgram, instr.ProgramID())

	data, err := instr.Data()
	require.NoError(t, err)
	require.Len(t, data, 17)
	assert.Equal(t, byte(ammSwapBaseInTag), data[0])
	assert.Equal(t, amountIn, binary.LittleEndian.Uint64(data[1:9]))
	assert.Equal(t, quote.MinOut, binary.LittleEndian.Uint64(data[9:17]))
}

func TestQuoteFailsOnEmptyReserves(t *testing.T) {
	pool := testPool(PoolAMM)
	reader := &fakeReader{balances: map[solana.PublicKey]uint64{}}

	provider, err := ForPool(PoolAMM, reader, zap.NewNop())
	require.NoError(t, err)

	_, err = provider.QuoteAndBuild(context.Background(), pool, solana.NewWallet().PublicKey(), 1_000, DirectionBuy)
	require.ErrorIs(t, err, ErrSwapUnavailable)
}

func TestQuoteRejectsZeroAmount(t *testing.T) {
	provider, err := ForPool(PoolCPMM, &fakeReader{}, zap.NewNop())
	require.NoError(t, err)

	_, err = provider.QuoteAndBuild(context.Background(), testPool(PoolCPMM), solana.NewWallet().PublicKey(), 0, DirectionBuy)
	require.ErrorIs(t, err, ErrSwapUnavailable)
}

func TestReaderFailureIsRecoverable(t *testing.T) {
	provider, err := ForPool(PoolDLMM, &fakeReader{err: errors.New("rpc down")}, zap.NewNop())
	require.NoError(t, err)

	_, err = provider.QuoteAndBuild(context.Background(), testPool(PoolDLMM), solana.NewWallet().PublicKey(), 1_000, DirectionSell)
	require.ErrorIs(t, err, ErrSwapUnavailable)
}

func encodeCurve(c bondingCurveState) []byte {
	data := make([]byte, 8+5*8+1)
	copy(data[0:8], c.Discriminator[:])
	binary.LittleEndian.PutUint64(data[8:16], c.VirtualTokenReserves)
	binary.LittleEndian.PutUint64(data[16:24], c.VirtualSolReserves)
	binary.LittleEndian.PutUint64(data[24:32], c.RealTokenReserves)
	binary.LittleEndian.PutUint64(data[32:40], c.RealSolReserves)
	binary.LittleEndian.PutUint64(data[40:48], c.TokenTotalSupply)
	if c.Complete {
		data[48] = 1
	}
	return data
}

func TestBondingCurveQuote(t *testing.T) {
	pool := testPool(PoolBondingCurve)
	curve := bondingCurveState{
		VirtualTokenReserves: 1_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
	}
	reader := &fakeReader{accounts: map[solana.PublicKey][]byte{
		pool.Address: encodeCurve(curve),
	}}

	provider, err := ForPool(PoolBondingCurve, reader, zap.NewNop())
	require.NoError(t, err)

	quote, err := provider.QuoteAndBuild(context.Background(), pool, solana.NewWallet().PublicKey(), 1_000_000_000, DirectionBuy)
	require.NoError(t, err)
	assert.NotZero(t, quote.EstimatedOut)
	require.Len(t, quote.Instructions, 1)
	assert.Equal(t, PumpFunProgram, quote.Instructions[0].ProgramID())
}

func TestBondingCurveGraduatedIsUnavailable(t *testing.T) {
	pool := testPool(PoolBondingCurve)
	reader := &fakeReader{accounts: map[solana.PublicKey][]byte{
		pool.Address: encodeCurve(bondingCurveState{
			VirtualTokenReserves: 1,
			VirtualSolReserves:   1,
			Complete:             true,
		}),
	}}

	provider, err := ForPool(PoolBondingCurve, reader, zap.NewNop())
	require.NoError(t, err)

	_, err = provider.QuoteAndBuild(context.Background(), pool, solana.NewWallet().PublicKey(), 1_000, DirectionBuy)
	require.ErrorIs(t, err, ErrSwapUnavailable)
}

func TestQuoteIsStable(t *testing.T) {
	pool := testPool(PoolCPMM)
	assert.False(t, pool.QuoteIsStable())
	pool.QuoteMint = USDCMint
	assert.True(t, pool.QuoteIsStable())
}
