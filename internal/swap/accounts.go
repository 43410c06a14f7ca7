// internal/swap/accounts.go
package swap

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// readReserves fetches both vault balances of a pool.
func readReserves(ctx context.Context, reader ReserveReader, pool *Pool) (base, quote uint64, err error) {
	base, _, err = reader.GetTokenAccountBalance(ctx, pool.BaseVault)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: base vault: %v", ErrSwapUnavailable, err)
	}
	quote, _, err = reader.GetTokenAccountBalance(ctx, pool.QuoteVault)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: quote vault: %v", ErrSwapUnavailable, err)
	}
	return base, quote, nil
}

// userTokenAccounts derives the signer's associated token accounts for both
// sides of the pool, ordered (in, out) by trade direction.
func userTokenAccounts(pool *Pool, signer solana.PublicKey, direction Direction) (in, out solana.PublicKey, err error) {
	baseATA, _, err := solana.FindAssociatedTokenAddress(signer, pool.BaseMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	quoteATA, _, err := solana.FindAssociatedTokenAddress(signer, pool.QuoteMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	if direction == DirectionBuy {
		return quoteATA, baseATA, nil
	}
	return baseATA, quoteATA, nil
}

// anchorSwapData encodes an 8-byte discriminator followed by two u64
// arguments, the layout shared by every anchor swap variant here.
func anchorSwapData(discriminator []byte, amountIn, minOut uint64) []byte {
	data := make([]byte, 8+8+8)
	copy(data[0:8], discriminator)
	binary.LittleEndian.PutUint64(data[8:16], amountIn)
	binary.LittleEndian.PutUint64(data[16:24], minOut)
	return data
}

// validateTrade checks the preconditions shared by every provider.
func validateTrade(pool *Pool, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrSwapUnavailable)
	}
	if pool == nil || pool.Address.IsZero() {
		return fmt.Errorf("%w: pool reference did not resolve", ErrSwapUnavailable)
	}
	return nil
}
