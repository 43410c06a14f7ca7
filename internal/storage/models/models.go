// internal/storage/models/models.go
// Package models defines the persistent records of the volume bot.
package models

import "time"

// User is one chat identity with its dedicated deposit wallet.
type User struct {
	ChatID         string    `bson:"chatid"`
	Username       string    `bson:"username"`
	DepositWallet  string    `bson:"depositWallet"` // base58 private key
	WithdrawWallet string    `bson:"withdrawWallet"`
	ReferredBy     string    `bson:"referredBy,omitempty"`
	DexID          string    `bson:"dexId,omitempty"`
	PoolType       string    `bson:"poolType,omitempty"`
	PairAddress    string    `bson:"pairAddress,omitempty"`
	CreatedAt      time.Time `bson:"timestamp"`
}

// Token is the per-chat trading configuration and running ledger of one
// volume token.
type Token struct {
	ChatID      string `bson:"chatid"`
	Addr        string `bson:"addr"`
	Symbol      string `bson:"symbol"`
	Decimal     uint8  `bson:"decimal"`
	BaseAddr    string `bson:"baseAddr"`
	BaseSymbol  string `bson:"baseSymbol"`
	BaseDecimal uint8  `bson:"baseDecimal"`

	// Runtime ledger, owned by the token's trading loop while it runs.
	CurrentVolume  float64   `bson:"currentVolume"`  // SOL
	TargetVolume   float64   `bson:"targetVolume"`   // SOL
	WorkingTime    int64     `bson:"workingTime"`    // milliseconds
	LastWorkedTime time.Time `bson:"lastWorkedTime"`
	Active         bool      `bson:"status"`

	// Trading parameters.
	BuySellAmount float64 `bson:"buysellAmount"` // SOL per cycle
	DelaySeconds  int     `bson:"delayTime"`
	WalletSize    int     `bson:"walletSize"`

	CreatedAt time.Time `bson:"timestamp"`
}

// Delay returns the configured inter-cycle delay.
func (t *Token) Delay() time.Duration {
	if t.DelaySeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.DelaySeconds) * time.Second
}

// WalletRecord is one rotation wallet and the tokens it has served in the
// current rotation epoch.
type WalletRecord struct {
	ID         string    `bson:"_id"` // public key
	PrvKey     string    `bson:"prvKey"`
	UsedTokens []string  `bson:"usedTokenIdx"`
	CreatedAt  time.Time `bson:"timestamp"`
}

// TaxRecord is one collected fee payment, kept for operator accounting.
type TaxRecord struct {
	ChatID    string    `bson:"chatid"`
	Addr      string    `bson:"addr"`
	Amount    float64   `bson:"amount"` // SOL
	CreatedAt time.Time `bson:"timestamp"`
}
