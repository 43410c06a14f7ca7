// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"solana-volume-bot/internal/storage/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract of the engine. Mutating operations
// surface their errors to the caller; they are never swallowed.
type Store interface {
	// Users
	GetUser(ctx context.Context, chatID string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error

	// Tokens
	GetToken(ctx context.Context, chatID, addr string) (*models.Token, error)
	UpsertToken(ctx context.Context, token *models.Token) error
	SetTokenActive(ctx context.Context, chatID, addr string, active bool, lastWorked time.Time) error
	// AddTokenVolume atomically adds volume (SOL) and worked time to the
	// token's running totals and advances lastWorkedTime.
	AddTokenVolume(ctx context.Context, chatID, addr string, volume float64, worked time.Duration, lastWorked time.Time) error

	// Rotation wallets
	ListWallets(ctx context.Context, limit int) ([]*models.WalletRecord, error)
	SaveWallet(ctx context.Context, record *models.WalletRecord) error
	MarkWalletUsed(ctx context.Context, id, tokenAddr string) error
	// ResetWalletUsage clears every wallet's used-token set (epoch reset).
	ResetWalletUsage(ctx context.Context) error

	// Fee accounting
	SaveTaxRecord(ctx context.Context, record *models.TaxRecord) error

	Close(ctx context.Context) error
}
