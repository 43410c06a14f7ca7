// internal/engine/treasury.go
package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"solana-volume-bot/internal/jito"
	"solana-volume-bot/internal/wallet"
)

// Bundle packing limits for dispersal: transfers per transaction and
// transactions per relay bundle.
const (
	disperseTransfersPerTx = 20
	disperseTxsPerBundle   = 5
)

// Disperse tops every rotation wallet up with perWalletSol from the chat's
// deposit wallet, so the rotation wallets can pay their legs' transaction
// fees. Transfers are packed into relay bundles and submitted sequentially.
func (e *Engine) Disperse(ctx context.Context, chatID string, perWalletSol float64) error {
	if perWalletSol <= 0 {
		return fmt.Errorf("dispersal amount must be positive")
	}

	user, err := e.store.GetUser(ctx, chatID)
	if err != nil {
		return err
	}
	dep, err := wallet.New(user.DepositWallet)
	if err != nil {
		return fmt.Errorf("deposit wallet: %w", err)
	}

	entries := e.pool.Entries()
	amount := lamports(perWalletSol)

	needed := uint64(len(entries))*amount + lamports(e.cfg.JitoTipSol) + baseTxFeeLamports
	balance, err := e.chain.GetBalance(ctx, dep.PublicKey)
	if err != nil {
		return err
	}
	if balance < needed {
		return fmt.Errorf("deposit balance %d lamports cannot fund dispersal of %d", balance, needed)
	}

	var txs []*solana.Transaction
	for start := 0; start < len(entries); start += disperseTransfersPerTx {
		end := start + disperseTransfersPerTx
		if end > len(entries) {
			end = len(entries)
		}
		instructions := make([]solana.Instruction, 0, end-start+1)
		// The first transaction of each bundle carries the relay tip.
		if len(txs)%disperseTxsPerBundle == 0 {
			instructions = append(instructions, system.NewTransferInstruction(
				lamports(e.cfg.JitoTipSol), dep.PublicKey, jito.TipAccount(),
			).Build())
		}
		for _, entry := range entries[start:end] {
			instructions = append(instructions,
				system.NewTransferInstruction(amount, dep.PublicKey, entry.Wallet.PublicKey).Build())
		}
		tx, err := solana.NewTransaction(instructions,
			solana.Hash{}, solana.TransactionPayer(dep.PublicKey))
		if err != nil {
			return fmt.Errorf("build dispersal transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	for start := 0; start < len(txs); start += disperseTxsPerBundle {
		end := start + disperseTxsPerBundle
		if end > len(txs) {
			end = len(txs)
		}
		group := txs[start:end]

		blockhash, err := e.chain.GetLatestBlockhash(ctx)
		if err != nil {
			return err
		}
		for _, tx := range group {
			tx.Message.RecentBlockhash = blockhash
			if err := dep.SignTransaction(tx); err != nil {
				return fmt.Errorf("sign dispersal transaction: %w", err)
			}
		}
		if err := e.relay.SubmitAndConfirm(ctx, group); err != nil {
			return fmt.Errorf("dispersal bundle: %w", err)
		}
	}

	e.logger.Info("Rotation wallets funded",
		zap.String("chat_id", chatID),
		zap.Int("wallets", len(entries)),
		zap.Float64("per_wallet_sol", perWalletSol))
	return nil
}

// Withdraw moves the deposit wallet's balance, minus the transaction fee, to
// the chat's withdraw wallet. Returns the withdrawn amount in SOL.
func (e *Engine) Withdraw(ctx context.Context, chatID string) (float64, error) {
	user, err := e.store.GetUser(ctx, chatID)
	if err != nil {
		return 0, err
	}
	if user.WithdrawWallet == "" {
		return 0, fmt.Errorf("no withdraw wallet on record")
	}
	target, err := solana.PublicKeyFromBase58(user.WithdrawWallet)
	if err != nil {
		return 0, fmt.Errorf("withdraw wallet: %w", err)
	}
	dep, err := wallet.New(user.DepositWallet)
	if err != nil {
		return 0, fmt.Errorf("deposit wallet: %w", err)
	}

	balance, err := e.chain.GetBalance(ctx, dep.PublicKey)
	if err != nil {
		return 0, err
	}
	if balance <= baseTxFeeLamports {
		return 0, fmt.Errorf("deposit balance %d lamports cannot cover the withdrawal fee", balance)
	}
	amount := balance - baseTxFeeLamports

	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount, dep.PublicKey, target).Build(),
		},
		blockhash,
		solana.TransactionPayer(dep.PublicKey),
	)
	if err != nil {
		return 0, err
	}
	if err := dep.SignTransaction(tx); err != nil {
		return 0, err
	}

	sig, err := e.chain.SendTransaction(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("send withdrawal: %w", err)
	}
	if err := e.chain.ConfirmTransaction(ctx, sig); err != nil {
		return 0, fmt.Errorf("confirm withdrawal: %w", err)
	}

	sol := float64(amount) / float64(solana.LAMPORTS_PER_SOL)
	e.notifier.Notify(ctx, chatID, fmt.Sprintf("Withdrew %.6f SOL to %s.", sol, user.WithdrawWallet))
	e.logger.Info("Deposit withdrawn",
		zap.String("chat_id", chatID),
		zap.Float64("amount_sol", sol),
		zap.String("signature", sig.String()))
	return sol, nil
}
