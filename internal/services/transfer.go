package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultpay/backend/internal/models"
	"github.com/vaultpay/backend/internal/token"
)

// DefaultConfirmationTTL is how long a transfer waits for the recipient.
const DefaultConfirmationTTL = 24 * time.Hour

// TransferService orchestrates peer-to-peer transfers: the sender's funds are
// held at initiation and move only when the recipient confirms with a valid
// token.
type TransferService struct {
	accounts     AccountRepo
	transactions TransactionRepo
	txm          TxManager
	secret       []byte
	ttl          time.Duration
	logger       *slog.Logger
}

func NewTransferService(accounts AccountRepo, transactions TransactionRepo, txm TxManager, secret []byte, ttl time.Duration, logger *slog.Logger) *TransferService {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &TransferService{
		accounts:     accounts,
		transactions: transactions,
		txm:          txm,
		secret:       secret,
		ttl:          ttl,
		logger:       logger,
	}
}

// InitiateTransferResult carries the raw confirmation token back to the caller.
// The token is never persisted; on an idempotent replay it is empty and the
// caller must reuse the one from the original response.
type InitiateTransferResult struct {
	Transaction       *models.Transaction
	ConfirmationToken string
	ExpiresAt         time.Time
}

// Initiate places a hold on the source account and records the transfer in
// awaiting_confirmation. Only the source row is locked; the destination is
// read without a lock since it is not mutated yet.
func (s *TransferService) Initiate(ctx context.Context, key models.IdempotencyKey, sourceID, destinationID models.AccountID, amount models.Money) (*InitiateTransferResult, error) {
	existing, err := s.transactions.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}
	if existing != nil {
		return replayResult(existing), nil
	}

	var (
		txn *models.Transaction
		raw string
		exp time.Time
	)
	err = s.txm.InTx(ctx, func(ctx context.Context) error {
		source, err := s.accounts.GetByIDForUpdate(ctx, sourceID)
		if err != nil {
			return err
		}
		destination, err := s.accounts.GetByID(ctx, destinationID)
		if err != nil {
			return err
		}
		if !source.CanInitiateTransfer() {
			return &models.InvalidAccountStateError{AccountID: sourceID, Status: source.Status(), Operation: "initiate transfer"}
		}
		if !destination.CanReceiveDeposit() {
			return &models.InvalidAccountStateError{AccountID: destinationID, Status: destination.Status(), Operation: "receive transfer"}
		}

		txID := models.NewTransactionID()
		raw, exp, err = token.Generate(txID, destinationID, amount, s.secret, s.ttl)
		if err != nil {
			return fmt.Errorf("generating confirmation token: %w", err)
		}
		txn = models.NewTransferTransaction(txID, key, sourceID, destinationID, amount, token.Fingerprint(raw), exp)

		if err := source.Hold(amount); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		return s.transactions.Create(ctx, txn)
	})
	if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
		// A concurrent initiation with the same key won; observe its result.
		winner, lookupErr := s.transactions.GetByIdempotencyKey(ctx, key)
		if lookupErr != nil || winner == nil {
			return nil, fmt.Errorf("idempotency key raced but winner not found: %w", err)
		}
		return replayResult(winner), nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer initiated",
		"transaction_id", txn.ID().String(),
		"source_account_id", sourceID.String(),
		"destination_account_id", destinationID.String(),
		"amount", amount.String())
	return &InitiateTransferResult{Transaction: txn, ConfirmationToken: raw, ExpiresAt: exp}, nil
}

func replayResult(txn *models.Transaction) *InitiateTransferResult {
	res := &InitiateTransferResult{Transaction: txn}
	if exp := txn.ConfirmationExpiresAt(); exp != nil {
		res.ExpiresAt = *exp
	}
	return res
}

// Confirm completes a transfer using the recipient's confirmation token. Both
// accounts are row-locked in ascending id order; this fixed global ordering is
// what keeps concurrent opposite-direction transfers deadlock-free.
func (s *TransferService) Confirm(ctx context.Context, transactionID models.TransactionID, rawToken string) (*models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Type() != models.TransactionTypeTransfer {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "confirm non-transfer"}
	}
	if txn.Status() == models.TransactionStatusCompleted {
		return txn, nil
	}
	if !txn.CanBeConfirmed() {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "confirm"}
	}
	if err := token.Validate(rawToken, txn.ID(), *txn.DestinationAccountID(), txn.Amount(), s.secret); err != nil {
		return nil, err
	}

	var confirmed *models.Transaction
	err = s.txm.InTx(ctx, func(ctx context.Context) error {
		// Re-read under the lock: a cancel may have raced the token check.
		txn, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status() == models.TransactionStatusCompleted {
			confirmed = txn
			return nil
		}
		if !txn.CanBeConfirmed() {
			return &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "confirm"}
		}

		sourceID, destinationID := *txn.SourceAccountID(), *txn.DestinationAccountID()
		locked, err := s.accounts.GetByIDsForUpdate(ctx, []models.AccountID{sourceID, destinationID})
		if err != nil {
			return err
		}
		byID := make(map[models.AccountID]*models.Account, len(locked))
		for _, a := range locked {
			byID[a.ID()] = a
		}
		source, destination := byID[sourceID], byID[destinationID]
		if source == nil || destination == nil {
			return models.ErrAccountNotFound
		}

		amount := txn.Amount()
		if err := source.CompleteHeldDebit(amount); err != nil {
			return err
		}
		if err := destination.Credit(amount); err != nil {
			return err
		}
		entries := []*models.LedgerEntry{
			models.NewLedgerEntry(txn.ID(), sourceID, models.EntryTypeDebit, amount, source.Balance()),
			models.NewLedgerEntry(txn.ID(), destinationID, models.EntryTypeCredit, amount, destination.Balance()),
		}
		if err := txn.Complete(); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, destination); err != nil {
			return err
		}
		if err := s.transactions.Update(ctx, txn); err != nil {
			return err
		}
		if err := s.transactions.CreateLedgerEntries(ctx, entries); err != nil {
			return err
		}
		confirmed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer confirmed", "transaction_id", transactionID.String())
	return confirmed, nil
}

// Cancel unwinds an unconfirmed transfer: the hold is released and the
// transaction moves to cancelled. Re-cancelling is a no-op.
func (s *TransferService) Cancel(ctx context.Context, transactionID models.TransactionID, reason string) (*models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Type() != models.TransactionTypeTransfer {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "cancel non-transfer"}
	}
	if txn.Status() == models.TransactionStatusCancelled {
		return txn, nil
	}
	if !txn.CanBeCancelled() {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "cancel"}
	}

	var cancelled *models.Transaction
	err = s.txm.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status() == models.TransactionStatusCancelled {
			cancelled = txn
			return nil
		}
		if !txn.CanBeCancelled() {
			return &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "cancel"}
		}
		source, err := s.accounts.GetByIDForUpdate(ctx, *txn.SourceAccountID())
		if err != nil {
			return err
		}
		if err := source.ReleaseHold(txn.Amount()); err != nil {
			return err
		}
		if err := txn.Cancel(reason); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		if err := s.transactions.Update(ctx, txn); err != nil {
			return err
		}
		cancelled = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer cancelled", "transaction_id", transactionID.String(), "reason", reason)
	return cancelled, nil
}
