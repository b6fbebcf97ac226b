package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultpay/backend/internal/models"
)

// WithdrawalService orchestrates payouts to an external destination. Funds are
// held before the provider is called; a provider failure after the hold always
// runs a compensating unit of work that releases it.
type WithdrawalService struct {
	accounts       AccountRepo
	transactions   TransactionRepo
	paymentMethods PaymentMethodRepo
	txm            TxManager
	gateway        ProviderGateway
	logger         *slog.Logger
}

func NewWithdrawalService(accounts AccountRepo, transactions TransactionRepo, paymentMethods PaymentMethodRepo, txm TxManager, gateway ProviderGateway, logger *slog.Logger) *WithdrawalService {
	return &WithdrawalService{
		accounts:       accounts,
		transactions:   transactions,
		paymentMethods: paymentMethods,
		txm:            txm,
		gateway:        gateway,
		logger:         logger,
	}
}

// Initiate holds the amount and asks the provider to start the payout. The
// provider call runs after the unit of work commits, never under the row lock.
func (s *WithdrawalService) Initiate(ctx context.Context, key models.IdempotencyKey, sourceID models.AccountID, paymentMethodID models.PaymentMethodID, amount models.Money) (*models.Transaction, error) {
	existing, err := s.transactions.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	method, err := s.paymentMethods.GetByID(ctx, paymentMethodID)
	if err != nil {
		return nil, err
	}
	if method.AccountID != sourceID {
		return nil, models.ErrPaymentMethodNotFound
	}
	if !method.CanWithdraw(time.Now()) {
		return nil, models.ErrPaymentMethodUnusable
	}

	var txn *models.Transaction
	err = s.txm.InTx(ctx, func(ctx context.Context) error {
		source, err := s.accounts.GetByIDForUpdate(ctx, sourceID)
		if err != nil {
			return err
		}
		if !source.CanInitiateTransfer() {
			return &models.InvalidAccountStateError{AccountID: sourceID, Status: source.Status(), Operation: "initiate withdrawal"}
		}
		txn = models.NewWithdrawalTransaction(key, sourceID, amount, method.ProviderCode, paymentMethodID)
		if err := source.Hold(amount); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		return s.transactions.Create(ctx, txn)
	})
	if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
		winner, lookupErr := s.transactions.GetByIdempotencyKey(ctx, key)
		if lookupErr != nil || winner == nil {
			return nil, fmt.Errorf("idempotency key raced but winner not found: %w", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, err
	}

	transfer, err := s.gateway.InitiateTransfer(ctx, InitiateProviderTransferRequest{
		TransactionID:   txn.ID(),
		Amount:          amount,
		PaymentMethodID: method.ExternalID,
		Provider:        method.ProviderCode,
	})
	if err != nil {
		if compErr := s.compensateInitiateFailure(ctx, txn.ID(), err); compErr != nil {
			s.logger.Error("compensating failed withdrawal initiation",
				"transaction_id", txn.ID().String(), "error", compErr)
		}
		return nil, &models.ProviderError{Provider: method.ProviderCode, Op: "initiate transfer", Err: err}
	}

	txn, err = markProcessing(ctx, s.txm, s.transactions, txn.ID(), transfer.ExternalID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal initiated",
		"transaction_id", txn.ID().String(),
		"source_account_id", sourceID.String(),
		"provider", method.ProviderCode.String(),
		"amount", amount.String())
	return txn, nil
}

// compensateInitiateFailure releases the hold and marks the withdrawal failed
// after the provider rejected the payout. The caller must never observe a
// failed initiation with funds still stuck in a hold.
func (s *WithdrawalService) compensateInitiateFailure(ctx context.Context, transactionID models.TransactionID, cause error) error {
	return s.txm.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.IsTerminal() {
			return nil
		}
		source, err := s.accounts.GetByIDForUpdate(ctx, *txn.SourceAccountID())
		if err != nil {
			return err
		}
		if err := source.ReleaseHold(txn.Amount()); err != nil {
			return err
		}
		if err := txn.Fail("provider_error", cause.Error()); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		return s.transactions.Update(ctx, txn)
	})
}

// Complete finalizes the held amount and writes the debit ledger entry.
// Idempotent when the withdrawal already completed.
func (s *WithdrawalService) Complete(ctx context.Context, transactionID models.TransactionID) (*models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Type() != models.TransactionTypeWithdrawal {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "complete non-withdrawal"}
	}
	if txn.Status() == models.TransactionStatusCompleted {
		return txn, nil
	}

	var completed *models.Transaction
	err = s.txm.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status() == models.TransactionStatusCompleted {
			completed = txn
			return nil
		}
		switch txn.Status() {
		case models.TransactionStatusPending, models.TransactionStatusProcessing:
		default:
			return &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "complete"}
		}

		source, err := s.accounts.GetByIDForUpdate(ctx, *txn.SourceAccountID())
		if err != nil {
			return err
		}
		if err := source.CompleteHeldDebit(txn.Amount()); err != nil {
			return err
		}
		entry := models.NewLedgerEntry(txn.ID(), source.ID(), models.EntryTypeDebit, txn.Amount(), source.Balance())
		if err := txn.Complete(); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		if err := s.transactions.Update(ctx, txn); err != nil {
			return err
		}
		if err := s.transactions.CreateLedgerEntries(ctx, []*models.LedgerEntry{entry}); err != nil {
			return err
		}
		completed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal completed", "transaction_id", transactionID.String())
	return completed, nil
}

// Fail releases the hold and marks the withdrawal failed. Idempotent on
// failed; rejects an already completed withdrawal.
func (s *WithdrawalService) Fail(ctx context.Context, transactionID models.TransactionID, code, message string) (*models.Transaction, error) {
	return s.unwind(ctx, transactionID, func(txn *models.Transaction) error {
		return txn.Fail(code, message)
	}, models.TransactionStatusFailed)
}

// Cancel is the sender-initiated unwind, allowed only before the provider
// started processing. When an external reference exists a provider-side cancel
// is attempted first and its failure tolerated.
func (s *WithdrawalService) Cancel(ctx context.Context, transactionID models.TransactionID, reason string) (*models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status() == models.TransactionStatusCancelled {
		return txn, nil
	}
	if !txn.CanBeCancelled() {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "cancel"}
	}
	if ref := txn.ExternalReference(); !ref.IsZero() {
		if err := s.gateway.CancelTransfer(ctx, txn.ProviderCode(), ref); err != nil {
			s.logger.Warn("provider-side cancel failed, continuing local cancel",
				"transaction_id", transactionID.String(), "error", err)
		}
	}
	return s.unwind(ctx, transactionID, func(txn *models.Transaction) error {
		return txn.Cancel(reason)
	}, models.TransactionStatusCancelled)
}

// unwind releases the hold and applies a terminal transition, idempotent when
// the target terminal state was already reached.
func (s *WithdrawalService) unwind(ctx context.Context, transactionID models.TransactionID, mark func(*models.Transaction) error, terminal models.TransactionStatus) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Type() != models.TransactionTypeWithdrawal {
			return &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "unwind non-withdrawal"}
		}
		if txn.Status() == terminal {
			out = txn
			return nil
		}
		source, err := s.accounts.GetByIDForUpdate(ctx, *txn.SourceAccountID())
		if err != nil {
			return err
		}
		if err := mark(txn); err != nil {
			return err
		}
		if err := source.ReleaseHold(txn.Amount()); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, source); err != nil {
			return err
		}
		if err := s.transactions.Update(ctx, txn); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal unwound", "transaction_id", transactionID.String(), "status", string(out.Status()))
	return out, nil
}
