package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vaultpay/backend/internal/models"
)

// DepositService orchestrates deposits from an external provider into an
// internal account. Nothing is held: funds are credited only when the provider
// confirms collection, synchronously or via webhook.
type DepositService struct {
	accounts       AccountRepo
	transactions   TransactionRepo
	paymentMethods PaymentMethodRepo
	txm            TxManager
	gateway        ProviderGateway
	logger         *slog.Logger
}

func NewDepositService(accounts AccountRepo, transactions TransactionRepo, paymentMethods PaymentMethodRepo, txm TxManager, gateway ProviderGateway, logger *slog.Logger) *DepositService {
	return &DepositService{
		accounts:       accounts,
		transactions:   transactions,
		paymentMethods: paymentMethods,
		txm:            txm,
		gateway:        gateway,
		logger:         logger,
	}
}

// InitiateDepositResult surfaces whether the user must complete an extra
// provider step (redirect, 3-D Secure) before funds can be collected.
type InitiateDepositResult struct {
	Transaction    *models.Transaction
	RequiresAction bool
	ActionURL      string
}

// Initiate records the deposit and asks the provider for a payment intent.
// The provider call happens outside any lock or unit of work.
func (s *DepositService) Initiate(ctx context.Context, key models.IdempotencyKey, destinationID models.AccountID, paymentMethodID models.PaymentMethodID, amount models.Money) (*InitiateDepositResult, error) {
	existing, err := s.transactions.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("looking up idempotency key: %w", err)
	}
	if existing != nil {
		return &InitiateDepositResult{Transaction: existing}, nil
	}

	destination, err := s.accounts.GetByID(ctx, destinationID)
	if err != nil {
		return nil, err
	}
	if !destination.CanReceiveDeposit() {
		return nil, &models.InvalidAccountStateError{AccountID: destinationID, Status: destination.Status(), Operation: "receive deposit"}
	}
	method, err := s.paymentMethods.GetByID(ctx, paymentMethodID)
	if err != nil {
		return nil, err
	}
	// Ownership mismatch reads as not-found so one user cannot probe another's
	// funding sources.
	if method.AccountID != destinationID {
		return nil, models.ErrPaymentMethodNotFound
	}
	if !method.IsUsable(time.Now()) {
		return nil, models.ErrPaymentMethodUnusable
	}

	txn := models.NewDepositTransaction(key, destinationID, amount, method.ProviderCode, paymentMethodID)
	if err := s.transactions.Create(ctx, txn); err != nil {
		if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
			winner, lookupErr := s.transactions.GetByIdempotencyKey(ctx, key)
			if lookupErr != nil || winner == nil {
				return nil, fmt.Errorf("idempotency key raced but winner not found: %w", err)
			}
			return &InitiateDepositResult{Transaction: winner}, nil
		}
		return nil, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, CreatePaymentIntentRequest{
		TransactionID:   txn.ID(),
		Amount:          amount,
		PaymentMethodID: method.ExternalID,
		Provider:        method.ProviderCode,
	})
	if err != nil {
		if failErr := txn.Fail("provider_error", err.Error()); failErr == nil {
			if updErr := s.transactions.Update(ctx, txn); updErr != nil {
				s.logger.Error("marking deposit failed after provider error",
					"transaction_id", txn.ID().String(), "error", updErr)
			}
		}
		return nil, &models.ProviderError{Provider: method.ProviderCode, Op: "create payment intent", Err: err}
	}

	txn, err = markProcessing(ctx, s.txm, s.transactions, txn.ID(), intent.ExternalID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit initiated",
		"transaction_id", txn.ID().String(),
		"destination_account_id", destinationID.String(),
		"provider", method.ProviderCode.String(),
		"requires_action", intent.RequiresAction)
	return &InitiateDepositResult{Transaction: txn, RequiresAction: intent.RequiresAction, ActionURL: intent.ActionURL}, nil
}

// markProcessing persists the provider reference after a successful provider
// call. The transaction is re-read inside the unit of work because a webhook
// may already have settled it between the provider call and this write; a
// settled transaction is returned as-is and never regressed to processing.
func markProcessing(ctx context.Context, txm TxManager, transactions TransactionRepo, transactionID models.TransactionID, ref models.ExternalReference) (*models.Transaction, error) {
	var out *models.Transaction
	err := txm.InTx(ctx, func(ctx context.Context) error {
		txn, err := transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status() != models.TransactionStatusPending {
			out = txn
			return nil
		}
		if err := txn.MarkProcessing(ref); err != nil {
			return err
		}
		if err := transactions.Update(ctx, txn); err != nil {
			return err
		}
		out = txn
		return nil
	})
	// A settlement can still slip in between our read and write; the store
	// rejects the stale write and the settled transaction is the result.
	if errors.Is(err, models.ErrInvalidTransactionState) {
		return transactions.GetByID(ctx, transactionID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete credits the net amount (amount minus provider fee) and writes the
// credit ledger entry. Idempotent when the deposit already completed; fee may
// be nil when the provider charges none.
func (s *DepositService) Complete(ctx context.Context, transactionID models.TransactionID, fee *models.Money) (*models.Transaction, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Type() != models.TransactionTypeDeposit {
		return nil, &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "complete non-deposit"}
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

		net := txn.Amount()
		if fee != nil {
			net, err = txn.Amount().Sub(*fee)
			if err != nil {
				return fmt.Errorf("computing net amount: %w", err)
			}
			if err := txn.SetNetAmount(net); err != nil {
				return err
			}
		}

		destination, err := s.accounts.GetByIDForUpdate(ctx, *txn.DestinationAccountID())
		if err != nil {
			return err
		}
		if err := destination.Credit(net); err != nil {
			return err
		}
		entry := models.NewLedgerEntry(txn.ID(), destination.ID(), models.EntryTypeCredit, net, destination.Balance())
		if err := txn.Complete(); err != nil {
			return err
		}
		if err := s.accounts.Update(ctx, destination); err != nil {
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

	s.logger.Info("deposit completed", "transaction_id", transactionID.String())
	return completed, nil
}

// Fail marks the deposit failed with the provider's reason. No account
// mutation is needed because deposit funds were never held. Idempotent on
// failed; rejects an already completed deposit.
func (s *DepositService) Fail(ctx context.Context, transactionID models.TransactionID, code, message string) (*models.Transaction, error) {
	var failed *models.Transaction
	err := s.txm.InTx(ctx, func(ctx context.Context) error {
		txn, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Type() != models.TransactionTypeDeposit {
			return &models.InvalidTransactionStateError{TransactionID: transactionID, Status: txn.Status(), Requested: "fail non-deposit"}
		}
		if txn.Status() == models.TransactionStatusFailed {
			failed = txn
			return nil
		}
		if err := txn.Fail(code, message); err != nil {
			return err
		}
		if err := s.transactions.Update(ctx, txn); err != nil {
			return err
		}
		failed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("deposit failed", "transaction_id", transactionID.String(), "code", code)
	return failed, nil
}
