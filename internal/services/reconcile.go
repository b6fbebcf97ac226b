package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vaultpay/backend/internal/models"
)

// ProviderEvent is an inbound webhook notification, already authenticated at
// the transport boundary. Providers may deliver the same event multiple times
// or out of order relative to a synchronous confirmation.
type ProviderEvent struct {
	Provider       models.ProviderCode
	ExternalID     models.ExternalReference
	ReferenceID    string // our transaction id as the provider echoes it
	Status         string
	FailureCode    string
	FailureMessage string
	Fee            *models.Money
}

// Provider status values we map. Anything else is acknowledged and logged.
const (
	providerStatusSucceeded = "succeeded"
	providerStatusCompleted = "completed"
	providerStatusFailed    = "failed"
	providerStatusCancelled = "cancelled"
)

// Reconciler maps provider events onto deposit/withdrawal completion and
// failure. Events for unknown transactions or already-terminal ones are
// acknowledged, not retried: the ledger is the source of truth and a stale
// event must never mutate balances.
type Reconciler struct {
	transactions TransactionRepo
	deposits     *DepositService
	withdrawals  *WithdrawalService
	logger       *slog.Logger
}

func NewReconciler(transactions TransactionRepo, deposits *DepositService, withdrawals *WithdrawalService, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		transactions: transactions,
		deposits:     deposits,
		withdrawals:  withdrawals,
		logger:       logger,
	}
}

// HandleEvent applies one provider event. A nil return acknowledges the event;
// only infrastructure failures propagate so the caller can retry.
func (r *Reconciler) HandleEvent(ctx context.Context, ev ProviderEvent) error {
	transactionID, err := models.ParseTransactionID(ev.ReferenceID)
	if err != nil {
		r.logger.Warn("webhook event with unparseable reference, acknowledging",
			"provider", ev.Provider.String(), "reference_id", ev.ReferenceID)
		return nil
	}

	txn, err := r.transactions.GetByID(ctx, transactionID)
	if errors.Is(err, models.ErrTransactionNotFound) {
		r.logger.Warn("webhook event for unknown transaction, acknowledging",
			"provider", ev.Provider.String(), "transaction_id", transactionID.String())
		return nil
	}
	if err != nil {
		return err
	}

	switch ev.Status {
	case providerStatusSucceeded, providerStatusCompleted:
		err = r.applySuccess(ctx, txn, ev)
	case providerStatusFailed, providerStatusCancelled:
		err = r.applyFailure(ctx, txn, ev)
	default:
		r.logger.Warn("webhook event with unmapped status, acknowledging",
			"transaction_id", transactionID.String(), "status", ev.Status)
		return nil
	}

	// A terminal-state rejection means the event arrived late or twice; it is
	// acknowledged without mutation.
	if errors.Is(err, models.ErrInvalidTransactionState) {
		r.logger.Info("webhook event for terminal transaction, acknowledging",
			"transaction_id", transactionID.String(), "status", ev.Status)
		return nil
	}
	return err
}

func (r *Reconciler) applySuccess(ctx context.Context, txn *models.Transaction, ev ProviderEvent) error {
	switch txn.Type() {
	case models.TransactionTypeDeposit:
		_, err := r.deposits.Complete(ctx, txn.ID(), ev.Fee)
		return err
	case models.TransactionTypeWithdrawal:
		_, err := r.withdrawals.Complete(ctx, txn.ID())
		return err
	default:
		r.logger.Warn("webhook success event for transfer, acknowledging",
			"transaction_id", txn.ID().String())
		return nil
	}
}

func (r *Reconciler) applyFailure(ctx context.Context, txn *models.Transaction, ev ProviderEvent) error {
	code := ev.FailureCode
	if code == "" {
		code = "provider_" + ev.Status
	}
	switch txn.Type() {
	case models.TransactionTypeDeposit:
		_, err := r.deposits.Fail(ctx, txn.ID(), code, ev.FailureMessage)
		return err
	case models.TransactionTypeWithdrawal:
		_, err := r.withdrawals.Fail(ctx, txn.ID(), code, ev.FailureMessage)
		return err
	default:
		r.logger.Warn("webhook failure event for transfer, acknowledging",
			"transaction_id", txn.ID().String())
		return nil
	}
}
