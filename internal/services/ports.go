package services

import (
	"context"

	"github.com/vaultpay/backend/internal/models"
)

// Ports implemented by infrastructure. Repositories are expected to resolve
// the ambient unit of work from the context placed there by TxManager.

// AccountRepo loads and saves Account aggregates.
type AccountRepo interface {
	GetByID(ctx context.Context, id models.AccountID) (*models.Account, error)
	// GetByIDForUpdate row-locks the account. Call within a unit of work.
	GetByIDForUpdate(ctx context.Context, id models.AccountID) (*models.Account, error)
	// GetByIDsForUpdate row-locks all given accounts in ascending id order and
	// returns them sorted the same way. Call within a unit of work.
	GetByIDsForUpdate(ctx context.Context, ids []models.AccountID) ([]*models.Account, error)
	Exists(ctx context.Context, id models.AccountID) (bool, error)
	Create(ctx context.Context, a *models.Account) error
	// Update persists the aggregate and fails with ErrOptimisticLockConflict on
	// a version mismatch.
	Update(ctx context.Context, a *models.Account) error
}

// TransactionRepo loads and saves Transaction aggregates and appends ledger
// entries.
type TransactionRepo interface {
	GetByID(ctx context.Context, id models.TransactionID) (*models.Transaction, error)
	// GetByIdempotencyKey returns (nil, nil) when no transaction carries the key.
	GetByIdempotencyKey(ctx context.Context, key models.IdempotencyKey) (*models.Transaction, error)
	// Create fails with ErrDuplicateIdempotencyKey when the key is already used.
	Create(ctx context.Context, t *models.Transaction) error
	// Update fails with ErrInvalidTransactionState when the stored row already
	// reached a terminal status; terminal states are one-way in the store too.
	Update(ctx context.Context, t *models.Transaction) error
	CreateLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error
}

// PaymentMethodRepo looks up registered funding sources.
type PaymentMethodRepo interface {
	GetByID(ctx context.Context, id models.PaymentMethodID) (*models.PaymentMethod, error)
}

// TxManager runs fn inside one atomic unit of work. A nested call while
// already inside a unit reuses it rather than opening another.
type TxManager interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreatePaymentIntentRequest asks the provider to start collecting a deposit.
type CreatePaymentIntentRequest struct {
	TransactionID   models.TransactionID
	Amount          models.Money
	PaymentMethodID string // provider-side id of the funding source
	Provider        models.ProviderCode
}

// PaymentIntent is the provider's answer. Fee may be zero when the provider
// reports fees only at settlement.
type PaymentIntent struct {
	ExternalID     models.ExternalReference
	RequiresAction bool
	ActionURL      string
	Fee            models.Money
}

// InitiateProviderTransferRequest asks the provider to pay out a withdrawal.
type InitiateProviderTransferRequest struct {
	TransactionID   models.TransactionID
	Amount          models.Money
	PaymentMethodID string
	Provider        models.ProviderCode
}

// ProviderTransfer is the provider's payout handle.
type ProviderTransfer struct {
	ExternalID models.ExternalReference
}

// ProviderGateway is the external payment network boundary. Calls are slow and
// fallible and must never happen inside a unit of work.
type ProviderGateway interface {
	CreatePaymentIntent(ctx context.Context, req CreatePaymentIntentRequest) (*PaymentIntent, error)
	InitiateTransfer(ctx context.Context, req InitiateProviderTransferRequest) (*ProviderTransfer, error)
	CancelTransfer(ctx context.Context, provider models.ProviderCode, externalID models.ExternalReference) error
}
