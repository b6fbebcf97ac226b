package models

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrPaymentMethodNotFound  = errors.New("payment method not found")
	ErrPaymentMethodUnusable  = errors.New("payment method not usable")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAccountState    = errors.New("invalid account state")
	ErrInvalidTransactionState = errors.New("invalid transaction state")
	ErrOptimisticLockConflict = errors.New("account version conflict")
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	ErrCurrencyMismatch       = errors.New("currency mismatch")
	ErrNegativeAmount         = errors.New("amount must not be negative")
	ErrProvider               = errors.New("payment provider error")
	ErrInvalidID              = errors.New("invalid identifier")
)

// InsufficientFundsError carries the required vs available amounts so the
// mapping layer can explain the rejection without re-deriving context.
type InsufficientFundsError struct {
	AccountID AccountID
	Required  Money
	Available Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: required %s, available %s",
		e.AccountID, e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// InvalidAccountStateError is returned when an active-only operation hits a
// frozen or closed account.
type InvalidAccountStateError struct {
	AccountID AccountID
	Status    AccountStatus
	Operation string
}

func (e *InvalidAccountStateError) Error() string {
	return fmt.Sprintf("account %s is %s: cannot %s", e.AccountID, e.Status, e.Operation)
}

func (e *InvalidAccountStateError) Is(target error) bool { return target == ErrInvalidAccountState }

// InvalidTransactionStateError is returned when a transition is requested from
// a status that does not allow it.
type InvalidTransactionStateError struct {
	TransactionID TransactionID
	Status        TransactionStatus
	Requested     string
}

func (e *InvalidTransactionStateError) Error() string {
	return fmt.Sprintf("transaction %s is %s: cannot %s", e.TransactionID, e.Status, e.Requested)
}

func (e *InvalidTransactionStateError) Is(target error) bool {
	return target == ErrInvalidTransactionState
}

// ProviderError wraps any failure surfaced by an external payment provider.
type ProviderError struct {
	Provider ProviderCode
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error        { return e.Err }
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }
