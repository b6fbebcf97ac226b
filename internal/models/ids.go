package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifier newtypes. Each id kind gets its own type so an account id can
// never be passed where a transaction id is expected.

type AccountID uuid.UUID

func NewAccountID() AccountID { return AccountID(uuid.New()) }

func ParseAccountID(s string) (AccountID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return AccountID{}, fmt.Errorf("%w: account id %q: %v", ErrInvalidID, s, err)
	}
	return AccountID(u), nil
}

func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id AccountID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AccountID) UUID() uuid.UUID { return uuid.UUID(id) }

type TransactionID uuid.UUID

func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }

func ParseTransactionID(s string) (TransactionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, fmt.Errorf("%w: transaction id %q: %v", ErrInvalidID, s, err)
	}
	return TransactionID(u), nil
}

func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id TransactionID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TransactionID) UUID() uuid.UUID { return uuid.UUID(id) }

type LedgerEntryID uuid.UUID

func NewLedgerEntryID() LedgerEntryID { return LedgerEntryID(uuid.New()) }

func (id LedgerEntryID) String() string { return uuid.UUID(id).String() }
func (id LedgerEntryID) UUID() uuid.UUID { return uuid.UUID(id) }

type PaymentMethodID uuid.UUID

func NewPaymentMethodID() PaymentMethodID { return PaymentMethodID(uuid.New()) }

func ParsePaymentMethodID(s string) (PaymentMethodID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PaymentMethodID{}, fmt.Errorf("%w: payment method id %q: %v", ErrInvalidID, s, err)
	}
	return PaymentMethodID(u), nil
}

func (id PaymentMethodID) String() string { return uuid.UUID(id).String() }
func (id PaymentMethodID) IsZero() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PaymentMethodID) UUID() uuid.UUID { return uuid.UUID(id) }

// IdempotencyKey is the client-supplied retry token. Uniqueness is enforced by
// the store; an empty key is invalid.
type IdempotencyKey string

func NewIdempotencyKey(s string) (IdempotencyKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: idempotency key must not be empty", ErrInvalidID)
	}
	return IdempotencyKey(s), nil
}

func (k IdempotencyKey) String() string { return string(k) }

// ExternalReference is the provider-side id of a payment intent or payout.
type ExternalReference string

func (r ExternalReference) String() string { return string(r) }
func (r ExternalReference) IsZero() bool   { return r == "" }

// ProviderCode identifies an external payment provider ("stripe", "mpesa", ...).
type ProviderCode string

func (c ProviderCode) String() string { return string(c) }
