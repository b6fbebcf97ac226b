package models

import (
	"time"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
)

type TransactionStatus string

const (
	TransactionStatusPending              TransactionStatus = "pending"
	TransactionStatusProcessing           TransactionStatus = "processing"
	TransactionStatusAwaitingConfirmation TransactionStatus = "awaiting_confirmation"
	TransactionStatusCompleted            TransactionStatus = "completed"
	TransactionStatusFailed               TransactionStatus = "failed"
	TransactionStatusCancelled            TransactionStatus = "cancelled"
)

// validTransitions is keyed by transaction type; transitions are one-way, and
// terminal statuses allow nothing further (idempotent re-entry is handled by
// callers returning the existing record).
var validTransitions = map[TransactionType]map[TransactionStatus][]TransactionStatus{
	TransactionTypeDeposit: {
		TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCompleted, TransactionStatusFailed},
		TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	},
	TransactionTypeWithdrawal: {
		TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled},
		TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed},
	},
	TransactionTypeTransfer: {
		TransactionStatusAwaitingConfirmation: {TransactionStatusCompleted, TransactionStatusCancelled},
	},
}

// ErrorDetails captures why a transaction failed, for the mapping layer and
// for provider failure codes arriving over webhooks.
type ErrorDetails struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Transaction is the aggregate for one money movement: a deposit, withdrawal
// or peer-to-peer transfer. The idempotency key is the sole duplicate-request
// guard and is unique across all transactions.
type Transaction struct {
	id                TransactionID
	txType            TransactionType
	idempotencyKey    IdempotencyKey
	sourceAccountID   *AccountID
	destinationAccountID *AccountID
	amount            Money
	netAmount         Money
	providerCode      ProviderCode
	paymentMethodID   *PaymentMethodID
	externalReference ExternalReference
	tokenFingerprint  string
	confirmationExpiresAt *time.Time
	status            TransactionStatus
	errorDetails      *ErrorDetails
	createdAt         time.Time
	updatedAt         time.Time
	completedAt       *time.Time
}

// NewDepositTransaction starts a deposit in pending. Funds are credited only
// on completion; nothing is held.
func NewDepositTransaction(key IdempotencyKey, destination AccountID, amount Money, provider ProviderCode, paymentMethod PaymentMethodID) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		id:                   NewTransactionID(),
		txType:               TransactionTypeDeposit,
		idempotencyKey:       key,
		destinationAccountID: &destination,
		amount:               amount,
		netAmount:            amount,
		providerCode:         provider,
		paymentMethodID:      &paymentMethod,
		status:               TransactionStatusPending,
		createdAt:            now,
		updatedAt:            now,
	}
}

// NewWithdrawalTransaction starts a withdrawal in pending. The caller places
// the hold in the same unit of work.
func NewWithdrawalTransaction(key IdempotencyKey, source AccountID, amount Money, provider ProviderCode, paymentMethod PaymentMethodID) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		id:              NewTransactionID(),
		txType:          TransactionTypeWithdrawal,
		idempotencyKey:  key,
		sourceAccountID: &source,
		amount:          amount,
		netAmount:       amount,
		providerCode:    provider,
		paymentMethodID: &paymentMethod,
		status:          TransactionStatusPending,
		createdAt:       now,
		updatedAt:       now,
	}
}

// NewTransferTransaction starts a transfer in awaiting_confirmation. The id is
// supplied by the caller because the confirmation token binds to it before the
// row exists.
func NewTransferTransaction(id TransactionID, key IdempotencyKey, source, destination AccountID, amount Money, tokenFingerprint string, confirmationExpiresAt time.Time) *Transaction {
	now := time.Now().UTC()
	expires := confirmationExpiresAt.UTC()
	return &Transaction{
		id:                    id,
		txType:                TransactionTypeTransfer,
		idempotencyKey:        key,
		sourceAccountID:       &source,
		destinationAccountID:  &destination,
		amount:                amount,
		netAmount:             amount,
		tokenFingerprint:      tokenFingerprint,
		confirmationExpiresAt: &expires,
		status:                TransactionStatusAwaitingConfirmation,
		createdAt:             now,
		updatedAt:             now,
	}
}

// TransactionSnapshot carries persisted state back into the aggregate.
type TransactionSnapshot struct {
	ID                    TransactionID
	Type                  TransactionType
	IdempotencyKey        IdempotencyKey
	SourceAccountID       *AccountID
	DestinationAccountID  *AccountID
	Amount                Money
	NetAmount             Money
	ProviderCode          ProviderCode
	PaymentMethodID       *PaymentMethodID
	ExternalReference     ExternalReference
	TokenFingerprint      string
	ConfirmationExpiresAt *time.Time
	Status                TransactionStatus
	ErrorDetails          *ErrorDetails
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CompletedAt           *time.Time
}

// RestoreTransaction rehydrates a transaction from storage. Repository use only.
func RestoreTransaction(s TransactionSnapshot) *Transaction {
	return &Transaction{
		id:                    s.ID,
		txType:                s.Type,
		idempotencyKey:        s.IdempotencyKey,
		sourceAccountID:       s.SourceAccountID,
		destinationAccountID:  s.DestinationAccountID,
		amount:                s.Amount,
		netAmount:             s.NetAmount,
		providerCode:          s.ProviderCode,
		paymentMethodID:       s.PaymentMethodID,
		externalReference:     s.ExternalReference,
		tokenFingerprint:      s.TokenFingerprint,
		confirmationExpiresAt: s.ConfirmationExpiresAt,
		status:                s.Status,
		errorDetails:          s.ErrorDetails,
		createdAt:             s.CreatedAt,
		updatedAt:             s.UpdatedAt,
		completedAt:           s.CompletedAt,
	}
}

func (t *Transaction) ID() TransactionID                  { return t.id }
func (t *Transaction) Type() TransactionType              { return t.txType }
func (t *Transaction) IdempotencyKey() IdempotencyKey     { return t.idempotencyKey }
func (t *Transaction) SourceAccountID() *AccountID        { return t.sourceAccountID }
func (t *Transaction) DestinationAccountID() *AccountID   { return t.destinationAccountID }
func (t *Transaction) Amount() Money                      { return t.amount }
func (t *Transaction) NetAmount() Money                   { return t.netAmount }
func (t *Transaction) ProviderCode() ProviderCode         { return t.providerCode }
func (t *Transaction) PaymentMethodID() *PaymentMethodID  { return t.paymentMethodID }
func (t *Transaction) ExternalReference() ExternalReference { return t.externalReference }
func (t *Transaction) TokenFingerprint() string           { return t.tokenFingerprint }
func (t *Transaction) ConfirmationExpiresAt() *time.Time  { return t.confirmationExpiresAt }
func (t *Transaction) Status() TransactionStatus          { return t.status }
func (t *Transaction) ErrorDetails() *ErrorDetails        { return t.errorDetails }
func (t *Transaction) CreatedAt() time.Time               { return t.createdAt }
func (t *Transaction) UpdatedAt() time.Time               { return t.updatedAt }
func (t *Transaction) CompletedAt() *time.Time            { return t.completedAt }

func (t *Transaction) IsTerminal() bool {
	switch t.status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

func (t *Transaction) CanBeConfirmed() bool {
	return t.txType == TransactionTypeTransfer && t.status == TransactionStatusAwaitingConfirmation
}

func (t *Transaction) CanBeCancelled() bool {
	switch t.txType {
	case TransactionTypeTransfer:
		return t.status == TransactionStatusAwaitingConfirmation
	case TransactionTypeWithdrawal:
		// Never once the provider started processing.
		return t.status == TransactionStatusPending
	}
	return false
}

func (t *Transaction) canTransitionTo(target TransactionStatus) bool {
	allowed, ok := validTransitions[t.txType][t.status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

func (t *Transaction) transition(target TransactionStatus, op string) error {
	if !t.canTransitionTo(target) {
		return &InvalidTransactionStateError{TransactionID: t.id, Status: t.status, Requested: op}
	}
	t.status = target
	t.updatedAt = time.Now().UTC()
	return nil
}

// MarkProcessing records that the provider accepted the operation.
func (t *Transaction) MarkProcessing(ref ExternalReference) error {
	if err := t.transition(TransactionStatusProcessing, "mark processing"); err != nil {
		return err
	}
	t.externalReference = ref
	return nil
}

func (t *Transaction) Complete() error {
	if err := t.transition(TransactionStatusCompleted, "complete"); err != nil {
		return err
	}
	now := time.Now().UTC()
	t.completedAt = &now
	return nil
}

func (t *Transaction) Fail(code, message string) error {
	if err := t.transition(TransactionStatusFailed, "fail"); err != nil {
		return err
	}
	t.errorDetails = &ErrorDetails{Code: code, Message: message}
	return nil
}

func (t *Transaction) Cancel(reason string) error {
	if err := t.transition(TransactionStatusCancelled, "cancel"); err != nil {
		return err
	}
	if reason != "" {
		t.errorDetails = &ErrorDetails{Code: "cancelled", Message: reason}
	}
	return nil
}

// SetNetAmount records the credited amount after provider fees. Deposit
// completion only.
func (t *Transaction) SetNetAmount(net Money) error {
	if t.IsTerminal() {
		return &InvalidTransactionStateError{TransactionID: t.id, Status: t.status, Requested: "set net amount"}
	}
	t.netAmount = net
	t.updatedAt = time.Now().UTC()
	return nil
}
