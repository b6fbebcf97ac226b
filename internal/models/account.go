package models

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type AccountType string

const (
	AccountTypeUser   AccountType = "user"
	AccountTypeSystem AccountType = "system"
	AccountTypeEscrow AccountType = "escrow"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Account is the unit of mutual exclusion for all balance movement. Fields are
// only mutable through its methods; every mutation bumps the version so the
// store can detect lost updates on the non-locked path.
//
// Invariants: availableBalance <= balance, balance >= 0, mutations require
// active status except ReleaseHold (a hold must always be unwindable).
type Account struct {
	id            AccountID
	userID        uuid.UUID
	accountType   AccountType
	status        AccountStatus
	balance       Money
	available     Money
	metadata      map[string]string
	version       int
	storedVersion int
	createdAt     time.Time
	updatedAt     time.Time
}

// NewAccount creates an active account with zero balances.
func NewAccount(userID uuid.UUID, accountType AccountType, currency Currency) *Account {
	now := time.Now().UTC()
	return &Account{
		id:            NewAccountID(),
		userID:        userID,
		accountType:   accountType,
		status:        AccountStatusActive,
		balance:       ZeroMoney(currency),
		available:     ZeroMoney(currency),
		metadata:      map[string]string{},
		version:       1,
		storedVersion: 0,
		createdAt:     now,
		updatedAt:     now,
	}
}

// AccountSnapshot carries persisted state back into an aggregate.
type AccountSnapshot struct {
	ID               AccountID
	UserID           uuid.UUID
	Type             AccountType
	Status           AccountStatus
	Balance          Money
	AvailableBalance Money
	Metadata         map[string]string
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RestoreAccount rehydrates an account from storage. Repository use only.
func RestoreAccount(s AccountSnapshot) *Account {
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	return &Account{
		id:            s.ID,
		userID:        s.UserID,
		accountType:   s.Type,
		status:        s.Status,
		balance:       s.Balance,
		available:     s.AvailableBalance,
		metadata:      s.Metadata,
		version:       s.Version,
		storedVersion: s.Version,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
	}
}

func (a *Account) ID() AccountID            { return a.id }
func (a *Account) UserID() uuid.UUID        { return a.userID }
func (a *Account) Type() AccountType        { return a.accountType }
func (a *Account) Status() AccountStatus    { return a.status }
func (a *Account) Balance() Money           { return a.balance }
func (a *Account) AvailableBalance() Money  { return a.available }
func (a *Account) Version() int             { return a.version }
func (a *Account) CreatedAt() time.Time     { return a.createdAt }
func (a *Account) UpdatedAt() time.Time     { return a.updatedAt }

func (a *Account) Metadata() map[string]string {
	out := make(map[string]string, len(a.metadata))
	for k, v := range a.metadata {
		out[k] = v
	}
	return out
}

// PendingAmount is the total currently held: balance - availableBalance.
func (a *Account) PendingAmount() Money {
	pending, err := a.balance.Sub(a.available)
	if err != nil {
		// available <= balance is a maintained invariant; a failure here means
		// corrupted state, surface zero rather than panic.
		return ZeroMoney(a.balance.Currency())
	}
	return pending
}

// StoredVersion is the version last seen by the store, used as the optimistic
// lock guard on update.
func (a *Account) StoredVersion() int { return a.storedVersion }

// CommitVersion records that the current version has been persisted.
// Repository use only.
func (a *Account) CommitVersion() { a.storedVersion = a.version }

func (a *Account) CanInitiateTransfer() bool { return a.status == AccountStatusActive }
func (a *Account) CanReceiveDeposit() bool   { return a.status == AccountStatusActive }

func (a *Account) requireActive(op string) error {
	if a.status != AccountStatusActive {
		return &InvalidAccountStateError{AccountID: a.id, Status: a.status, Operation: op}
	}
	return nil
}

func (a *Account) touch() {
	a.version++
	a.updatedAt = time.Now().UTC()
}

// Credit adds amount to both balances.
func (a *Account) Credit(amount Money) error {
	if err := a.requireActive("credit"); err != nil {
		return err
	}
	balance, err := a.balance.Add(amount)
	if err != nil {
		return err
	}
	available, err := a.available.Add(amount)
	if err != nil {
		return err
	}
	a.balance, a.available = balance, available
	a.touch()
	return nil
}

// Debit removes amount from both balances. Most flows hold first and finish
// with CompleteHeldDebit; the direct path exists for internal adjustments.
func (a *Account) Debit(amount Money) error {
	if err := a.requireActive("debit"); err != nil {
		return err
	}
	if !a.available.GreaterThanOrEqual(amount) {
		return &InsufficientFundsError{AccountID: a.id, Required: amount, Available: a.available}
	}
	balance, err := a.balance.Sub(amount)
	if err != nil {
		return err
	}
	available, err := a.available.Sub(amount)
	if err != nil {
		return err
	}
	a.balance, a.available = balance, available
	a.touch()
	return nil
}

// Hold reserves amount: available drops, balance is untouched.
func (a *Account) Hold(amount Money) error {
	if err := a.requireActive("hold"); err != nil {
		return err
	}
	if !a.available.GreaterThanOrEqual(amount) {
		return &InsufficientFundsError{AccountID: a.id, Required: amount, Available: a.available}
	}
	available, err := a.available.Sub(amount)
	if err != nil {
		return err
	}
	a.available = available
	a.touch()
	return nil
}

// ReleaseHold returns held funds to available. Allowed on any status so a hold
// can always be unwound. The result is clamped at balance; a clamp means the
// same hold was released twice and is logged for audit.
func (a *Account) ReleaseHold(amount Money) error {
	available, err := a.available.Add(amount)
	if err != nil {
		return err
	}
	if cmp, err := available.Cmp(a.balance); err == nil && cmp > 0 {
		slog.Warn("hold release clamped to balance",
			"account_id", a.id.String(),
			"release_amount", amount.String(),
			"balance", a.balance.String())
		available = a.balance
	}
	a.available = available
	a.touch()
	return nil
}

// CompleteHeldDebit finalizes a previously held amount: balance drops, the
// hold already reduced available.
func (a *Account) CompleteHeldDebit(amount Money) error {
	if err := a.requireActive("complete held debit"); err != nil {
		return err
	}
	if !a.PendingAmount().GreaterThanOrEqual(amount) {
		return &InsufficientFundsError{AccountID: a.id, Required: amount, Available: a.PendingAmount()}
	}
	balance, err := a.balance.Sub(amount)
	if err != nil {
		return err
	}
	a.balance = balance
	a.touch()
	return nil
}

func (a *Account) Freeze() error {
	if err := a.requireActive("freeze"); err != nil {
		return err
	}
	a.status = AccountStatusFrozen
	a.touch()
	return nil
}

func (a *Account) Unfreeze() error {
	if a.status != AccountStatusFrozen {
		return &InvalidAccountStateError{AccountID: a.id, Status: a.status, Operation: "unfreeze"}
	}
	a.status = AccountStatusActive
	a.touch()
	return nil
}

// Close marks the account closed. Requires a zero balance; accounts are never
// deleted.
func (a *Account) Close() error {
	if a.status == AccountStatusClosed {
		return &InvalidAccountStateError{AccountID: a.id, Status: a.status, Operation: "close"}
	}
	if !a.balance.IsZero() {
		return &InvalidAccountStateError{AccountID: a.id, Status: a.status, Operation: "close with non-zero balance"}
	}
	a.status = AccountStatusClosed
	a.touch()
	return nil
}

func (a *Account) SetMetadata(key, value string) {
	a.metadata[key] = value
	a.touch()
}
