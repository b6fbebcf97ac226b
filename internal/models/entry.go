package models

import "time"

type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// LedgerEntry is one immutable debit or credit against one account for one
// transaction. Entries are append-only: never updated, never deleted.
// BalanceAfter is the account balance at entry-creation time.
type LedgerEntry struct {
	ID            LedgerEntryID
	TransactionID TransactionID
	AccountID     AccountID
	EntryType     EntryType
	Amount        Money
	BalanceAfter  Money
	CreatedAt     time.Time
}

func NewLedgerEntry(transactionID TransactionID, accountID AccountID, entryType EntryType, amount, balanceAfter Money) *LedgerEntry {
	return &LedgerEntry{
		ID:            NewLedgerEntryID(),
		TransactionID: transactionID,
		AccountID:     accountID,
		EntryType:     entryType,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		CreatedAt:     time.Now().UTC(),
	}
}
