package models

import (
	"errors"
	"testing"
	"time"
)

func newDeposit(t *testing.T) *Transaction {
	t.Helper()
	return NewDepositTransaction("dep-key", NewAccountID(), MustMoney(100, CurrencyUSD), "stripe", NewPaymentMethodID())
}

func newWithdrawal(t *testing.T) *Transaction {
	t.Helper()
	return NewWithdrawalTransaction("wd-key", NewAccountID(), MustMoney(100, CurrencyUSD), "stripe", NewPaymentMethodID())
}

func newTransfer(t *testing.T) *Transaction {
	t.Helper()
	return NewTransferTransaction(NewTransactionID(), "tr-key", NewAccountID(), NewAccountID(),
		MustMoney(100, CurrencyUSD), "fingerprint", time.Now().Add(time.Hour))
}

func TestDepositLifecycle(t *testing.T) {
	d := newDeposit(t)
	if d.Status() != TransactionStatusPending {
		t.Fatalf("status = %s", d.Status())
	}
	if err := d.MarkProcessing("pi_123"); err != nil {
		t.Fatal(err)
	}
	if d.ExternalReference() != "pi_123" {
		t.Fatalf("external reference = %s", d.ExternalReference())
	}
	if err := d.Complete(); err != nil {
		t.Fatal(err)
	}
	if d.CompletedAt() == nil {
		t.Fatal("completedAt not set")
	}
	if err := d.Complete(); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("re-complete: %v", err)
	}
	if err := d.Fail("x", "y"); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("fail after complete: %v", err)
	}
}

func TestDepositFailsFromPendingAndProcessing(t *testing.T) {
	d := newDeposit(t)
	if err := d.Fail("declined", "card declined"); err != nil {
		t.Fatal(err)
	}
	if d.ErrorDetails() == nil || d.ErrorDetails().Code != "declined" {
		t.Fatalf("error details = %+v", d.ErrorDetails())
	}

	d2 := newDeposit(t)
	if err := d2.MarkProcessing("pi_1"); err != nil {
		t.Fatal(err)
	}
	if err := d2.Fail("timeout", ""); err != nil {
		t.Fatal(err)
	}
}

func TestDepositCannotBeCancelled(t *testing.T) {
	d := newDeposit(t)
	if d.CanBeCancelled() {
		t.Fatal("deposits are not cancellable")
	}
	if err := d.Cancel("nope"); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("cancel deposit: %v", err)
	}
}

func TestWithdrawalCancelOnlyFromPending(t *testing.T) {
	w := newWithdrawal(t)
	if !w.CanBeCancelled() {
		t.Fatal("pending withdrawal must be cancellable")
	}
	if err := w.MarkProcessing("po_1"); err != nil {
		t.Fatal(err)
	}
	if w.CanBeCancelled() {
		t.Fatal("processing withdrawal must not be cancellable")
	}
	if err := w.Cancel("too late"); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("cancel processing withdrawal: %v", err)
	}
}

func TestTransferConfirmAndCancelPaths(t *testing.T) {
	tr := newTransfer(t)
	if tr.Status() != TransactionStatusAwaitingConfirmation {
		t.Fatalf("status = %s", tr.Status())
	}
	if !tr.CanBeConfirmed() || !tr.CanBeCancelled() {
		t.Fatal("fresh transfer must be confirmable and cancellable")
	}
	if err := tr.Complete(); err != nil {
		t.Fatal(err)
	}
	if tr.CanBeConfirmed() || tr.CanBeCancelled() {
		t.Fatal("completed transfer must be terminal")
	}
	if err := tr.Cancel("late"); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("cancel completed transfer: %v", err)
	}

	tr2 := newTransfer(t)
	if err := tr2.Cancel("sender changed mind"); err != nil {
		t.Fatal(err)
	}
	if err := tr2.Complete(); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("confirm cancelled transfer: %v", err)
	}
}

func TestTransferNeverEntersProcessing(t *testing.T) {
	tr := newTransfer(t)
	if err := tr.MarkProcessing("x"); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("transfer mark processing: %v", err)
	}
}

func TestSetNetAmountRejectedOnTerminal(t *testing.T) {
	d := newDeposit(t)
	if err := d.SetNetAmount(MustMoney(95, CurrencyUSD)); err != nil {
		t.Fatal(err)
	}
	if !d.NetAmount().Equal(MustMoney(95, CurrencyUSD)) {
		t.Fatalf("net = %s", d.NetAmount())
	}
	if err := d.Complete(); err != nil {
		t.Fatal(err)
	}
	if err := d.SetNetAmount(MustMoney(90, CurrencyUSD)); !errors.Is(err, ErrInvalidTransactionState) {
		t.Fatalf("set net on terminal: %v", err)
	}
}
