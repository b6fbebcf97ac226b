package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/vaultpay/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for the repository, tx-manager and gateway ports. The
// account repo takes real per-row mutexes held until the unit of work ends, so
// lock-ordering behavior (and deadlock-freedom) is exercised for real.
// ---------------------------------------------------------------------------

type txState struct {
	mu     sync.Mutex
	locked []*sync.Mutex // in acquisition order
}

func (s *txState) acquire(m *sync.Mutex) {
	m.Lock()
	s.mu.Lock()
	s.locked = append(s.locked, m)
	s.mu.Unlock()
}

func (s *txState) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.locked) - 1; i >= 0; i-- {
		s.locked[i].Unlock()
	}
	s.locked = nil
}

type txStateKey struct{}

func stateFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txStateKey{}).(*txState)
	return st
}

// memTxManager mimics the context-carried unit of work: nested calls reuse the
// ambient one, row locks are released when the outermost call returns.
type memTxManager struct{}

func (memTxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}
	st := &txState{}
	defer st.releaseAll()
	return fn(context.WithValue(ctx, txStateKey{}, st))
}

// ---

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[models.AccountID]*models.Account
	rowLocks map[models.AccountID]*sync.Mutex
}

func newMemAccountRepo(accs ...*models.Account) *memAccountRepo {
	r := &memAccountRepo{
		accounts: make(map[models.AccountID]*models.Account),
		rowLocks: make(map[models.AccountID]*sync.Mutex),
	}
	for _, a := range accs {
		cp := *a
		r.accounts[a.ID()] = &cp
		r.rowLocks[a.ID()] = &sync.Mutex{}
	}
	return r
}

func (r *memAccountRepo) get(id models.AccountID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAccountRepo) GetByID(_ context.Context, id models.AccountID) (*models.Account, error) {
	return r.get(id)
}

func (r *memAccountRepo) GetByIDForUpdate(ctx context.Context, id models.AccountID) (*models.Account, error) {
	r.mu.Lock()
	lock, ok := r.rowLocks[id]
	r.mu.Unlock()
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	if st := stateFrom(ctx); st != nil {
		st.acquire(lock)
	}
	return r.get(id)
}

func (r *memAccountRepo) GetByIDsForUpdate(ctx context.Context, ids []models.AccountID) ([]*models.Account, error) {
	sorted := make([]models.AccountID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	out := make([]*models.Account, 0, len(sorted))
	for _, id := range sorted {
		a, err := r.GetByIDForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *memAccountRepo) Exists(_ context.Context, id models.AccountID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[id]
	return ok, nil
}

func (r *memAccountRepo) Create(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID()] = &cp
	r.rowLocks[a.ID()] = &sync.Mutex{}
	return nil
}

func (r *memAccountRepo) Update(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID()]; !ok {
		return models.ErrAccountNotFound
	}
	a.CommitVersion()
	cp := *a
	r.accounts[a.ID()] = &cp
	return nil
}

func (r *memAccountRepo) balance(t *testing.T, id models.AccountID) models.Money {
	t.Helper()
	a, err := r.get(id)
	if err != nil {
		t.Fatal(err)
	}
	return a.Balance()
}

func (r *memAccountRepo) available(t *testing.T, id models.AccountID) models.Money {
	t.Helper()
	a, err := r.get(id)
	if err != nil {
		t.Fatal(err)
	}
	return a.AvailableBalance()
}

// ---

type memTransactionRepo struct {
	mu      sync.Mutex
	byID    map[models.TransactionID]*models.Transaction
	byKey   map[models.IdempotencyKey]*models.Transaction
	entries []*models.LedgerEntry
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{
		byID:  make(map[models.TransactionID]*models.Transaction),
		byKey: make(map[models.IdempotencyKey]*models.Transaction),
	}
}

func (r *memTransactionRepo) GetByID(_ context.Context, id models.TransactionID) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTransactionRepo) GetByIdempotencyKey(_ context.Context, key models.IdempotencyKey) (*models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byKey[key]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *memTransactionRepo) Create(_ context.Context, t *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[t.IdempotencyKey()]; ok {
		return models.ErrDuplicateIdempotencyKey
	}
	cp := *t
	r.byID[t.ID()] = &cp
	r.byKey[t.IdempotencyKey()] = &cp
	return nil
}

func (r *memTransactionRepo) Update(_ context.Context, t *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[t.ID()]
	if !ok {
		return models.ErrTransactionNotFound
	}
	if existing.IsTerminal() {
		return fmt.Errorf("%w: transaction %s already settled", models.ErrInvalidTransactionState, t.ID())
	}
	cp := *t
	r.byID[t.ID()] = &cp
	r.byKey[t.IdempotencyKey()] = &cp
	return nil
}

func (r *memTransactionRepo) CreateLedgerEntries(_ context.Context, entries []*models.LedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		cp := *e
		r.entries = append(r.entries, &cp)
	}
	return nil
}

func (r *memTransactionRepo) entriesFor(id models.TransactionID) []*models.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range r.entries {
		if e.TransactionID == id {
			out = append(out, e)
		}
	}
	return out
}

func (r *memTransactionRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ---

type memPaymentMethodRepo struct {
	mu      sync.Mutex
	methods map[models.PaymentMethodID]*models.PaymentMethod
}

func newMemPaymentMethodRepo(methods ...*models.PaymentMethod) *memPaymentMethodRepo {
	r := &memPaymentMethodRepo{methods: make(map[models.PaymentMethodID]*models.PaymentMethod)}
	for _, m := range methods {
		cp := *m
		r.methods[m.ID] = &cp
	}
	return r
}

func (r *memPaymentMethodRepo) GetByID(_ context.Context, id models.PaymentMethodID) (*models.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.methods[id]
	if !ok {
		return nil, models.ErrPaymentMethodNotFound
	}
	cp := *m
	return &cp, nil
}

// ---

type fakeGateway struct {
	mu             sync.Mutex
	intentErr      error
	transferErr    error
	cancelErr      error
	requiresAction bool
	intentCalls    int
	transferCalls  int
	cancelCalls    []models.ExternalReference

	// Invoked after a successful provider call, outside the gateway lock.
	// Lets a test interleave webhook settlement with an in-flight initiate.
	onIntent   func(CreatePaymentIntentRequest)
	onTransfer func(InitiateProviderTransferRequest)
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, req CreatePaymentIntentRequest) (*PaymentIntent, error) {
	g.mu.Lock()
	g.intentCalls++
	intentErr, requiresAction, hook := g.intentErr, g.requiresAction, g.onIntent
	g.mu.Unlock()
	if intentErr != nil {
		return nil, intentErr
	}
	if hook != nil {
		hook(req)
	}
	return &PaymentIntent{
		ExternalID:     models.ExternalReference("pi_" + req.TransactionID.String()[:8]),
		RequiresAction: requiresAction,
		ActionURL:      "https://provider.test/next",
		Fee:            models.ZeroMoney(req.Amount.Currency()),
	}, nil
}

func (g *fakeGateway) InitiateTransfer(_ context.Context, req InitiateProviderTransferRequest) (*ProviderTransfer, error) {
	g.mu.Lock()
	g.transferCalls++
	transferErr, hook := g.transferErr, g.onTransfer
	g.mu.Unlock()
	if transferErr != nil {
		return nil, transferErr
	}
	if hook != nil {
		hook(req)
	}
	return &ProviderTransfer{ExternalID: models.ExternalReference("po_" + req.TransactionID.String()[:8])}, nil
}

func (g *fakeGateway) CancelTransfer(_ context.Context, _ models.ProviderCode, externalID models.ExternalReference) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls = append(g.cancelCalls, externalID)
	return g.cancelErr
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func acct(t *testing.T, balance int64) *models.Account {
	t.Helper()
	a := models.NewAccount(uuid.New(), models.AccountTypeUser, models.CurrencyUSD)
	if balance > 0 {
		if err := a.Credit(models.MustMoney(balance, models.CurrencyUSD)); err != nil {
			t.Fatal(err)
		}
	}
	return a
}

func verifiedMethod(accountID models.AccountID, withdrawable bool) *models.PaymentMethod {
	return &models.PaymentMethod{
		ID:             models.NewPaymentMethodID(),
		AccountID:      accountID,
		ProviderCode:   "stripe",
		Type:           models.PaymentMethodTypeBankAccount,
		Status:         models.PaymentMethodStatusVerified,
		ExternalID:     "ext_pm_1",
		IsWithdrawable: withdrawable,
	}
}

func usd(t *testing.T, n int64) models.Money {
	t.Helper()
	return models.MustMoney(n, models.CurrencyUSD)
}
