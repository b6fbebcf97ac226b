package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultpay/backend/internal/models"
)

const transactionColumns = `id, tx_type, idempotency_key, source_account_id, destination_account_id,
	currency, amount, net_amount, provider_code, payment_method_id, external_reference,
	token_fingerprint, confirmation_expires_at, status, error_code, error_message,
	created_at, updated_at, completed_at`

// TransactionRepo is the Postgres implementation of services.TransactionRepo.
// Ledger entries are written through it because they share the transaction's
// unit of work.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) db(ctx context.Context) DBTX {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *TransactionRepo) GetByID(ctx context.Context, id models.TransactionID) (*models.Transaction, error) {
	row := r.db(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id.UUID())
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrTransactionNotFound
	}
	return t, err
}

// GetByIdempotencyKey returns (nil, nil) when the key has never been used,
// distinguishing "not found" from infrastructure failure.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, key models.IdempotencyKey) (*models.Transaction, error) {
	row := r.db(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key.String())
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	_, err := r.db(ctx).Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, t.ID().UUID(), t.Type(), t.IdempotencyKey().String(),
		accountIDOrNil(t.SourceAccountID()), accountIDOrNil(t.DestinationAccountID()),
		t.Amount().Currency(), numericFromMoney(t.Amount()), numericFromMoney(t.NetAmount()),
		nilIfEmpty(t.ProviderCode().String()), paymentMethodIDOrNil(t.PaymentMethodID()),
		nilIfEmpty(t.ExternalReference().String()), nilIfEmpty(t.TokenFingerprint()),
		t.ConfirmationExpiresAt(), t.Status(), errorCode(t.ErrorDetails()), errorMessage(t.ErrorDetails()),
		t.CreatedAt(), t.UpdatedAt(), t.CompletedAt())
	if isUniqueViolation(err) {
		return models.ErrDuplicateIdempotencyKey
	}
	return err
}

// Update persists the aggregate. The status guard makes terminal states
// one-way at the storage layer: a write racing a concurrent completion blocks
// on the row, re-evaluates the predicate and matches nothing instead of
// regressing the status.
func (r *TransactionRepo) Update(ctx context.Context, t *models.Transaction) error {
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE transactions
		SET net_amount = $2, external_reference = $3, status = $4, error_code = $5,
			error_message = $6, updated_at = $7, completed_at = $8
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`, t.ID().UUID(), numericFromMoney(t.NetAmount()), nilIfEmpty(t.ExternalReference().String()),
		t.Status(), errorCode(t.ErrorDetails()), errorMessage(t.ErrorDetails()),
		t.UpdatedAt(), t.CompletedAt())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s already settled", models.ErrInvalidTransactionState, t.ID())
	}
	return nil
}

// CreateLedgerEntries appends entries. The table has no UPDATE or DELETE path.
func (r *TransactionRepo) CreateLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error {
	for _, e := range entries {
		_, err := r.db(ctx).Exec(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, account_id, entry_type, currency, amount, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, e.ID.UUID(), e.TransactionID.UUID(), e.AccountID.UUID(), e.EntryType,
			e.Amount.Currency(), numericFromMoney(e.Amount), numericFromMoney(e.BalanceAfter), e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListLedgerEntriesByTransaction returns the audit trail for one transaction.
func (r *TransactionRepo) ListLedgerEntriesByTransaction(ctx context.Context, id models.TransactionID) ([]*models.LedgerEntry, error) {
	rows, err := r.db(ctx).Query(ctx, `
		SELECT id, transaction_id, account_id, entry_type, currency, amount, balance_after, created_at
		FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at
	`, id.UUID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		var (
			e            models.LedgerEntry
			entryID      uuid.UUID
			txID         uuid.UUID
			accountID    uuid.UUID
			currency     models.Currency
			amount       pgtype.Numeric
			balanceAfter pgtype.Numeric
		)
		if err := rows.Scan(&entryID, &txID, &accountID, &e.EntryType, &currency, &amount, &balanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = models.LedgerEntryID(entryID)
		e.TransactionID = models.TransactionID(txID)
		e.AccountID = models.AccountID(accountID)
		if e.Amount, err = moneyFromNumeric(amount, currency); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = moneyFromNumeric(balanceAfter, currency); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		id               uuid.UUID
		txType           models.TransactionType
		idempotencyKey   string
		sourceID         *uuid.UUID
		destinationID    *uuid.UUID
		currency         models.Currency
		amount           pgtype.Numeric
		netAmount        pgtype.Numeric
		providerCode     *string
		paymentMethodID  *uuid.UUID
		externalRef      *string
		tokenFingerprint *string
		confirmExpires   *time.Time
		status           models.TransactionStatus
		errCode          *string
		errMessage       *string
		createdAt        time.Time
		updatedAt        time.Time
		completedAt      *time.Time
	)
	err := row.Scan(&id, &txType, &idempotencyKey, &sourceID, &destinationID,
		&currency, &amount, &netAmount, &providerCode, &paymentMethodID, &externalRef,
		&tokenFingerprint, &confirmExpires, &status, &errCode, &errMessage,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	amountMoney, err := moneyFromNumeric(amount, currency)
	if err != nil {
		return nil, err
	}
	netMoney, err := moneyFromNumeric(netAmount, currency)
	if err != nil {
		return nil, err
	}

	s := models.TransactionSnapshot{
		ID:                    models.TransactionID(id),
		Type:                  txType,
		IdempotencyKey:        models.IdempotencyKey(idempotencyKey),
		Amount:                amountMoney,
		NetAmount:             netMoney,
		ConfirmationExpiresAt: confirmExpires,
		Status:                status,
		CreatedAt:             createdAt,
		UpdatedAt:             updatedAt,
		CompletedAt:           completedAt,
	}
	if sourceID != nil {
		v := models.AccountID(*sourceID)
		s.SourceAccountID = &v
	}
	if destinationID != nil {
		v := models.AccountID(*destinationID)
		s.DestinationAccountID = &v
	}
	if providerCode != nil {
		s.ProviderCode = models.ProviderCode(*providerCode)
	}
	if paymentMethodID != nil {
		v := models.PaymentMethodID(*paymentMethodID)
		s.PaymentMethodID = &v
	}
	if externalRef != nil {
		s.ExternalReference = models.ExternalReference(*externalRef)
	}
	if tokenFingerprint != nil {
		s.TokenFingerprint = *tokenFingerprint
	}
	if errCode != nil || errMessage != nil {
		d := models.ErrorDetails{}
		if errCode != nil {
			d.Code = *errCode
		}
		if errMessage != nil {
			d.Message = *errMessage
		}
		s.ErrorDetails = &d
	}
	return models.RestoreTransaction(s), nil
}

func accountIDOrNil(id *models.AccountID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := id.UUID()
	return &v
}

func paymentMethodIDOrNil(id *models.PaymentMethodID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := id.UUID()
	return &v
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func errorCode(d *models.ErrorDetails) *string {
	if d == nil {
		return nil
	}
	return &d.Code
}

func errorMessage(d *models.ErrorDetails) *string {
	if d == nil {
		return nil
	}
	return &d.Message
}
