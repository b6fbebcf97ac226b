package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultpay/backend/internal/models"
)

const paymentMethodColumns = `id, account_id, provider_code, method_type, status, external_id, is_withdrawable, expires_at, created_at, updated_at`

// PaymentMethodRepo is the Postgres implementation of services.PaymentMethodRepo.
type PaymentMethodRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentMethodRepo(pool *pgxpool.Pool) *PaymentMethodRepo {
	return &PaymentMethodRepo{pool: pool}
}

func (r *PaymentMethodRepo) db(ctx context.Context) DBTX {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PaymentMethodRepo) GetByID(ctx context.Context, id models.PaymentMethodID) (*models.PaymentMethod, error) {
	row := r.db(ctx).QueryRow(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods WHERE id = $1`, id.UUID())
	return scanPaymentMethod(row)
}

// ListByAccountID returns the account's registered funding sources.
func (r *PaymentMethodRepo) ListByAccountID(ctx context.Context, accountID models.AccountID) ([]*models.PaymentMethod, error) {
	rows, err := r.db(ctx).Query(ctx, `SELECT `+paymentMethodColumns+` FROM payment_methods WHERE account_id = $1 ORDER BY created_at`, accountID.UUID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanPaymentMethod(row pgx.Row) (*models.PaymentMethod, error) {
	var (
		m         models.PaymentMethod
		id        uuid.UUID
		accountID uuid.UUID
	)
	err := row.Scan(&id, &accountID, &m.ProviderCode, &m.Type, &m.Status, &m.ExternalID,
		&m.IsWithdrawable, &m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrPaymentMethodNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ID = models.PaymentMethodID(id)
	m.AccountID = models.AccountID(accountID)
	return &m, nil
}
