package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaultpay/backend/internal/models"
)

const accountColumns = `id, user_id, account_type, status, currency, balance, available_balance, metadata, version, created_at, updated_at`

// AccountRepo is the Postgres implementation of services.AccountRepo.
type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) db(ctx context.Context) DBTX {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *AccountRepo) GetByID(ctx context.Context, id models.AccountID) (*models.Account, error) {
	row := r.db(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.UUID())
	return scanAccount(row)
}

// GetByIDForUpdate locks the account row. Call within a unit of work.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, id models.AccountID) (*models.Account, error) {
	row := r.db(ctx).QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id.UUID())
	return scanAccount(row)
}

// GetByIDsForUpdate locks all given rows in ascending id order, the system-wide
// lock order for any multi-account operation.
func (r *AccountRepo) GetByIDsForUpdate(ctx context.Context, ids []models.AccountID) ([]*models.Account, error) {
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

func (r *AccountRepo) Exists(ctx context.Context, id models.AccountID) (bool, error) {
	var exists bool
	err := r.db(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id.UUID()).Scan(&exists)
	return exists, err
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	metadata, err := json.Marshal(a.Metadata())
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID().UUID(), a.UserID(), a.Type(), a.Status(), a.Balance().Currency(),
		numericFromMoney(a.Balance()), numericFromMoney(a.AvailableBalance()),
		metadata, a.Version(), a.CreatedAt(), a.UpdatedAt())
	if err != nil {
		return err
	}
	a.CommitVersion()
	return nil
}

// Update persists the aggregate guarded by the version it was loaded at. Zero
// rows affected means a concurrent writer won.
func (r *AccountRepo) Update(ctx context.Context, a *models.Account) error {
	metadata, err := json.Marshal(a.Metadata())
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	tag, err := r.db(ctx).Exec(ctx, `
		UPDATE accounts
		SET status = $2, balance = $3, available_balance = $4, metadata = $5, version = $6, updated_at = $7
		WHERE id = $1 AND version = $8
	`, a.ID().UUID(), a.Status(), numericFromMoney(a.Balance()), numericFromMoney(a.AvailableBalance()),
		metadata, a.Version(), a.UpdatedAt(), a.StoredVersion())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOptimisticLockConflict
	}
	a.CommitVersion()
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		id        uuid.UUID
		userID    uuid.UUID
		accType   models.AccountType
		status    models.AccountStatus
		currency  models.Currency
		balance   pgtype.Numeric
		available pgtype.Numeric
		metadata  []byte
		version   int
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&id, &userID, &accType, &status, &currency, &balance, &available, &metadata, &version, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	balanceMoney, err := moneyFromNumeric(balance, currency)
	if err != nil {
		return nil, err
	}
	availableMoney, err := moneyFromNumeric(available, currency)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return models.RestoreAccount(models.AccountSnapshot{
		ID:               models.AccountID(id),
		UserID:           userID,
		Type:             accType,
		Status:           status,
		Balance:          balanceMoney,
		AvailableBalance: availableMoney,
		Metadata:         meta,
		Version:          version,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}), nil
}
