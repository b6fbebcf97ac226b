package repository

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/vaultpay/backend/internal/models"
)

// numericFromMoney encodes a Money amount for a NUMERIC column.
func numericFromMoney(m models.Money) pgtype.Numeric {
	d := m.Amount()
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// moneyFromNumeric decodes a NUMERIC column scanned into pgtype.Numeric.
func moneyFromNumeric(n pgtype.Numeric, currency models.Currency) (models.Money, error) {
	if !n.Valid || n.Int == nil {
		return models.Money{}, fmt.Errorf("null numeric for %s amount", currency)
	}
	return models.NewMoney(decimal.NewFromBigInt(n.Int, n.Exp), currency)
}
