package models

import "time"

type PaymentMethodType string

const (
	PaymentMethodTypeCard         PaymentMethodType = "card"
	PaymentMethodTypeBankAccount  PaymentMethodType = "bank_account"
	PaymentMethodTypeMobileWallet PaymentMethodType = "mobile_wallet"
)

type PaymentMethodStatus string

const (
	PaymentMethodStatusPendingVerification PaymentMethodStatus = "pending_verification"
	PaymentMethodStatusVerified            PaymentMethodStatus = "verified"
	PaymentMethodStatusDisabled            PaymentMethodStatus = "disabled"
)

// PaymentMethod is an external funding source or payout destination registered
// with a provider. The usability predicates live here so orchestrators never
// re-derive them.
type PaymentMethod struct {
	ID             PaymentMethodID
	AccountID      AccountID
	ProviderCode   ProviderCode
	Type           PaymentMethodType
	Status         PaymentMethodStatus
	ExternalID     string
	IsWithdrawable bool
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsUsable reports whether the method is verified and not expired.
func (m *PaymentMethod) IsUsable(now time.Time) bool {
	if m.Status != PaymentMethodStatusVerified {
		return false
	}
	if m.ExpiresAt != nil && !now.Before(*m.ExpiresAt) {
		return false
	}
	return true
}

// CanWithdraw reports whether the method may receive payouts.
func (m *PaymentMethod) CanWithdraw(now time.Time) bool {
	return m.IsUsable(now) && m.IsWithdrawable
}
