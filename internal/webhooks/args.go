// Package webhooks turns inbound provider events into reconciliation work.
// Events are enqueued as jobs so webhook delivery is acknowledged fast and
// reconciliation survives transient database failures via queue retries.
package webhooks

import (
	"github.com/vaultpay/backend/internal/models"
	"github.com/vaultpay/backend/internal/services"
)

// ProviderEventArgs is the queued form of one provider webhook event.
type ProviderEventArgs struct {
	Provider       string `json:"provider"`
	ExternalID     string `json:"external_id"`
	ReferenceID    string `json:"reference_id"`
	Status         string `json:"status"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	FeeAmount      *int64 `json:"fee_amount,omitempty"`
	Currency       string `json:"currency,omitempty"`
}

func (ProviderEventArgs) Kind() string { return "provider_event" }

// toEvent converts queued args into the service-level event. An invalid fee is
// reported so the worker can surface it instead of silently dropping money.
func (a ProviderEventArgs) toEvent() (services.ProviderEvent, error) {
	ev := services.ProviderEvent{
		Provider:       models.ProviderCode(a.Provider),
		ExternalID:     models.ExternalReference(a.ExternalID),
		ReferenceID:    a.ReferenceID,
		Status:         a.Status,
		FailureCode:    a.FailureCode,
		FailureMessage: a.FailureMessage,
	}
	if a.FeeAmount != nil {
		fee, err := models.MoneyFromInt64(*a.FeeAmount, models.Currency(a.Currency))
		if err != nil {
			return services.ProviderEvent{}, err
		}
		ev.Fee = &fee
	}
	return ev, nil
}
