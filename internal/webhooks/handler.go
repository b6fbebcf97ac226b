package webhooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vaultpay/backend/internal/middleware"
)

// InsertProviderEventFunc enqueues a provider event job. Provided by main as a
// closure over river.Client.Insert.
type InsertProviderEventFunc func(ctx context.Context, args ProviderEventArgs) error

// Handler receives authenticated provider webhooks and enqueues them. It
// always acknowledges well-formed requests; reconciliation outcomes are the
// worker's problem.
type Handler struct {
	Insert InsertProviderEventFunc
	Logger *slog.Logger
}

type webhookPayload struct {
	ExternalID     string `json:"external_id"`
	ReferenceID    string `json:"reference_id"`
	Status         string `json:"status"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
	FeeAmount      *int64 `json:"fee_amount"`
	Currency       string `json:"currency"`
}

func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := middleware.ProviderFromCtx(r.Context())
	if provider == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if payload.ReferenceID == "" || payload.Status == "" {
		http.Error(w, `{"error":"reference_id and status are required"}`, http.StatusBadRequest)
		return
	}

	args := ProviderEventArgs{
		Provider:       provider,
		ExternalID:     payload.ExternalID,
		ReferenceID:    payload.ReferenceID,
		Status:         payload.Status,
		FailureCode:    payload.FailureCode,
		FailureMessage: payload.FailureMessage,
		FeeAmount:      payload.FeeAmount,
		Currency:       payload.Currency,
	}
	if err := h.Insert(r.Context(), args); err != nil {
		h.Logger.Error("enqueueing provider event", "provider", provider, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}
