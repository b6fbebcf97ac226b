package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultpay/backend/internal/middleware"
	"github.com/vaultpay/backend/internal/models"
	"github.com/vaultpay/backend/internal/services"
	"github.com/vaultpay/backend/internal/token"
	"github.com/vaultpay/backend/internal/webhooks"
)

// RegisterRoutes wires the thin JSON surface over the ledger engine. The
// webhook route is gated by provider JWT auth; everything else maps request
// bodies onto use cases and domain errors onto status codes.
func RegisterRoutes(
	mux *http.ServeMux,
	transfers *services.TransferService,
	deposits *services.DepositService,
	withdrawals *services.WithdrawalService,
	insertProviderEvent webhooks.InsertProviderEventFunc,
	webhookSecret []byte,
	logger *slog.Logger,
) {
	wh := &webhooks.Handler{Insert: insertProviderEvent, Logger: logger}
	webhookAuth := middleware.WebhookAuth(webhookSecret)
	mux.Handle("POST /v1/webhooks", webhookAuth(http.HandlerFunc(wh.Receive)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IdempotencyKey       string `json:"idempotency_key"`
			SourceAccountID      string `json:"source_account_id"`
			DestinationAccountID string `json:"destination_account_id"`
			Amount               int64  `json:"amount"`
			Currency             string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		key, err := models.NewIdempotencyKey(body.IdempotencyKey)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		sourceID, err := models.ParseAccountID(body.SourceAccountID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		destinationID, err := models.ParseAccountID(body.DestinationAccountID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		amount, err := models.MoneyFromInt64(body.Amount, models.Currency(body.Currency))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		res, err := transfers.Initiate(r.Context(), key, sourceID, destinationID, amount)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"transaction_id":     res.Transaction.ID().String(),
			"status":             res.Transaction.Status(),
			"confirmation_token": res.ConfirmationToken,
			"expires_at":         res.ExpiresAt.Format(time.RFC3339),
		})
	})

	mux.HandleFunc("POST /v1/transfers/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		id, err := models.ParseTransactionID(r.PathValue("id"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		var body struct {
			ConfirmationToken string `json:"confirmation_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		txn, err := transfers.Confirm(r.Context(), id, body.ConfirmationToken)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeTransaction(w, txn)
	})

	mux.HandleFunc("POST /v1/transfers/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, err := models.ParseTransactionID(r.PathValue("id"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		txn, err := transfers.Cancel(r.Context(), id, body.Reason)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeTransaction(w, txn)
	})

	mux.HandleFunc("POST /v1/deposits", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IdempotencyKey       string `json:"idempotency_key"`
			DestinationAccountID string `json:"destination_account_id"`
			PaymentMethodID      string `json:"payment_method_id"`
			Amount               int64  `json:"amount"`
			Currency             string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		key, err := models.NewIdempotencyKey(body.IdempotencyKey)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		destinationID, err := models.ParseAccountID(body.DestinationAccountID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		methodID, err := models.ParsePaymentMethodID(body.PaymentMethodID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		amount, err := models.MoneyFromInt64(body.Amount, models.Currency(body.Currency))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		res, err := deposits.Initiate(r.Context(), key, destinationID, methodID, amount)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"transaction_id":  res.Transaction.ID().String(),
			"status":          res.Transaction.Status(),
			"requires_action": res.RequiresAction,
			"action_url":      res.ActionURL,
		})
	})

	mux.HandleFunc("POST /v1/withdrawals", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IdempotencyKey  string `json:"idempotency_key"`
			SourceAccountID string `json:"source_account_id"`
			PaymentMethodID string `json:"payment_method_id"`
			Amount          int64  `json:"amount"`
			Currency        string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		key, err := models.NewIdempotencyKey(body.IdempotencyKey)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		sourceID, err := models.ParseAccountID(body.SourceAccountID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		methodID, err := models.ParsePaymentMethodID(body.PaymentMethodID)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		amount, err := models.MoneyFromInt64(body.Amount, models.Currency(body.Currency))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		txn, err := withdrawals.Initiate(r.Context(), key, sourceID, methodID, amount)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeTransaction(w, txn)
	})

	mux.HandleFunc("POST /v1/withdrawals/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, err := models.ParseTransactionID(r.PathValue("id"))
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		txn, err := withdrawals.Cancel(r.Context(), id, body.Reason)
		if err != nil {
			writeErr(w, logger, err)
			return
		}
		writeTransaction(w, txn)
	})
}

func writeTransaction(w http.ResponseWriter, txn *models.Transaction) {
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id": txn.ID().String(),
		"type":           txn.Type(),
		"status":         txn.Status(),
		"amount":         txn.Amount().Amount().String(),
		"net_amount":     txn.NetAmount().Amount().String(),
		"currency":       txn.Amount().Currency(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeErr maps domain error kinds onto HTTP status codes.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrTransactionNotFound),
		errors.Is(err, models.ErrPaymentMethodNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrInvalidAccountState),
		errors.Is(err, models.ErrInvalidTransactionState),
		errors.Is(err, models.ErrPaymentMethodUnusable):
		status = http.StatusConflict
	case errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrMismatch):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrProvider):
		status = http.StatusBadGateway
	case errors.Is(err, models.ErrNegativeAmount),
		errors.Is(err, models.ErrCurrencyMismatch),
		errors.Is(err, models.ErrInvalidID):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, status)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
