package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vaultpay/backend/internal/middleware"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestHandlerReceiveEnqueues(t *testing.T) {
	var inserted []ProviderEventArgs
	h := &Handler{
		Insert: func(_ context.Context, args ProviderEventArgs) error {
			inserted = append(inserted, args)
			return nil
		},
		Logger: testLogger,
	}

	body := `{"reference_id":"11111111-2222-3333-4444-555555555555","status":"succeeded","external_id":"pi_123","fee_amount":30,"currency":"USD"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(body))
	req = req.WithContext(middleware.WithProvider(req.Context(), "stripe"))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || !resp["received"] {
		t.Fatalf("body = %s, want received:true", rec.Body.String())
	}
	if len(inserted) != 1 {
		t.Fatalf("inserted jobs = %d, want 1", len(inserted))
	}
	got := inserted[0]
	if got.Provider != "stripe" || got.Status != "succeeded" || got.ExternalID != "pi_123" {
		t.Errorf("queued args = %+v", got)
	}
	if got.FeeAmount == nil || *got.FeeAmount != 30 || got.Currency != "USD" {
		t.Errorf("fee not carried through: %+v", got)
	}
}

func TestHandlerReceiveRejections(t *testing.T) {
	h := &Handler{
		Insert: func(context.Context, ProviderEventArgs) error {
			t.Fatal("nothing should be enqueued")
			return nil
		},
		Logger: testLogger,
	}

	cases := []struct {
		name       string
		provider   string
		body       string
		wantStatus int
	}{
		{"unauthenticated", "", `{"reference_id":"x","status":"succeeded"}`, http.StatusUnauthorized},
		{"invalid json", "stripe", `{not json`, http.StatusBadRequest},
		{"missing reference", "stripe", `{"status":"succeeded"}`, http.StatusBadRequest},
		{"missing status", "stripe", `{"reference_id":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(tc.body))
			if tc.provider != "" {
				req = req.WithContext(middleware.WithProvider(req.Context(), tc.provider))
			}
			rec := httptest.NewRecorder()
			h.Receive(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestHandlerReceiveQueueFailure(t *testing.T) {
	h := &Handler{
		Insert: func(context.Context, ProviderEventArgs) error {
			return errors.New("queue unavailable")
		},
		Logger: testLogger,
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks", strings.NewReader(`{"reference_id":"x","status":"failed"}`))
	req = req.WithContext(middleware.WithProvider(req.Context(), "stripe"))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so the provider retries delivery", rec.Code)
	}
}

func TestProviderEventArgsToEvent(t *testing.T) {
	fee := int64(25)
	args := ProviderEventArgs{
		Provider:    "stripe",
		ReferenceID: "11111111-2222-3333-4444-555555555555",
		Status:      "succeeded",
		FeeAmount:   &fee,
		Currency:    "USD",
	}
	ev, err := args.toEvent()
	if err != nil {
		t.Fatalf("toEvent: %v", err)
	}
	if ev.Fee == nil || ev.Fee.Amount().IntPart() != 25 {
		t.Errorf("fee = %+v, want 25 USD", ev.Fee)
	}

	// A negative fee must be rejected, not silently applied.
	bad := int64(-1)
	args.FeeAmount = &bad
	if _, err := args.toEvent(); err == nil {
		t.Fatal("negative fee must fail conversion")
	}

	// A fee without a currency is invalid.
	args.FeeAmount = &fee
	args.Currency = ""
	if _, err := args.toEvent(); err == nil {
		t.Fatal("fee without currency must fail conversion")
	}
}
