package token

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/vaultpay/backend/internal/models"
)

var secret = []byte("test-secret")

func generate(t *testing.T, ttl time.Duration) (string, models.TransactionID, models.AccountID, models.Money) {
	t.Helper()
	txID := models.NewTransactionID()
	destID := models.NewAccountID()
	amount := models.MustMoney(5000, models.CurrencyUSD)
	raw, _, err := Generate(txID, destID, amount, secret, ttl)
	if err != nil {
		t.Fatal(err)
	}
	return raw, txID, destID, amount
}

func TestRoundTrip(t *testing.T) {
	raw, txID, destID, amount := generate(t, time.Hour)
	if err := Validate(raw, txID, destID, amount, secret); err != nil {
		t.Fatalf("validate fresh token: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	raw, txID, destID, amount := generate(t, -time.Minute)
	if err := Validate(raw, txID, destID, amount, secret); !errors.Is(err, ErrExpired) {
		t.Fatalf("want ErrExpired, got %v", err)
	}
}

func TestTransactionIDMismatchRejected(t *testing.T) {
	raw, _, destID, amount := generate(t, time.Hour)
	other := models.NewTransactionID()
	if err := Validate(raw, other, destID, amount, secret); !errors.Is(err, ErrMismatch) {
		t.Fatalf("want ErrMismatch, got %v", err)
	}
}

func TestWrongAmountRejected(t *testing.T) {
	raw, txID, destID, _ := generate(t, time.Hour)
	wrong := models.MustMoney(1, models.CurrencyUSD)
	if err := Validate(raw, txID, destID, wrong, secret); !errors.Is(err, ErrMismatch) {
		t.Fatalf("want ErrMismatch, got %v", err)
	}
}

func TestWrongDestinationRejected(t *testing.T) {
	raw, txID, _, amount := generate(t, time.Hour)
	if err := Validate(raw, txID, models.NewAccountID(), amount, secret); !errors.Is(err, ErrMismatch) {
		t.Fatalf("want ErrMismatch, got %v", err)
	}
}

func TestWrongSecretRejected(t *testing.T) {
	raw, txID, destID, amount := generate(t, time.Hour)
	if err := Validate(raw, txID, destID, amount, []byte("other")); !errors.Is(err, ErrMismatch) {
		t.Fatalf("want ErrMismatch, got %v", err)
	}
}

// Flipping any single byte of the payload must fail validation, never panic.
func TestSingleByteTamperRejected(t *testing.T) {
	raw, txID, destID, amount := generate(t, time.Hour)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, "v1."))
	if err != nil {
		t.Fatal(err)
	}
	for i := range decoded {
		tampered := make([]byte, len(decoded))
		copy(tampered, decoded)
		tampered[i] ^= 0x01
		candidate := "v1." + base64.RawURLEncoding.EncodeToString(tampered)
		if err := Validate(candidate, txID, destID, amount, secret); err == nil {
			t.Fatalf("tampering byte %d went undetected", i)
		}
	}
}

// The wire expiry is epoch milliseconds while the signed payload renders a
// timestamp, so the millisecond digits must still be covered by the signature:
// nudging the expiry by 1ms has to fail as a signature mismatch.
func TestExpiryMillisecondTamperRejected(t *testing.T) {
	raw, txID, destID, amount := generate(t, time.Hour)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, "v1."))
	if err != nil {
		t.Fatal(err)
	}
	fields := strings.Split(string(decoded), "|")
	if len(fields) != 4 {
		t.Fatalf("fields = %d, want 4", len(fields))
	}
	ms, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		t.Fatal(err)
	}
	fields[2] = strconv.FormatInt(ms+1, 10)
	tampered := "v1." + base64.RawURLEncoding.EncodeToString([]byte(strings.Join(fields, "|")))
	if err := Validate(tampered, txID, destID, amount, secret); !errors.Is(err, ErrMismatch) {
		t.Fatalf("want ErrMismatch, got %v", err)
	}
}

func TestGarbageTokenIsMalformed(t *testing.T) {
	for _, raw := range []string{"", "v1.", "v1.!!!", "not-a-token", "a.b", "v1." + base64.RawURLEncoding.EncodeToString([]byte("only|three|fields"))} {
		err := Validate(raw, models.NewTransactionID(), models.NewAccountID(), models.MustMoney(1, models.CurrencyUSD), secret)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: want ErrMalformed, got %v", raw, err)
		}
	}
}

// The legacy wire format is unprefixed and dot-delimited but signs the same
// payload, so a legacy token must still validate.
func TestLegacyFormatAccepted(t *testing.T) {
	raw, txID, destID, amount := generate(t, time.Hour)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, "v1."))
	if err != nil {
		t.Fatal(err)
	}
	legacy := strings.ReplaceAll(string(decoded), "|", ".")
	if err := Validate(legacy, txID, destID, amount, secret); err != nil {
		t.Fatalf("legacy token rejected: %v", err)
	}
}

func TestMetadataExtraction(t *testing.T) {
	raw, txID, _, _ := generate(t, time.Hour)

	gotID, err := GetTransactionID(raw)
	if err != nil {
		t.Fatal(err)
	}
	if gotID != txID {
		t.Fatalf("transaction id = %s, want %s", gotID, txID)
	}

	exp, err := GetExpiration(raw)
	if err != nil {
		t.Fatal(err)
	}
	until := time.Until(exp)
	if until < 59*time.Minute || until > time.Hour {
		t.Fatalf("expiry %s not ~1h out", exp)
	}
	// Whole-second expiry keeps the epoch-ms field and RFC3339 payload aligned.
	if exp.Nanosecond() != 0 {
		t.Fatalf("expiry has sub-second precision: %s", exp)
	}
}

func TestFingerprintStableAndOpaque(t *testing.T) {
	raw, _, _, _ := generate(t, time.Hour)
	fp := Fingerprint(raw)
	if fp != Fingerprint(raw) {
		t.Fatal("fingerprint not deterministic")
	}
	if len(fp) != 64 {
		t.Fatalf("fingerprint length = %d", len(fp))
	}
	if _, err := strconv.ParseUint(fp[:16], 16, 64); err != nil {
		t.Fatalf("fingerprint not hex: %v", err)
	}
}
