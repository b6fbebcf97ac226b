// Package token issues and validates stateless transfer confirmation tokens.
//
// A token binds a transaction to its recipient and amount with an HMAC-SHA256
// signature, so confirmation can be authorized without a database round-trip.
// Nothing is persisted: validation recomputes the expected signature from the
// salt embedded in the token plus the transaction's own fields.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vaultpay/backend/internal/models"
)

const (
	// versionPrefix marks the current opaque wire format.
	versionPrefix = "v1."
	saltBytes     = 16
)

var (
	// ErrMalformed covers tokens that cannot be decoded at all.
	ErrMalformed = errors.New("confirmation token malformed")
	// ErrMismatch covers tokens whose embedded transaction id or signature does
	// not match the transaction being confirmed.
	ErrMismatch = errors.New("confirmation token does not match transaction")
	// ErrExpired covers tokens past their embedded expiry.
	ErrExpired = errors.New("confirmation token expired")
)

// Generate returns the opaque token and its expiry. The expiry is truncated to
// whole seconds so the epoch-ms wire field and the RFC3339 string inside the
// signed payload round-trip exactly.
func Generate(transactionID models.TransactionID, destination models.AccountID, amount models.Money, secret []byte, ttl time.Duration) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, fmt.Errorf("token: secret is required")
	}
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", time.Time{}, fmt.Errorf("token: generating salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	expiresAt := time.Now().UTC().Add(ttl).Truncate(time.Second)
	sig := sign(transactionID, destination, amount, saltHex, expiresAt, secret)

	fields := strings.Join([]string{
		transactionID.String(),
		saltHex,
		strconv.FormatInt(expiresAt.UnixMilli(), 10),
		sig,
	}, "|")
	return versionPrefix + base64.RawURLEncoding.EncodeToString([]byte(fields)), expiresAt, nil
}

// Validate checks the token against the transaction it claims to confirm.
// Failure classes are distinct: ErrMalformed, ErrMismatch, ErrExpired.
func Validate(raw string, transactionID models.TransactionID, destination models.AccountID, amount models.Money, secret []byte) error {
	p, err := parse(raw)
	if err != nil {
		return err
	}
	if p.transactionID != transactionID.String() {
		return fmt.Errorf("%w: transaction id", ErrMismatch)
	}
	expected := sign(transactionID, destination, amount, p.salt, p.expiresAt, secret)
	if !hmac.Equal([]byte(expected), []byte(p.signature)) {
		return fmt.Errorf("%w: signature", ErrMismatch)
	}
	if time.Now().After(p.expiresAt) {
		return ErrExpired
	}
	return nil
}

// GetExpiration extracts the embedded expiry without verifying the signature.
// Display and routing only, never authorization.
func GetExpiration(raw string) (time.Time, error) {
	p, err := parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return p.expiresAt, nil
}

// GetTransactionID extracts the embedded transaction id without verifying the
// signature. Display and routing only, never authorization.
func GetTransactionID(raw string) (models.TransactionID, error) {
	p, err := parse(raw)
	if err != nil {
		return models.TransactionID{}, err
	}
	id, err := models.ParseTransactionID(p.transactionID)
	if err != nil {
		return models.TransactionID{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return id, nil
}

// Fingerprint returns a SHA-256 hex digest of the raw token, safe to persist
// for audit since it cannot be validated or replayed.
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

type parsed struct {
	transactionID string
	salt          string
	expiresAt     time.Time
	signature     string
}

// parse accepts the current version-prefixed base64 format and the legacy
// unprefixed dot-delimited one.
func parse(raw string) (*parsed, error) {
	var fields []string
	if rest, ok := strings.CutPrefix(raw, versionPrefix); ok {
		decoded, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		fields = strings.Split(string(decoded), "|")
	} else {
		fields = strings.Split(raw, ".")
	}
	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformed, len(fields))
	}
	ms, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry: %v", ErrMalformed, err)
	}
	return &parsed{
		transactionID: fields[0],
		salt:          fields[1],
		expiresAt:     time.UnixMilli(ms).UTC(),
		signature:     fields[3],
	}, nil
}

// sign renders the expiry with nanosecond precision so every distinct epoch-ms
// wire value maps to a distinct signed payload. Generated tokens are truncated
// to whole seconds and render without a fraction.
func sign(transactionID models.TransactionID, destination models.AccountID, amount models.Money, saltHex string, expiresAt time.Time, secret []byte) string {
	payload := strings.Join([]string{
		transactionID.String(),
		destination.String(),
		amount.Amount().String(),
		saltHex,
		expiresAt.UTC().Format(time.RFC3339Nano),
	}, ":")
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
