package consent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/relaypoint/outreach-engine/internal/kvstore"
	"github.com/relaypoint/outreach-engine/internal/model"
)

var (
	// ErrCodeMismatch covers both an unknown/expired code and a wrong guess.
	ErrCodeMismatch = errors.New("verification code invalid or expired")
	// ErrVerificationPending is returned when a code was already issued and
	// has not expired yet.
	ErrVerificationPending = errors.New("verification already pending")
	// ErrAlreadyOptedIn is returned when the pair holds an opted_in record;
	// starting verification would downgrade it to pending.
	ErrAlreadyOptedIn = errors.New("recipient already opted in")
)

// Verification implements double opt-in: a short-lived code is issued to the
// recipient and confirming it records an opted_in event. Codes live in the
// expiring key-value store, keyed per (recipient, business), so a restart or
// a different worker never loses them.
type Verification struct {
	store kvstore.Store
	gate  *Gate
	ttl   time.Duration
}

func NewVerification(store kvstore.Store, gate *Gate, ttl time.Duration) *Verification {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Verification{store: store, gate: gate, ttl: ttl}
}

func verificationKey(recipientID, businessID int64) string {
	return fmt.Sprintf("verify:%d:%d", businessID, recipientID)
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Start issues a code for the pair and marks consent pending. The code is
// returned so the caller can deliver it out of band.
func (v *Verification) Start(ctx context.Context, recipientID, businessID int64) (string, error) {
	state, err := v.gate.State(ctx, recipientID, businessID)
	if err != nil {
		return "", fmt.Errorf("check consent state: %w", err)
	}
	if state == model.ConsentOptedIn {
		return "", ErrAlreadyOptedIn
	}

	code, err := newCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}

	ok, err := v.store.SetNX(ctx, verificationKey(recipientID, businessID), code, v.ttl)
	if err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	if !ok {
		return "", ErrVerificationPending
	}

	if err := v.gate.RecordEvent(ctx, recipientID, businessID, model.ConsentMethodVerification, model.ConsentPending); err != nil {
		_ = v.store.Del(ctx, verificationKey(recipientID, businessID))
		return "", err
	}
	return code, nil
}

// Confirm checks the code and records the opt-in on match. The code is
// single use.
func (v *Verification) Confirm(ctx context.Context, recipientID, businessID int64, code string) error {
	key := verificationKey(recipientID, businessID)
	want, err := v.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return ErrCodeMismatch
		}
		return fmt.Errorf("load code: %w", err)
	}
	if want != code {
		return ErrCodeMismatch
	}

	if err := v.gate.RecordEvent(ctx, recipientID, businessID, model.ConsentMethodVerification, model.ConsentOptedIn); err != nil {
		return err
	}
	return v.store.Del(ctx, key)
}
