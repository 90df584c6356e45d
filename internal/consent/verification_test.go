package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaypoint/outreach-engine/internal/kvstore"
	"github.com/relaypoint/outreach-engine/internal/model"
)

type memStore struct {
	vals map[string]string
}

func newMemStore() *memStore { return &memStore{vals: map[string]string{}} }

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.vals[key]
	if !ok {
		return "", kvstore.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.vals[key] = value
	return nil
}

func (m *memStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = value
	return true, nil
}

func (m *memStore) Del(ctx context.Context, key string) error {
	delete(m.vals, key)
	return nil
}

func newTestVerification(store kvstore.Store) (*Verification, *fakeAppender) {
	gate, app := newTestGate(nil, &model.Recipient{ID: 1})
	return NewVerification(store, gate, time.Minute), app
}

func TestVerificationStartConfirm(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	v, app := newTestVerification(store)

	code, err := v.Start(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}
	if len(app.events) != 1 || app.events[0].ResultingState != model.ConsentPending {
		t.Fatalf("expected a pending event, got %+v", app.events)
	}

	if err := v.Confirm(ctx, 1, 10, code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	last := app.events[len(app.events)-1]
	if last.ResultingState != model.ConsentOptedIn || last.Method != model.ConsentMethodVerification {
		t.Errorf("expected opted_in verification event, got %+v", last)
	}

	// single use
	if err := v.Confirm(ctx, 1, 10, code); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("second Confirm = %v, want ErrCodeMismatch", err)
	}
}

func TestVerificationStartTwicePending(t *testing.T) {
	ctx := context.Background()
	v, _ := newTestVerification(newMemStore())

	if _, err := v.Start(ctx, 1, 10); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := v.Start(ctx, 1, 10); !errors.Is(err, ErrVerificationPending) {
		t.Errorf("second Start = %v, want ErrVerificationPending", err)
	}
}

func TestVerificationConfirmWrongCode(t *testing.T) {
	ctx := context.Background()
	v, app := newTestVerification(newMemStore())

	code, err := v.Start(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if err := v.Confirm(ctx, 1, 10, wrong); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("Confirm = %v, want ErrCodeMismatch", err)
	}
	for _, ev := range app.events {
		if ev.ResultingState == model.ConsentOptedIn {
			t.Error("wrong code must not record opted_in")
		}
	}
}

func TestStartAlreadyOptedIn(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	gate, app := newTestGate(
		&model.ConsentRecord{RecipientID: 1, BusinessID: 10, State: model.ConsentOptedIn},
		&model.Recipient{ID: 1},
	)
	v := NewVerification(store, gate, time.Minute)

	if _, err := v.Start(ctx, 1, 10); !errors.Is(err, ErrAlreadyOptedIn) {
		t.Fatalf("Start = %v, want ErrAlreadyOptedIn", err)
	}
	// no pending event may shadow the opted_in record
	if len(app.events) != 0 {
		t.Errorf("recorded %d events, want none", len(app.events))
	}
	if len(store.vals) != 0 {
		t.Errorf("stored %d codes, want none", len(store.vals))
	}
}
