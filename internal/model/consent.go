package model

import (
	"strings"
	"time"
)

type ConsentState string

const (
	ConsentNotSet   ConsentState = "not_set"
	ConsentPending  ConsentState = "pending"
	ConsentOptedIn  ConsentState = "opted_in"
	ConsentOptedOut ConsentState = "opted_out"
	ConsentDeclined ConsentState = "declined"
)

func (s ConsentState) String() string { return string(s) }

func (s ConsentState) Valid() bool {
	switch s {
	case ConsentNotSet, ConsentPending, ConsentOptedIn, ConsentOptedOut, ConsentDeclined:
		return true
	default:
		return false
	}
}

func ParseConsentState(s string) (ConsentState, bool) {
	st := ConsentState(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Consent event methods.
const (
	ConsentMethodKeyword      = "keyword"
	ConsentMethodVerification = "verification"
	ConsentMethodManual       = "manual"
	ConsentMethodAPI          = "api"
)

// ConsentEvent is one row of the append-only consent log.
type ConsentEvent struct {
	ID             int64        `db:"id" json:"id"`
	RecipientID    int64        `db:"recipient_id" json:"recipient_id"`
	BusinessID     int64        `db:"business_id" json:"business_id"`
	Method         string       `db:"method" json:"method"`
	ResultingState ConsentState `db:"resulting_state" json:"resulting_state"`
	OccurredAt     time.Time    `db:"occurred_at" json:"occurred_at"`
}

// ConsentRecord is the derived current state per (recipient, business),
// always equal to the resulting state of the most recent event.
type ConsentRecord struct {
	RecipientID int64        `db:"recipient_id"`
	BusinessID  int64        `db:"business_id"`
	State       ConsentState `db:"state"`
	UpdatedAt   time.Time    `db:"updated_at"`
}
