package model

import (
	"strings"
	"time"
)

type DraftState string

const (
	DraftStateDraft         DraftState = "draft"
	DraftStatePendingReview DraftState = "pending_review"
	DraftStateSuperseded    DraftState = "superseded"
	DraftStateRejected      DraftState = "rejected"
	DraftStateDeleted       DraftState = "deleted"
)

func (s DraftState) String() string { return string(s) }

func (s DraftState) Valid() bool {
	switch s {
	case DraftStateDraft, DraftStatePendingReview, DraftStateSuperseded, DraftStateRejected, DraftStateDeleted:
		return true
	default:
		return false
	}
}

// Promotable reports whether a draft in this state may still be promoted.
func (s DraftState) Promotable() bool {
	return s == DraftStateDraft || s == DraftStatePendingReview
}

func ParseDraftState(s string) (DraftState, bool) {
	st := DraftState(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Draft is a proposed outbound message awaiting promotion.
type Draft struct {
	ID                string     `db:"id" json:"id"`
	RecipientID       int64      `db:"recipient_id" json:"recipient_id"`
	BusinessID        int64      `db:"business_id" json:"business_id"`
	Text              string     `db:"text" json:"text"`
	SuggestedSendTime *time.Time `db:"suggested_send_time" json:"suggested_send_time"`
	State             DraftState `db:"state" json:"state"`
	LinkedDeliveryID  *string    `db:"linked_delivery_id" json:"linked_delivery_id"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}
