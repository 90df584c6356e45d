package model

import "time"

// Recipient is a message target belonging to a business. SMSConsent is the
// legacy boolean the consent record falls back to when no event history
// exists for the pair.
type Recipient struct {
	ID         int64     `db:"id"`
	BusinessID int64     `db:"business_id"`
	Name       string    `db:"name"`
	Phone      string    `db:"phone"`
	SMSConsent bool      `db:"sms_consent"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}
