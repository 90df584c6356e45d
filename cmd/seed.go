package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/relaypoint/outreach-engine/internal/config"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo businesses, recipients and drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := connectMySQL(cfg)
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo businesses...")
		if err := seedBusinesses(sqlDB); err != nil {
			return err
		}
		log.Println(">> Seeding demo recipients...")
		if err := seedRecipients(sqlDB); err != nil {
			return err
		}
		log.Println(">> Seeding demo drafts...")
		if err := seedDrafts(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedBusinesses inserts deterministic demo businesses (idempotent).
func seedBusinesses(dbx *sqlx.DB) error {
	businesses := []model.Business{
		{
			Name:         "Downtown Dental",
			APIKey:       "11111111111111111111111111111111",
			Status:       "active",
			RateLimitRPS: intptr(20),
		},
		{
			Name:         "Lakeside Auto",
			APIKey:       "22222222222222222222222222222222",
			Status:       "active",
			RateLimitRPS: intptr(50),
		},
		{
			Name:         "Harbor Fitness",
			APIKey:       "33333333333333333333333333333333",
			Status:       "active",
			RateLimitRPS: intptr(5),
		},
		{
			Name:         "Suspended Inc",
			APIKey:       "44444444444444444444444444444444",
			Status:       "suspended",
			RateLimitRPS: nil,
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO businesses
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, b := range businesses {
		if _, err := tx.Exec(q, b.Name, b.APIKey, b.Status, b.RateLimitRPS, now, now); err != nil {
			return fmt.Errorf("insert business %q: %w", b.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit businesses: %w", err)
	}
	return nil
}

// seedRecipients gives every demo business a couple of recipients with a mix
// of legacy sms_consent values (idempotent per business_id+phone).
func seedRecipients(dbx *sqlx.DB) error {
	const q = `
INSERT INTO recipients
    (business_id, name, phone, sms_consent, created_at, updated_at)
SELECT b.id, ?, ?, ?, NOW(), NOW()
FROM businesses b
WHERE b.api_key = ?
  AND NOT EXISTS (
      SELECT 1 FROM recipients r WHERE r.business_id = b.id AND r.phone = ?
  )
`
	rows := []struct {
		apiKey  string
		name    string
		phone   string
		consent bool
	}{
		{"11111111111111111111111111111111", "Alice Nguyen", "+15550100001", true},
		{"11111111111111111111111111111111", "Bob Carter", "+15550100002", false},
		{"22222222222222222222222222222222", "Carol Diaz", "+15550100003", true},
		{"22222222222222222222222222222222", "Dan Oates", "+15550100004", true},
		{"33333333333333333333333333333333", "Eve Lund", "+15550100005", false},
	}

	for _, r := range rows {
		if _, err := dbx.Exec(q, r.name, r.phone, r.consent, r.apiKey, r.phone); err != nil {
			return fmt.Errorf("insert recipient %q: %w", r.name, err)
		}
	}
	return nil
}

// seedDrafts creates one promotable draft per seeded recipient that has none.
func seedDrafts(dbx *sqlx.DB) error {
	type pair struct {
		RecipientID int64 `db:"id"`
		BusinessID  int64 `db:"business_id"`
	}
	var pairs []pair
	const sel = `
SELECT r.id, r.business_id
FROM recipients r
LEFT JOIN drafts d ON d.recipient_id = r.id AND d.state IN ('draft','pending_review')
WHERE d.id IS NULL
`
	if err := dbx.Select(&pairs, sel); err != nil {
		return fmt.Errorf("select recipients without drafts: %w", err)
	}

	const ins = `
INSERT INTO drafts
    (id, recipient_id, business_id, text, suggested_send_time, state, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, 'draft', NOW(), NOW())
`
	suggested := time.Now().Add(15 * time.Minute).UTC()
	for _, p := range pairs {
		text := "Hi! Just a reminder about your upcoming appointment."
		if _, err := dbx.Exec(ins, util.New(), p.RecipientID, p.BusinessID, text, suggested); err != nil {
			return fmt.Errorf("insert draft for recipient %d: %w", p.RecipientID, err)
		}
	}
	return nil
}

func intptr(i int) *int { return &i }
