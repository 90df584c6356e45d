package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/relaypoint/outreach-engine/internal/config"
	"github.com/relaypoint/outreach-engine/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations (dev: DROP & CREATE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		mysqlDB, err := connectMySQL(cfg)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()

		if _, err := mysqlDB.Exec("SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return fmt.Errorf("disable fk checks: %w", err)
		}
		mysqlErr := applyFile(mysqlDB, filepath.Join("migrations", "001_init.sql"))
		if _, err := mysqlDB.Exec("SET FOREIGN_KEY_CHECKS = 1"); err != nil {
			return fmt.Errorf("enable fk checks: %w", err)
		}
		if mysqlErr != nil {
			return mysqlErr
		}
		fmt.Println("mysql schema applied")

		chDB, err := db.NewClickHouseConnection(clickhouseOpts(cfg))
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()

		if err := applyFile(chDB, filepath.Join("migrations", "002_clickhouse.sql")); err != nil {
			return err
		}
		fmt.Println("clickhouse schema applied")

		return nil
	},
}

// applyFile executes each semicolon-terminated statement in the file. The
// migration files hold plain DDL, no literals containing semicolons.
func applyFile(conn *sqlx.DB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("%s: exec %q: %w", path, firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
