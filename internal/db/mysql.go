package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

type MySQLOpts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// NewMySQLConnection opens the primary store. The DSN must carry
// parseTime=true so DATETIME columns scan into time.Time.
func NewMySQLConnection(dsn string, opts MySQLOpts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mysql: empty DSN")
	}
	conn, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	tunePool(conn, opts.MaxOpenConns, opts.MaxIdleConns, opts.ConnMaxLifetime, opts.ConnMaxIdleTime)

	if err := pingWithin(conn, opts.PingTimeout, 5*time.Second); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return conn, nil
}

func tunePool(conn *sqlx.DB, maxOpen, maxIdle int, maxLife, maxIdleTime time.Duration) {
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		conn.SetMaxIdleConns(maxIdle)
	}
	if maxLife > 0 {
		conn.SetConnMaxLifetime(maxLife)
	}
	if maxIdleTime > 0 {
		conn.SetConnMaxIdleTime(maxIdleTime)
	}
}

func pingWithin(conn *sqlx.DB, timeout, fallback time.Duration) error {
	if timeout <= 0 {
		timeout = fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return conn.PingContext(ctx)
}
