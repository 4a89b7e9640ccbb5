package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore addresses records by the composite primary key
// (email, device_id), so no string encoding of the key is involved.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("missing database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Entitlement, bool, error) {
	var ent Entitlement
	var status string
	row := s.db.QueryRowContext(ctx, `
		SELECT email, device_id, plan_id, updated_at_ms, expires_at_ms, status
		FROM entitlements WHERE email = $1 AND device_id = $2`, key.Email, key.DeviceID)
	if err := row.Scan(&ent.Email, &ent.DeviceID, &ent.PlanID, &ent.UpdatedAt, &ent.ExpiresAt, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entitlement{}, false, nil
		}
		return Entitlement{}, false, err
	}
	ent.Status = Status(status)
	return ent, true, nil
}

// Put overwrites every column, including status, for the key.
func (s *PostgresStore) Put(ctx context.Context, ent Entitlement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entitlements (email, device_id, plan_id, updated_at_ms, expires_at_ms, status, written_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (email, device_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			updated_at_ms = EXCLUDED.updated_at_ms,
			expires_at_ms = EXCLUDED.expires_at_ms,
			status = EXCLUDED.status,
			written_at = EXCLUDED.written_at`,
		ent.Email, ent.DeviceID, ent.PlanID, ent.UpdatedAt, ent.ExpiresAt, string(ent.Status))
	return err
}
