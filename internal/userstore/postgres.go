package userstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pavelc4/aether-queue/internal/quota"
	"github.com/pavelc4/aether-queue/pkg/logger"
)

var errNoDatabase = errors.New("userstore: no database configured")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          BIGINT PRIMARY KEY,
	username    TEXT NOT NULL DEFAULT '',
	first_name  TEXT NOT NULL DEFAULT '',
	premium     BOOLEAN NOT NULL DEFAULT FALSE,
	first_seen  TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_quota (
	user_id      BIGINT PRIMARY KEY,
	reset_date   DATE NOT NULL,
	bytes_used   BIGINT NOT NULL DEFAULT 0,
	last_charge  BIGINT NOT NULL DEFAULT 0
);`

// querier is the part of pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Postgres struct {
	db    querier
	close func()
}

// Connect opens a pool, checks it and creates the tables.
func Connect(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{db: pool, close: pool.Close}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Database connected", "max_conns", pool.Config().MaxConns)
	return p, nil
}

func (p *Postgres) Close() {
	if p.close != nil {
		p.close()
	}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) IsPremium(ctx context.Context, userID int64) (bool, error) {
	var premium bool
	err := p.db.QueryRow(ctx, `SELECT premium FROM users WHERE id = $1`, userID).Scan(&premium)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query premium: %w", err)
	}
	return premium, nil
}

// SaveUser inserts the user or refreshes their name and last_seen.
func (p *Postgres) SaveUser(ctx context.Context, u User) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO users (id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    first_name = EXCLUDED.first_name,
		    last_seen = now()`,
		u.ID, u.Username, u.FirstName)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (p *Postgres) SetPremium(ctx context.Context, userID int64, premium bool) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO users (id, premium) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET premium = EXCLUDED.premium`,
		userID, premium)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// LoadQuotas returns the usage rows recorded for day (YYYY-MM-DD).
func (p *Postgres) LoadQuotas(ctx context.Context, day string) ([]quota.UserQuota, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_id, bytes_used, last_charge
		FROM user_quota
		WHERE reset_date = $1::date`, day)
	if err != nil {
		return nil, fmt.Errorf("load quotas: %w", err)
	}
	defer rows.Close()

	var out []quota.UserQuota
	for rows.Next() {
		q := quota.UserQuota{ResetDate: day}
		if err := rows.Scan(&q.UserID, &q.BytesUsedToday, &q.LastCharge); err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load quotas: %w", err)
	}
	return out, nil
}

// SaveQuotas upserts every row in one batch.
func (p *Postgres) SaveQuotas(ctx context.Context, list []quota.UserQuota) error {
	if len(list) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, q := range list {
		batch.Queue(`
			INSERT INTO user_quota (user_id, reset_date, bytes_used, last_charge)
			VALUES ($1, $2::date, $3, $4)
			ON CONFLICT (user_id) DO UPDATE
			SET reset_date = EXCLUDED.reset_date,
			    bytes_used = EXCLUDED.bytes_used,
			    last_charge = EXCLUDED.last_charge`,
			q.UserID, q.ResetDate, q.BytesUsedToday, q.LastCharge)
	}

	br := p.db.SendBatch(ctx, batch)
	for range list {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("save quota: %w", err)
		}
	}
	return br.Close()
}
