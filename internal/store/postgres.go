package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore — Store поверх таблицы orbit_kv.
//
// Версия хранится в колонке version, условная запись делается одним
// оператором (INSERT ... ON CONFLICT DO NOTHING либо UPDATE ... WHERE version).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool создаёт пул соединений и проверяет доступность базы.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w: %w", ErrUnavailable, err)
	}
	return pool, nil
}

// NewPostgresStore создаёт Store поверх готового пула.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const createKVTable = `
	CREATE TABLE IF NOT EXISTS orbit_kv (
		key        TEXT PRIMARY KEY,
		value      BYTEA NOT NULL,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// Migrate создаёт таблицу, если её нет.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createKVTable); err != nil {
		return fmt.Errorf("migrate orbit_kv: %w", err)
	}
	return nil
}

// Get возвращает запись по ключу.
func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	query := `
		SELECT key, value, version, updated_at
		FROM orbit_kv
		WHERE key = $1
	`
	var rec Record
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&rec.Value,
		&rec.Version,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return &rec, nil
}

// PutIf выполняет условную запись.
func (s *PostgresStore) PutIf(ctx context.Context, key string, value []byte, version int64) (int64, error) {
	var (
		query string
		args  []any
	)
	if version == 0 {
		query = `
			INSERT INTO orbit_kv (key, value, version, updated_at)
			VALUES ($1, $2, 1, now())
			ON CONFLICT (key) DO NOTHING
		`
		args = []any{key, value}
	} else {
		query = `
			UPDATE orbit_kv
			SET value = $2, version = version + 1, updated_at = now()
			WHERE key = $1 AND version = $3
		`
		args = []any{key, value, version}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrConflict
	}
	return version + 1, nil
}

// DeleteIf удаляет запись при совпадении версии.
func (s *PostgresStore) DeleteIf(ctx context.Context, key string, version int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orbit_kv WHERE key = $1 AND version = $2`, key, version)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, key); err != nil {
		return err
	}
	return ErrConflict
}

// List возвращает записи по префиксу, упорядоченные по ключу.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]Record, error) {
	query := `
		SELECT key, value, version, updated_at
		FROM orbit_kv
		WHERE starts_with(key, $1)
		ORDER BY key
	`
	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.Value, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping проверяет соединение с базой.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close закрывает пул.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool возвращает пул соединений (нужен каталогу flows).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}
