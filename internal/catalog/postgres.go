package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Orbit/internal/domain"
)

const catalogSchema = `
	CREATE TABLE IF NOT EXISTS orbit_flows (
		tenant     TEXT        NOT NULL,
		namespace  TEXT        NOT NULL,
		flow_id    TEXT        NOT NULL,
		revision   INTEGER     NOT NULL DEFAULT 1,
		disabled   BOOLEAN     NOT NULL DEFAULT FALSE,
		definition JSONB       NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant, namespace, flow_id)
	)
`

// Postgres — каталог flows в таблице orbit_flows.
// Описание flow хранится целиком в definition (JSONB).
type Postgres struct {
	pool          *pgxpool.Pool
	defaultTenant string
}

// NewPostgres создаёт каталог поверх пула.
func NewPostgres(pool *pgxpool.Pool, defaultTenant string) *Postgres {
	return &Postgres{pool: pool, defaultTenant: defaultTenant}
}

// Migrate создаёт таблицу, если её нет.
func (c *Postgres) Migrate(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, catalogSchema); err != nil {
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

// Upsert сохраняет flow. Ревизия увеличивается при каждом изменении.
func (c *Postgres) Upsert(ctx context.Context, f *domain.FlowDescriptor) (int, error) {
	cp := *f
	Normalize(&cp, c.defaultTenant)
	if err := Validate(&cp); err != nil {
		return 0, err
	}

	definition, err := json.Marshal(&cp)
	if err != nil {
		return 0, fmt.Errorf("marshal flow: %w", err)
	}

	query := `
		INSERT INTO orbit_flows (tenant, namespace, flow_id, revision, disabled, definition, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5, now())
		ON CONFLICT (tenant, namespace, flow_id) DO UPDATE
		SET revision = orbit_flows.revision + 1,
		    disabled = EXCLUDED.disabled,
		    definition = EXCLUDED.definition,
		    updated_at = now()
		RETURNING revision
	`
	var revision int
	err = c.pool.QueryRow(ctx, query, cp.Tenant, cp.Namespace, cp.ID, cp.Disabled, definition).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("upsert flow: %w", err)
	}
	return revision, nil
}

// Delete удаляет flow.
func (c *Postgres) Delete(ctx context.Context, key domain.FlowKey) error {
	query := `DELETE FROM orbit_flows WHERE tenant = $1 AND namespace = $2 AND flow_id = $3`
	result, err := c.pool.Exec(ctx, query, key.Tenant, key.Namespace, key.FlowID)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get реализует Catalog.
func (c *Postgres) Get(ctx context.Context, key domain.FlowKey) (*domain.FlowDescriptor, error) {
	query := `
		SELECT revision, definition
		FROM orbit_flows
		WHERE tenant = $1 AND namespace = $2 AND flow_id = $3
	`
	var (
		revision   int
		definition []byte
	)
	err := c.pool.QueryRow(ctx, query, key.Tenant, key.Namespace, key.FlowID).Scan(&revision, &definition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return decodeRow(revision, definition)
}

// ListActiveFlows реализует Catalog.
func (c *Postgres) ListActiveFlows(ctx context.Context, tenant string) ([]*domain.FlowDescriptor, error) {
	query := `
		SELECT revision, definition
		FROM orbit_flows
		WHERE NOT disabled AND ($1 = '' OR tenant = $1)
		ORDER BY tenant, namespace, flow_id
	`
	rows, err := c.pool.Query(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []*domain.FlowDescriptor
	for rows.Next() {
		var (
			revision   int
			definition []byte
		)
		if err := rows.Scan(&revision, &definition); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		f, err := decodeRow(revision, definition)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func decodeRow(revision int, definition []byte) (*domain.FlowDescriptor, error) {
	var f domain.FlowDescriptor
	if err := json.Unmarshal(definition, &f); err != nil {
		return nil, fmt.Errorf("unmarshal flow definition: %w", err)
	}
	f.Revision = revision
	return &f, nil
}

// Close закрывает пул.
func (c *Postgres) Close() error {
	c.pool.Close()
	return nil
}
