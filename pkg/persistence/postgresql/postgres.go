// Package postgresql provides a PostgreSQL Store keeping each entity as a JSONB document.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrule/pkg/persistence"
	"github.com/dukex/flowrule/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements persistence.Store for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPersistence connects to databaseURL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger.With("module", "postgresql"),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Get(ctx context.Context, kind, tenantID, id string) ([]byte, error) {
	var data []byte

	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE kind = $1 AND tenant_id = $2 AND id = $3`,
		kind, tenantID, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, persistence.ErrNotFound)
	}

	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to get entity", "kind", kind, "tenant_id", tenantID, "id", id, "error", err)

		return nil, persistence.NewEntityError("Get", kind, tenantID, id, err)
	}

	return data, nil
}

func (p *Persistence) Put(ctx context.Context, kind, tenantID, id string, data []byte) error {
	err := persistence.CheckKey("Put", kind, tenantID, id)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO entities (kind, tenant_id, id, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (kind, tenant_id, id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		kind, tenantID, id, data,
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to put entity", "kind", kind, "tenant_id", tenantID, "id", id, "error", err)

		return persistence.NewEntityError("Put", kind, tenantID, id, err)
	}

	return nil
}

func (p *Persistence) Delete(ctx context.Context, kind, tenantID, id string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = $1 AND tenant_id = $2 AND id = $3`,
		kind, tenantID, id,
	)
	if err != nil {
		return persistence.NewEntityError("Delete", kind, tenantID, id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEntityError("Delete", kind, tenantID, id, err)
	}

	if rows == 0 {
		return persistence.NewEntityError("Delete", kind, tenantID, id, persistence.ErrNotFound)
	}

	return nil
}

func (p *Persistence) List(ctx context.Context, kind, tenantID string) ([][]byte, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT data FROM entities WHERE kind = $1 AND tenant_id = $2 ORDER BY id`,
		kind, tenantID,
	)
	if err != nil {
		return nil, persistence.NewEntityError("List", kind, tenantID, "", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	documents := [][]byte{}

	for rows.Next() {
		var data []byte

		err := rows.Scan(&data)
		if err != nil {
			return nil, persistence.NewEntityError("List", kind, tenantID, "", fmt.Errorf("failed to scan row: %w", err))
		}

		documents = append(documents, data)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewEntityError("List", kind, tenantID, "", err)
	}

	return documents, nil
}
