package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
)

// Schema creates the mapping table. short_id is the primary key; object_key
// is indexed for key-based resolution.
const Schema = `
CREATE TABLE IF NOT EXISTS transfer_mapping (
	short_id   VARCHAR(64)  PRIMARY KEY,
	object_key TEXT         NOT NULL,
	created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transfer_mapping_object_key ON transfer_mapping (object_key);
`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpletransfer.MappingStore using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewPool opens a connection pool, pinning search_path to schema when set.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}

	if schema != "" {
		searchPath := pgx.Identifier{schema}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+searchPath)
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the mapping table if it does not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return simpletransfer.ErrDuplicateShortID
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return simpletransfer.ErrMappingNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Create(ctx context.Context, record *simpletransfer.MappingRecord) error {
	query := `
		INSERT INTO transfer_mapping (short_id, object_key, created_at)
		VALUES ($1, $2, $3)`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query, record.ShortID, record.ObjectKey, createdAt)
	if err != nil {
		return r.handlePostgresError("create mapping", err)
	}
	return nil
}

func (r *Repository) FindByShortID(ctx context.Context, shortID string) (*simpletransfer.MappingRecord, error) {
	query := `
		SELECT short_id, object_key, created_at
		FROM transfer_mapping
		WHERE short_id = $1`

	return r.scanOne(ctx, "find mapping by short id", query, shortID)
}

func (r *Repository) FindByObjectKey(ctx context.Context, objectKey string) (*simpletransfer.MappingRecord, error) {
	query := `
		SELECT short_id, object_key, created_at
		FROM transfer_mapping
		WHERE object_key = $1
		ORDER BY created_at
		LIMIT 1`

	return r.scanOne(ctx, "find mapping by object key", query, objectKey)
}

func (r *Repository) scanOne(ctx context.Context, operation, query string, arg string) (*simpletransfer.MappingRecord, error) {
	var record simpletransfer.MappingRecord
	err := r.db.QueryRow(ctx, query, arg).Scan(&record.ShortID, &record.ObjectKey, &record.CreatedAt)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return &record, nil
}

// Ping checks the connection when the underlying DBTX supports it
func (r *Repository) Ping(ctx context.Context) error {
	pinger, ok := r.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
