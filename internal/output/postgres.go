package output

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbcrawl/kbcrawl/internal/rag"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DocumentStoreConfig controls the Postgres connection pool used for
// document rows.
type DocumentStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// DocumentStore writes flattened documents into Postgres.
type DocumentStore struct {
	pool  execCloser
	table string
}

// NewDocumentStore creates a Postgres-backed DocumentStore using the
// provided config.
func NewDocumentStore(ctx context.Context, cfg DocumentStoreConfig) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := defaultTable(cfg.Table)
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DocumentStore{pool: pool, table: table}, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewDocumentStoreWithPool(pool execCloser, table string) (*DocumentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table = defaultTable(table)
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DocumentStore{pool: pool, table: table}, nil
}

func defaultTable(table string) string {
	if table == "" {
		return "documents"
	}
	return table
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreDocument inserts one document row, keyed by the document id together
// with the crawl run id. Re-running the same crawl run is a no-op per row.
func (s *DocumentStore) StoreDocument(ctx context.Context, runID string, doc rag.Document) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("document store is not configured")
	}
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	labelsJSON, err := json.Marshal(doc.Labels)
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_uuid,
	service,
	title,
	text,
	url,
	labels,
	metadata,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id, run_uuid) DO NOTHING`, s.table)

	args := []any{
		doc.ID,
		runID,
		doc.Service,
		doc.Title,
		doc.Text,
		doc.URL,
		labelsJSON,
		metadataJSON,
		doc.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// StoreAll inserts every document, stopping at the first failure.
func (s *DocumentStore) StoreAll(ctx context.Context, runID string, docs []rag.Document) error {
	for _, doc := range docs {
		if err := s.StoreDocument(ctx, runID, doc); err != nil {
			return err
		}
	}
	return nil
}
