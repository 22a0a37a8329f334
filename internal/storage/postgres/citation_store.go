// Package postgres mirrors drained citation outcomes and run summaries into
// Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/snp-citation-crawler/internal/citation"
)

// DefaultTable receives one row per record.
const DefaultTable = "snp_citations"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the mirror.
type Config struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CitationStore writes citation rows into Postgres. It implements
// citation.Sink.
type CitationStore struct {
	pool  pool
	table string
	runID string
}

// New creates a Postgres-backed CitationStore using the provided config.
func New(ctx context.Context, cfg Config) (*CitationStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, cfg.RunID)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table, runID string) (*CitationStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CitationStore{pool: p, table: table, runID: runID}, nil
}

// Close releases the underlying pool resources.
func (s *CitationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the citation and run tables when missing.
func (s *CitationStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	rs_id      TEXT        NOT NULL,
	position   INTEGER     NOT NULL,
	report_id  TEXT,
	title      TEXT,
	authors    TEXT,
	source     TEXT,
	url        TEXT,
	run_id     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (rs_id, position)
)`, s.table),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	backlog     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	submitted   INTEGER NOT NULL,
	resolved    INTEGER NOT NULL,
	empty       INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	rows        INTEGER NOT NULL
)`, s.runsTable()),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Drain inserts every resolved outcome of batch in one transaction. A
// no-citations result becomes a single row with NULL record columns.
// Rows that already exist are left alone.
func (s *CitationStore) Drain(ctx context.Context, batch []citation.Outcome) (int, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("citation store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (rs_id, position, report_id, title, authors, source, url, run_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (rs_id, position) DO NOTHING`, s.table)

	var pending [][]any
	for _, o := range batch {
		if o.Failed() || o.FromLedger {
			continue
		}
		pending = append(pending, s.rowArgs(o.ID, *o.Result)...)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin mirror tx: %w", err)
	}
	inserted := 0
	for _, args := range pending {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("insert citation %v: %w", args[0], err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit mirror tx: %w", err)
	}
	return inserted, nil
}

// RecordRun upserts the summary of a run.
func (s *CitationStore) RecordRun(ctx context.Context, sum citation.Summary) error {
	if s == nil || s.pool == nil {
		return errors.New("citation store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, finished_at, backlog, skipped, submitted, resolved, empty, failed, rows)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	resolved = EXCLUDED.resolved,
	empty = EXCLUDED.empty,
	failed = EXCLUDED.failed,
	rows = EXCLUDED.rows`, s.runsTable())

	_, err := s.pool.Exec(ctx, query,
		sum.RunID,
		sum.StartedAt,
		sum.FinishedAt,
		sum.Backlog,
		sum.Skipped,
		sum.Submitted,
		sum.Resolved,
		sum.Empty,
		sum.Failed,
		sum.Rows,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *CitationStore) runsTable() string {
	return s.table + "_runs"
}

func (s *CitationStore) rowArgs(id citation.Identifier, rs citation.ResultSet) [][]any {
	if rs.Empty() {
		return [][]any{{id.String(), 0, nil, nil, nil, nil, nil, s.runID}}
	}
	out := make([][]any, 0, len(rs.Records))
	for i, r := range rs.Records {
		out = append(out, []any{id.String(), i, r.ReportID, r.Title, r.Authors, r.Source, r.URL, s.runID})
	}
	return out
}
