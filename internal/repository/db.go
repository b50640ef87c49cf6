package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
)

type Config struct {
	DSN              string // postgres:// URL, or a sqlite path / file: URI
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ConfigFrom maps the ledger section of the process configuration.
func ConfigFrom(c common.LedgerConfig) Config {
	return Config{
		DSN:             c.DSN,
		MaxConns:        c.MaxConns,
		MinConns:        0,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     c.DialTimeout,
	}
}

// Ledger persists batch runs and their per-document results.
type Ledger struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool // nil for sqlite
	logger  *slog.Logger
}

// IsPostgres reports whether dsn selects the Postgres backend.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to the ledger database named by cfg.DSN. Postgres URLs go
// through a pgx pool; anything else is opened as a sqlite database.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, common.NewAppError(common.CodeConfig, "ledger DSN is empty", common.ErrInvalidInput)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if IsPostgres(cfg.DSN) {
		return openPostgres(ctx, cfg, logger)
	}
	return openSQLite(ctx, cfg, logger)
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	logger.Info("connecting to ledger database", "backend", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse ledger dsn", "error", err)
		return nil, common.NewAppError(common.CodeConfig, "parse LEDGER_DSN", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "pdf-watermarker"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dctx, pc)
	if err != nil {
		logger.Error("failed to connect to ledger database", "error", err)
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	l := &Ledger{
		drv:     entsql.OpenDB(dialect.Postgres, db),
		dialect: dialect.Postgres,
		pool:    pool,
		logger:  logger,
	}
	logger.Info("connected to ledger database", "backend", dialect.Postgres)
	return l, nil
}

func openSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	logger.Info("opening ledger database", "backend", dialect.SQLite, "dsn", cfg.DSN)
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer at a time; the ledger is written by a single worker.
	db.SetMaxOpenConns(1)

	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.ExecContext(dctx, pragma); err != nil {
			_ = db.Close()
			logger.Error("failed to open ledger database", "error", err)
			return nil, fmt.Errorf("open ledger: %w", err)
		}
	}
	return &Ledger{
		drv:     entsql.OpenDB(dialect.SQLite, db),
		dialect: dialect.SQLite,
		logger:  logger,
	}, nil
}

// Dialect is the SQL dialect of the backend.
func (l *Ledger) Dialect() string { return l.dialect }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + runsTable + ` (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	input_roots TEXT NOT NULL,
	output_root TEXT NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at BIGINT NOT NULL,
	finished_at BIGINT
)`,
	`CREATE TABLE IF NOT EXISTS ` + documentsTable + ` (
	run_id TEXT NOT NULL,
	source_path TEXT NOT NULL,
	root TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	output_path TEXT NOT NULL,
	status TEXT NOT NULL,
	pages INTEGER NOT NULL DEFAULT 0,
	error_code TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	started_at BIGINT NOT NULL,
	finished_at BIGINT NOT NULL,
	PRIMARY KEY (run_id, source_path)
)`,
	`CREATE INDEX IF NOT EXISTS ` + documentsTable + `_run_idx ON ` + documentsTable + ` (run_id, finished_at)`,
}

// Migrate creates the ledger tables when missing.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := l.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			l.logger.Error("ledger migration failed", "error", err)
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	l.logger.Debug("ledger schema ready")
	return nil
}

// Close closes the database connections gracefully
func (l *Ledger) Close() {
	l.logger.Info("closing ledger database")
	if err := l.drv.Close(); err != nil {
		l.logger.Error("failed to close ledger driver", "error", err)
	}
	if l.pool != nil {
		l.pool.Close()
	}
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (l *Ledger) HealthCheck(ctx context.Context, timeout time.Duration) error {
	l.logger.Debug("pinging ledger database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := l.drv.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w: %w", common.ErrDatabase, err)
	}
	l.logger.Debug("ledger ping successful")
	return nil
}
