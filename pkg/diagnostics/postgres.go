package diagnostics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

const (
	sqlLiveTuples   = `SELECT COALESCE(SUM(n_live_tup), 0)::float8 FROM pg_stat_user_tables`
	sqlDeadTuples   = `SELECT COALESCE(SUM(n_dead_tup), 0)::float8 FROM pg_stat_user_tables`
	sqlIdleSessions = `SELECT COUNT(*)::float8 FROM pg_stat_activity WHERE state = 'idle'`
	sqlConnections  = `SELECT COALESCE(SUM(numbackends), 0)::float8 FROM pg_stat_database`
)

// PostgresDiagnostics samples server statistics from a Postgres database
// through a single-connection pool, so tracing adds one session at most.
type PostgresDiagnostics struct {
	pool *pgxpool.Pool
}

// NewPostgresDiagnostics connects to connString.
func NewPostgresDiagnostics(ctx context.Context, connString string) (*PostgresDiagnostics, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection string: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 1

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresDiagnostics{pool: pool}, nil
}

// NewPostgresDiagnosticsFromPool reuses an existing pool.
func NewPostgresDiagnosticsFromPool(pool *pgxpool.Pool) *PostgresDiagnostics {
	return &PostgresDiagnostics{pool: pool}
}

// Close releases the pool.
func (p *PostgresDiagnostics) Close() {
	p.pool.Close()
}

// LiveTuples reports the live row count across user tables.
func (p *PostgresDiagnostics) LiveTuples() Diagnostic {
	return New("live_msgs", p.query(sqlLiveTuples))
}

// DeadTuples reports the dead row count across user tables.
func (p *PostgresDiagnostics) DeadTuples() Diagnostic {
	return New("dead_msgs", p.query(sqlDeadTuples))
}

// IdleSessions reports sessions in the idle state.
func (p *PostgresDiagnostics) IdleSessions() Diagnostic {
	return New("idle", p.query(sqlIdleSessions))
}

// Connections reports backends connected across all databases.
func (p *PostgresDiagnostics) Connections() Diagnostic {
	return New("count_db_connections", p.query(sqlConnections))
}

// All returns every Postgres producer.
func (p *PostgresDiagnostics) All() []Diagnostic {
	return []Diagnostic{p.LiveTuples(), p.DeadTuples(), p.IdleSessions(), p.Connections()}
}

func (p *PostgresDiagnostics) query(sql string) ContextFunc {
	return func(ctx context.Context) (float64, error) {
		var v float64
		if err := p.pool.QueryRow(ctx, sql).Scan(&v); err != nil {
			return 0, fmt.Errorf("postgres stat query failed: %w", err)
		}
		return v, nil
	}
}
