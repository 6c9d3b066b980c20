// Package sql wraps database/sql behind the dialect.Driver interface.
//
// The Driver type adapts a *sql.DB (or anything implementing ExecQuerier)
// to the generic Exec/Query/Tx contract the loader runs against, for
// PostgreSQL, MySQL, and SQLite:
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    ...
//	}
//	defer drv.Close()
//
// # Instrumentation
//
// Two decorators wrap any *Driver without changing its behavior:
//
//   - StatsDriver counts queries, execs, transactions, and errors, tracks
//     cumulative query time, and can invoke a hook (or log via slog) when
//     a statement exceeds a slow threshold.
//   - DebugDriver logs every statement with its arguments, correlating
//     statements inside a transaction by a per-transaction id.
//
//	drv := sql.NewStatsDriver(base, sql.WithSlowThreshold(200*time.Millisecond), sql.WithSlowQueryLog())
//
// # Constraint classification
//
// IsConstraintError and its unique/foreign-key/check variants recognize
// constraint violations across drivers: typed errors from lib/pq and
// go-sql-driver/mysql, any error exposing SQLState, and string patterns
// for SQLite and other drivers without typed errors.
package sql
