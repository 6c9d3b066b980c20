// Package dialect provides the database abstraction consumed by pivot.
//
// It defines the interfaces used for database-specific operations, allowing
// the loader to run against PostgreSQL, MySQL, and SQLite through a single
// surface.
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
// Driver wraps all database operations:
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// The Tx interface carries the same Exec/Query pair plus Commit and
// Rollback. ExecQuerier is the subset implemented by both.
//
// # Usage
//
// Opening a database connection:
//
//	import (
//	    "github.com/syssam/pivot/dialect"
//	    "github.com/syssam/pivot/dialect/sql"
//	)
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
// The dialect/sql sub-package implements Driver on top of database/sql and
// adds statistics and debug wrappers.
package dialect
