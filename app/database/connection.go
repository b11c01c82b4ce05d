package database

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps a sql.DB with the driver name and a placeholder-aware query builder.
type DB struct {
	*sql.DB
	Driver  string
	Builder sq.StatementBuilderType
}

func NewConnection(driver, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty dsn for %s", driver)
	}

	builder := sq.StatementBuilder
	switch driver {
	case DriverPostgres:
		builder = builder.PlaceholderFormat(sq.Dollar)
	case DriverSQLite:
		builder = builder.PlaceholderFormat(sq.Question)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Driver: driver, Builder: builder}, nil
}
