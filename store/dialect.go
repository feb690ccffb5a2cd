package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect captures the SQL differences between the supported relational
// engines. Queries are written with '?' placeholders and rebound by sqlx.
type Dialect struct {
	Name       string
	DriverName string

	AutoIncrementPK string
	JSONType        string
	TimestampType   string
	DecimalType     string
}

var (
	// Postgres is the production dialect, driven by pgx through database/sql.
	Postgres = Dialect{
		Name:            "postgres",
		DriverName:      "pgx",
		AutoIncrementPK: "BIGSERIAL PRIMARY KEY",
		JSONType:        "JSONB",
		TimestampType:   "TIMESTAMPTZ",
		DecimalType:     "DECIMAL(10,2)",
	}

	// SQLite is the embedded dialect used for development and tests.
	SQLite = Dialect{
		Name:            "sqlite",
		DriverName:      "sqlite",
		AutoIncrementPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
		JSONType:        "TEXT",
		TimestampType:   "TIMESTAMP",
		DecimalType:     "REAL",
	}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported relational driver %q", driver)
}

// SupportsDatabases reports whether the engine has CREATE DATABASE.
func (d Dialect) SupportsDatabases() bool { return d.Name == Postgres.Name }

// CreateDatabaseSQL returns the statement creating a database named name.
func (d Dialect) CreateDatabaseSQL(name string) string {
	return fmt.Sprintf("CREATE DATABASE %s", QuoteIdent(name))
}

// IsDuplicate reports whether err is a unique constraint violation.
func (d Dialect) IsDuplicate(err error) bool {
	return isDuplicateError(err)
}

// IsDuplicateDatabase reports whether err says the database already exists.
func (d Dialect) IsDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P04"
}

func isDuplicateError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// QuoteIdent double-quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
