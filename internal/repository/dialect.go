package repository

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported stores.
type Dialect interface {
	// Name is the configured driver name (mysql, postgres, sqlite).
	Name() string
	// DriverName is the database/sql driver registered for this dialect.
	DriverName() string
	// Quote quotes an identifier.
	Quote(ident string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// UpsertSuffix returns the conflict clause that overwrites updateCols
	// when a row with the same key already exists.
	UpsertSuffix(keyCol string, updateCols []string) string
}

// ErrUnknownDriver is returned for an unsupported DATABASE_DRIVER.
type ErrUnknownDriver string

func (e ErrUnknownDriver) Error() string {
	return fmt.Sprintf("unknown database driver %q", string(e))
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return mysqlDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, ErrUnknownDriver(driver)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return "mysql" }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (d mysqlDialect) UpsertSuffix(_ string, updateCols []string) string {
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		q := d.Quote(c)
		sets[i] = q + " = VALUES(" + q + ")"
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (d postgresDialect) UpsertSuffix(keyCol string, updateCols []string) string {
	return onConflictSuffix(d, keyCol, updateCols)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (d sqliteDialect) UpsertSuffix(keyCol string, updateCols []string) string {
	return onConflictSuffix(d, keyCol, updateCols)
}

func onConflictSuffix(d Dialect, keyCol string, updateCols []string) string {
	if len(updateCols) == 0 {
		return " ON CONFLICT (" + d.Quote(keyCol) + ") DO NOTHING"
	}
	sets := make([]string, len(updateCols))
	for i, c := range updateCols {
		q := d.Quote(c)
		sets[i] = q + " = excluded." + q
	}
	return " ON CONFLICT (" + d.Quote(keyCol) + ") DO UPDATE SET " + strings.Join(sets, ", ")
}
