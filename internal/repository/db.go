package repository

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// DB bundles a connection pool with the dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// NewDB opens a connection pool for the given driver and DSN.
func NewDB(driver, dsn string) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}

	if dialect.Name() == "sqlite" {
		// One connection so in-memory databases are shared and writes serialize.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		slog.Warn("database ping failed — continuing without DB", "driver", dialect.Name(), "error", err)
	}

	return &DB{DB: db, Dialect: dialect}, nil
}

// Migrate applies the embedded schema for the connection's dialect.
// Statements are idempotent (CREATE ... IF NOT EXISTS).
func (db *DB) Migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile("schema/" + db.Dialect.Name() + ".sql")
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}

	for _, stmt := range splitStatements(string(raw)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		lines := make([]string, 0)
		for _, line := range strings.Split(part, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
