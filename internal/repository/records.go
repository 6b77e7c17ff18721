package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/inspectsync/inspectsync-go/internal/model"
)

var ErrRecordNotFound = errors.New("record not found")

// Condition is a single column predicate. Column names always come from
// code, never from client input.
type Condition struct {
	Column string
	Op     string
	Value  any
}

func Eq(col string, v any) Condition  { return Condition{Column: col, Op: "=", Value: v} }
func Gt(col string, v any) Condition  { return Condition{Column: col, Op: ">", Value: v} }
func Gte(col string, v any) Condition { return Condition{Column: col, Op: ">=", Value: v} }
func Lte(col string, v any) Condition { return Condition{Column: col, Op: "<=", Value: v} }

// In matches col against any of values. An empty list matches nothing.
func In(col string, values []string) Condition {
	return Condition{Column: col, Op: "IN", Value: values}
}

// RecordRepository reads and writes syncable rows in named tables.
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Find returns every row of table matching all conditions, ordered by id.
func (r *RecordRepository) Find(ctx context.Context, table string, conds ...Condition) ([]model.Record, error) {
	where, args := r.where(conds, 1)
	query := "SELECT * FROM " + r.db.Dialect.Quote(table) + where + " ORDER BY " + r.db.Dialect.Quote("id")

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindByID returns the row of table with the given id.
func (r *RecordRepository) FindByID(ctx context.Context, table, id string) (model.Record, error) {
	recs, err := r.Find(ctx, table, Eq("id", id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return recs[0], nil
}

// Upsert inserts rec into table keyed by its "id" column. When a row with
// the same id exists, only updateCols are overwritten.
func (r *RecordRepository) Upsert(ctx context.Context, table string, rec model.Record, updateCols []string) error {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = r.db.Dialect.Quote(c)
		marks[i] = r.db.Dialect.Placeholder(i + 1)
		args[i] = bindValue(rec[c])
	}

	update := append([]string(nil), updateCols...)
	sort.Strings(update)

	query := "INSERT INTO " + r.db.Dialect.Quote(table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")" +
		r.db.Dialect.UpsertSuffix("id", update)

	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// UpdateWhere sets the given columns on every row matching conds and
// returns the number of rows affected.
func (r *RecordRepository) UpdateWhere(ctx context.Context, table string, set model.Record, conds ...Condition) (int64, error) {
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	assigns := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(conds))
	for i, c := range cols {
		assigns[i] = r.db.Dialect.Quote(c) + " = " + r.db.Dialect.Placeholder(i+1)
		args = append(args, bindValue(set[c]))
	}

	where, whereArgs := r.where(conds, len(cols)+1)
	args = append(args, whereArgs...)

	query := "UPDATE " + r.db.Dialect.Quote(table) + " SET " + strings.Join(assigns, ", ") + where
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteWhere removes every row matching conds and returns the count.
func (r *RecordRepository) DeleteWhere(ctx context.Context, table string, conds ...Condition) (int64, error) {
	where, args := r.where(conds, 1)
	query := "DELETE FROM " + r.db.Dialect.Quote(table) + where

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *RecordRepository) where(conds []Condition, start int) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}

	n := start
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, c := range conds {
		col := r.db.Dialect.Quote(c.Column)
		if c.Op == "IN" {
			values, _ := c.Value.([]string)
			if len(values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			marks := make([]string, len(values))
			for i, v := range values {
				marks[i] = r.db.Dialect.Placeholder(n)
				args = append(args, v)
				n++
			}
			parts = append(parts, col+" IN ("+strings.Join(marks, ", ")+")")
			continue
		}
		parts = append(parts, col+" "+c.Op+" "+r.db.Dialect.Placeholder(n))
		args = append(args, bindValue(c.Value))
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []model.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(model.Record, len(cols))
		for i, c := range cols {
			switch v := values[i].(type) {
			case []byte:
				rec[c] = string(v)
			case time.Time:
				rec[c] = v.UTC()
			default:
				rec[c] = v
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
