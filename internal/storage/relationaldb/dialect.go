package relationaldb

import (
	"context"
	"strconv"
	"strings"
)

// Dialect hides the few syntactic differences between PostgreSQL and
// SQLite. Queries are written with `?` placeholders and rebound for
// postgres.
type Dialect struct {
	driver string
}

// NewDialect creates a dialect for a validated driver name.
func NewDialect(driver string) Dialect {
	return Dialect{driver: driver}
}

// Driver returns the validated driver name.
func (d Dialect) Driver() string {
	return d.driver
}

// Rebind rewrites `?` placeholders to `$N` for postgres. SQLite accepts
// `?` as-is.
func (d Dialect) Rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// ForUpdate returns the row-lock suffix. SQLite has no FOR UPDATE; its
// single-writer connection serializes transactions instead.
func (d Dialect) ForUpdate() string {
	if d.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

// SerialPK returns the auto-incrementing primary key column type.
func (d Dialect) SerialPK() string {
	if d.driver == "postgres" {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// InsertID executes an insert and returns the generated id of idColumn.
// Postgres uses RETURNING; SQLite reports it via LastInsertId.
func (d Dialect) InsertID(ctx context.Context, ex executor, query, idColumn string, args ...interface{}) (int64, error) {
	if d.driver == "postgres" {
		var id int64
		err := ex.QueryRowContext(ctx, d.Rebind(query)+" RETURNING "+idColumn, args...).Scan(&id)
		return id, err
	}

	result, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
