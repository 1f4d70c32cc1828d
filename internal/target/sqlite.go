package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/config"
)

type sqlite struct{}

// OpenSQLite opens the database file with foreign keys enforced.
func OpenSQLite(ctx context.Context, cfg config.TargetConfig, log zerolog.Logger) (*SQL, error) {
	if cfg.SQLitePath == "" {
		return nil, fmt.Errorf("sqlite_path is required")
	}
	dsn := cfg.SQLitePath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer avoids SQLITE_BUSY between batches.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	return &SQL{db: db, dialect: sqlite{}, principal: cfg.RunningPrincipal, log: log.With().Str("target", "sqlite").Logger()}, nil
}

func (sqlite) placeholder(int) string { return "?" }

func (sqlite) columns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		return nil, err
	}
	var cols []column
	index := map[string]int{}
	for rows.Next() {
		var (
			cid     int
			c       column
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &c.name, &c.typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		c.notNull = notNull == 1
		c.hasDefault = dflt.Valid
		c.primaryKey = pk == 1
		// INTEGER PRIMARY KEY aliases the rowid and is assigned on insert.
		c.generated = c.primaryKey && strings.EqualFold(c.typ, "integer")
		index[c.name] = len(cols)
		cols = append(cols, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fks, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quote(table)))
	if err != nil {
		return nil, err
	}
	for fks.Next() {
		var (
			id, seq                   int
			refTable, from            string
			to                        sql.NullString
			onUpdate, onDelete, match string
		)
		if err := fks.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			fks.Close()
			return nil, err
		}
		if i, ok := index[from]; ok {
			cols[i].references = refTable
		}
	}
	fks.Close()
	if err := fks.Err(); err != nil {
		return nil, err
	}

	unique, err := sqliteUniqueColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	for _, name := range unique {
		if i, ok := index[name]; ok {
			cols[i].unique = true
		}
	}
	return cols, nil
}

// sqliteUniqueColumns lists the columns covered alone by a unique index.
func sqliteUniqueColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_index_list(%s) WHERE \"unique\" = 1", quoteLiteral(table)))
	if err != nil {
		return nil, err
	}
	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		indexes = append(indexes, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []string
	for _, idx := range indexes {
		var cols []string
		crows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT name FROM pragma_index_info(%s)", quoteLiteral(idx)))
		if err != nil {
			return nil, err
		}
		for crows.Next() {
			var name sql.NullString
			if err := crows.Scan(&name); err != nil {
				crows.Close()
				return nil, err
			}
			cols = append(cols, name.String)
		}
		crows.Close()
		if len(cols) == 1 && cols[0] != "" {
			out = append(out, cols[0])
		}
	}
	return out, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (sqlite) currentUser(context.Context, *sql.DB) (string, error) {
	return "", nil
}

func (sqlite) describeError(err error) string {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err.Error()
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintNotNull:
		return "REQUIRED_FIELD_MISSING: " + se.Error()
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return "DUPLICATE_VALUE: " + se.Error()
	case sqlite3.ErrConstraintForeignKey:
		return "INVALID_CROSS_REFERENCE_KEY: " + se.Error()
	case sqlite3.ErrConstraintCheck:
		return "FIELD_CUSTOM_VALIDATION_EXCEPTION: " + se.Error()
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return "UNABLE_TO_LOCK_ROW: " + se.Error()
	}
	return se.Error()
}
