package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/config"
)

type postgres struct {
	schema string
}

// OpenPostgres connects through a pgx pool exposed as database/sql.
func OpenPostgres(ctx context.Context, cfg config.TargetConfig, log zerolog.Logger) (*SQL, error) {
	poolConfig, err := pgxpool.ParseConfig(postgresURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &SQL{
		db:        stdlib.OpenDBFromPool(pool),
		dialect:   postgres{schema: schema},
		principal: cfg.RunningPrincipal,
		log:       log.With().Str("target", "postgres").Logger(),
		onClose:   pool.Close,
	}, nil
}

func postgresURL(cfg config.TargetConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	u := url.URL{Scheme: "postgres", Path: "/" + cfg.Database}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	if cfg.Port != 0 {
		host += ":" + strconv.Itoa(cfg.Port)
	}
	u.Host = host
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (postgres) placeholder(n int) string { return "$" + strconv.Itoa(n) }

const pgColumnsQuery = `
SELECT c.column_name, c.data_type, c.is_nullable = 'NO', c.column_default IS NOT NULL,
       c.is_identity = 'YES' OR c.is_generated = 'ALWAYS', COALESCE(c.character_maximum_length, 0)
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

const pgConstraintsQuery = `
SELECT tc.constraint_type, kcu.column_name, COALESCE(ccu.table_name, '')
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
LEFT JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_type = 'FOREIGN KEY' AND ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.table_schema = $1 AND tc.table_name = $2
  AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE', 'FOREIGN KEY')`

func (p postgres) columns(ctx context.Context, db *sql.DB, table string) ([]column, error) {
	rows, err := db.QueryContext(ctx, pgColumnsQuery, p.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []column
	index := map[string]int{}
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.name, &c.typ, &c.notNull, &c.hasDefault, &c.generated, &c.maxLength); err != nil {
			return nil, err
		}
		index[c.name] = len(cols)
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := db.QueryContext(ctx, pgConstraintsQuery, p.schema, table)
	if err != nil {
		return nil, err
	}
	defer crows.Close()
	for crows.Next() {
		var kind, name, ref string
		if err := crows.Scan(&kind, &name, &ref); err != nil {
			return nil, err
		}
		i, ok := index[name]
		if !ok {
			continue
		}
		switch kind {
		case "PRIMARY KEY":
			cols[i].primaryKey = true
		case "UNIQUE":
			cols[i].unique = true
		case "FOREIGN KEY":
			cols[i].references = ref
		}
	}
	return cols, crows.Err()
}

func (postgres) currentUser(ctx context.Context, db *sql.DB) (string, error) {
	var user string
	err := db.QueryRowContext(ctx, "SELECT current_user").Scan(&user)
	return user, err
}

var pgCategories = map[string]string{
	"23502": "REQUIRED_FIELD_MISSING",
	"23505": "DUPLICATE_VALUE",
	"23503": "INVALID_CROSS_REFERENCE_KEY",
	"23514": "FIELD_CUSTOM_VALIDATION_EXCEPTION",
	"22001": "STRING_TOO_LONG",
	"22P02": "INVALID_FIELD_VALUE",
	"42703": "INVALID_FIELD",
	"42501": "INSUFFICIENT_ACCESS",
	"55P03": "UNABLE_TO_LOCK_ROW",
	"40P01": "UNABLE_TO_LOCK_ROW",
	"40001": "UNABLE_TO_LOCK_ROW",
	"57014": "REQUEST_TIMEOUT",
	"53300": "SERVICE_TEMPORARILY_UNAVAILABLE",
}

func (postgres) describeError(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if cat, ok := pgCategories[pgErr.Code]; ok {
			return fmt.Sprintf("%s: %s", cat, pgErr.Message)
		}
		return fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	return err.Error()
}
