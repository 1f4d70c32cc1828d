package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/resolve"
)

type dialect interface {
	placeholder(n int) string
	columns(ctx context.Context, db *sql.DB, table string) ([]column, error)
	currentUser(ctx context.Context, db *sql.DB) (string, error)
	// describeError turns a driver error into an outcome message that
	// carries a restore error category.
	describeError(err error) string
}

// column is a table column as reported by the catalog.
type column struct {
	name       string
	typ        string
	notNull    bool
	hasDefault bool
	generated  bool
	primaryKey bool
	unique     bool
	maxLength  int
	references string
}

// SQL is a relational target: tables are object types, foreign keys are
// reference fields and the primary key is the identifier field.
type SQL struct {
	db        *sql.DB
	dialect   dialect
	principal string
	log       zerolog.Logger
	onClose   func()

	keys sync.Map // table -> primary key column
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error {
	err := s.db.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

func (s *SQL) RunningPrincipal(ctx context.Context) (string, error) {
	if s.principal != "" {
		return s.principal, nil
	}
	return s.dialect.currentUser(ctx, s.db)
}

func (s *SQL) Describe(ctx context.Context, objectType string) (*meta.ObjectMetadata, error) {
	cols, err := s.dialect.columns(ctx, s.db, objectType)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", objectType, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("describe %s: object not found", objectType)
	}
	md := buildMetadata(objectType, cols)
	s.keys.Store(objectType, md.IDField)
	return md, nil
}

func buildMetadata(table string, cols []column) *meta.ObjectMetadata {
	md := &meta.ObjectMetadata{Name: table}
	for _, c := range cols {
		f := meta.FieldInfo{
			Name:       c.name,
			Type:       fieldType(c.typ),
			Label:      c.name,
			Required:   c.notNull && !c.hasDefault && !c.generated,
			Createable: !c.generated,
			MaxLength:  c.maxLength,
			Unique:     c.unique,
			ExternalID: c.unique && !c.primaryKey,
			NameField:  strings.EqualFold(c.name, "name"),
		}
		switch {
		case c.primaryKey:
			f.Type = meta.TypeID
			if md.IDField == "" {
				md.IDField = c.name
			}
		case c.references != "":
			f.Type = meta.TypeReference
			md.Relationships = append(md.Relationships, meta.RelationshipField{
				Field:            f,
				ReferenceTo:      []string{c.references},
				RelationshipName: c.references,
			})
		}
		md.Fields = append(md.Fields, f)
	}
	if md.IDField == "" {
		md.IDField = "rowid"
	}
	return md
}

func fieldType(sqlType string) string {
	t := strings.ToLower(sqlType)
	switch {
	case strings.Contains(t, "timestamp") || strings.Contains(t, "datetime"):
		return meta.TypeDateTime
	case strings.Contains(t, "date"):
		return meta.TypeDate
	case strings.Contains(t, "bool"):
		return meta.TypeBoolean
	case strings.Contains(t, "int"):
		return meta.TypeInt
	case strings.Contains(t, "real"), strings.Contains(t, "floa"), strings.Contains(t, "doub"),
		strings.Contains(t, "numeric"), strings.Contains(t, "decimal"):
		return meta.TypeDouble
	default:
		return meta.TypeString
	}
}

func (s *SQL) primaryKey(ctx context.Context, table string) (string, error) {
	if pk, ok := s.keys.Load(table); ok {
		return pk.(string), nil
	}
	md, err := s.Describe(ctx, table)
	if err != nil {
		return "", err
	}
	return md.IDField, nil
}

// QueryIDs resolves natural keys with a parameterized IN query.
func (s *SQL) QueryIDs(ctx context.Context, l resolve.Lookup) (map[string]string, error) {
	out := map[string]string{}
	if len(l.Values) == 0 {
		return out, nil
	}
	pk, err := s.primaryKey(ctx, l.ObjectType)
	if err != nil {
		return nil, err
	}
	ph := make([]string, len(l.Values))
	args := make([]any, len(l.Values))
	for i, v := range l.Values {
		ph[i] = s.dialect.placeholder(i + 1)
		args[i] = v
	}
	query := fmt.Sprintf("SELECT CAST(%s AS TEXT), CAST(%s AS TEXT) FROM %s WHERE %s IN (%s)",
		quote(pk), quote(l.Field), quote(l.ObjectType), quote(l.Field), strings.Join(ph, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s.%s: %w", l.ObjectType, l.Field, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, value sql.NullString
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		if _, dup := out[value.String]; !dup && id.Valid {
			out[value.String] = id.String
		}
	}
	return out, rows.Err()
}

// DistinctValues lists up to limit distinct non-null values of a column,
// the vocabulary mapping suggestions are matched against.
func (s *SQL) DistinctValues(ctx context.Context, objectType, field string, limit int) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL ORDER BY 1 LIMIT %d",
		quote(field), quote(objectType), quote(field), limit)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", objectType, field, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SubmitBatch writes each record under its own savepoint inside one
// transaction, so a failing record does not affect the others and a
// connection failure leaves nothing applied.
func (s *SQL) SubmitBatch(ctx context.Context, objectType string, mode Mode, externalIDField string, records []*record.Record) ([]Outcome, error) {
	pk, err := s.primaryKey(ctx, objectType)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	outcomes := make([]Outcome, len(records))
	for i, rec := range records {
		query, args, msg := s.statement(objectType, pk, mode, externalIDField, rec)
		if msg != "" {
			outcomes[i] = Outcome{Err: msg}
			continue
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT rk_row"); err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}
		var id sql.NullString
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT rk_row"); rbErr != nil {
				return nil, fmt.Errorf("rollback to savepoint: %w", rbErr)
			}
			if errors.Is(err, sql.ErrNoRows) {
				outcomes[i] = Outcome{Err: fmt.Sprintf("ENTITY_IS_DELETED: no %s row with %s %s", objectType, pk, rec.Str(pk))}
			} else {
				outcomes[i] = Outcome{Err: s.dialect.describeError(err)}
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT rk_row"); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
		outcomes[i] = Outcome{ID: id.String}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return outcomes, nil
}

// statement builds the write for one record. A non-empty msg rejects the
// record without touching the database.
func (s *SQL) statement(table, pk string, mode Mode, extField string, rec *record.Record) (query string, args []any, msg string) {
	var cols, ph []string
	for _, k := range rec.Keys() {
		if mode == Update && k == pk {
			continue
		}
		v, _ := rec.Get(k)
		cols = append(cols, quote(k))
		if v.Valid {
			args = append(args, v.S)
		} else {
			args = append(args, nil)
		}
		ph = append(ph, s.dialect.placeholder(len(args)))
	}
	returning := fmt.Sprintf(" RETURNING CAST(%s AS TEXT)", quote(pk))

	switch mode {
	case Insert, "":
		if len(cols) == 0 {
			return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(table)) + returning, nil, ""
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(cols, ", "), strings.Join(ph, ", ")) + returning, args, ""

	case Upsert:
		if extField == "" {
			return "", nil, "INVALID_FIELD: upsert needs an external id field"
		}
		if v, ok := rec.Get(extField); !ok || v.Blank() {
			return "", nil, fmt.Sprintf("REQUIRED_FIELD_MISSING: external id field %s has no value", extField)
		}
		var sets []string
		for _, c := range cols {
			if c != quote(extField) {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
			}
		}
		if len(sets) == 0 {
			sets = []string{fmt.Sprintf("%s = excluded.%s", quote(extField), quote(extField))}
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			quote(table), strings.Join(cols, ", "), strings.Join(ph, ", "), quote(extField), strings.Join(sets, ", ")) + returning, args, ""

	case Update:
		id, ok := rec.Get(pk)
		if !ok || id.Blank() {
			return "", nil, fmt.Sprintf("MALFORMED_ID: update needs a value for %s", pk)
		}
		if len(cols) == 0 {
			return "", nil, "INVALID_FIELD: no fields to update"
		}
		sets := make([]string, len(cols))
		for i, c := range cols {
			sets[i] = fmt.Sprintf("%s = %s", c, ph[i])
		}
		args = append(args, id.S)
		return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", quote(table), strings.Join(sets, ", "), quote(pk), s.dialect.placeholder(len(args))) + returning, args, ""
	}
	return "", nil, fmt.Sprintf("INVALID_FIELD: unsupported write mode %s", mode)
}
