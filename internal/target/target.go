package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/config"
	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/resolve"
)

// Mode selects how a batch is written.
type Mode string

const (
	Insert Mode = "INSERT"
	Upsert Mode = "UPSERT"
	Update Mode = "UPDATE"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return Insert, nil
	case Insert, Upsert, Update:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported write mode: %s", s)
	}
}

// Outcome is the result of writing one record. Err is empty on success.
type Outcome struct {
	ID  string
	Err string
}

func (o Outcome) Success() bool { return o.Err == "" }

// Writer submits one batch and reports one Outcome per record, in order.
// An error means the batch as a whole was not applied.
type Writer interface {
	SubmitBatch(ctx context.Context, objectType string, mode Mode, externalIDField string, records []*record.Record) ([]Outcome, error)
}

// Target is a live datastore records are restored into.
type Target interface {
	meta.Provider
	resolve.Querier
	Writer
	// RunningPrincipal identifies whoever performs the restore.
	RunningPrincipal(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

func New(ctx context.Context, cfg config.TargetConfig, log zerolog.Logger) (Target, error) {
	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		return OpenPostgres(ctx, cfg, log)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg, log)
	case "":
		return nil, fmt.Errorf("target type is required")
	default:
		return nil, fmt.Errorf("unsupported target type: %s", cfg.Type)
	}
}
