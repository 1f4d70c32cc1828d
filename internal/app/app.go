package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/backup"
	"github.com/rowjay/restorekit/internal/config"
	"github.com/rowjay/restorekit/internal/cryptoutil"
	"github.com/rowjay/restorekit/internal/lock"
	"github.com/rowjay/restorekit/internal/metrics"
	"github.com/rowjay/restorekit/internal/notify"
	"github.com/rowjay/restorekit/internal/order"
	"github.com/rowjay/restorekit/internal/restore"
	"github.com/rowjay/restorekit/internal/storage"
	"github.com/rowjay/restorekit/internal/target"
	"github.com/rowjay/restorekit/internal/transform"
	"github.com/rowjay/restorekit/internal/util"
	"github.com/rowjay/restorekit/internal/validate"
)

type App struct {
	Cfg      *config.Config
	Storage  storage.Storage
	Log      zerolog.Logger
	Notifier notify.Notifier
	Metrics  *metrics.Recorder
}

func New(cfg *config.Config, store storage.Storage, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{Cfg: cfg, Storage: store, Log: log, Notifier: notifier, Metrics: metrics.New()}
}

// RestoreOptions converts the restore section of the config.
func RestoreOptions(cfg config.RestoreConfig) (restore.Options, error) {
	mode, err := target.ParseMode(cfg.Mode)
	if err != nil {
		return restore.Options{}, err
	}
	return restore.Options{
		BatchSize:             cfg.BatchSize,
		StopOnError:           cfg.StopOnError,
		ValidateBeforeRestore: cfg.ValidateBeforeRestore,
		ResolveRelationships:  cfg.ResolveRelationships,
		PreserveOriginalIDs:   cfg.PreserveOriginalIDs,
		DryRun:                cfg.DryRun,
		ExternalIDField:       cfg.ExternalIDField,
		MaxRetries:            cfg.MaxRetries,
		RetryDelay:            cfg.RetryDelay,
		Mode:                  mode,
		Parallelism:           cfg.Parallelism,
	}, nil
}

// session is an opened backup set plus a connected target.
type session struct {
	set *backup.Set
	tgt target.Target
}

func (s *session) Close() {
	if s.tgt != nil {
		_ = s.tgt.Close()
	}
}

func (a *App) open(ctx context.Context) (*session, error) {
	set, err := a.openSet(ctx)
	if err != nil {
		return nil, err
	}
	tgt, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &session{set: set, tgt: tgt}, nil
}

func (a *App) openSet(ctx context.Context) (*backup.Set, error) {
	if a.Cfg.Source.Backup == "" {
		return nil, fmt.Errorf("source.backup is required")
	}
	var key []byte
	if a.Cfg.Source.EncryptionKey != "" {
		k, err := cryptoutil.ParseKey(a.Cfg.Source.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("source encryption key: %w", err)
		}
		key = k
	}
	prefix := util.BackupPrefix(a.Cfg.Storage.Prefix, a.Cfg.Source.Backup)
	return backup.Open(ctx, a.Storage, prefix, key, a.Log)
}

// connect opens the target, retrying with the configured backoff until it
// answers a ping.
func (a *App) connect(ctx context.Context) (target.Target, error) {
	cfg := a.Cfg.Target
	var tgt target.Target
	err := util.Retry(ctx, cfg.ConnectRetries, cfg.ConnectBackoff, restore.IsRetryableError, func(attempt int) error {
		pingCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.ConnectTimeout > 0 {
			pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		}
		defer cancel()
		t, err := target.New(pingCtx, cfg, a.Log)
		if err != nil {
			a.Log.Warn().Err(err).Str("target", cfg.Type).Int("attempt", attempt).Msg("target connection failed")
			return err
		}
		if err := t.Ping(pingCtx); err != nil {
			_ = t.Close()
			return err
		}
		tgt = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s target: %w", cfg.Type, err)
	}
	return tgt, nil
}

func (a *App) transformConfig(ctx context.Context, set *backup.Set) (*transform.Config, error) {
	if path := a.Cfg.Source.TransformFile; path != "" {
		return transform.LoadFile(path)
	}
	return set.TransformationConfig(ctx)
}

func (a *App) pipeline(ctx context.Context, s *session) (*restore.Pipeline, error) {
	cfg, err := a.transformConfig(ctx, s.set)
	if err != nil {
		return nil, err
	}
	tr, err := transform.New(cfg, a.Log)
	if err != nil {
		return nil, err
	}
	deps := restore.Deps{
		Provider:    s.tgt,
		Querier:     s.tgt,
		Writer:      s.tgt,
		Principal:   s.tgt,
		Transformer: tr,
		Metrics:     a.Metrics,
		Priority:    a.Cfg.Restore.Priority,
		LookupChunk: a.Cfg.Target.LookupBatchSize,
	}
	if m := s.set.IDMapping(); m != nil {
		deps.Expander = m
	}
	return restore.NewPipeline(deps, a.Log)
}

func (a *App) objects(set *backup.Set) []string {
	if len(a.Cfg.Restore.Objects) > 0 {
		return a.Cfg.Restore.Objects
	}
	return set.Objects()
}

// upsertFields collects the external ids recommended by the backup manifest.
func (a *App) upsertFields(set *backup.Set) map[string]string {
	m, err := set.Manifest()
	if err != nil {
		return nil
	}
	if m.RelationshipAware() {
		a.Log.Info().Str("source", m.Metadata.Source).Msg("relationship-aware backup")
	}
	out := map[string]string{}
	for _, object := range m.Order() {
		if f := m.UpsertField(object); f != "" {
			out[object] = f
		}
	}
	return out
}

func (a *App) targetName() string {
	t := a.Cfg.Target
	switch {
	case t.Database != "":
		return t.Type + "/" + t.Database
	case t.SQLitePath != "":
		return t.Type + ":" + t.SQLitePath
	default:
		return t.Type
	}
}

// Restore runs the configured restore and stores its report next to the backup.
func (a *App) Restore(ctx context.Context) (*restore.Report, error) {
	start := time.Now()
	var rep *restore.Report
	var opErr error
	defer func() { a.notifyRun("restore", start, rep, opErr) }()

	guard, err := lock.Acquire(lock.PathFor(a.Cfg.Global.LockFile, a.Cfg.Target))
	if err != nil {
		opErr = err
		return nil, err
	}
	defer guard.Release()

	if !a.Cfg.Restore.DryRun {
		window, err := util.ParseWindow(a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
		if err != nil {
			opErr = err
			return nil, err
		}
		if now := time.Now(); !window.Contains(now) {
			opErr = fmt.Errorf("current time is outside configured restore window, next opens %s", window.NextOpen(now).Format(time.RFC3339))
			return nil, opErr
		}
	}

	opts, err := RestoreOptions(a.Cfg.Restore)
	if err != nil {
		opErr = err
		return nil, err
	}
	s, err := a.open(ctx)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer s.Close()
	p, err := a.pipeline(ctx, s)
	if err != nil {
		opErr = err
		return nil, err
	}

	opts.UpsertFields = a.upsertFields(s.set)

	rep, opErr = p.Run(ctx, a.objects(s.set), s.set, opts)
	if rep != nil {
		a.saveReport(ctx, s.set.Prefix(), rep.RunID, rep.DryRun, rep)
		if !rep.DryRun {
			a.Metrics.Finish(rep.FinishedAt, rep.Status() != restore.StatusSuccess)
			a.writeMetrics()
		}
	}
	return rep, opErr
}

// Preview estimates the configured restore without writing to the target.
func (a *App) Preview(ctx context.Context) (*restore.Preview, error) {
	opts, err := RestoreOptions(a.Cfg.Restore)
	if err != nil {
		return nil, err
	}
	s, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	p, err := a.pipeline(ctx, s)
	if err != nil {
		return nil, err
	}
	opts.UpsertFields = a.upsertFields(s.set)
	pv, err := p.Preview(ctx, a.objects(s.set), s.set, opts)
	if err != nil {
		return nil, err
	}
	a.saveReport(ctx, s.set.Prefix(), pv.RunID, true, pv)
	return pv, nil
}

// OrderPlan is the computed restore order of a backup set.
type OrderPlan struct {
	Order        []string            `json:"order"`
	Waves        [][]string          `json:"waves"`
	Dependencies map[string][]string `json:"dependencies"`
	Cycles       [][]string          `json:"cycles,omitempty"`
	// Violations checks the order recorded in the backup manifest against
	// the target's current dependencies.
	Violations []order.Violation `json:"violations,omitempty"`
}

func (a *App) Order(ctx context.Context) (*OrderPlan, error) {
	s, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	o := order.New(s.tgt, a.Log)
	if len(a.Cfg.Restore.Priority) > 0 {
		o.SetPriority(a.Cfg.Restore.Priority)
	}
	objects := a.objects(s.set)
	plan := &OrderPlan{
		Order:        o.Order(ctx, objects),
		Waves:        o.Waves(ctx, objects),
		Dependencies: o.Dependencies(ctx, objects),
		Cycles:       o.Cycles(ctx, objects),
	}
	if m, err := s.set.Manifest(); err == nil && len(m.RestoreOrder) > 0 {
		plan.Violations = o.Validate(ctx, m.RestoreOrder)
	}
	return plan, nil
}

// Validate checks connectivity and every object's backup records against
// the target metadata.
func (a *App) Validate(ctx context.Context) ([]*validate.Report, error) {
	s, err := a.open(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	v := validate.New(s.tgt, a.Log)
	var reports []*validate.Report
	for _, object := range a.objects(s.set) {
		records, err := s.set.Records(ctx, object)
		if err != nil {
			reports = append(reports, &validate.Report{Object: object, Errors: []string{err.Error()}})
			continue
		}
		if m := s.set.IDMapping(); m != nil {
			if md, err := s.tgt.Describe(ctx, object); err == nil {
				records, _ = m.AddReferenceColumns(md, records)
			}
		}
		reports = append(reports, v.Validate(ctx, object, records))
	}
	return reports, nil
}

func (a *App) List(ctx context.Context) ([]backup.Summary, error) {
	return backup.List(ctx, a.Storage, a.Cfg.Storage.Prefix, a.Log)
}

func (a *App) saveReport(ctx context.Context, prefix, runID string, dryRun bool, v any) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		a.Log.Warn().Err(err).Msg("failed to encode report")
		return
	}
	key := util.BuildReportKey(prefix, runID, time.Now(), dryRun)
	// A canceled run still leaves its report behind.
	ctx = context.WithoutCancel(ctx)
	if err := a.Storage.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), map[string]string{"rkit-report": "true"}); err != nil {
		a.Log.Warn().Err(err).Str("key", key).Msg("failed to store report")
		return
	}
	a.Log.Info().Str("key", key).Msg("report stored")
}

func (a *App) writeMetrics() {
	path := a.Cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := a.Metrics.WriteTextfile(path); err != nil {
		a.Log.Warn().Err(err).Str("path", path).Msg("failed to write metrics textfile")
	}
}

func (a *App) notifyRun(kind string, start time.Time, rep *restore.Report, opErr error) {
	if a.Notifier == nil {
		return
	}
	// A dry run that got through has nothing to announce.
	if opErr == nil && rep != nil && rep.Status() == restore.StatusDryRun {
		return
	}
	event := notify.Event{
		Type:      kind,
		Message:   fmt.Sprintf("%s into %s", kind, a.targetName()),
		Status:    restore.StatusFailed,
		Backup:    a.Cfg.Source.Backup,
		Target:    a.targetName(),
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	}
	if rep != nil {
		t := rep.Totals()
		event.RunID = rep.RunID
		event.Status = rep.Status()
		event.Objects = t.Objects
		event.Succeeded = t.Success
		event.Failed = t.Failure
		event.Skipped = t.Skipped
	}
	if opErr != nil {
		event.Status = restore.StatusFailed
		event.Error = opErr.Error()
	}
	if err := a.Notifier.Notify(context.Background(), event); err != nil {
		a.Log.Warn().Err(err).Msg("notification failed")
	}
}
