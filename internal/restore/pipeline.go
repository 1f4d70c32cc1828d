package restore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/restorekit/internal/logging"
	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/metrics"
	"github.com/rowjay/restorekit/internal/order"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/resolve"
	"github.com/rowjay/restorekit/internal/target"
	"github.com/rowjay/restorekit/internal/transform"
	"github.com/rowjay/restorekit/internal/validate"
)

// Source yields the backup records of one object type.
type Source interface {
	Records(ctx context.Context, object string) ([]*record.Record, error)
}

// Sizer reports the stored size of an object's backup data.
type Sizer interface {
	Size(object string) int64
}

// ReferenceExpander adds reference columns derived from exported id mappings.
type ReferenceExpander interface {
	AddReferenceColumns(md *meta.ObjectMetadata, records []*record.Record) ([]*record.Record, int)
}

type PrincipalSource interface {
	RunningPrincipal(ctx context.Context) (string, error)
}

// Deps are the collaborators of a Pipeline. Provider, Querier and Writer
// are usually the same target.
type Deps struct {
	Provider    meta.Provider
	Querier     resolve.Querier
	Writer      target.Writer
	Principal   PrincipalSource
	Transformer *transform.Transformer
	Expander    ReferenceExpander
	Metrics     *metrics.Recorder
	Priority    []string
	LookupChunk int
	RunID       string
}

// Pipeline runs load, validate, resolve, transform and execute for every
// object, wave by wave. Objects within a wave run concurrently.
type Pipeline struct {
	provider    meta.Provider
	orderer     *order.Orderer
	resolver    *resolve.Resolver
	transformer *transform.Transformer
	validator   *validate.Validator
	executor    *Executor
	principal   PrincipalSource
	expander    ReferenceExpander
	metrics     *metrics.Recorder
	runID       string
	log         zerolog.Logger
}

func NewPipeline(d Deps, log zerolog.Logger) (*Pipeline, error) {
	runID := d.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log = logging.WithRun(log, runID)

	tr := d.Transformer
	if tr == nil {
		var err error
		if tr, err = transform.New(nil, log); err != nil {
			return nil, err
		}
	}
	cache := meta.NewCache(d.Provider)
	orderer := order.New(cache, log)
	if len(d.Priority) > 0 {
		orderer.SetPriority(d.Priority)
	}
	resolver := resolve.New(cache, d.Querier, d.LookupChunk, log)
	return &Pipeline{
		provider:    cache,
		orderer:     orderer,
		resolver:    resolver,
		transformer: tr,
		validator:   validate.New(cache, log),
		executor:    NewExecutor(d.Writer, cache, resolver, d.Metrics, log),
		principal:   d.Principal,
		expander:    d.Expander,
		metrics:     d.Metrics,
		runID:       runID,
		log:         logging.Component(log, "pipeline"),
	}, nil
}

func (p *Pipeline) RunID() string { return p.runID }

func (p *Pipeline) Orderer() *order.Orderer { return p.orderer }

func (p *Pipeline) Resolver() *resolve.Resolver { return p.resolver }

func (p *Pipeline) Validator() *validate.Validator { return p.validator }

func (p *Pipeline) runningPrincipal(ctx context.Context) string {
	if p.principal == nil {
		return ""
	}
	id, err := p.principal.RunningPrincipal(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("running principal unavailable")
		return ""
	}
	return id
}

// Run restores objects. Write failures are reported per object; the
// returned error is set only for FAIL-policy transformations and
// cancellation, and the report is returned either way.
func (p *Pipeline) Run(ctx context.Context, objects []string, src Source, opts Options) (*Report, error) {
	opts = opts.normalized()
	rep := newReport(p.runID, opts.DryRun)
	principal := p.runningPrincipal(ctx)

	rep.Waves = p.orderer.Waves(ctx, objects)
	for _, w := range rep.Waves {
		rep.Order = append(rep.Order, w...)
	}
	p.log.Info().Strs("order", rep.Order).Int("waves", len(rep.Waves)).Bool("dry_run", opts.DryRun).Msg("restore started")

	var mu sync.Mutex
	results := map[string]*Result{}
	validations := map[string]*validate.Report{}
	var runErr error

	for wi, wave := range rep.Waves {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if p.executor.Stopped() {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Parallelism)
		for _, object := range wave {
			g.Go(func() error {
				res, vr, err := p.restoreObject(gctx, object, src, opts, principal)
				mu.Lock()
				results[object] = res
				if vr != nil {
					validations[object] = vr
				}
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			runErr = err
			break
		}
		p.log.Debug().Int("wave", wi+1).Strs("objects", wave).Msg("wave finished")
	}

	for _, object := range rep.Order {
		res, ok := results[object]
		if !ok {
			res = &Result{Object: object, Errors: []string{"not attempted"}}
		}
		rep.Objects = append(rep.Objects, res)
		if vr, ok := validations[object]; ok {
			rep.Validation = append(rep.Validation, vr)
		}
	}
	rep.Transform = p.transformer.Statistics()
	rep.Lookups = p.resolver.Stats()
	p.metrics.Lookups(rep.Lookups.Resolved, rep.Lookups.Unresolved, rep.Lookups.Failures)
	rep.finish(runErr)

	t := rep.Totals()
	p.log.Info().Int("success", t.Success).Int("failure", t.Failure).Int("skipped", t.Skipped).Str("status", rep.Status()).Msg("restore finished")
	return rep, runErr
}

func (p *Pipeline) restoreObject(ctx context.Context, object string, src Source, opts Options, principal string) (*Result, *validate.Report, error) {
	start := time.Now()
	log := p.log.With().Str("object", object).Logger()
	res := &Result{Object: object}
	defer func() {
		res.Duration = time.Since(start)
		p.metrics.ObjectDuration(object, res.Duration)
	}()

	prepared, vr, err := p.prepare(ctx, object, src, opts, principal, res)
	if err != nil {
		return res, vr, err
	}
	if opts.DryRun {
		res.Planned = plan(object, res, len(prepared), opts.BatchSize)
		log.Info().Int("to_submit", res.Planned.ToSubmit).Int("batches", res.Planned.Batches).Msg("dry run, nothing submitted")
		return res, vr, nil
	}
	if prepared == nil {
		return res, vr, nil
	}

	out, err := p.executor.ExecuteObject(ctx, object, prepared, opts)
	res.Batches, res.Completed = out.Batches, out.Completed
	res.Errors = append(res.Errors, out.Errors...)
	log.Info().Int("success", res.Success()).Int("failure", res.Failure()).Int("skipped", res.Skipped).Msg("object restored")
	return res, vr, err
}

// prepare loads, validates, resolves and transforms one object's records.
// A nil slice without error means the object is not written.
func (p *Pipeline) prepare(ctx context.Context, object string, src Source, opts Options, principal string, res *Result) ([]*record.Record, *validate.Report, error) {
	records, err := src.Records(ctx, object)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("load: %v", err))
		p.stopOnError(opts)
		return nil, nil, ctxErr(ctx)
	}
	res.Total = len(records)
	p.metrics.Records(object, "loaded", len(records))

	if p.expander != nil {
		if md, err := p.provider.Describe(ctx, object); err == nil {
			var added int
			records, added = p.expander.AddReferenceColumns(md, records)
			if added > 0 {
				p.log.Debug().Str("object", object).Int("columns", added).Msg("reference columns added from id mapping")
			}
		}
	}

	var vr *validate.Report
	if opts.ValidateBeforeRestore {
		vr = p.validator.Validate(ctx, object, records)
		for _, w := range vr.Warnings {
			p.log.Warn().Str("object", object).Msg(w)
		}
		if !vr.OK() && opts.StopOnError {
			res.Errors = append(res.Errors, fmt.Sprintf("validation failed with %d errors", len(vr.Errors)))
			p.stopOnError(opts)
			return nil, vr, nil
		}
	}

	if opts.ResolveRelationships {
		if records, err = p.resolver.Resolve(ctx, object, records); err != nil {
			return nil, vr, err
		}
	}

	out, err := p.transformer.TransformRecords(object, records, principal)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		var fe *transform.FailError
		if errors.As(err, &fe) {
			return nil, vr, err
		}
		return nil, vr, ctxErr(ctx)
	}
	res.Skipped = len(records) - len(out)
	p.metrics.Records(object, "skipped", res.Skipped)
	return out, vr, nil
}

func (p *Pipeline) stopOnError(opts Options) {
	if opts.StopOnError {
		p.executor.Stop()
	}
}

func ctxErr(ctx context.Context) error { return ctx.Err() }
