package restore

import (
	"time"

	"github.com/rowjay/restorekit/internal/target"
)

const (
	DefaultBatchSize  = 200
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// Options control one restore run.
type Options struct {
	BatchSize             int
	StopOnError           bool
	ValidateBeforeRestore bool
	ResolveRelationships  bool
	PreserveOriginalIDs   bool
	DryRun                bool
	// ExternalIDField keys upserts. Empty picks the object's first external id.
	ExternalIDField string
	// UpsertFields names a per-object external id, consulted before metadata.
	UpsertFields map[string]string
	// MaxRetries counts attempts after the first one.
	MaxRetries  int
	RetryDelay  time.Duration
	Mode        target.Mode
	Parallelism int
}

func DefaultOptions() Options {
	return Options{
		BatchSize:             DefaultBatchSize,
		ValidateBeforeRestore: true,
		ResolveRelationships:  true,
		MaxRetries:            DefaultMaxRetries,
		RetryDelay:            DefaultRetryDelay,
		Mode:                  target.Insert,
		Parallelism:           1,
	}
}

func (o Options) normalized() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.Mode == "" {
		o.Mode = target.Insert
	}
	if o.Parallelism < 1 {
		o.Parallelism = 1
	}
	return o
}
