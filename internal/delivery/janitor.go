package delivery

import (
	"context"
	"time"

	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
)

type sweepRule struct {
	prefix string
	maxAge time.Duration
}

// Janitor deletes short-lived archives once their retention has passed.
// Bundles are not swept here; a rebuild deletes the superseded objects.
type Janitor struct {
	store    ObjectStore
	rules    []sweepRule
	interval time.Duration
	log      logging.Logger
	now      func() time.Time
}

func NewJanitor(store ObjectStore, cfg config.DeliveryConfig, log logging.Logger) *Janitor {
	return &Janitor{
		store: store,
		rules: []sweepRule{
			{prefix: "ephemeral/", maxAge: cfg.EphemeralRetention},
			{prefix: "jobs/", maxAge: cfg.JobRetention},
			{prefix: "batches/", maxAge: cfg.BundleRetention},
		},
		interval: cfg.JanitorInterval,
		log:      log,
		now:      time.Now,
	}
}

// Sweep runs every rule once and returns how many objects were deleted.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	now := j.now()
	deleted := 0
	for _, r := range j.rules {
		if r.maxAge <= 0 {
			continue
		}
		objs, err := j.store.List(ctx, r.prefix)
		if err != nil {
			return deleted, err
		}
		for _, o := range objs {
			if now.Sub(o.LastModified) < r.maxAge {
				continue
			}
			if err := j.store.Delete(ctx, o.Key); err != nil {
				j.log.Warn(ctx, "janitor could not delete object", "key", o.Key, "error", err)
				continue
			}
			deleted++
		}
	}
	if deleted > 0 {
		j.log.Info(ctx, "janitor swept expired objects", "deleted", deleted)
	}
	return deleted, nil
}

// Run sweeps on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.interval <= 0 {
		return nil
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.log.Error(ctx, "janitor sweep failed", "error", err)
			}
		}
	}
}
