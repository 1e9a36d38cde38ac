package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/zhenzou/executors"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/pkg/xcontext"
	"github.com/looplj/tenantguard/internal/pkg/xtime"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// defaultBatchSize is used when Config.BatchSize is not set.
const defaultBatchSize = 500

type Config struct {
	CRON string `json:"cron" yaml:"cron" conf:"cron" validate:"required"`
	// Retention is how long soft-deleted rows are kept before being purged. Zero disables purging.
	Retention time.Duration `json:"retention" yaml:"retention" conf:"retention"`
	BatchSize int           `json:"batch_size" yaml:"batch_size" conf:"batch_size"`
	// Timeout bounds one purge run.
	Timeout time.Duration `json:"timeout" yaml:"timeout" conf:"timeout"`
}

// Worker purges rows that were soft-deleted longer than the retention ago.
type Worker struct {
	DB         *tenantdb.Client
	Executor   executors.ScheduledExecutor
	Config     Config
	Clock      xtime.Clock
	CancelFunc context.CancelFunc

	ownsExecutor bool
}

type Params struct {
	fx.In

	Config   Config
	DB       *tenantdb.Client
	Executor executors.ScheduledExecutor `optional:"true"`
}

// NewWorker schedules on the shared executor when one is provided, otherwise on its own.
func NewWorker(params Params) *Worker {
	w := &Worker{
		DB:       params.DB,
		Executor: params.Executor,
		Config:   params.Config,
	}

	if w.Executor == nil {
		w.Executor = executors.NewPoolScheduleExecutor(executors.WithMaxConcurrent(1))
		w.ownsExecutor = true
	}

	return w
}

func (w *Worker) batchSize() int {
	if w.Config.BatchSize > 0 {
		return w.Config.BatchSize
	}

	return defaultBatchSize
}

func (w *Worker) Start(ctx context.Context) error {
	if w.Config.Retention <= 0 {
		log.Info(ctx, "GC worker disabled, no retention configured")
		return nil
	}

	cancelFunc, err := w.Executor.ScheduleFuncAtCronRate(
		w.runPurgeWithSystemContext,
		executors.CRONRule{Expr: w.Config.CRON},
	)
	if err != nil {
		return err
	}

	w.CancelFunc = cancelFunc

	log.Info(ctx, "GC worker started",
		log.String("cron", w.Config.CRON),
		log.Duration("retention", w.Config.Retention),
		log.Int("batch_size", w.batchSize()),
	)

	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.CancelFunc != nil {
		w.CancelFunc()
	}

	if !w.ownsExecutor {
		return nil
	}

	return w.Executor.Shutdown(ctx)
}

// Result is the number of purged rows per model.
type Result map[string]int

// runPurge purges every soft-delete model. It must run under a system override.
func (w *Worker) runPurge(ctx context.Context) (Result, error) {
	if w.Config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = xcontext.DetachWithTimeout(ctx, w.Config.Timeout)
		defer cancel()
	}

	cutoff := w.Clock.Cutoff(w.Config.Retention)
	if cutoff.IsZero() {
		return Result{}, nil
	}

	log.Info(ctx, "Starting soft-delete purge", log.Time("cutoff", cutoff))

	var (
		result = Result{}
		errs   *multierror.Error
	)

	for _, d := range w.DB.Registry().SoftDeleteModels() {
		purged, err := w.purgeModel(ctx, d, cutoff)
		result[d.Model] = purged

		if err != nil {
			log.Error(ctx, "Failed to purge soft-deleted rows",
				log.String("model", d.Model),
				log.Int("purged", purged),
				log.Cause(err),
			)

			errs = multierror.Append(errs, fmt.Errorf("purge %s: %w", d.Model, err))

			// The deadline is shared by all models.
			if ctx.Err() != nil {
				break
			}

			continue
		}

		if purged > 0 {
			log.Info(ctx, "Purged soft-deleted rows",
				log.String("model", d.Model),
				log.Int("purged", purged),
			)
		}
	}

	log.Info(ctx, "Soft-delete purge completed")

	return result, errs.ErrorOrNil()
}

// purgeModel deletes expired rows of one model batch by batch, selecting the ids first
// so a batch never locks more than batchSize rows.
func (w *Worker) purgeModel(ctx context.Context, d scopes.Descriptor, cutoff time.Time) (int, error) {
	expired := intercept.Where(intercept.LT(d.DeletedAtColumn, cutoff))
	totalDeleted := 0

	for {
		rows, err := w.DB.Find(ctx, d.Model, tenantdb.Query{
			Filter:  expired,
			Columns: []string{d.PrimaryKey},
			Order:   []intercept.Order{intercept.Asc(d.PrimaryKey)},
			Limit:   w.batchSize(),
			Deleted: intercept.OnlyDeleted,
		})
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to query expired rows: %w", err)
		}

		if len(rows) == 0 {
			break
		}

		ids := lo.Map(rows, func(r map[string]any, _ int) any { return r[d.PrimaryKey] })

		deleted, err := w.DB.HardDelete(ctx, d.Model,
			expired.And(intercept.In(d.PrimaryKey, ids...)),
			intercept.OnlyDeleted,
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to delete batch: %w", err)
		}

		totalDeleted += deleted

		log.Debug(ctx, "Deleted batch of expired rows",
			log.String("model", d.Model),
			log.Int("batch_size", deleted),
			log.Int("total_deleted", totalDeleted),
		)

		if deleted == 0 || len(rows) < w.batchSize() {
			break
		}
	}

	return totalDeleted, nil
}
