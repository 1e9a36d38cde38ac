package dependencies

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"

	sdk "go.opentelemetry.io/otel/sdk/metric"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/metrics"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/server/db"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// NewRegistry builds the tenancy registry, falling back to the built-in manifest.
func NewRegistry(cfg scopes.Config) (*scopes.Registry, error) {
	if len(cfg.Models) == 0 {
		cfg = scopes.DefaultConfig()
	}

	return scopes.NewRegistry(cfg)
}

func NewEngine(registry *scopes.Registry) *intercept.Engine {
	return intercept.NewEngine(registry)
}

type RecorderParams struct {
	fx.In

	Provider *sdk.MeterProvider `optional:"true"`
}

// NewRecorder records on the configured provider, or discards when metrics are disabled.
func NewRecorder(params RecorderParams) (*metrics.Recorder, error) {
	var mp metric.MeterProvider
	if params.Provider != nil {
		mp = params.Provider
	}

	return metrics.NewRecorder(mp)
}

func NewClient(engine *intercept.Engine, storage db.Storage, recorder *metrics.Recorder) *tenantdb.Client {
	return tenantdb.New(engine, storage, tenantdb.WithRecorder(recorder))
}

// SetupOverrideAudit logs every system override and counts it.
func SetupOverrideAudit(lc fx.Lifecycle, recorder *metrics.Recorder) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			authz.SetAuditLogger(func(ctx context.Context, record authz.OverrideAuditRecord) {
				authz.LogOverride(ctx, record)
				recorder.RecordOverride(ctx, record.Reason)
			})

			return nil
		},
		OnStop: func(context.Context) error {
			authz.SetAuditLogger(nil)
			return nil
		},
	})
}

