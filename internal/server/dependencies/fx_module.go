package dependencies

import (
	"context"

	"github.com/zhenzou/executors"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/server/db"
)

var Module = fx.Module("dependencies",
	fx.Provide(log.New),
	fx.Provide(db.NewStorage),
	fx.Provide(NewRegistry),
	fx.Provide(NewEngine),
	fx.Provide(NewRecorder),
	fx.Provide(NewClient),
	fx.Provide(NewExecutors),
	fx.Invoke(SetupOverrideAudit),
	fx.Invoke(func(lc fx.Lifecycle, executor executors.ScheduledExecutor) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return executor.Shutdown(ctx)
			},
		})
	}),
)
