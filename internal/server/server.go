package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/server/api"
	"github.com/looplj/tenantguard/internal/server/backup"
	"github.com/looplj/tenantguard/internal/server/biz"
	"github.com/looplj/tenantguard/internal/server/dependencies"
	"github.com/looplj/tenantguard/internal/server/gc"
	"github.com/looplj/tenantguard/internal/server/middleware"
	"github.com/looplj/tenantguard/internal/tracing"
)

func New(config Config) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())

	return &Server{
		Config: config,
		Engine: engine,
	}
}

type Server struct {
	*gin.Engine

	Config Config
	server *http.Server
	addr   string
}

func (srv *Server) Run() error {
	log.Info(context.Background(), "run server",
		log.String("name", srv.Config.Name),
		log.String("host", srv.Config.Host),
		log.Int("port", srv.Config.Port),
	)
	addr := fmt.Sprintf("%s:%d", srv.Config.Host, srv.Config.Port)
	srv.server = &http.Server{
		Addr:         addr,
		Handler:      srv.Engine,
		ReadTimeout:  srv.Config.ReadTimeout,
		WriteTimeout: srv.Config.RequestTimeout,
	}
	srv.addr = addr

	err := srv.server.ListenAndServe()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}

	return nil
}

func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.server == nil {
		return nil
	}

	return srv.server.Shutdown(ctx)
}

// Options assembles the application graph without running it.
func Options(opts ...fx.Option) []fx.Option {
	return append([]fx.Option{
		fx.Provide(gc.NewWorker, New),
		dependencies.Module,
		biz.Module,
		backup.Module,
		api.Module,
		fx.Invoke(func(cfg log.Config) {
			log.SetGlobalConfig(cfg)
			tracing.SetupLogger(log.GetGlobalLogger())
		}),
		fx.Invoke(func(lc fx.Lifecycle, worker *gc.Worker) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return worker.Start(ctx)
				},
				OnStop: func(ctx context.Context) error {
					return worker.Stop(ctx)
				},
			})
		}),
		fx.Invoke(SetupRoutes),
	}, opts...)
}

func Run(opts ...fx.Option) {
	app := fx.New(append([]fx.Option{fx.NopLogger}, Options(opts...)...)...)
	app.Run()
}
