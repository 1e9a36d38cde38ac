package db

import (
	"context"
	"database/sql"
	"fmt"

	"entgo.io/ent/dialect"
	"go.uber.org/fx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/store"
	"github.com/looplj/tenantguard/internal/store/memstore"
	"github.com/looplj/tenantguard/internal/store/sqlstore"
)

const DialectMemory = "memory"

// resolveDialect maps a configured dialect name to its database/sql driver and ent dialect.
func resolveDialect(name string) (driverName, entDialect string, err error) {
	switch name {
	case "postgres", "pgx", "postgresdb", "pg", "postgresql":
		return "pgx", dialect.Postgres, nil
	case "sqlite3", "sqlite":
		return "sqlite", dialect.SQLite, nil
	case "mysql", "tidb":
		return "mysql", dialect.MySQL, nil
	default:
		return "", "", fmt.Errorf("invalid dialect: %s", name)
	}
}

// OpenDriver opens the connection pool described by cfg and wraps it in an ent driver.
func OpenDriver(cfg Config) (dialect.Driver, error) {
	driverName, entDialect, err := resolveDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	var drv dialect.Driver = entsql.OpenDB(entDialect, sqlDB)
	if cfg.Debug {
		drv = dialect.DebugWithContext(drv, func(ctx context.Context, args ...any) {
			log.Debug(ctx, "sql", log.String("query", fmt.Sprint(args...)))
		})
	}

	return drv, nil
}

// Storage is the executor the data layer runs on, with its transaction support.
type Storage interface {
	store.Executor
	store.Transactor
}

// NewStorage builds the storage backend for cfg. The memory dialect keeps everything in process.
func NewStorage(lc fx.Lifecycle, cfg Config) (Storage, error) {
	if cfg.Dialect == DialectMemory {
		log.Warn(context.Background(), "using in-memory storage, data is lost on restart")
		return memstore.New(), nil
	}

	drv, err := OpenDriver(cfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return drv.Close()
		},
	})

	return sqlstore.New(drv, sqlstore.WithRLS(cfg.RLS)), nil
}
