package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/migrations"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/goliatone/go-shopify-app/session"
	sqlstore "github.com/goliatone/go-shopify-app/store/sql"
	"github.com/goliatone/go-shopify-app/webhooks"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	redisPingTimeout    = 2 * time.Second
	databasePingTimeout = 5 * time.Second
)

// databaseConfig adapts core.DatabaseConfig to the persistence client.
type databaseConfig struct {
	cfg     core.DatabaseConfig
	service string
}

func (c databaseConfig) GetDebug() bool                { return c.cfg.Debug }
func (c databaseConfig) GetDriver() string             { return c.cfg.Driver }
func (c databaseConfig) GetServer() string             { return c.cfg.DSN }
func (c databaseConfig) GetPingTimeout() time.Duration { return databasePingTimeout }
func (c databaseConfig) GetOtelIdentifier() string     { return c.service }

// OpenDatabase opens the configured database and wraps it in a persistence
// client. The caller owns the returned client.
func OpenDatabase(cfg core.Config) (*persistence.Client, error) {
	driver := strings.TrimSpace(strings.ToLower(cfg.Database.Driver))
	var dialect schema.Dialect
	switch driver {
	case "sqlite3":
		dialect = sqlitedialect.New()
	case "postgres":
		dialect = pgdialect.New()
	default:
		return nil, core.ConfigError("DATABASE_DRIVER", fmt.Sprintf("unsupported driver %q", cfg.Database.Driver))
	}
	sqlDB, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(databaseConfig{cfg: cfg.Database, service: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("app: persistence client: %w", err)
	}
	return client, nil
}

// Migrate applies the embedded schema for the configured driver.
func Migrate(ctx context.Context, client *persistence.Client, cfg core.Config) error {
	return migrations.Apply(ctx, client, cfg.Database.Driver)
}

type infra struct {
	db       *persistence.Client
	redis    *goredis.Client
	factory  *sqlstore.RepositoryFactory
	sessions session.Store
	ledger   core.ReplayLedger
	cleanup  []func() error
}

func setupInfra(ctx context.Context, cfg core.Config, o options, sealer *security.Sealer, logger core.Logger) (*infra, error) {
	out := &infra{}
	fail := func(err error) (*infra, error) {
		_ = out.close()
		return nil, err
	}

	db := o.db
	if db == nil {
		opened, err := OpenDatabase(cfg)
		if err != nil {
			return nil, err
		}
		db = opened
		out.cleanup = append(out.cleanup, db.Close)
	}
	out.db = db
	if err := Migrate(ctx, db, cfg); err != nil {
		return fail(err)
	}

	factoryOpts := []sqlstore.FactoryOption{sqlstore.WithInstallationCache(o.installationCache)}
	if cfg.Session.Store == core.SessionStoreSQL {
		factoryOpts = append(factoryOpts, sqlstore.WithSessionSealer(sealer))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(db, factoryOpts...)
	if err != nil {
		return fail(err)
	}
	out.factory = factory

	switch cfg.Session.Store {
	case core.SessionStoreMemory:
		out.sessions = session.NewMemoryStore()
	case core.SessionStoreRedis:
		client, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		out.redis = client
		out.cleanup = append(out.cleanup, client.Close)
		out.sessions = session.NewRedisStore(client, session.WithRedisSealer(sealer))
		out.ledger = webhooks.NewRedisLedger(client, "", replayClaimTTL)
	case core.SessionStoreSQL:
		out.sessions = factory.SessionStore()
	}

	if out.ledger == nil {
		out.ledger = core.NewMemoryReplayLedger(replayClaimTTL)
	}

	core.LogWithLevel(ctx, logger, "info", "infrastructure ready", map[string]any{
		"database":      cfg.Database.Driver,
		"session_store": cfg.Session.Store,
	})
	return out, nil
}

func connectRedis(ctx context.Context, cfg core.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// close releases resources in reverse order of acquisition.
func (i *infra) close() error {
	if i == nil {
		return nil
	}
	var firstErr error
	for idx := len(i.cleanup) - 1; idx >= 0; idx-- {
		if err := i.cleanup[idx](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.cleanup = nil
	return firstErr
}
