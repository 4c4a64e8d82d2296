package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Sbajrac2/Reddit-explorer/internal/config"
	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	memorypublisher "github.com/Sbajrac2/Reddit-explorer/internal/publisher/memory"
	kafkapublisher "github.com/Sbajrac2/Reddit-explorer/internal/publisher/kafka"
	natspublisher "github.com/Sbajrac2/Reddit-explorer/internal/publisher/nats"
	pubsubpublisher "github.com/Sbajrac2/Reddit-explorer/internal/publisher/pubsub"
	gcsstore "github.com/Sbajrac2/Reddit-explorer/internal/storage/gcs"
	"github.com/Sbajrac2/Reddit-explorer/internal/storage/guard"
	localstore "github.com/Sbajrac2/Reddit-explorer/internal/storage/local"
	memorystore "github.com/Sbajrac2/Reddit-explorer/internal/storage/memory"
	mongostore "github.com/Sbajrac2/Reddit-explorer/internal/storage/mongo"
	pgstore "github.com/Sbajrac2/Reddit-explorer/internal/storage/postgres"
	redisstore "github.com/Sbajrac2/Reddit-explorer/internal/storage/redis"
	sqlitestore "github.com/Sbajrac2/Reddit-explorer/internal/storage/sqlite"
)

// readinessCheckID is looked up by the readiness checks. A not-found answer
// proves the store is reachable.
const readinessCheckID = "readiness-check"

// backends holds connections shared by the record and status stores.
type backends struct {
	pgPool *pgxpool.Pool
	sqlite *sqlitestore.Store
}

func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.backends.pgPool != nil {
		return a.backends.pgPool, nil
	}
	pg := a.cfg.Records.Postgres
	pool, err := pgstore.Connect(ctx, pgstore.Config{DSN: pg.DSN, MaxConns: pg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("postgres init failed: %w", err)
	}
	a.backends.pgPool = pool
	a.addCloser("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	a.ready["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	return pool, nil
}

func (a *App) sqliteStore(ctx context.Context) (*sqlitestore.Store, error) {
	if a.backends.sqlite != nil {
		return a.backends.sqlite, nil
	}
	store, err := sqlitestore.Open(ctx, a.cfg.Records.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite init failed: %w", err)
	}
	a.backends.sqlite = store
	a.addCloser("sqlite", func(context.Context) error { return store.Close() })
	return store, nil
}

func (a *App) setupStores(ctx context.Context) error {
	if err := a.setupRecordStore(ctx); err != nil {
		return err
	}
	if err := a.setupSessionStore(ctx); err != nil {
		return err
	}
	// The progress projection and the result status sink share one updater.
	if _, ok := a.sessions.(crawler.SessionUpdater); !ok {
		a.sessions = guard.New(a.sessions)
	}
	sessions, records := a.sessions, a.records
	a.ready["sessions"] = func(ctx context.Context) error {
		_, err := sessions.GetSession(ctx, readinessCheckID)
		if err == nil || errors.Is(err, crawler.ErrNotFound) {
			return nil
		}
		return err
	}
	a.ready["records"] = func(ctx context.Context) error {
		_, err := records.ListRecords(ctx, readinessCheckID)
		if err == nil || errors.Is(err, crawler.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (a *App) setupRecordStore(ctx context.Context) error {
	cfg := a.cfg.Records
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return err
		}
		store, err := pgstore.NewRecordStore(pool, cfg.Postgres.Table)
		if err != nil {
			return fmt.Errorf("postgres record store init failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres record store migrate failed: %w", err)
		}
		a.records = store
		a.logger.Info("using postgres record store", zap.String("table", cfg.Postgres.Table))
	case config.BackendSQLite:
		store, err := a.sqliteStore(ctx)
		if err != nil {
			return err
		}
		a.records = store
		a.logger.Info("using sqlite record store", zap.String("path", cfg.SQLite.Path))
	case config.BackendMongo:
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return fmt.Errorf("mongo record store init failed: %w", err)
		}
		a.addCloser("mongo", store.Close)
		a.records = store
		a.logger.Info("using mongo record store",
			zap.String("database", cfg.Mongo.Database),
			zap.String("collection", cfg.Mongo.Collection),
		)
	default:
		a.records = memorystore.NewRecordStore()
		a.logger.Info("using in-memory record store")
	}
	return nil
}

func (a *App) setupSessionStore(ctx context.Context) error {
	cfg := a.cfg.Status
	switch cfg.Backend {
	case config.BackendRedis:
		store, err := redisstore.Dial(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			return fmt.Errorf("redis session store init failed: %w", err)
		}
		a.addCloser("redis", func(context.Context) error { return store.Close() })
		a.sessions = store
		a.logger.Info("using redis session store", zap.String("addr", cfg.Redis.Addr))
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return err
		}
		store, err := pgstore.NewSessionStore(pool, "")
		if err != nil {
			return fmt.Errorf("postgres session store init failed: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres session store migrate failed: %w", err)
		}
		a.sessions = store
		a.logger.Info("using postgres session store")
	case config.BackendSQLite:
		store, err := a.sqliteStore(ctx)
		if err != nil {
			return err
		}
		a.sessions = store
		a.logger.Info("using sqlite session store")
	default:
		a.sessions = memorystore.NewSessionStore()
		a.logger.Info("using in-memory session store")
	}
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) error {
	cfg := a.cfg.Storage
	enc, err := export.ForFormat(cfg.ExportFormat)
	if err != nil {
		return fmt.Errorf("export format: %w", err)
	}
	a.encoder = enc

	switch cfg.Backend {
	case config.BackendGCS:
		store, err := gcsstore.Dial(ctx, gcsstore.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return store.Close() })
		a.blobs = store
		a.logger.Info("using GCS export storage", zap.String("bucket", cfg.GCS.Bucket))
	case config.BackendLocal:
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local export storage", zap.String("path", cfg.Local.BaseDir))
	default:
		a.blobs = memorystore.NewBlobStore()
		a.logger.Info("using in-memory export storage")
	}
	a.logger.Debug("export format", zap.String("format", enc.Format()))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	cfg := a.cfg.Publisher
	switch cfg.Backend {
	case config.BackendPubSub:
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
		a.publisher = pub
	case config.BackendNATS:
		pub, err := natspublisher.Dial(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.addCloser("nats", func(context.Context) error { return pub.Close() })
		a.publisher = pub
	case config.BackendKafka:
		pub, err := kafkapublisher.New(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.addCloser("kafka", func(context.Context) error { return pub.Close() })
		a.publisher = pub
	case config.BackendMemory:
		a.publisher = memorypublisher.New()
	default:
		a.logger.Info("completion publishing disabled")
		return nil
	}
	a.logger.Info("completion publisher initialized",
		zap.String("backend", cfg.Backend),
		zap.String("topic", cfg.Topic),
	)
	return nil
}
