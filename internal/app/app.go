package app

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/refundops/internal/config"
	"github.com/punchamoorthee/refundops/internal/dispatch"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/notify"
	"github.com/punchamoorthee/refundops/internal/service"
	"github.com/punchamoorthee/refundops/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type mailer interface {
	service.Mailer
	Close() error
}

// App holds the collaborators shared by the API server and the CLI.
type App struct {
	Repo       service.Repository
	Service    *service.Service
	Dispatcher *dispatch.Dispatcher
	DeadLetter dispatch.DeadLetterStore

	pg     *store.Store
	redis  *redis.Client
	mailer mailer
	logger *zap.Logger
}

// Build connects the configured backends. Postgres and Redis are pinged
// up front so a misconfigured deployment fails at startup.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		a.Repo = store.NewMemory()
	default:
		pg, err := store.NewStore(ctx, cfg.DBSource)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.pg = pg
		a.Repo = pg
	}

	if cfg.RedisURL != "" {
		client, err := dispatch.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		a.DeadLetter = dispatch.NewRedisDeadLetters(client)
	} else {
		logger.Warn("REDIS_URL not set; dead letters are kept in memory")
		a.DeadLetter = dispatch.NewMemoryDeadLetters()
	}

	if len(cfg.KafkaBrokers) > 0 {
		m, err := notify.NewKafkaMailer(cfg.KafkaBrokers, cfg.KafkaEmailTopic)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.mailer = m
	} else {
		a.mailer = notify.NewLogMailer(logger)
	}

	d, err := dispatch.New(dispatch.Options{
		Workers:     cfg.DispatchWorkers,
		MaxAttempts: cfg.DispatchMaxAttempts,
		Backoff:     cfg.DispatchBackoff,
		Timeout:     cfg.DispatchTimeout,
		MaxRedrives: cfg.DispatchMaxRedrives,
	}, a.DeadLetter, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Dispatcher = d

	a.Service = service.New(service.Dependencies{
		Repo:         a.Repo,
		Dispatcher:   d,
		Mailer:       a.mailer,
		Logger:       logger,
		Limits:       domain.AmountLimits{Min: cfg.MinAmount, Max: cfg.MaxAmount},
		CodeAttempts: cfg.RefundCodeRetries,
		StrictReject: cfg.RefundStrictReject,
	})
	return a, nil
}

// Close drains queued side effects before releasing connections.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
	}
	if a.mailer != nil {
		if err := a.mailer.Close(); err != nil {
			a.logger.Error("failed to close mailer", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis client", zap.Error(err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
