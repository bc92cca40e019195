package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"capsule-go/internal/config"
	"capsule-go/internal/events"
	appKafka "capsule-go/internal/kafka"
	"capsule-go/internal/logger"
	appNats "capsule-go/internal/nats"
	appRedis "capsule-go/internal/redis"
	"capsule-go/internal/services"
	"capsule-go/internal/storage"
	"capsule-go/internal/storage/memory"
)

const shutdownTimeout = 10 * time.Second

// app wires storage, side-effect sinks and services for one command invocation.
type app struct {
	cfg        config.Config
	membership services.MembershipService
	graph      services.SocialGraphService
	closers    []func(ctx context.Context)
}

// bootstrap 加载配置并初始化日志
func bootstrap(opts *RootOptions) (config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if _, err := logger.Init(cfg.Log); err != nil {
		return cfg, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func newApp(opts *RootOptions) (*app, error) {
	cfg, err := bootstrap(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	var (
		capsules    storage.CapsuleRepository
		memberships storage.MembershipRepository
		graph       storage.SocialGraphRepository
	)
	switch opts.Store {
	case StoreMemory:
		store := memory.NewStore()
		capsules, memberships, graph = store.Capsules(), store.Memberships(), store.SocialGraph()
	case StoreDB:
		db, err := storage.InitDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func(context.Context) { _ = sqlDB.Close() })
		}
		if opts.AutoMigrate {
			if err := storage.AutoMigrateTables(db); err != nil {
				a.Close()
				return nil, err
			}
		}
		capsules = storage.NewGormCapsuleRepository(db)
		memberships = storage.NewGormMembershipRepository(db)
		graph = storage.NewGormSocialGraphRepository(db)
	default:
		return nil, fmt.Errorf("unsupported store %q", opts.Store)
	}

	var sinks events.Sinks
	if opts.SideEffects {
		sinks = a.connectSinks()
	}
	dispatcher := events.NewDispatcher(cfg.Dispatcher, sinks)
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := dispatcher.Shutdown(ctx); err != nil {
			logger.Warn("Dispatcher did not drain before exit", zap.Error(err), zap.Int64("dropped", dispatcher.Dropped()))
		}
	})

	a.membership = services.NewMembershipService(capsules, memberships, dispatcher, dispatcher)
	a.graph = services.NewSocialGraphService(graph, dispatcher)
	return a, nil
}

// connectSinks connects every configured sink it can reach. An unreachable
// backend only disables its side effect; the command itself still runs.
func (a *app) connectSinks() events.Sinks {
	var sinks events.Sinks

	producer, err := appKafka.NewConfluentKafkaProducer(a.cfg.Kafka)
	if err != nil {
		logger.Warn("Kafka unavailable, invites and knowledge refreshes are disabled", zap.Error(err))
	} else {
		kafkaSink := appKafka.NewCollaboratorSink(producer, a.cfg.Kafka)
		sinks.Invites = kafkaSink
		sinks.Refresh = kafkaSink
		a.closers = append(a.closers, func(context.Context) { producer.Close() })
	}

	natsClient, err := appNats.NewClient(a.cfg.NATS)
	if err != nil {
		logger.Warn("NATS unavailable, graph events are disabled", zap.Error(err))
	} else {
		sinks.Graph = appNats.NewGraphEventPublisher(natsClient, a.cfg.NATS.SubjectPrefix)
		a.closers = append(a.closers, func(context.Context) { natsClient.Close() })
	}

	redisClient := appRedis.NewClient(a.cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn("Redis unavailable, knowledge refreshes are not coalesced", zap.Error(err))
		_ = redisClient.Close()
	} else {
		sinks.Coalescer = appRedis.NewRefreshCoalescer(redisClient, a.cfg.Redis.RefreshWindow)
		a.closers = append(a.closers, func(context.Context) { _ = redisClient.Close() })
	}

	return sinks
}

// Close runs the closers in reverse order, so the dispatcher drains before its sinks close.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
	_ = logger.Sync()
}
