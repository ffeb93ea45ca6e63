package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/helpdesk-labs/support-chat/internal/api/http"
	"github.com/helpdesk-labs/support-chat/internal/api/http/handlers"
	"github.com/helpdesk-labs/support-chat/internal/auth"
	"github.com/helpdesk-labs/support-chat/internal/cache"
	"github.com/helpdesk-labs/support-chat/internal/config"
	"github.com/helpdesk-labs/support-chat/internal/domain"
	"github.com/helpdesk-labs/support-chat/internal/events"
	"github.com/helpdesk-labs/support-chat/internal/observability"
	"github.com/helpdesk-labs/support-chat/internal/persistence"
	"github.com/helpdesk-labs/support-chat/internal/realtime"
	"github.com/helpdesk-labs/support-chat/internal/repository"
	"github.com/helpdesk-labs/support-chat/internal/service"
	"github.com/helpdesk-labs/support-chat/internal/worker"
)

type repositories struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	departments   repository.DepartmentRepository
	profiles      repository.ProfileRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	repos := buildRepositories(pg, logger)

	var redis *persistence.Redis
	var convCache cache.ConversationCache = cache.NewMemoryConversationCache(cfg.Cache.ConversationTTL)
	if cfg.Cache.UseRedis {
		redis = persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		if redis.Reachable() {
			convCache = cache.NewRedisConversationCache(redis.Client, cfg.Cache.ConversationTTL, logger)
		} else {
			logger.Warn("redis unreachable; conversation cache runs in process")
		}
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger.Named("events"))

	forwarder := buildForwarder(cfg, dispatcher, logger)
	if forwarder != nil {
		forwarder.Start(ctx)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	verifier := auth.NewJWTVerifier(tokens, repos.profiles, repos.departments, cfg.Messaging, logger)

	rooms := service.NewRoomAuthorizer(repos.conversations, convCache, logger)
	messageAuthorizer := service.NewMessageAuthorizer(rooms, cfg.Messaging, logger)
	messages := service.NewMessageService(service.MessageDependencies{
		Authorizer:  messageAuthorizer,
		Rooms:       rooms,
		MessageRepo: repos.messages,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	router := service.NewConversationRouter(service.RouterDependencies{
		ConversationRepo: repos.conversations,
		DepartmentRepo:   repos.departments,
		Rooms:            rooms,
		Dispatcher:       dispatcher,
		Logger:           logger,
	})
	presence := service.NewPresenceTracker(repos.profiles, dispatcher, cfg.Presence, logger)

	hub := realtime.NewHub(cfg.Realtime.SingleRoomPerAgent, metrics, logger)
	realtime.NewFanout(hub, dispatcher, logger)
	sessions := realtime.NewSessionManager(realtime.SessionDependencies{
		Verifier: verifier,
		Hub:      hub,
		Presence: presence,
		Router:   router,
		Messages: messages,
		Rooms:    rooms,
		Config:   cfg.Realtime,
		Metrics:  metrics,
		Logger:   logger,
	})

	runner := worker.NewRunner(logger,
		worker.PresenceSweepJob(presence, cfg.Presence.SweepInterval),
		worker.LimiterPurgeJob(messageAuthorizer, presence, cfg.Messaging.PurgeInterval, cfg.Messaging.IdlePurgeAfter, logger),
		worker.StatsJob(hub.Count, func() int { return len(presence.ListOnline()) }, metrics, cfg.Stats.Interval, logger),
	)
	runner.Start(ctx)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, cfg.App, logger, metrics)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, hub.Count),
		WS:             handlers.NewWSHandler(ctx, sessions, cfg.Realtime),
		Conversations:  handlers.NewConversationHandler(router),
		Presence:       handlers.NewPresenceHandler(presence),
		AuthMiddleware: auth.NewAuthMiddleware(verifier),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.ShutdownWithTimeout(10 * time.Second)
	runner.Stop()
	cancel()
	if forwarder != nil {
		if err := forwarder.Close(); err != nil {
			logger.Warn("closing event sink", zap.Error(err))
		}
	}
}

func buildRepositories(pg *persistence.Postgres, logger *zap.Logger) repositories {
	if pg.Enabled() {
		pool := pg.PoolHandle()
		return repositories{
			conversations: repository.NewConversationRepository(pool),
			messages:      repository.NewMessageRepository(pool),
			departments:   repository.NewDepartmentRepository(pool),
			profiles:      repository.NewProfileRepository(pool),
		}
	}
	store := repository.NewMemoryStore()
	if os.Getenv("DEV_SEED") != "false" {
		seedDevelopmentData(store)
		logger.Info("in-memory store seeded with development identities")
	}
	return repositories{
		conversations: store.Conversations(),
		messages:      store.Messages(),
		departments:   store.Departments(),
		profiles:      store.Profiles(),
	}
}

// seedDevelopmentData gives a DSN-less run a department, an agent, a supervisor and a client.
func seedDevelopmentData(store *repository.MemoryStore) {
	now := time.Now()
	store.PutDepartment(domain.Department{ID: 1, Name: "General", Active: true, CreatedAt: now, UpdatedAt: now})
	store.PutAgent(domain.AgentProfile{ID: 1, Name: "Agent One", Role: domain.RoleAgent, Active: true}, 1)
	store.PutAgent(domain.AgentProfile{ID: 2, Name: "Supervisor", Role: domain.RoleSupervisor, Active: true})
	store.PutClient(domain.ClientProfile{ID: 1, Name: "Customer", Active: true})
}

func buildForwarder(cfg *config.Config, dispatcher events.Dispatcher, logger *zap.Logger) *events.Forwarder {
	var sink events.Sink
	switch cfg.Events.Sink {
	case "kafka":
		sink = events.NewKafkaSink(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, cfg.App.Name, logger)
	case "rabbitmq", "amqp":
		amqpSink, err := events.NewAMQPSink(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, cfg.App.Name, logger)
		if err != nil {
			logger.Error("event sink unavailable; integration events disabled", zap.Error(err))
			return nil
		}
		sink = amqpSink
	case "", "none":
		return nil
	default:
		logger.Warn("unknown EVENTS_SINK; integration events disabled", zap.String("sink", cfg.Events.Sink))
		return nil
	}
	logger.Info("integration events enabled", zap.String("sink", cfg.Events.Sink))
	return events.NewForwarder(dispatcher, sink, 1024, logger)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
