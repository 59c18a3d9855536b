package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/grpcserver"
	"chat-core/internal/handlers"
	"chat-core/internal/identity"
	"chat-core/internal/logging"
	"chat-core/internal/middleware"
	"chat-core/internal/notify"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/repositories"
	"chat-core/internal/service"
	"chat-core/internal/tracing"
	"chat-core/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("info", true)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(cfg.Log.Level, cfg.IsDevelopment()).With().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.ServiceName, cfg.Environment, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var (
		database *sqlx.DB
		roomRepo repositories.RoomRepository
		msgRepo  repositories.MessageRepository
	)
	if cfg.Database.DSN != "" {
		database, err = db.Connect(cfg.Database, log)
		if err != nil {
			return err
		}
		defer database.Close()
		roomRepo = repositories.NewRoomRepo(database)
		msgRepo = repositories.NewMessageRepo(database)
	} else {
		log.Warn().Msg("DB_DSN is empty, using the in-memory store")
		store := repositories.NewMemoryStore()
		roomRepo, msgRepo = store, store
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")

	hub := ws.NewHub()
	router := ws.NewRouter(hub, log)
	var (
		relay   *ws.RedisRelay
		limiter ws.FrameLimiter = ws.NewMemoryFrameLimiter(cfg.Chat.FrameRateLimit, cfg.Chat.FrameRateWindow)
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		relay = ws.NewRedisRelay(rdb, log)
		router.WithRelay(relay)
		limiter = ws.NewRedisFrameLimiter(rdb, cfg.Chat.FrameRateLimit, cfg.Chat.FrameRateWindow)
		log.Info().Str("instance_id", router.InstanceID()).Msg("redis relay enabled")
	}

	notifier := notify.NewNotifier(publisher, notify.Options{
		RoutingKey:   cfg.AMQP.NotifyRoutingKey,
		Service:      cfg.ServiceName,
		Environment:  cfg.Environment,
		QueueSize:    cfg.Notify.QueueSize,
		PreviewRunes: cfg.Notify.PreviewRunes,
	}, log)

	rooms := service.NewRoomService(roomRepo, cfg.Chat.MaxRoomList)
	messages := service.NewMessageService(msgRepo, router, notifier, service.MessageOptions{
		MaxContentRunes: cfg.Chat.MaxContentRunes,
		DedupeWindow:    cfg.Chat.DedupeWindow,
	}, log)
	history := service.NewHistoryService(rooms, msgRepo, cfg.Chat.DefaultPageSize, cfg.Chat.MaxPageSize, log)

	var resolver identity.Resolver = identity.HeaderResolver{}
	if cfg.Auth.Mode == config.AuthModeJWT {
		resolver = identity.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	}

	gateway := ws.NewGateway(ws.GatewayDeps{
		Hub:      hub,
		Router:   router,
		Typing:   ws.NewTypingOverlay(cfg.Chat.TypingThrottle),
		Limiter:  limiter,
		Resolver: resolver,
		Rooms:    rooms,
		Messages: messages,
		History:  history,
	}, ws.GatewayOptions{
		SendQueueSize:    cfg.Chat.SendQueueSize,
		MaxFrameBytes:    cfg.Chat.MaxFrameBytes,
		PingInterval:     cfg.Chat.PingInterval,
		PongWait:         cfg.Chat.PongWait,
		WriteWait:        cfg.Chat.WriteWait,
		EventsRoutingKey: cfg.AMQP.EventsRoutingKey,
	}, log)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(observability.HTTPMetricsMiddleware())
	engine.Use(middleware.RequestLogger(log))

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(observability.Handler()))
	engine.GET("/ws", gateway.Handle)

	roomHandler := handlers.NewRoomHandler(rooms, messages, history)
	roomHandler.RegisterRoutes(engine.Group("/", middleware.AuthMiddleware(resolver)))
	engine.POST("/internal/rooms", middleware.InternalToken(cfg.Auth.InternalToken), roomHandler.EnsureRoom)
	handlers.RegisterDebugRoutes(engine, hub, cfg.Debug)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeout,
	}
	grpcServer, healthServer := grpcserver.New(cfg.ServiceName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return err
		}
		log.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return notifier.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx, router.HandleRelayed)
		})
	}
	if database != nil {
		g.Go(func() error {
			return grpcserver.WatchDatabase(gctx, healthServer, cfg.ServiceName, database, 10*time.Second, log)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		closed := hub.CloseAll(ws.ReasonShutdown)
		log.Info().Int("sessions", closed).Msg("websocket sessions closed")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
