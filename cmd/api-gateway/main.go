package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/classlinker-chat/api/swagger"
	"github.com/noah-isme/classlinker-chat/internal/handler"
	internalmiddleware "github.com/noah-isme/classlinker-chat/internal/middleware"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/internal/realtime"
	"github.com/noah-isme/classlinker-chat/internal/repository"
	"github.com/noah-isme/classlinker-chat/internal/service"
	"github.com/noah-isme/classlinker-chat/pkg/cache"
	"github.com/noah-isme/classlinker-chat/pkg/config"
	"github.com/noah-isme/classlinker-chat/pkg/database"
	"github.com/noah-isme/classlinker-chat/pkg/jobs"
	"github.com/noah-isme/classlinker-chat/pkg/logger"
	corsmiddleware "github.com/noah-isme/classlinker-chat/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classlinker-chat/pkg/middleware/requestid"
	"github.com/noah-isme/classlinker-chat/pkg/pubsub"
	"github.com/noah-isme/classlinker-chat/pkg/storage"
)

// @title ClassLinker Chat API
// @version 0.1.0
// @description Realtime subject chat for teachers and enrolled students
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
	logr.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, database.Migrations); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close() //nolint:errcheck
	}
	if cfg.Chat.Fanout == config.FanoutRedis && redisClient == nil {
		return errors.New("CHAT_FANOUT=redis requires REDIS_ENABLED=true")
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	accessRepo := repository.NewAccessRepository(db)
	messageRepo := repository.NewChatMessageRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	presenceRepo := repository.NewPresenceRepository(redisClient, cfg.Chat.ChannelPrefix, cfg.Chat.PresenceTTL)

	authService := service.NewAuthService(cfg.JWT.Secret)
	accessResolver := service.NewAccessResolver(accessRepo, metrics, logr)
	messageService := service.NewMessageService(messageRepo, cfg.Chat.MaxMessageLength, metrics, logr)
	queryService := service.NewChatQueryService(accessResolver, messageService, participantRepo, nil, metrics, logr)

	registry := realtime.NewRegistry()
	local := realtime.NewLocalFanout(registry, metrics)
	var fanout realtime.Fanout = local
	var redisFanout *realtime.RedisFanout
	if cfg.Chat.Fanout == config.FanoutRedis {
		bus := pubsub.NewRedisPubSub(redisClient, pubsub.Channels{Prefix: cfg.Chat.ChannelPrefix}, cfg.Chat.SendBuffer, logr)
		redisFanout = realtime.NewRedisFanout(bus, bus, local, uuid.NewString(), logr)
		fanout = redisFanout
	}

	gateway := realtime.NewGateway(realtime.GatewayDeps{
		Registry:  registry,
		Access:    accessResolver,
		Messages:  messageService,
		Fanout:    fanout,
		Presence:  presenceRepo,
		Validator: validate,
		Metrics:   metrics,
		Logger:    logr,
	}, realtime.OptionsFromConfig(cfg.Chat))
	queryService.SetOnlineLister(gateway)

	corsPolicy := corsmiddleware.NewPolicy(cfg.CORS.AllowedOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/metrics"))
	r.Use(corsPolicy.Middleware())
	r.Use(internalmiddleware.Metrics(metrics))

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authed := api.Group("", internalmiddleware.JWT(authService), internalmiddleware.ChatIdentity())

	wsHandler := handler.NewWSHandler(gateway, corsPolicy.CheckOrigin, logr)
	api.GET("/chat/ws", internalmiddleware.JWTWithQueryToken(authService), internalmiddleware.ChatIdentity(), wsHandler.Connect)

	chatHandler := handler.NewChatHandler(queryService)
	subjects := authed.Group("/subjects/:subjectId/chat")
	subjects.GET("/history", chatHandler.History)
	subjects.GET("/participants", chatHandler.Participants)
	subjects.GET("/online", chatHandler.Online)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Transcripts.Enabled {
		transcripts, queue, err := wireTranscripts(cfg, db, accessResolver, subjectRepo, messageService, validate, metrics, logr)
		if err != nil {
			return err
		}
		transcriptHandler := handler.NewTranscriptHandler(transcripts)
		subjects.POST("/transcripts", internalmiddleware.RequireRoles(models.RoleTeacher), transcriptHandler.Create)
		authed.GET("/chat/transcripts/:id", transcriptHandler.Status)
		api.GET("/chat/transcripts/download/:token", transcriptHandler.Download)

		queue.Start(gctx)
		defer queue.Stop()
		transcripts.RecoverPendingJobs(gctx)
		g.Go(func() error { return transcripts.RunCleanup(gctx) })
	}

	if redisFanout != nil {
		g.Go(func() error { return redisFanout.Run(gctx) })
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env, "fanout", cfg.Chat.Fanout)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logr.Info("shutting down")
		gateway.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func wireTranscripts(
	cfg *config.Config,
	db *sqlx.DB,
	access *service.AccessResolver,
	subjects *repository.SubjectRepository,
	history *service.MessageService,
	validate *validator.Validate,
	metrics *service.MetricsService,
	logr *zap.Logger,
) (*service.TranscriptService, *jobs.Queue[string], error) {
	files, err := storage.NewLocalStorage(cfg.Transcripts.StorageDir)
	if err != nil {
		return nil, nil, fmt.Errorf("transcript storage: %w", err)
	}
	signer := storage.NewSigner(cfg.Transcripts.SignedURLSecret, cfg.Transcripts.SignedURLTTL)
	repo := repository.NewTranscriptRepository(db)
	downloadPrefix := cfg.APIPrefix + "/chat/transcripts/download"

	transcripts := service.NewTranscriptService(repo, access, nil, files, signer, validate, logr, service.TranscriptServiceConfig{
		DownloadPrefix:  downloadPrefix,
		CleanupInterval: cfg.Transcripts.CleanupInterval,
	})
	worker := service.NewTranscriptWorker(repo, subjects, history, files, signer, downloadPrefix, metrics, logr)
	queue := jobs.New[string]("transcripts", worker.Handle, worker.GiveUp, jobs.Config{
		Workers:    cfg.Transcripts.WorkerConcurrency,
		BufferSize: 64,
		MaxRetries: cfg.Transcripts.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	transcripts.SetQueue(queue)
	return transcripts, queue, nil
}
