package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"signaling-service/internal/auth"
	"signaling-service/internal/cache"
	"signaling-service/internal/calls"
	"signaling-service/internal/config"
	"signaling-service/internal/db"
	"signaling-service/internal/handlers"
	"signaling-service/internal/logger"
	"signaling-service/internal/messaging"
	"signaling-service/internal/middleware"
	"signaling-service/internal/observability"
	"signaling-service/internal/rabbitmq"
	"signaling-service/internal/repositories"
	"signaling-service/internal/telemetry"
	"signaling-service/internal/upload"
	"signaling-service/internal/ws"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)
	defer log.Sync()

	ctx := context.Background()

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		log.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	mc, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
		Secure: cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatal("failed to init minio client", zap.Error(err))
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Otel.Endpoint, "signaling-service", cfg.Env)
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}
	if shutdownTracer != nil {
		defer shutdownTracer(ctx)
	}

	publisher := rabbitmq.NewPublisher(log, cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	audit := telemetry.NewAuditEmitter(publisher, "signaling-service", cfg.Env)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	callRepo := repositories.NewCallRepo(database)
	userRepo := repositories.NewUserRepo(database)

	lists := cache.NewListCache(rdb, cfg.Redis.CacheTTL)
	presence := cache.NewPresence(rdb)

	uploader := upload.NewMinioUploader(mc, cfg.Minio.Bucket, cfg.Minio.URLExpiry)
	buffer := upload.NewBuffer(uploader, cfg.Upload.SweepInterval, cfg.Upload.MaxIdle, log)

	messageSvc := messaging.NewService(messageRepo, chatRepo, lists, log)
	callSvc := calls.NewService(callRepo, chatRepo, calls.Options{
		FlushInterval: cfg.Calls.FlushInterval,
		FlushGrace:    cfg.Calls.FlushGrace,
		JoinPoll:      cfg.Calls.JoinPoll,
		JoinTimeout:   cfg.Calls.JoinTimeout,
	}, audit, log)
	go callSvc.RunFlusher(ctx)

	verifier := auth.NewVerifier(cfg.Auth.Secret)
	hub := ws.NewHub(log)
	gateway := ws.NewGateway(hub, verifier, presence, messageSvc, callSvc, buffer, audit, log)

	historyHandler := handlers.NewHistoryHandler(messageSvc, userRepo)
	healthHandler := handlers.NewHealthHandler(
		database.Ping,
		func() error { return rdb.Ping(ctx).Err() },
	)

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("signaling-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.Auth(verifier)

	router.GET("/ws", gateway.Handle)
	router.GET("/chats", authMiddleware, historyHandler.ListChats)
	router.GET("/chats/:chat_id/messages", authMiddleware, historyHandler.GetChatMessages)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("starting server", zap.String("addr", addr), zap.String("env", cfg.Env))
	if err := router.Run(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
