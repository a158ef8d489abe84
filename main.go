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
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/scandish/internal/auth"
	"github.com/example/scandish/internal/catalog"
	"github.com/example/scandish/internal/config"
	"github.com/example/scandish/internal/grpcserver"
	"github.com/example/scandish/internal/handlers"
	"github.com/example/scandish/internal/logging"
	"github.com/example/scandish/internal/recognizer"
	"github.com/example/scandish/internal/repository"
	"github.com/example/scandish/internal/usecase"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	health := grpcserver.New(logger)
	grpcListener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen for gRPC", zap.Error(err), zap.String("addr", cfg.Server.GRPCAddr))
	}
	go func() {
		if err := health.Serve(grpcListener); err != nil {
			logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	cat, err := loadCatalog(cfg, logger)
	if err != nil {
		logger.Fatal("catalog load failed", zap.Error(err))
	}

	opts := []usecase.Option{}
	if cfg.Storage.DatabaseDSN != "" {
		repo := repository.NewRecognitionRepository(initDatabase(ctx, cfg.Storage.DatabaseDSN, logger), logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		opts = append(opts, usecase.WithRepository(repo))
	} else {
		logger.Warn("DATABASE_DSN not set; recognition logs will not be persisted")
	}
	if cfg.Storage.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.Storage.RedisAddr, logger)
		redisCancel()
		defer redisClient.Close()

		ttl, _ := cfg.CacheTTL()
		opts = append(opts, usecase.WithCache(usecase.NewRedisCache(redisClient), ttl))
	} else {
		logger.Warn("REDIS_ADDR not set; recognition results will not be cached")
	}

	uc := usecase.NewRecognitionUseCase(recognizer.New(cat), logger, opts...)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	handlers.RegisterRoutes(r, uc, cat, verifier.Middleware())

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health.SetReady(true)
	shutdownTimeout, _ := cfg.ShutdownTimeout()
	logger.Info("Scandish API listening", zap.String("addr", cfg.Server.HTTPAddr), zap.Int("catalog_entries", cat.Len()))
	serveErr := serveHTTPServer(server, shutdownTimeout, logger)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	health.Stop(stopCtx)
	stopCancel()

	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

func loadCatalog(cfg *config.Config, logger *zap.Logger) (*catalog.Catalog, error) {
	opts := []catalog.Option{
		catalog.WithLogger(logger),
		catalog.WithDefaultBrand(cfg.Catalog.DefaultBrand),
	}
	if cfg.Catalog.BaseDir != "" {
		opts = append(opts, catalog.WithBaseDir(cfg.Catalog.BaseDir))
	}
	return catalog.Load(cfg.Catalog.ManifestPath, opts...)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	httpLogger := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpLogger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
