package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/harentsoaR/dentist-scheduling/internal/config"
	"github.com/harentsoaR/dentist-scheduling/internal/handlers"
	"github.com/harentsoaR/dentist-scheduling/internal/locking"
	"github.com/harentsoaR/dentist-scheduling/internal/logging"
	"github.com/harentsoaR/dentist-scheduling/internal/middleware"
	"github.com/harentsoaR/dentist-scheduling/internal/reminders"
	"github.com/harentsoaR/dentist-scheduling/internal/repository"
	"github.com/harentsoaR/dentist-scheduling/internal/scheduling"
	"github.com/harentsoaR/dentist-scheduling/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Init("dentist-scheduling", cfg.Env)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET is NOT SET; every /api request will be rejected")
	}

	// --- Storage ---
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedFile != "" {
		seed, err := repository.LoadSeed(cfg.SeedFile)
		if err != nil {
			return err
		}
		contacts, err := seed.Apply(ctx, store)
		if err != nil {
			return err
		}
		logger.Info().Int("providers", len(seed.Providers)).Int("contacts", contacts).Msg("seed data loaded")
	}

	// --- Provider-day lock ---
	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	// --- Services ---
	var sms services.SMSSender
	if cfg.TextbeltAPIKey != "" {
		sms = services.NewTextbeltClient(cfg.TextbeltURL, cfg.TextbeltAPIKey)
	} else {
		logger.Warn().Msg("TEXTBELT_API_KEY is not set; SMS disabled")
	}
	notificationSvc := services.NewNotificationService(store, sms, services.NewLogEmailSender(logger), logger)

	var verifier scheduling.InsuranceVerifier
	if cfg.InsuranceAutoVerify {
		verifier = services.NewAutoApproveVerifier(store, logger)
	}

	engine := scheduling.NewEngine(store, scheduling.Options{
		Locker:    locker,
		Notifier:  notificationSvc,
		Verifier:  verifier,
		Durations: cfg.AppointmentDurations,
		Buffer:    cfg.SlotBuffer,
		Location:  cfg.Location,
		Logger:    logger,
	})
	defer engine.Wait()

	reminderScheduler := reminders.New(store, notificationSvc, reminders.Config{
		Buckets:    reminders.DefaultBuckets(cfg.ReminderChannels),
		Interval:   cfg.ReminderInterval,
		PendingTTL: cfg.ReminderPendingTTL,
		Logger:     logger,
	})

	// --- Gin Router ---
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	h := handlers.NewHandler(ctx, engine, reminderScheduler, logger)
	h.Register(r, middleware.AuthMiddleware([]byte(cfg.JWTSecret)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.RemindersEnabled {
		if err := reminderScheduler.Start(gctx); err != nil {
			return err
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := reminderScheduler.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("reminder scheduler did not stop in time")
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (repository.Store, func(), error) {
	switch cfg.StorageDriver {
	case "memory":
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
		}
		store := repository.NewMongoStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(connectCtx); err != nil {
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		logger.Info().Str("database", cfg.MongoDatabase).Msg("Successfully connected to MongoDB!")
		return store, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}, nil

	case "postgres", "sqlite":
		store, err := repository.OpenSQL(cfg.StorageDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("driver", cfg.StorageDriver).Msg("connected to SQL database")
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error().Err(err).Msg("close SQL database")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
}

func openLocker(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (locking.Locker, func(), error) {
	switch cfg.LockBackend {
	case "memory":
		return locking.NewKeyedMutex(), func() {}, nil
	case "redis":
		client, err := locking.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using Redis provider-day locks")
		return locking.NewRedisLocker(client, 10*time.Second), func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown LOCK_BACKEND %q", cfg.LockBackend)
}
