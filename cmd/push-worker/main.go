package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"notifications/internal/breaker"
	"notifications/internal/broker"
	"notifications/internal/config"
	"notifications/internal/delivery"
	apihttp "notifications/internal/http"
	"notifications/internal/jobs"
	"notifications/internal/logger"
	"notifications/internal/provider/push"
	"notifications/internal/statusstore"
	"notifications/internal/template"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.LogLevel, "push-worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("starting push worker")

	store := statusstore.New(cfg.RedisAddr, appLogger)
	defer store.Close()

	templateClient := template.NewClient(cfg.TemplateServiceURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher, err := buildPushDispatcher(ctx, *cfg, appLogger)
	if err != nil {
		appLogger.Fatal("failed to build push dispatcher", zap.Error(err))
	}

	templateBreaker := breaker.New(breaker.Config{
		Name:             "template_service",
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		TimeoutSeconds:   int(cfg.CircuitBreakerTimeout.Seconds()),
		RecoveryTimeout:  int(cfg.CircuitBreakerRecoveryTimeout.Seconds()),
	})
	providerBreaker := breaker.New(breaker.Config{
		Name:             "push_provider",
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		TimeoutSeconds:   int(cfg.CircuitBreakerTimeout.Seconds()),
		RecoveryTimeout:  int(cfg.CircuitBreakerRecoveryTimeout.Seconds()),
	})

	engine := delivery.NewEngine(
		delivery.Config{MaxRetryAttempts: cfg.MaxRetryAttempts, RetryBaseDelay: cfg.RetryBaseDelay},
		templateClient,
		templateBreaker,
		dispatcher.Send,
		providerBreaker,
		true,
		appLogger,
	)

	consumer := broker.NewConsumer(broker.Config{
		AMQPURL:          cfg.AMQPURL,
		Channel:          jobs.ChannelPush,
		QueueName:        "push.queue",
		RoutingKey:       "push",
		PrefetchCount:    cfg.PushQueuePrefetch,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	}, engine, store, jobs.DecodePush, jobs.EncodePush, appLogger)

	if err := consumer.Connect(ctx); err != nil {
		appLogger.Fatal("failed to connect to broker", zap.Error(err))
	}

	router := apihttp.NewRouter("push-worker", store, store, []*breaker.Breaker{templateBreaker, providerBreaker}, appLogger)
	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("admin http server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := consumer.Consume(ctx); err != nil {
			appLogger.Error("consumer stopped with error", zap.Error(err))
		}
	}()

	appLogger.Info("push worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down push worker")
	cancel()
	consumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	appLogger.Info("push worker stopped")
}

// buildPushDispatcher wires whichever platform senders have
// credentials configured. A platform left unconfigured reports
// push.ErrNotConfigured at send time rather than failing startup,
// since an operator may run email and push in separate deployments
// with only one platform's credentials present.
func buildPushDispatcher(ctx context.Context, cfg config.Config, logger *zap.Logger) (*push.Dispatcher, error) {
	d := &push.Dispatcher{}

	if cfg.FCMCredentialsFile != "" {
		android, err := push.NewAndroidSender(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, err
		}
		d.Android = android
	} else {
		logger.Warn("FCM_CREDENTIALS_FILE not set, android push disabled")
	}

	if cfg.APNSKeyPath != "" {
		ios, err := push.NewIOSSender(push.IOSConfig{
			KeyPath:    cfg.APNSKeyPath,
			KeyID:      cfg.APNSKeyID,
			TeamID:     cfg.APNSTeamID,
			BundleID:   cfg.APNSBundleID,
			UseSandbox: cfg.APNSUseSandbox,
		})
		if err != nil {
			return nil, err
		}
		d.IOS = ios
	} else {
		logger.Warn("APNS_KEY_PATH not set, ios push disabled")
	}

	return d, nil
}
