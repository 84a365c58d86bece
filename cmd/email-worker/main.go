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
	"notifications/internal/provider/email"
	"notifications/internal/statusstore"
	"notifications/internal/template"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := logger.New(cfg.LogLevel, "email-worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("starting email worker", zap.String("email_provider_mode", cfg.EmailProviderMode))

	store := statusstore.New(cfg.RedisAddr, appLogger)
	defer store.Close()

	templateClient := template.NewClient(cfg.TemplateServiceURL)

	sender, err := buildEmailSender(*cfg, appLogger)
	if err != nil {
		appLogger.Fatal("failed to build email sender", zap.Error(err))
	}

	templateBreaker := breaker.New(breaker.Config{
		Name:             "template_service",
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		TimeoutSeconds:   int(cfg.CircuitBreakerTimeout.Seconds()),
		RecoveryTimeout:  int(cfg.CircuitBreakerRecoveryTimeout.Seconds()),
	})
	providerBreaker := breaker.New(breaker.Config{
		Name:             "email_provider",
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		TimeoutSeconds:   int(cfg.CircuitBreakerTimeout.Seconds()),
		RecoveryTimeout:  int(cfg.CircuitBreakerRecoveryTimeout.Seconds()),
	})

	engine := delivery.NewEngine(
		delivery.Config{MaxRetryAttempts: cfg.MaxRetryAttempts, RetryBaseDelay: cfg.RetryBaseDelay},
		templateClient,
		templateBreaker,
		email.AsProviderSend(sender),
		providerBreaker,
		false,
		appLogger,
	)

	consumer := broker.NewConsumer(broker.Config{
		AMQPURL:          cfg.AMQPURL,
		Channel:          jobs.ChannelEmail,
		QueueName:        "email.queue",
		RoutingKey:       "email",
		PrefetchCount:    cfg.EmailQueuePrefetch,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
	}, engine, store, jobs.DecodeEmail, jobs.EncodeEmail, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Connect(ctx); err != nil {
		appLogger.Fatal("failed to connect to broker", zap.Error(err))
	}

	router := apihttp.NewRouter("email-worker", store, store, []*breaker.Breaker{templateBreaker, providerBreaker}, appLogger)
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

	appLogger.Info("email worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down email worker")
	cancel()
	consumer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	appLogger.Info("email worker stopped")
}

func buildEmailSender(cfg config.Config, logger *zap.Logger) (email.Sender, error) {
	if cfg.EmailProviderMode == "smtp" {
		return email.NewSMTPSender(email.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUsername,
			Password:    cfg.SMTPPassword,
			FromAddress: cfg.EmailFromAddr,
			DisplayName: cfg.EmailFromName,
			Workers:     cfg.SMTPWorkerCount,
		}, logger), nil
	}
	return email.NewAPISender(email.APIConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFromAddr,
		FromName:  cfg.EmailFromName,
	})
}
