package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/septivank/water-meter-bridge/internal/anomaly"
	"github.com/septivank/water-meter-bridge/internal/config"
	"github.com/septivank/water-meter-bridge/internal/db"
	"github.com/septivank/water-meter-bridge/internal/dispatch"
	"github.com/septivank/water-meter-bridge/internal/forward"
	"github.com/septivank/water-meter-bridge/internal/httpapi"
	"github.com/septivank/water-meter-bridge/internal/metrics"
	"github.com/septivank/water-meter-bridge/internal/mq"
	"github.com/septivank/water-meter-bridge/internal/push"
	"github.com/septivank/water-meter-bridge/internal/repository"
	"github.com/septivank/water-meter-bridge/internal/service"
	"github.com/septivank/water-meter-bridge/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// coreModule provides everything both commands need
func coreModule(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideAnomalyDetector,
			ProvideValidator,
			ProvideDispatcher,
			ProvideForwardClient,
			ProvideSender,
			ProvideMQConnection,
			ProvideEventPublisher,
			ProvideIngestionService,
			ProvideRouter,
		),
	)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideAnomalyDetector creates a new anomaly detector instance
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.ConsumptionFactor)
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideDispatcher creates the notification worker pool and ties it to the
// app lifecycle; stopping drains queued jobs.
func ProvideDispatcher(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *dispatch.Dispatcher {
	d := dispatch.NewDispatcher(cfg.Notify.QueueSize, cfg.Notify.Workers, cfg.Notify.JobTimeout, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})

	return d
}

// ProvideForwardClient creates the client for the downstream backend
func ProvideForwardClient(cfg *config.Config, logger *zap.Logger) *forward.Client {
	return forward.NewClient(forward.Config{
		URL:          cfg.Forward.URL,
		ValueField:   cfg.Forward.ValueField,
		Timeout:      cfg.Forward.Timeout,
		RetryMax:     cfg.Forward.RetryMax,
		RetryWaitMin: cfg.Forward.RetryWaitMin,
		Logger:       logger,
	})
}

// ProvideSender creates the FCM client, or a sender that skips everything
// when the gateway is not configured
func ProvideSender(cfg *config.Config, logger *zap.Logger) (push.Sender, error) {
	if !cfg.PushEnabled() {
		logger.Warn("FCM_PROJECT_ID or GOOGLE_APPLICATION_CREDENTIALS not set, push notifications disabled")
		return push.DisabledSender{}, nil
	}

	source, err := push.NewServiceAccountSource(cfg.Push.CredentialsFile, cfg.Push.FetchAttempts, logger)
	if err != nil {
		return nil, err
	}

	return push.NewClient(push.ClientConfig{
		BaseURL:     cfg.Push.BaseURL,
		ProjectID:   cfg.Push.ProjectID,
		Timeout:     cfg.Push.RequestTimeout,
		Credentials: push.NewCredentialCache(source, cfg.Push.CredentialTTL),
		Logger:      logger,
	}), nil
}

// ProvideMQConnection dials RabbitMQ; it returns nil when the bus is disabled
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if !cfg.RabbitMQ.Enabled() {
		logger.Info("RABBITMQ_URL not set, queue ingestion and reading events disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL, cfg.ServiceName)
}

// ProvideEventPublisher publishes reading events when the bus is enabled
func ProvideEventPublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (service.EventPublisher, error) {
	if conn == nil {
		return service.NopPublisher{}, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingKey, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideIngestionService creates the ingestion service
func ProvideIngestionService(
	repo *repository.Repository,
	sink *forward.Client,
	sender push.Sender,
	dispatcher *dispatch.Dispatcher,
	events service.EventPublisher,
	detector *anomaly.Detector,
	validator *validator.Validator,
	logger *zap.Logger,
) *service.IngestionService {
	return service.NewIngestionService(service.Deps{
		Readings:  repo,
		Tokens:    repo,
		Sink:      sink,
		Sender:    sender,
		Scheduler: dispatcher,
		Events:    events,
		Detector:  detector,
		Validator: validator,
		Logger:    logger,
	})
}

// ProvideRouter builds the HTTP handler
func ProvideRouter(
	cfg *config.Config,
	svc *service.IngestionService,
	sink *forward.Client,
	validator *validator.Validator,
	pool *db.Pool,
	conn *mq.Connection,
	logger *zap.Logger,
) http.Handler {
	checks := map[string]httpapi.HealthCheck{
		"database": pool.Ping,
	}
	if conn != nil {
		checks["rabbitmq"] = func(ctx context.Context) error {
			if !conn.Healthy() {
				return errors.New("connection closed")
			}
			return nil
		}
	}

	return httpapi.NewRouter(httpapi.Options{
		Bridge:       svc,
		Validator:    validator,
		Logger:       logger,
		ForwardURL:   sink.URL(),
		CORSOrigins:  cfg.HTTP.CORSOrigins,
		Timeout:      cfg.HTTP.Timeout,
		Gatherer:     prometheus.DefaultGatherer,
		HealthChecks: checks,
	})
}

func registerMetrics() {
	metrics.MustRegister(prometheus.DefaultRegisterer)
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, handler http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}

// startConsumer feeds queued readings into the ingestion service when the
// bus is enabled
func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	svc *service.IngestionService,
) error {
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.IngestQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       svc.HandleMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("reading consumer stopped")
			return nil
		},
	})

	return nil
}
