package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/couchbase/gocb/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"etcwatch/internal/couchbase"
	"etcwatch/internal/pubsub"
	"etcwatch/internal/pubsub/dispatcher"
	"etcwatch/internal/pubsub/metrics"
	"etcwatch/internal/pubsub/persister"
	"etcwatch/internal/pubsub/processor"
	"etcwatch/internal/pubsub/registry"
	"etcwatch/internal/pubsub/subscriber"
	"etcwatch/internal/pubsub/tracing"
)

type Config struct {
	ProcessorType   string        `env:"PROCESSOR_TYPE" envDefault:"batching"`
	PersisterType   string        `env:"PERSISTER_TYPE" envDefault:"database"`
	HandlerTimeout  time.Duration `env:"HANDLER_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	CouchbaseConnectionString string        `env:"COUCHBASE_CONNECTION_STRING" envDefault:"couchbase://localhost"`
	CouchbaseUsername         string        `env:"COUCHBASE_USERNAME" envDefault:"Administrator"`
	CouchbasePassword         string        `env:"COUCHBASE_PASSWORD" envDefault:"password"`
	CouchbaseBucketName       string        `env:"COUCHBASE_BUCKET_NAME" envDefault:"etcwatch"`
	CouchbaseScopeName        string        `env:"COUCHBASE_SCOPE_NAME" envDefault:"default"`
	CouchbaseTxnTimeout       time.Duration `env:"COUCHBASE_TRANSACTION_TIMEOUT" envDefault:"10s"`

	NotifyFrom string   `env:"NOTIFY_FROM" envDefault:"etcwatch@localhost"`
	NotifyTo   []string `env:"NOTIFY_TO" envDefault:"admin@localhost" envSeparator:","`
	LogLevel   string   `env:"LOG_LEVEL" envDefault:"info"`

	Processor processor.Config
	SMTP      subscriber.SMTPConfig
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
}

const watchedEvent = "file_changed"

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	// unsupported selections fail before anything is wired
	processorKind, err := processor.ParseKind(cfg.ProcessorType)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	persisterKind, err := persister.ParseKind(cfg.PersisterType)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo(cfg.Tracing.ServiceVersion, string(processorKind), string(persisterKind))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)
	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("endpoint", cfg.Tracing.Endpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	var cluster *gocb.Cluster
	baseStore, err := persister.New(persisterKind, func() (*persister.Database, error) {
		var (
			bucket *gocb.Bucket
			err    error
		)
		cluster, bucket, err = newCouchbase(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
		}
		return newDatabase(cfg, cluster, bucket)
	})
	if err != nil {
		log.Fatalf("failed to create persister: %v", err)
	}
	if cluster != nil {
		defer cluster.Close(nil)
	}

	metricsStore := persister.NewMetricsPersister(baseStore, string(persisterKind), metricsRegistry)
	store := persister.NewTracedPersister(metricsStore, string(persisterKind), tracer)

	baseProcessor, err := processor.New(processorKind, cfg.Processor, store, logger)
	if err != nil {
		log.Fatalf("failed to create processor: %v", err)
	}
	proc := processor.NewMetricsProcessor(baseProcessor, processorKind, metricsRegistry)

	subscriptions := registry.NewRegistry(
		registry.WithLogger(logger),
		registry.WithObserver(metricsRegistry.SetSubscriptions),
	)

	baseDispatcher, err := dispatcher.NewDispatcher(subscriptions,
		dispatcher.WithLogger(logger),
		dispatcher.WithHandlerTimeout(cfg.HandlerTimeout),
	)
	if err != nil {
		log.Fatalf("failed to create dispatcher: %v", err)
	}
	metricsPublisher := dispatcher.NewMetricsPublisher(baseDispatcher, metricsRegistry)
	publisher := dispatcher.NewTracedPublisher(metricsPublisher, tracer)

	var mailer subscriber.Mailer = subscriber.NewLogMailer(logger)
	if cfg.SMTP.Host != "" {
		mailer = subscriber.NewSMTPMailer(cfg.SMTP)
	}
	notifier, err := subscriber.NewEmailNotifier(mailer, cfg.NotifyFrom, cfg.NotifyTo, logger)
	if err != nil {
		log.Fatalf("failed to create email notifier: %v", err)
	}

	for _, s := range []pubsub.Subscriber{
		subscriber.NewLogger(logger, zapcore.InfoLevel),
		notifier,
		subscriber.NewProcessor(proc, string(processorKind)),
	} {
		if _, err := subscriptions.Subscribe(watchedEvent, subscriber.NewTraced(s, tracer)); err != nil {
			log.Fatalf("failed to subscribe %s: %v", pubsub.SubscriberName(s), err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	proc.Start(ctx)

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		event, err := pubsub.NewEvent(watchedEvent, map[string]any{
			"file_name": "sample.txt",
			"action":    "updated",
		})
		if err != nil {
			return fmt.Errorf("failed to build event: %w", err)
		}

		report, err := publisher.Publish(gctx, event)
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}

		outcomes, err := report.Wait(gctx)
		logOutcomes(logger, report, outcomes)
		if err != nil {
			return fmt.Errorf("failed waiting for handlers: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("error in goroutine", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := baseDispatcher.Close(shutdownCtx); err != nil {
		logger.Error("failed to close dispatcher", zap.Error(err))
	}
	if err := proc.Close(shutdownCtx); err != nil {
		logger.Error("failed to close processor", zap.Error(err))
	}

	persisted, err := store.Count(shutdownCtx, watchedEvent)
	if err != nil {
		logger.Error("failed to count persisted events", zap.Error(err))
	}
	logger.Info("persisted events", zap.String("eventType", watchedEvent), zap.Uint64("count", persisted))

	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	logger.Info("shutdown complete", zap.Duration("elapsed", time.Since(now)))
}

func logOutcomes(logger *zap.Logger, report *pubsub.Report, outcomes pubsub.Outcomes) {
	logger = logger.With(zap.String("eventType", report.EventType))
	for _, o := range outcomes {
		if o.OK() {
			logger.Info("delivered", zap.String("subscriber", o.Subscriber), zap.Duration("duration", o.Duration))
			continue
		}
		logger.Warn("delivery failed", zap.String("subscriber", o.Subscriber), zap.Error(o.Err))
	}
	logger.Info("publish report",
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", outcomes.Succeeded()),
		zap.Int("failed", outcomes.Failed()),
	)
}

func newDatabase(cfg Config, cluster *gocb.Cluster, bucket *gocb.Bucket) (*persister.Database, error) {
	records, err := pubsub.NewRecordsStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create records store: %w", err)
	}
	counters, err := pubsub.NewCountersStore(cluster, bucket, cfg.CouchbaseScopeName)
	if err != nil {
		return nil, fmt.Errorf("failed to create counters store: %w", err)
	}
	transactions, err := couchbase.NewTransactions(cluster, cfg.CouchbaseTxnTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	return persister.NewDatabase(records, counters, transactions, cfg.CouchbaseBucketName, cfg.CouchbaseScopeName)
}

func newCouchbase(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.CouchbaseConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.CouchbaseUsername,
			Password: config.CouchbasePassword,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
			QueryTimeout:   30 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.CouchbaseBucketName)

	err = bucket.WaitUntilReady(5*time.Second, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket not ready: %w", err)
	}

	return cluster, bucket, nil
}
