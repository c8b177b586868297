// Package main is the entry point for the Argus VMS backend. It runs the
// alert intake surface and the operator management API as two HTTP servers
// sharing one pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus-vms/internal/alerting"
	"argus-vms/internal/api"
	"argus-vms/internal/api/auth"
	"argus-vms/internal/catalog"
	"argus-vms/internal/config"
	"argus-vms/internal/consumer"
	apperr "argus-vms/internal/errors"
	"argus-vms/internal/ingest"
	"argus-vms/internal/kafka"
	"argus-vms/internal/logging"
	"argus-vms/internal/middleware"
	"argus-vms/internal/queue"
	"argus-vms/internal/rules"
	"argus-vms/internal/schema"
	"argus-vms/internal/stats"
	"argus-vms/internal/storage"
	"argus-vms/internal/storage/s3"

	"github.com/google/uuid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)
	slog.SetDefault(logger)

	// Outside development, error text is scrubbed before reaching clients.
	apperr.SetProductionMode(os.Getenv("ARGUS_ENV") == "production")

	slog.Info("configuration loaded",
		"intake_port", cfg.Server.HTTPPort,
		"management_port", cfg.Server.ManagementPort,
		"queue_size", cfg.Queue.Size,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Intake pipeline
	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxAlertAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})
	alertQueue := queue.NewRingBuffer(cfg.Queue.Size)

	// Camera and rule catalog
	catalogClient, err := catalog.NewClient(catalog.Config{
		Host:            cfg.Catalog.Host,
		Port:            cfg.Catalog.Port,
		Database:        cfg.Catalog.Database,
		Username:        cfg.Catalog.Username,
		Password:        cfg.Catalog.Password,
		SSLMode:         cfg.Catalog.SSLMode,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
		ConnectTimeout:  cfg.Catalog.ConnectTimeout,
	})
	if err != nil {
		slog.Error("failed to connect to catalog database", "error", err)
		os.Exit(1)
	}
	defer catalogClient.Close()

	if err := catalog.NewMigrator(catalogClient).Run(ctx); err != nil {
		slog.Error("catalog migrations failed", "error", err)
		os.Exit(1)
	}

	catalogStore := catalog.NewStore(catalogClient)
	ruleService := rules.NewService(catalogStore, rules.Config{
		AllowEmptySchedule: cfg.Rules.AllowEmptySchedule,
		StoreTimeout:       cfg.Rules.StoreTimeout,
	})

	// Alert storage and aggregation
	var (
		chClient     *storage.ClickHouseClient
		batchWriter  *storage.BatchWriter
		alertManager *alerting.Manager
		aggregator   *stats.Aggregator
	)

	alertingCfg := alerting.Config{
		DeduplicationWindow: cfg.Alerting.DeduplicationWindow,
		MaxListLimit:        cfg.Alerting.MaxListLimit,
	}

	if cfg.Storage.Enabled {
		chClient, err = storage.NewClickHouseClient(storage.ClickHouseConfig{
			Hosts:           cfg.Storage.ClickHouse.Hosts,
			Database:        cfg.Storage.ClickHouse.Database,
			Username:        cfg.Storage.ClickHouse.Username,
			Password:        cfg.Storage.ClickHouse.Password,
			MaxOpenConns:    cfg.Storage.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ClickHouse.ConnMaxLifetime,
			TLSEnabled:      cfg.Storage.ClickHouse.TLSEnabled,
			DialTimeout:     cfg.Storage.ClickHouse.DialTimeout,
			Debug:           cfg.Storage.ClickHouse.Debug,
		})
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		defer chClient.Close()

		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			slog.Error("alert store migrations failed", "error", err)
			os.Exit(1)
		}

		batchWriter = storage.NewBatchWriter(chClient, storage.BatchWriterConfig{
			BatchSize:     cfg.Storage.BatchWriter.BatchSize,
			FlushInterval: cfg.Storage.BatchWriter.FlushInterval,
			MaxRetries:    cfg.Storage.BatchWriter.MaxRetries,
			RetryDelay:    cfg.Storage.BatchWriter.RetryDelay,
		})

		alertStore := storage.NewAlertStore(chClient)
		alertManager = alerting.NewManager(alertingCfg, alertStore, batchWriter)

		var statsCache stats.Cache
		if cfg.Stats.Redis.Addr != "" {
			cache, err := stats.NewRedisCache(stats.RedisConfig{
				Addr:         cfg.Stats.Redis.Addr,
				Password:     cfg.Stats.Redis.Password,
				DB:           cfg.Stats.Redis.DB,
				DialTimeout:  cfg.Stats.Redis.DialTimeout,
				ReadTimeout:  cfg.Stats.Redis.ReadTimeout,
				WriteTimeout: cfg.Stats.Redis.WriteTimeout,
				PoolSize:     cfg.Stats.Redis.PoolSize,
				TLSEnabled:   cfg.Stats.Redis.TLSEnabled,
			})
			if err != nil {
				slog.Warn("stats cache unavailable, continuing without", "error", err)
			} else {
				defer cache.Close()
				statsCache = cache
			}
		}

		aggregator = stats.NewAggregator(alertStore, catalogStore, statsCache, stats.Config{
			CacheTTL:      cfg.Stats.CacheTTL,
			DefaultWindow: cfg.Stats.DefaultWindow,
			DefaultBucket: cfg.Stats.DefaultBucket,
		})
	} else {
		slog.Warn("alert storage disabled, alert and stats endpoints will return 503")
		alertManager = alerting.NewManager(alertingCfg, unavailableStore{}, discardWriter{})
		aggregator = stats.NewAggregator(unavailableStore{}, catalogStore, nil, stats.Config{
			CacheTTL:      cfg.Stats.CacheTTL,
			DefaultWindow: cfg.Stats.DefaultWindow,
			DefaultBucket: cfg.Stats.DefaultBucket,
		})
	}

	// Kafka bridge: fan alerts out to downstream consumers, pull alerts in
	// from remote sites.
	var (
		publisher *kafka.AlertPublisher
		ingestor  *kafka.AlertIngestor
	)
	if cfg.Kafka.Enabled {
		kafkaCfg := buildKafkaConfig(cfg.Kafka)

		admin, err := kafka.NewAdmin(kafkaCfg, logger)
		if err != nil {
			slog.Error("invalid kafka configuration", "error", err)
			os.Exit(1)
		}
		if err := admin.EnsureTopic(ctx); err != nil {
			// The broker may manage topics itself; the publisher will
			// surface a hard failure if the topic truly is missing.
			slog.Warn("could not ensure kafka topic", "topic", kafkaCfg.Topic, "error", err)
		}

		publisher, err = kafka.NewAlertPublisher(kafkaCfg, logger)
		if err != nil {
			slog.Error("failed to create alert publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		ingestor, err = kafka.NewAlertIngestor(kafkaCfg, validator, alertQueue, logger)
		if err != nil {
			slog.Error("failed to create alert ingestor", "error", err)
			os.Exit(1)
		}
		if err := ingestor.StartAsync(); err != nil {
			slog.Error("failed to start alert ingestor", "error", err)
			os.Exit(1)
		}
		defer ingestor.Stop()
	}

	// Queue consumer: dedup through the manager, persist through the batch
	// writer, then fan out.
	sink := &pipelineSink{manager: alertManager, publisher: publisher}
	queueConsumer := consumer.New(alertQueue, sink, consumer.Config{
		Workers:      cfg.Consumer.Workers,
		PollInterval: cfg.Consumer.PollInterval,
		ShutdownWait: cfg.Consumer.ShutdownWait,
	})
	queueConsumer.Start(ctx)

	// DTLS intake for edge detectors on lossy links
	var dtlsServer *ingest.DTLSServer
	if cfg.Ingest.DTLS.Enabled {
		dtlsServer, err = ingest.NewDTLSServer(ingest.DTLSServerConfig{
			Address:           cfg.Ingest.DTLS.Address,
			CertFile:          cfg.Ingest.DTLS.CertFile,
			KeyFile:           cfg.Ingest.DTLS.KeyFile,
			CAFile:            cfg.Ingest.DTLS.CAFile,
			RequireClientCert: cfg.Ingest.DTLS.RequireClientCert,
			Workers:           cfg.Ingest.DTLS.Workers,
			MaxMessageSize:    cfg.Ingest.DTLS.MaxMessageSize,
			ConnectionTimeout: cfg.Ingest.DTLS.ConnectionTimeout,
			IdleTimeout:       cfg.Ingest.DTLS.IdleTimeout,
			AllowInsecure:     cfg.Ingest.DTLS.AllowInsecure,
		}, validator, alertQueue, logger)
		if err != nil {
			slog.Error("failed to create DTLS server", "error", err)
			os.Exit(1)
		}
		if err := dtlsServer.Start(ctx); err != nil {
			slog.Error("failed to start DTLS server", "error", err)
			os.Exit(1)
		}
		defer dtlsServer.Stop()
	}

	// Archival of aged alerts to object storage
	if cfg.Archive.Enabled && cfg.Storage.Enabled {
		go archiveLoop(ctx, cfg, chClient, logger)
	}

	// Expired dedup entries are swept in the background so the map stays
	// bounded on long-running processes.
	go dedupSweepLoop(ctx, alertManager, cfg.Alerting.DeduplicationWindow)

	// Intake HTTP server
	intakeHandler := ingest.NewHandler(validator, alertQueue).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize).
		WithMaxBatch(cfg.Ingest.MaxBatchSize)

	intakeMux := http.NewServeMux()
	intakeMux.HandleFunc("POST /v1/alerts", intakeHandler.HandleAlerts)
	intakeMux.HandleFunc("GET /health", intakeHandler.HealthCheck)
	intakeMux.HandleFunc("GET /metrics", intakeHandler.Metrics)

	intakeServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      ingest.WithMiddleware(intakeMux, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Management API server
	authService := newAuthService(cfg, logger)
	defer authService.Close()

	apiServer := api.NewServer(ruleService, alertManager, aggregator, logger)

	mgmtMux := http.NewServeMux()
	authService.RegisterRoutes(mgmtMux)
	apiServer.RegisterRoutes(mgmtMux)
	mgmtMux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	csrf := auth.NewCSRFProtection(&auth.CSRFConfig{
		CookieSecure:   cfg.Session.SecureCookies,
		TrustedOrigins: cfg.CORS.AllowedOrigins,
	})

	// Login has no CSRF cookie yet; the limiter in the auth service covers it.
	var mgmtHandler http.Handler = mgmtMux
	mgmtHandler = csrf.ExemptPath("/v1/auth/login")(mgmtHandler)
	mgmtHandler = authService.Middleware(mgmtHandler)
	mgmtHandler = middleware.CORS(middleware.CORSConfig{
		Enabled:          cfg.CORS.Enabled,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	})(mgmtHandler)
	mgmtHandler = middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig())(mgmtHandler)

	mgmtServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.ManagementPort),
		Handler:      mgmtHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting intake server", "address", intakeServer.Addr)
		if err := intakeServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("intake server error", "error", err)
			os.Exit(1)
		}
	}()
	go func() {
		slog.Info("starting management server", "address", mgmtServer.Addr)
		if err := mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("management server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := intakeServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("intake server shutdown error", "error", err)
	}
	if err := mgmtServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("management server shutdown error", "error", err)
	}

	cancel()
	queueConsumer.Stop()

	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}

	alertQueue.Close()

	metrics := alertQueue.Metrics()
	alertStats := alertManager.Stats()
	slog.Info("shutdown complete",
		"alerts_pushed", metrics.Pushed,
		"alerts_popped", metrics.Popped,
		"alerts_dropped", metrics.Dropped,
		"alerts_recorded", alertStats["recorded"],
		"alerts_suppressed", alertStats["suppressed"],
	)
}

// setupLogging builds the process logger with sensitive-field redaction.
func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logging.RedactAttr,
	}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newAuthService(cfg *config.Config, logger *slog.Logger) *auth.AuthService {
	var sessions auth.SessionStorage
	if cfg.Session.Redis.Addr != "" {
		client, err := auth.NewGoRedisClient(auth.RedisConfig{
			Addr:         cfg.Session.Redis.Addr,
			Password:     cfg.Session.Redis.Password,
			DB:           cfg.Session.Redis.DB,
			DialTimeout:  cfg.Session.Redis.DialTimeout,
			ReadTimeout:  cfg.Session.Redis.ReadTimeout,
			WriteTimeout: cfg.Session.Redis.WriteTimeout,
			PoolSize:     cfg.Session.Redis.PoolSize,
			TLSEnabled:   cfg.Session.Redis.TLSEnabled,
		})
		if err != nil {
			slog.Warn("redis session storage unavailable, using memory", "error", err)
		} else {
			sessions = auth.NewRedisSessionStorage(client, "", cfg.Session.TTL)
		}
	}

	adminCfg := auth.DefaultAdminConfig()
	if cfg.Session.Admin.Username != "" {
		adminCfg.Username = cfg.Session.Admin.Username
	}
	if cfg.Session.Admin.Password != "" {
		adminCfg.Password = cfg.Session.Admin.Password
	}
	if cfg.Session.Admin.OrganizationID != 0 {
		adminCfg.OrganizationID = cfg.Session.Admin.OrganizationID
	}

	return auth.NewAuthService(auth.Config{
		SessionTTL:     cfg.Session.TTL,
		CookieName:     cfg.Session.CookieName,
		SecureCookies:  cfg.Session.SecureCookies,
		Admin:          adminCfg,
		PasswordPolicy: auth.DefaultPasswordPolicy(),
	}, sessions, logger)
}

func buildKafkaConfig(src config.KafkaConfig) *kafka.Config {
	cfg := kafka.DefaultConfig()
	cfg.Brokers = src.Brokers
	cfg.Topic = src.Topic
	cfg.ConsumerGroup = src.ConsumerGroup
	if src.Partitions > 0 {
		cfg.Partitions = src.Partitions
	}
	if src.ReplicationFactor > 0 {
		cfg.ReplicationFactor = src.ReplicationFactor
	}
	if src.CompressionType != "" {
		cfg.CompressionType = src.CompressionType
	}
	cfg.SecurityProtocol = src.SecurityProtocol
	cfg.SASLMechanism = src.SASLMechanism
	cfg.SASLUsername = src.SASLUsername
	cfg.SASLPassword = src.SASLPassword
	cfg.TLSEnabled = src.TLSEnabled
	cfg.TLSCertFile = src.TLSCertFile
	cfg.TLSKeyFile = src.TLSKeyFile
	cfg.TLSCAFile = src.TLSCAFile
	cfg.TLSSkipVerify = src.TLSSkipVerify
	return cfg
}

// pipelineSink records alerts through the manager and fans accepted ones
// out to Kafka. Deduplicated alerts are not republished.
type pipelineSink struct {
	manager   *alerting.Manager
	publisher *kafka.AlertPublisher
}

func (s *pipelineSink) Record(alert *schema.Alert) (bool, error) {
	recorded, err := s.manager.Record(alert)
	if err != nil || !recorded {
		return recorded, err
	}

	if s.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, alert); err != nil {
			// Fan-out is best effort; the alert is already persisted.
			slog.Warn("alert fan-out failed", "alert_id", alert.ID, "error", err)
		}
	}

	return true, nil
}

// dedupSweepLoop drops expired suppression entries on a fixed cadence.
func dedupSweepLoop(ctx context.Context, m *alerting.Manager, window time.Duration) {
	if window <= 0 {
		return
	}

	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.PruneDedup(); removed > 0 {
				slog.Debug("dedup entries swept", "removed", removed)
			}
		}
	}
}

// archiveLoop moves aged alerts to object storage and applies table TTLs.
func archiveLoop(ctx context.Context, cfg *config.Config, chClient *storage.ClickHouseClient, logger *slog.Logger) {
	s3Client, err := s3.NewClient(ctx, &s3.Config{
		Region:               cfg.Archive.S3.Region,
		Bucket:               cfg.Archive.S3.Bucket,
		Prefix:               cfg.Archive.S3.Prefix,
		Endpoint:             cfg.Archive.S3.Endpoint,
		AccessKeyID:          cfg.Archive.S3.AccessKeyID,
		SecretAccessKey:      cfg.Archive.S3.SecretAccessKey,
		StorageClass:         cfg.Archive.S3.StorageClass,
		ServerSideEncryption: cfg.Archive.S3.ServerSideEncryption,
		UsePathStyle:         cfg.Archive.S3.UsePathStyle,
		RetryMaxAttempts:     cfg.Archive.S3.RetryMaxAttempts,
		Timeout:              cfg.Archive.S3.Timeout,
	}, logger)
	if err != nil {
		slog.Error("archive disabled, s3 client failed", "error", err)
		return
	}

	archiver := s3.NewArchiver(s3Client, &s3.ArchiverConfig{
		BatchSize:   cfg.Archive.BatchSize,
		Compression: s3.CompressionType(cfg.Archive.Compression),
	}, logger)

	alertStore := storage.NewAlertStore(chClient)
	retention := storage.NewRetentionManager(chClient, storage.RetentionConfig{
		AlertsTTL: cfg.Storage.Retention.AlertsTTL,
		HourlyTTL: cfg.Storage.Retention.HourlyTTL,
	})

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-cfg.Storage.Retention.AlertsTTL)
		aged, err := alertStore.ListOlderThan(ctx, cutoff, cfg.Archive.BatchSize)
		if err != nil {
			slog.Error("archive scan failed", "error", err)
			continue
		}

		if len(aged) > 0 {
			manifest, err := archiver.Archive(ctx, aged)
			if err != nil {
				slog.Error("archive upload failed", "error", err)
				continue
			}
			slog.Info("alerts archived",
				"archive_id", manifest.ID,
				"count", len(aged),
			)
		}

		if err := retention.ApplyTTLs(ctx); err != nil {
			slog.Error("retention enforcement failed", "error", err)
		}
	}
}

// unavailableStore stands in for the alert store when ClickHouse is
// disabled; every call reports the subsystem as unavailable.
type unavailableStore struct{}

var errStorageDisabled = apperr.E(apperr.KindUnavailable, "alert storage is disabled")

func (unavailableStore) Get(context.Context, int64, uuid.UUID) (*schema.Alert, error) {
	return nil, errStorageDisabled
}

func (unavailableStore) List(context.Context, int64, storage.AlertFilter) ([]*schema.Alert, error) {
	return nil, errStorageDisabled
}

func (unavailableStore) SetStatus(context.Context, int64, uuid.UUID, schema.AlertStatus, string, time.Time) error {
	return errStorageDisabled
}

func (unavailableStore) CountByCriticality(context.Context, int64, storage.AggregateFilter) ([]storage.CriticalityCount, error) {
	return nil, errStorageDisabled
}

func (unavailableStore) CountByCamera(context.Context, int64, storage.AggregateFilter) ([]storage.CameraCount, error) {
	return nil, errStorageDisabled
}

func (unavailableStore) CountByTimeBucket(context.Context, int64, storage.AggregateFilter, string) ([]storage.TimeBucketCount, error) {
	return nil, errStorageDisabled
}

// discardWriter drops alerts when storage is disabled. The queue metrics
// still account for them.
type discardWriter struct{}

func (discardWriter) Write(*schema.Alert) error { return nil }
