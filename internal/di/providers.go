package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"DriftWatch/internal/domain/models"
	"DriftWatch/internal/domain/repository"
	"DriftWatch/internal/drift"
	"DriftWatch/internal/handler/api"
	mid "DriftWatch/internal/middleware"
	internalrepo "DriftWatch/internal/repository"
	"DriftWatch/internal/retraining"
	"DriftWatch/internal/service/alerting"
	"DriftWatch/internal/service/finnhub"
	modelsvc "DriftWatch/internal/service/model"
	"DriftWatch/internal/services/features"
	"DriftWatch/internal/usecase"
	pkgcache "DriftWatch/pkg/cache"
	pkgch "DriftWatch/pkg/clickhouse"
	"DriftWatch/pkg/config"
	xhttp "DriftWatch/pkg/http"
	pkgkafka "DriftWatch/pkg/kafka"
	applogger "DriftWatch/pkg/logger"
	"DriftWatch/pkg/metrics"
	"DriftWatch/pkg/queue"
	"DriftWatch/pkg/server"
)

// ProvideLogger creates the application logger. Development gets human-readable
// console output at debug level; everything else logs JSON at info.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	lc := &applogger.Config{Level: "info", Format: "json", Output: "stdout"}
	if cfg.Environment == "development" {
		lc.Level = "debug"
		lc.Format = "console"
	}
	l, err := applogger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l, nil
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eventTable := cfg.ClickHouse.EventTable
	if eventTable == "" {
		eventTable = "driftwatch.drift_events"
	}
	candleTable := cfg.ClickHouse.CandleTable
	if candleTable == "" {
		candleTable = "driftwatch.rt_candles_1m"
	}

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS driftwatch",
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (ts DateTime, detectors String, voting_method String, metrics String, samples_before Int64) ENGINE=MergeTree ORDER BY ts", eventTable),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (symbol String, t DateTime, c Float64, v Float64) ENGINE=MergeTree ORDER BY (symbol, t)", candleTable),
	}); err != nil {
		_ = client.Close() // cannot log here (DI layer runs before the logger); propagate
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideEventStorage creates the ClickHouse drift-event archive.
func ProvideEventStorage(chClient *pkgch.Client, cfg *config.Config) repository.EventStorage {
	table := cfg.ClickHouse.EventTable
	if table == "" {
		table = "driftwatch.drift_events"
	}
	return internalrepo.NewClickHouseEventStorage(chClient.DB(), table)
}

// ProvideEventPublisher creates the Kafka drift-event publisher.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventTopic)
}

// ProvideEventProcessor routes confirmed drift events to the configured backends.
func ProvideEventProcessor(
	pub repository.EventPublisher,
	store repository.EventStorage,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.DriftEventProcessor {
	return usecase.NewDriftEventProcessor(pub, store, m, l, cfg.Backend.Type, cfg.Backend.BatchTimeout)
}

// ProvideEnsemble builds the detector ensemble from configuration. Duplicate
// detector kinds get an index suffix so every member keeps a distinct name.
func ProvideEnsemble(cfg *config.Config, l *applogger.Logger) (*drift.Ensemble, error) {
	ens, err := drift.NewEnsemble(drift.EnsembleConfig{
		Policy:              drift.VotingPolicy(cfg.Drift.VotingPolicy),
		ConfidenceThreshold: cfg.Drift.ConfidenceThreshold,
		MaxHistory:          cfg.Drift.MaxHistory,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("ensemble: %w", err)
	}

	seen := make(map[string]int)
	for _, dc := range cfg.Drift.Detectors {
		// Multivariate detectors default to the extractor's vector width.
		if dc.Dimensions <= 0 {
			dc.Dimensions = features.Dimensions
		}
		d, err := drift.New(drift.Kind(dc.Kind), drift.Config{
			Delta:        dc.Delta,
			MaxBuckets:   dc.MaxBuckets,
			MinSamples:   dc.MinSamples,
			WarningLevel: dc.WarningLevel,
			DriftLevel:   dc.DriftLevel,
			PHDelta:      dc.PHDelta,
			PHThreshold:  dc.PHThreshold,
			WindowSize:   dc.WindowSize,
			PThreshold:   dc.PThreshold,
			Dimensions:   dc.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("detector %q: %w", dc.Kind, err)
		}
		name := dc.Kind
		if n := seen[dc.Kind]; n > 0 {
			name = fmt.Sprintf("%s_%d", dc.Kind, n+1)
		}
		seen[dc.Kind]++
		ens.AddDetector(name, d)
	}
	return ens, nil
}

// ProvideMonitor creates the drift monitor around the ensemble.
func ProvideMonitor(cfg *config.Config, ens *drift.Ensemble, l *applogger.Logger) *drift.Monitor {
	return drift.NewMonitor(drift.MonitorConfig{
		MinSamplesForDetection: cfg.Drift.MinSamplesForDetection,
		AlertCooldown:          cfg.Drift.AlertCooldown,
		CheckInterval:          cfg.Drift.CheckInterval,
		HistoryRetention:       cfg.Drift.HistoryRetention,
		MaxEvents:              cfg.Drift.MaxEvents,
		BufferSize:             cfg.Drift.BufferSize,
		AutoResetAfterDrift:    cfg.Drift.AutoResetAfterDrift,
		TrendWindow:            cfg.Drift.TrendWindow,
		TrendSlopeThreshold:    cfg.Drift.TrendSlopeThreshold,
		TrendMetric:            cfg.Drift.TrendMetric,
		EventLogPath:           cfg.Drift.EventLogPath,
	}, ens, l)
}

// ProvideIngestor adapts the monitor to the realtime pipeline's sink interface.
func ProvideIngestor(monitor *drift.Monitor, m repository.Metrics) *usecase.MonitorIngestor {
	return usecase.NewMonitorIngestor(monitor, m)
}

// ProvideFinnhubStream creates the Finnhub WebSocket stream.
func ProvideFinnhubStream(cfg *config.Config) repository.MarketStream {
	return finnhub.New(
		cfg.Finnhub.APIKey,
		cfg.Finnhub.WebSocketURL,
		cfg.Finnhub.Symbols,
		cfg.Finnhub.ReconnectDelay,
		cfg.Finnhub.PingInterval,
	)
}

// ProvideFeedbackCollector wires stream -> feature extractor -> pipeline -> monitor.
func ProvideFeedbackCollector(
	stream repository.MarketStream,
	ingestor *usecase.MonitorIngestor,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.FeedbackCollector {
	extractor := features.NewExtractor(cfg.Drift.FeatureWindow)
	pipe := mid.NewRealtimePipeline(ingestor, m,
		mid.WithMaxRPS(cfg.Drift.PipelineMaxRPS),
		mid.WithBufferSize(cfg.Drift.PipelineBuffer),
	)
	return usecase.NewFeedbackCollector(stream, extractor, pipe, m)
}

// ProvideKafkaFeedbackHandler registers the handler for the feedback topic.
func ProvideKafkaFeedbackHandler(ingestor *usecase.MonitorIngestor, m repository.Metrics, cfg *config.Config) *usecase.KafkaFeedbackHandler {
	return usecase.NewKafkaFeedbackHandler(cfg.Kafka.FeedbackTopic, ingestor, m)
}

// ProvidePerformanceTracker asks the model service about degradation.
func ProvidePerformanceTracker(cfg *config.Config, l *applogger.Logger) repository.PerformanceTracker {
	c := modelsvc.NewClient(cfg.ModelService.BaseURL, cfg.ModelService.Timeout, cfg.ModelService.RetryAttempts, l)
	return modelsvc.NewTracker(c)
}

// ProvideTrainingStore creates the ClickHouse training-window reader.
func ProvideTrainingStore(chClient *pkgch.Client, cfg *config.Config, l *applogger.Logger) *internalrepo.CHTrainingStore {
	store := internalrepo.NewCHTrainingStore(chClient, cfg.ClickHouse.CandleTable)
	store.SetLogger(l)
	return store
}

// ProvideCheckpointManager creates the model checkpoint store.
func ProvideCheckpointManager(cfg *config.Config, l *applogger.Logger) (*retraining.CheckpointManager, error) {
	dir := cfg.Retraining.CheckpointDir
	if dir == "" {
		dir = "checkpoints"
	}
	return retraining.NewCheckpointManager(dir, cfg.Retraining.CheckpointKeepLast, l)
}

// ProvideScheduler creates the retraining scheduler and registers every
// configured model. Each model gets its own client scoped to
// <model_service.base_url>/<model_id>, so one serving process per model works
// out of the box.
func ProvideScheduler(
	cfg *config.Config,
	perf repository.PerformanceTracker,
	monitor *drift.Monitor,
	ckpt *retraining.CheckpointManager,
	m repository.Metrics,
	trainingStore *internalrepo.CHTrainingStore,
	l *applogger.Logger,
) (*retraining.Scheduler, error) {
	s := retraining.NewScheduler(retraining.SchedulerConfig{
		TickInterval:         cfg.Retraining.TickInterval,
		Cooldown:             cfg.Retraining.Cooldown,
		MinSamplesForRetrain: cfg.Retraining.MinSamplesForRetrain,
		DriftWindow:          cfg.Retraining.DriftWindow,
		MaxPending:           cfg.Retraining.MaxPending,
		MaxHistory:           cfg.Retraining.MaxHistory,
		JobTimeout:           cfg.Retraining.JobTimeout,
	}, perf, monitor, ckpt, m, l)

	base := strings.TrimRight(cfg.ModelService.BaseURL, "/")
	for _, mc := range cfg.Retraining.Models {
		triggers := make([]models.RetrainingTrigger, 0, len(mc.Triggers))
		for _, tc := range mc.Triggers {
			triggers = append(triggers, convertTrigger(tc))
		}

		client := modelsvc.NewClient(base+"/"+mc.ID, cfg.ModelService.Timeout, cfg.ModelService.RetryAttempts, l)
		symbol, window := mc.Symbol, mc.TrainingWindow
		ds := func(ctx context.Context) (*models.TrainingSet, error) {
			return trainingStore.FetchTrainingWindow(ctx, symbol, window)
		}
		if err := s.RegisterModel(mc.ID, client, ds, triggers); err != nil {
			return nil, fmt.Errorf("register model %q: %w", mc.ID, err)
		}
	}
	return s, nil
}

func convertTrigger(tc config.TriggerConfig) models.RetrainingTrigger {
	t := models.RetrainingTrigger{
		Type:           models.TriggerType(tc.Type),
		Threshold:      tc.Threshold,
		SampleInterval: tc.SampleInterval,
		Enabled:        tc.Enabled,
		Priority:       tc.Priority,
	}
	if tc.Every > 0 || tc.DailyAt != "" {
		t.Schedule = &models.Schedule{Every: tc.Every, DailyAt: tc.DailyAt}
	}
	return t
}

// ProvideMonitoringHandler creates the HTTP API handler with its response
// cache. Redis (behind a small in-memory layer) when enabled, plain in-memory
// otherwise. A Redis that fails to ping degrades to memory with a warning.
func ProvideMonitoringHandler(
	l *applogger.Logger,
	monitor *drift.Monitor,
	scheduler *retraining.Scheduler,
	cfg *config.Config,
) xhttp.Handler {
	h := api.NewMonitoringHandler(l, monitor, scheduler)
	h.SetCache(buildResponseCache(cfg, l))
	return h
}

func buildResponseCache(cfg *config.Config, l *applogger.Logger) pkgcache.Service {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache()
	}
	host, port := splitHostPort(cfg.Redis.Addr)
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(host),
		pkgcache.WithRedisPort(port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		l.Warn("redis cache unavailable, using memory cache", applogger.Error(err))
		return pkgcache.NewMemoryCache()
	}
	return pkgcache.NewLayeredCache(rc)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 6379
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 6379
	}
	return host, port
}

// ProvideAlertQueue creates the Redis-backed alert queue, or nil when alert
// queueing is disabled or Redis is not configured.
func ProvideAlertQueue(cfg *config.Config, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Alerts.QueueEnabled || !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	prefix := cfg.Alerts.QueueName
	if prefix == "" {
		prefix = "driftwatch:alerts"
	}
	q := queue.NewRedisQueue(l, &queue.QueueConfig{Workers: 2, RetryLimit: 3}, client, queue.ModeProducerConsumer,
		queue.WithKeyPrefix(prefix),
	)
	q.RegisterJob(alerting.NewLogAlertJob(l))
	return q
}

// ProvideApp assembles the application and connects the monitor's fan-out:
// confirmed events flow to the processor sink, alerts to the Redis queue.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	monitor *drift.Monitor,
	scheduler *retraining.Scheduler,
	collector *usecase.FeedbackCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaFeedbackHandler,
	processor *usecase.DriftEventProcessor,
	alertQueue *queue.RedisQueue,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *server.App {
	monitor.RegisterEventSink(processor.Sink())
	if alertQueue != nil {
		sink := alerting.NewQueueSink(alertQueue, l)
		monitor.RegisterAlertCallback(sink.Callback())
		// Aggregated error logs ride the same queue as alerts.
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          "error_logs",
			Publisher:      alertQueue,
		})
	}
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}
	return server.New(cfg, l, monitor, scheduler, collector, consumer, kh, processor, alertQueue, chClient, handler)
}
