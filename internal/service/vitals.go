package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"owl-vitals/internal/alert"
	"owl-vitals/internal/config"
	"owl-vitals/internal/consumer"
	"owl-vitals/internal/database"
	"owl-vitals/internal/detector"
	"owl-vitals/internal/generator"
	"owl-vitals/internal/history"
	httpapi "owl-vitals/internal/http"
	"owl-vitals/internal/models"
	"owl-vitals/internal/modelstore"
	"owl-vitals/internal/monitor"
	"owl-vitals/internal/mqtt"
	"owl-vitals/internal/predictor"
	redisclient "owl-vitals/internal/redis"
	"owl-vitals/internal/repository"
	"owl-vitals/internal/risk"
	"owl-vitals/internal/store"
	"owl-vitals/internal/websocket"
)

// Persisted model names
const (
	AutoencoderModelName = "autoencoder"
	SequenceModelName    = "sequence"
	isolationBlobPrefix  = "isolation"
)

// VitalsService wires the monitoring pipeline to its optional infrastructure
type VitalsService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	fileStore   *modelstore.FileStore
	levelStore  *modelstore.LevelStore

	ranges      *detector.RangeDetector
	isolation   *detector.IsolationDetector
	autoencoder *detector.AutoencoderDetector
	trainer     *detector.Trainer
	predictor   *predictor.Predictor
	store       *history.Store
	pipeline    *monitor.Pipeline
	monitor     *monitor.Service
	settings    *monitor.Settings
	hub         *websocket.Hub
	alertRepo   *repository.AlertEventsRepository
	archiver    *consumer.AlertArchiver
	ingest      *consumer.VitalsIngestConsumer

	handler http.Handler
	server  *Server
}

// NewVitalsService connects enabled backends, restores persisted models and builds the pipeline.
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	s := &VitalsService{config: cfg, logger: logger}
	ctx := context.Background()

	// 1. optional backends
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.alertRepo = repository.NewAlertEventsRepository(db, logger)
		if err := s.alertRepo.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	if cfg.RedisEnabled {
		s.redisClient = redisclient.NewRedisClient(&cfg.Redis)
		if err := redisclient.Ping(ctx, s.redisClient); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}
	if cfg.ModelStore.Dir != "" {
		fs, err := modelstore.NewFileStore(cfg.ModelStore.Dir)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.fileStore = fs
	}
	if cfg.ModelStore.LevelDBPath != "" {
		ls, err := modelstore.OpenLevelStore(cfg.ModelStore.LevelDBPath)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.levelStore = ls
	}

	// 2. models
	s.buildModels()
	s.restoreModels()

	// 3. pipeline
	policy := alert.NewPolicy(cfg.Alert.RiskThreshold, cfg.Alert.AnomalyRiskThreshold)
	calculator := risk.NewCalculator()
	s.store = history.NewStore(cfg.Monitor.HistoryCapacity, cfg.Alert.LogSize)
	// the pipeline and monitor are built below; the hub only calls into them once serving
	s.hub = websocket.NewHub(logger,
		websocket.WithInitialData(func(patientID string) *models.InitialData {
			return s.monitor.InitialData(patientID)
		}),
		websocket.WithAnalyzer(func(ctx context.Context, patientID string, reading models.VitalReading) (*models.TickPayload, error) {
			return s.pipeline.Analyze(ctx, patientID, reading)
		}),
	)

	var ae detector.Detector
	if cfg.Detector.AutoencoderEnabled {
		ae = s.autoencoder
	}
	composite := detector.NewComposite(s.ranges, s.isolation, ae, logger)

	opts := []monitor.PipelineOption{monitor.WithSinks(s.sinks()...)}
	if cfg.Predictor.SequenceModelEnabled {
		seqCfg := predictor.DefaultSequenceConfig()
		seqCfg.SequenceLength = cfg.Predictor.SequenceLength
		seqCfg.Horizon = cfg.Predictor.Horizon
		seqTrainer := predictor.NewTrainer(s.predictor, seqCfg, cfg.Detector.Seed, logger)
		seqTrainer.OnTrained(s.saveSequenceModel)
		opts = append(opts, monitor.WithSequenceTrainer(seqTrainer))
	}

	s.pipeline = monitor.NewPipeline(s.store, s.trainer, composite, s.predictor, calculator, policy, logger, opts...)
	s.monitor = monitor.NewService(s.pipeline, cfg.Monitor.Interval, cfg.Monitor.Patients, logger,
		monitor.WithGeneratorFactory(s.newGenerator),
	)
	s.settings = monitor.NewSettings(s.pipeline, policy, s.ranges, composite, s.predictor, logger,
		monitor.WithMonitor(s.monitor),
	)
	if err := s.settings.Apply(initialSettings(cfg)); err != nil {
		s.Close()
		return nil, err
	}

	// 4. consumers
	if s.redisClient != nil && s.alertRepo != nil {
		s.archiver = consumer.NewAlertArchiver(s.redisClient, s.alertRepo,
			cfg.Streams.Alerts, cfg.Streams.ConsumerGroup, cfg.Streams.ConsumerName, cfg.Streams.BatchSize, logger)
	}
	if cfg.MQTTEnabled {
		client, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.mqttClient = client
		s.ingest = consumer.NewVitalsIngestConsumer(client, cfg.MQTT.Topic, cfg.MQTT.QoS, s.pipeline, logger)
	}

	// 5. HTTP
	handlerOpts := []httpapi.VitalsHandlerOption{
		httpapi.WithDetectorStates(s.trainer.States),
		httpapi.WithClientCount(s.hub.ClientCount),
		httpapi.WithSeedSize(cfg.Monitor.HistoryCapacity),
	}
	if s.alertRepo != nil {
		handlerOpts = append(handlerOpts, httpapi.WithAlertArchive(s.alertRepo))
	}
	router := httpapi.NewRouter(logger)
	router.RegisterVitalsRoutes(httpapi.NewVitalsHandler(s.monitor, s.settings, calculator, logger, handlerOpts...))
	router.RegisterWebSocket(s.hub)
	s.handler = router.WithCORS(cfg.HTTP.AllowedOrigins)
	s.server = NewServer(&cfg.HTTP, s.handler, logger)

	if cfg.Monitor.SeedHistory {
		for _, id := range s.monitor.Patients() {
			s.monitor.SeedHistory(id, cfg.Monitor.HistoryCapacity)
		}
	}
	return s, nil
}

func (s *VitalsService) buildModels() {
	cfg := s.config
	s.ranges = detector.NewRangeDetector(nil)
	s.isolation = detector.NewIsolationDetector(cfg.Detector.Contamination, cfg.Detector.Seed, cfg.Detector.IsolationMinSamples)

	aeCfg := detector.DefaultAutoencoderConfig()
	if cfg.Detector.ThresholdMultiplier > 0 {
		aeCfg.ThresholdMultiplier = cfg.Detector.ThresholdMultiplier
	}
	if cfg.Detector.Epochs > 0 {
		aeCfg.Epochs = cfg.Detector.Epochs
	}
	s.autoencoder = detector.NewAutoencoderDetector(aeCfg, cfg.Detector.AutoencoderMinSamples, cfg.Detector.Seed, s.ranges)

	trainables := []detector.Trainable{s.isolation}
	if cfg.Detector.AutoencoderEnabled {
		trainables = append(trainables, s.autoencoder)
	}
	s.trainer = detector.NewTrainer(cfg.Detector.RetrainEvery, s.logger, trainables...)
	s.trainer.OnTrained(s.saveDetector)

	s.predictor = predictor.New(
		predictor.WithHorizon(cfg.Predictor.Horizon),
		predictor.WithStep(cfg.Predictor.Step),
		predictor.WithSeed(cfg.Detector.Seed),
		predictor.WithLogger(s.logger),
	)
}

// restoreModels loads whatever was persisted; anything missing trains on live history.
func (s *VitalsService) restoreModels() {
	if s.fileStore != nil && s.fileStore.Exists(AutoencoderModelName) {
		m, err := s.fileStore.LoadAutoencoder(AutoencoderModelName)
		if err == nil {
			err = s.autoencoder.Restore(m)
		}
		if err != nil {
			s.logger.Warn("Failed to restore autoencoder, will train on live history", zap.Error(err))
		} else {
			s.logger.Info("Autoencoder restored", zap.String("dir", s.config.ModelStore.Dir))
		}
	}

	if s.fileStore != nil && s.fileStore.Exists(SequenceModelName) {
		if m, err := s.loadSequenceModel(); err != nil {
			s.logger.Warn("Failed to restore sequence model", zap.Error(err))
		} else {
			s.predictor.SetModel(m)
			s.logger.Info("Sequence model restored")
		}
	}

	if s.levelStore != nil {
		blobs, err := s.levelStore.LoadBlobs(isolationBlobPrefix)
		switch {
		case errors.Is(err, modelstore.ErrNotFound):
		case err != nil:
			s.logger.Warn("Failed to load isolation forests", zap.Error(err))
		default:
			if err := s.isolation.Import(blobs); err != nil {
				s.logger.Warn("Failed to restore isolation forests", zap.Error(err))
			} else {
				s.logger.Info("Isolation forests restored", zap.Int("forests", len(blobs)))
			}
		}
	}
}

func (s *VitalsService) loadSequenceModel() (*predictor.SequenceModel, error) {
	var sidecar predictor.SequenceSidecar
	net, err := s.fileStore.LoadNetwork(SequenceModelName, &sidecar)
	if err != nil {
		return nil, err
	}
	return predictor.NewSequenceModel(net, sidecar)
}

// saveDetector persists a freshly trained detector. Failures are logged only.
func (s *VitalsService) saveDetector(m detector.Trainable) {
	switch d := m.(type) {
	case *detector.AutoencoderDetector:
		if s.fileStore == nil {
			return
		}
		if err := s.fileStore.SaveAutoencoder(AutoencoderModelName, d.Model()); err != nil {
			s.logger.Error("Failed to save autoencoder", zap.Error(err))
		}
	case *detector.IsolationDetector:
		if s.levelStore == nil {
			return
		}
		blobs, err := d.Export()
		if err == nil {
			err = s.levelStore.SaveBlobs(isolationBlobPrefix, blobs)
		}
		if err != nil {
			s.logger.Error("Failed to save isolation forests", zap.Error(err))
		}
	}
}

func (s *VitalsService) saveSequenceModel(m *predictor.SequenceModel) {
	if s.fileStore == nil {
		return
	}
	if err := s.fileStore.SaveNetwork(SequenceModelName, m.Network, m.Sidecar()); err != nil {
		s.logger.Error("Failed to save sequence model", zap.Error(err))
	}
}

func (s *VitalsService) sinks() []monitor.Sink {
	sinks := []monitor.Sink{monitor.NewHubSink(s.hub)}
	if s.redisClient != nil {
		cache := store.NewSnapshotCache(store.NewRedisKV(s.redisClient), s.config.Cache.KeyPrefix, s.config.Cache.TTL, s.logger)
		sinks = append(sinks,
			monitor.NewCacheSink(cache),
			monitor.NewStreamSink(s.redisClient, s.config.Streams.Ticks, s.config.Streams.Alerts),
		)
	} else if s.alertRepo != nil {
		// no stream to archive from: write alerts straight to the table
		sinks = append(sinks, monitor.NewNotifierSink(&archiveNotifier{repo: s.alertRepo}))
	}
	if s.config.Webhook.URL != "" {
		sinks = append(sinks, monitor.NewNotifierSink(
			alert.NewWebhookNotifier(s.config.Webhook.URL, s.config.Webhook.Timeout, s.logger),
		))
	}
	return sinks
}

func (s *VitalsService) newGenerator(string) *generator.Generator {
	return generator.New()
}

func initialSettings(cfg *config.Config) models.Settings {
	st := models.DefaultSettings()
	st.AlertPolicy.RiskThreshold = cfg.Alert.RiskThreshold
	st.AlertPolicy.AnomalyRiskThreshold = cfg.Alert.AnomalyRiskThreshold
	st.AIModelSettings.PredictionHorizon = cfg.Predictor.Horizon
	st.AIModelSettings.EnableAutoencoder = cfg.Detector.AutoencoderEnabled
	if secs := int(cfg.Monitor.Interval / time.Second); secs > 0 {
		st.DisplaySettings.UpdateFrequency = secs
	}
	return st
}

// Handler HTTP handler with every route mounted
func (s *VitalsService) Handler() http.Handler { return s.handler }

// Monitor the periodic monitoring loop
func (s *VitalsService) Monitor() *monitor.Service { return s.monitor }

// Start runs the hub, monitor loop, consumers and HTTP server until ctx is cancelled or one fails.
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals service",
		zap.Strings("patients", s.monitor.Patients()),
		zap.Bool("redis", s.redisClient != nil),
		zap.Bool("database", s.db != nil),
		zap.Bool("mqtt", s.ingest != nil),
	)

	errChan := make(chan error, 4)
	go s.hub.Run(ctx)
	go func() {
		if err := s.monitor.Start(ctx); err != nil {
			errChan <- fmt.Errorf("monitor: %w", err)
		}
	}()
	if s.archiver != nil {
		go func() {
			if err := s.archiver.Start(ctx); err != nil {
				errChan <- fmt.Errorf("alert archiver: %w", err)
			}
		}()
	}
	if s.ingest != nil {
		go func() {
			if err := s.ingest.Start(ctx); err != nil {
				errChan <- fmt.Errorf("vitals ingest: %w", err)
			}
		}()
	}
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop shuts the HTTP server down and releases every backend.
func (s *VitalsService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping vitals service")
	err := s.server.Stop(ctx)
	if s.ingest != nil {
		if uerr := s.ingest.Stop(); uerr != nil {
			s.logger.Error("Failed to stop vitals ingest", zap.Error(uerr))
		}
	}
	s.Close()
	return err
}

// Close releases backends without touching the HTTP server.
func (s *VitalsService) Close() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.levelStore != nil {
		if err := s.levelStore.Close(); err != nil {
			s.logger.Error("Failed to close model store", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
}

// archiveNotifier stores fired alerts directly when no stream is configured
type archiveNotifier struct {
	repo *repository.AlertEventsRepository
}

func (n *archiveNotifier) Notify(ctx context.Context, a models.Alert) error {
	return n.repo.CreateAlertEvent(ctx, &a)
}
