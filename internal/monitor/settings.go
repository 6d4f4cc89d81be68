package monitor

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/alert"
	"owl-vitals/internal/detector"
	"owl-vitals/internal/models"
	"owl-vitals/internal/predictor"
)

// Settings holds the active settings document and pushes changes into the running components.
type Settings struct {
	mu      sync.RWMutex
	current models.Settings

	pipeline  *Pipeline
	policy    *alert.Policy
	ranges    *detector.RangeDetector
	composite *detector.Composite
	predictor *predictor.Predictor
	monitor   *Service
	logger    *zap.Logger
}

// SettingsOption configures Settings
type SettingsOption func(*Settings)

// WithMonitor lets updateFrequency changes retime the monitor loop.
func WithMonitor(svc *Service) SettingsOption {
	return func(s *Settings) { s.monitor = svc }
}

// NewSettings creates Settings. composite may be nil when only range checks run.
func NewSettings(
	pipeline *Pipeline,
	policy *alert.Policy,
	ranges *detector.RangeDetector,
	composite *detector.Composite,
	pred *predictor.Predictor,
	logger *zap.Logger,
	opts ...SettingsOption,
) *Settings {
	s := &Settings{
		current:   models.DefaultSettings(),
		pipeline:  pipeline,
		policy:    policy,
		ranges:    ranges,
		composite: composite,
		predictor: pred,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the active settings document.
func (s *Settings) Get() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply validates next and applies it. An invalid document changes nothing.
func (s *Settings) Apply(next models.Settings) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.policy.SetThresholds(next.AlertPolicy.RiskThreshold, next.AlertPolicy.AnomalyRiskThreshold)
	s.ranges.SetRanges(detector.RangesFromSettings(next))
	s.predictor.SetHorizon(next.AIModelSettings.PredictionHorizon)
	if s.composite != nil {
		s.composite.SetAutoencoderEnabled(next.AIModelSettings.EnableAutoencoder)
	}
	s.pipeline.SetECGAnalysis(next.AIModelSettings.EnableAdvancedECG)
	s.pipeline.SetShowPredictions(next.DisplaySettings.ShowPredictions)
	// the configured interval stands until updateFrequency actually changes
	if s.monitor != nil && next.DisplaySettings.UpdateFrequency != s.current.DisplaySettings.UpdateFrequency {
		s.monitor.SetInterval(time.Duration(next.DisplaySettings.UpdateFrequency) * time.Second)
	}
	s.current = next

	s.logger.Info("Settings applied",
		zap.Float64("risk_threshold", next.AlertPolicy.RiskThreshold),
		zap.Float64("anomaly_risk_threshold", next.AlertPolicy.AnomalyRiskThreshold),
		zap.Int("prediction_horizon", next.AIModelSettings.PredictionHorizon),
		zap.Bool("autoencoder", next.AIModelSettings.EnableAutoencoder),
		zap.Int("update_frequency", next.DisplaySettings.UpdateFrequency),
	)
	return nil
}
