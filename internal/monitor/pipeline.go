// Package monitor runs the per-tick vitals pipeline and the periodic monitoring loop.
package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/alert"
	"owl-vitals/internal/detector"
	"owl-vitals/internal/ecg"
	"owl-vitals/internal/history"
	"owl-vitals/internal/models"
	"owl-vitals/internal/predictor"
	"owl-vitals/internal/risk"
)

// Sink receives every tick payload after the pipeline has run. Sink failures are logged only.
type Sink interface {
	Name() string
	Consume(ctx context.Context, payload *models.TickPayload) error
}

// Pipeline one tick for one patient: append, train, detect, predict, score, alert, publish.
type Pipeline struct {
	store            *history.Store
	trainer          *detector.Trainer
	sequenceTrainer  *predictor.Trainer
	detector         detector.Detector
	predictor        *predictor.Predictor
	calculator       *risk.Calculator
	policy           *alert.Policy
	sinks            []Sink
	ecgEnabled       atomic.Bool
	predictionsShown atomic.Bool
	clock            func() time.Time
	logger           *zap.Logger
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithSinks appends payload sinks.
func WithSinks(sinks ...Sink) PipelineOption {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithSequenceTrainer trains the sequence predictor from live history.
func WithSequenceTrainer(t *predictor.Trainer) PipelineOption {
	return func(p *Pipeline) { p.sequenceTrainer = t }
}

// WithClock overrides the timestamp source for readings without one.
func WithClock(clock func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.clock = clock }
}

// NewPipeline creates a Pipeline
func NewPipeline(
	store *history.Store,
	trainer *detector.Trainer,
	det detector.Detector,
	pred *predictor.Predictor,
	calculator *risk.Calculator,
	policy *alert.Policy,
	logger *zap.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		store:      store,
		trainer:    trainer,
		detector:   det,
		predictor:  pred,
		calculator: calculator,
		policy:     policy,
		clock:      time.Now,
		logger:     logger,
	}
	p.ecgEnabled.Store(true)
	p.predictionsShown.Store(true)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetECGAnalysis toggles ECG analysis in payloads.
func (p *Pipeline) SetECGAnalysis(enabled bool) { p.ecgEnabled.Store(enabled) }

// SetShowPredictions toggles predictions in payloads. Risk scoring always uses them.
func (p *Pipeline) SetShowPredictions(show bool) { p.predictionsShown.Store(show) }

// Store patient store the pipeline writes to.
func (p *Pipeline) Store() *history.Store { return p.store }

// Process runs one tick. The reading is appended before detection so models see it.
func (p *Pipeline) Process(ctx context.Context, patientID string, reading models.VitalReading) (*models.TickPayload, error) {
	if err := p.prepare(ctx, &reading); err != nil {
		return nil, err
	}

	snapshot, _ := p.store.Append(patientID, reading)
	if trained := p.trainer.Observe(snapshot); len(trained) > 0 {
		p.logger.Info("Detectors trained",
			zap.String("patient_id", patientID),
			zap.Strings("methods", trained),
			zap.Int("samples", snapshot.Len()),
		)
	}
	if p.sequenceTrainer != nil {
		p.sequenceTrainer.Observe(snapshot)
	}

	payload, assessment := p.analyze(patientID, reading, snapshot)

	fired := p.policy.Evaluate(patientID, assessment, payload.AnomalyResults, reading, reading.Timestamp)
	if fired != nil {
		payload.Alerts = p.store.AppendAlert(patientID, *fired)
		payload.NewAlert = fired
		p.logger.Info("Alert fired",
			zap.String("patient_id", patientID),
			zap.String("alert_id", fired.ID),
			zap.Float64("risk_score", fired.RiskScore),
			zap.Strings("risk_factors", fired.RiskFactors),
		)
	} else {
		payload.Alerts = p.store.Alerts(patientID)
	}

	for _, s := range p.sinks {
		if err := s.Consume(ctx, payload); err != nil {
			p.logger.Warn("Failed to deliver tick payload",
				zap.String("sink", s.Name()),
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}
	return payload, nil
}

// Analyze runs detection, prediction, scoring and ECG analysis for a what-if reading against
// the patient's history. Nothing is stored or trained, no alert is logged and no sink is called.
func (p *Pipeline) Analyze(ctx context.Context, patientID string, reading models.VitalReading) (*models.TickPayload, error) {
	if err := p.prepare(ctx, &reading); err != nil {
		return nil, err
	}

	snapshot := p.store.Snapshot(patientID)
	snapshot.Append(reading.Timestamp.Format(models.TimestampLayout), &reading, reading.ECGSummary())

	payload, _ := p.analyze(patientID, reading, snapshot)
	payload.Alerts = p.store.Alerts(patientID)
	return payload, nil
}

func (p *Pipeline) prepare(ctx context.Context, reading *models.VitalReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = p.clock()
	}
	return nil
}

// analyze builds the payload for reading; snapshot must already include it.
func (p *Pipeline) analyze(patientID string, reading models.VitalReading, snapshot *models.HistorySnapshot) (*models.TickPayload, models.RiskAssessment) {
	var verdict *models.AnomalyVerdict
	if res := p.detector.Detect(&reading); res.Err != nil {
		p.logger.Warn("Anomaly detection failed",
			zap.String("patient_id", patientID),
			zap.Error(res.Err),
		)
	} else {
		verdict = res.Verdict
	}

	predictions, err := p.predictor.Predict(snapshot)
	if err != nil {
		p.logger.Warn("Prediction failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}

	assessment := p.calculator.Calculate(reading, predictions, verdict)

	payload := &models.TickPayload{
		PatientID:      patientID,
		Timestamp:      reading.Timestamp.Format(models.TimestampLayout),
		CurrentVitals:  reading,
		AnomalyResults: verdict,
		RiskScore:      assessment.Score,
		RiskFactors:    assessment.Factors,
	}
	if payload.RiskFactors == nil {
		payload.RiskFactors = []string{}
	}
	if p.predictionsShown.Load() {
		payload.Predictions = predictions
	}
	if p.ecgEnabled.Load() {
		payload.ECGAnalysis = ecg.Analyze(reading.ECG)
	}
	return payload, assessment
}
