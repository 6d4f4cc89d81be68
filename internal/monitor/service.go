package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/generator"
	"owl-vitals/internal/models"
)

// Service generates a reading for every monitored patient on each tick and runs the pipeline.
type Service struct {
	pipeline *Pipeline
	interval time.Duration
	logger   *zap.Logger

	mu         sync.Mutex
	patients   []string
	generators map[string]*generator.Generator
	newGen     func(patientID string) *generator.Generator
	running    bool

	intervalChanged chan struct{}
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithGeneratorFactory overrides how per-patient generators are built.
func WithGeneratorFactory(fn func(patientID string) *generator.Generator) ServiceOption {
	return func(s *Service) { s.newGen = fn }
}

// NewService creates a Service
func NewService(pipeline *Pipeline, interval time.Duration, patients []string, logger *zap.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		pipeline:   pipeline,
		interval:   interval,
		logger:     logger,
		patients:   append([]string(nil), patients...),
		generators: make(map[string]*generator.Generator),
		newGen:     func(string) *generator.Generator { return generator.New() },

		intervalChanged: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generator returns the patient's generator, creating it on first use.
func (s *Service) Generator(patientID string) *generator.Generator {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.generators[patientID]
	if !ok {
		g = s.newGen(patientID)
		s.generators[patientID] = g
	}
	return g
}

// AddPatient starts monitoring patientID on the next tick.
func (s *Service) AddPatient(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p == patientID {
			return
		}
	}
	s.patients = append(s.patients, patientID)
}

// Patients monitored patient ids.
func (s *Service) Patients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.patients...)
}

// Running reports whether Start is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval current tick interval.
func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the tick interval; a running loop picks it up without restarting.
func (s *Service) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	select {
	case s.intervalChanged <- struct{}{}:
	default:
	}
}

// Start runs the loop until ctx is cancelled. A failing patient never stops the loop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	interval := s.interval
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("Monitor service started",
		zap.Duration("interval", interval),
		zap.Strings("patients", s.Patients()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitor service stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.intervalChanged:
			if d := s.Interval(); d != interval {
				interval = d
				ticker.Reset(d)
				s.logger.Info("Monitor interval changed", zap.Duration("interval", d))
			}
		}
	}
}

// Tick processes one generated reading per patient.
func (s *Service) Tick(ctx context.Context) {
	for _, patientID := range s.Patients() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		reading := s.Generator(patientID).Generate()
		if _, err := s.pipeline.Process(ctx, patientID, reading); err != nil {
			s.logger.Error("Failed to process tick",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
		}
	}
}

// Simulate generates one reading for patientID and runs it through the pipeline.
func (s *Service) Simulate(ctx context.Context, patientID string) (*models.TickPayload, error) {
	return s.pipeline.Process(ctx, patientID, s.Generator(patientID).Generate())
}

// SeedHistory fills an empty patient history with synthetic readings at 5-minute spacing ending now.
func (s *Service) SeedHistory(patientID string, n int) bool {
	store := s.pipeline.Store()
	return store.SeedIfEmpty(patientID, func() []models.VitalReading {
		return s.Generator(patientID).Series(n, time.Now(), 5*time.Minute)
	})
}

// InitialData snapshot plus alert log for patientID; empty means the first monitored patient.
func (s *Service) InitialData(patientID string) *models.InitialData {
	if patientID == "" {
		if patients := s.Patients(); len(patients) > 0 {
			patientID = patients[0]
		}
	}
	store := s.pipeline.Store()
	alerts := store.Alerts(patientID)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return &models.InitialData{
		PatientID: patientID,
		History:   store.Snapshot(patientID),
		Alerts:    alerts,
	}
}

// Pipeline the pipeline each tick runs through.
func (s *Service) Pipeline() *Pipeline { return s.pipeline }
