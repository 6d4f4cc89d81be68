package detector

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// Trainer drives the UNTRAINED -> TRAINED transition of each model and the optional retrain cadence.
// Detect calls never train.
type Trainer struct {
	mu           sync.Mutex
	models       []Trainable
	retrainEvery int
	observed     int
	trainedAt    map[string]int
	onTrained    func(Trainable)
	logger       *zap.Logger
}

// NewTrainer creates a Trainer. retrainEvery 0 trains each model once.
func NewTrainer(retrainEvery int, logger *zap.Logger, models ...Trainable) *Trainer {
	return &Trainer{
		models:       models,
		retrainEvery: retrainEvery,
		trainedAt:    make(map[string]int, len(models)),
		logger:       logger,
	}
}

// OnTrained registers a hook run after every successful training, e.g. persistence.
func (t *Trainer) OnTrained(fn func(Trainable)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrained = fn
}

// Observe is called once per appended reading with the current history.
// It returns the names of models trained during this call.
func (t *Trainer) Observe(h *models.HistorySnapshot) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed++

	var trained []string
	for _, m := range t.models {
		if !t.due(m, h) {
			continue
		}
		if err := m.Train(h); err != nil {
			if errors.Is(err, ErrInsufficientHistory) {
				continue
			}
			t.logger.Warn("Failed to train detector",
				zap.String("method", m.Name()),
				zap.Int("samples", h.Len()),
				zap.Error(err),
			)
			continue
		}
		t.trainedAt[m.Name()] = t.observed
		trained = append(trained, m.Name())
		t.logger.Info("Detector trained",
			zap.String("method", m.Name()),
			zap.Int("samples", h.Len()),
		)
		if t.onTrained != nil {
			t.onTrained(m)
		}
	}
	return trained
}

func (t *Trainer) due(m Trainable, h *models.HistorySnapshot) bool {
	if m.State() == StateUntrained {
		return h.Len() > m.MinSamples()
	}
	if t.retrainEvery <= 0 {
		return false
	}
	return t.observed-t.trainedAt[m.Name()] >= t.retrainEvery
}

// States reports the training state per model name.
func (t *Trainer) States() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.models))
	for _, m := range t.models {
		out[m.Name()] = m.State().String()
	}
	return out
}
