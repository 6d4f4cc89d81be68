package predictor

import (
	"errors"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// Trainer fits the sequence model once enough history has accumulated and installs it.
type Trainer struct {
	mu        sync.Mutex
	predictor *Predictor
	cfg       SequenceConfig
	rng       *rand.Rand
	onTrained func(*SequenceModel)
	logger    *zap.Logger
}

// NewTrainer creates a Trainer for p.
func NewTrainer(p *Predictor, cfg SequenceConfig, seed int64, logger *zap.Logger) *Trainer {
	return &Trainer{
		predictor: p,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		logger:    logger,
	}
}

// OnTrained registers a hook run after a successful fit.
func (t *Trainer) OnTrained(fn func(*SequenceModel)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTrained = fn
}

// Observe trains when no model is installed and the history is long enough.
func (t *Trainer) Observe(h *models.HistorySnapshot) bool {
	if t.predictor.Model() != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.predictor.Model() != nil {
		return false
	}

	m, err := TrainSequenceModel(h, t.cfg, t.rng)
	if err != nil {
		if !errors.Is(err, ErrInsufficientHistory) {
			t.logger.Warn("Failed to train sequence model", zap.Error(err))
		}
		return false
	}
	t.predictor.SetModel(m)
	t.logger.Info("Sequence model trained",
		zap.Int("samples", h.Len()),
		zap.Int("sequence_length", t.cfg.SequenceLength),
		zap.Int("horizon", t.cfg.Horizon),
	)
	if t.onTrained != nil {
		t.onTrained(m)
	}
	return true
}
