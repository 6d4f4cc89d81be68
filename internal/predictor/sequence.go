package predictor

import (
	"errors"
	"fmt"
	"math/rand"

	"owl-vitals/internal/models"
	"owl-vitals/internal/nn"
)

var ErrInsufficientHistory = errors.New("insufficient history for sequence model")

// SequenceFeatures signals the sequence model forecasts; temperature stays on trend extrapolation.
var SequenceFeatures = []string{
	models.SignalHeartRate,
	models.SignalSystolic,
	models.SignalDiastolic,
	models.SignalRespiratoryRate,
	models.SignalOxygenSaturation,
}

// SequenceConfig training parameters
type SequenceConfig struct {
	SequenceLength int     `json:"sequence_length"`
	Horizon        int     `json:"horizon"`
	Hidden         int     `json:"hidden"`
	Epochs         int     `json:"epochs"`
	BatchSize      int     `json:"batch_size"`
	LearningRate   float64 `json:"learning_rate"`
}

// DefaultSequenceConfig 24 steps in, 12 steps out
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		SequenceLength: 24,
		Horizon:        12,
		Hidden:         64,
		Epochs:         30,
		BatchSize:      32,
		LearningRate:   0.005,
	}
}

// SequenceModel maps a min-max normalised window of SequenceLength steps to Horizon future steps.
type SequenceModel struct {
	Network  *nn.Network
	Min      []float64
	Max      []float64
	Features []string
	Config   SequenceConfig
}

// SequenceSidecar persisted next to the weights
type SequenceSidecar struct {
	Min      []float64      `json:"min"`
	Max      []float64      `json:"max"`
	Features []string       `json:"features"`
	Config   SequenceConfig `json:"config"`
}

// Sidecar returns the persisted metadata.
func (m *SequenceModel) Sidecar() SequenceSidecar {
	return SequenceSidecar{Min: m.Min, Max: m.Max, Features: m.Features, Config: m.Config}
}

// NewSequenceModel reassembles a model from weights and sidecar.
func NewSequenceModel(net *nn.Network, s SequenceSidecar) (*SequenceModel, error) {
	m := &SequenceModel{Network: net, Min: s.Min, Max: s.Max, Features: s.Features, Config: s.Config}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SequenceModel) validate() error {
	nf := len(m.Features)
	if m.Network == nil || len(m.Min) != nf || len(m.Max) != nf ||
		m.Network.InputDim() != m.Config.SequenceLength*nf ||
		m.Network.OutputDim() != m.Config.Horizon*nf {
		return fmt.Errorf("%w: sequence model parts disagree", nn.ErrShapeMismatch)
	}
	return nil
}

// TrainSequenceModel fits on every sliding window of the history.
func TrainSequenceModel(h *models.HistorySnapshot, cfg SequenceConfig, rng *rand.Rand) (*SequenceModel, error) {
	n := h.Len()
	if n < cfg.SequenceLength+cfg.Horizon+1 {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientHistory, n, cfg.SequenceLength+cfg.Horizon+1)
	}
	rows := h.Rows(SequenceFeatures)
	nf := len(SequenceFeatures)

	lo := append([]float64(nil), rows[0]...)
	hi := append([]float64(nil), rows[0]...)
	for _, row := range rows {
		for j, v := range row {
			if v < lo[j] {
				lo[j] = v
			}
			if v > hi[j] {
				hi[j] = v
			}
		}
	}
	m := &SequenceModel{Min: lo, Max: hi, Features: append([]string(nil), SequenceFeatures...), Config: cfg}

	var xs, ys [][]float64
	for start := 0; start+cfg.SequenceLength+cfg.Horizon <= n; start++ {
		xs = append(xs, m.flatten(rows[start:start+cfg.SequenceLength]))
		ys = append(ys, m.flatten(rows[start+cfg.SequenceLength:start+cfg.SequenceLength+cfg.Horizon]))
	}

	m.Network = nn.New([]int{cfg.SequenceLength * nf, cfg.Hidden, cfg.Horizon * nf}, rng)
	if _, err := nn.Fit(m.Network, xs, ys, nn.FitConfig{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
	}, rng); err != nil {
		return nil, fmt.Errorf("failed to fit sequence model: %w", err)
	}
	return m, nil
}

// Forecast returns de-normalised forecasts keyed by feature. horizon must match the trained horizon.
func (m *SequenceModel) Forecast(h *models.HistorySnapshot, horizon int) (map[string][]float64, error) {
	if horizon != m.Config.Horizon {
		return nil, fmt.Errorf("%w: model horizon %d, requested %d", nn.ErrShapeMismatch, m.Config.Horizon, horizon)
	}
	if h.Len() < m.Config.SequenceLength {
		return nil, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientHistory, h.Len(), m.Config.SequenceLength)
	}
	rows := h.Rows(m.Features)
	out, err := m.Network.Forward(m.flatten(rows[len(rows)-m.Config.SequenceLength:]))
	if err != nil {
		return nil, err
	}

	nf := len(m.Features)
	forecast := make(map[string][]float64, nf)
	for j, feature := range m.Features {
		values := make([]float64, horizon)
		for step := 0; step < horizon; step++ {
			values[step] = m.denormalize(j, out[step*nf+j])
		}
		forecast[feature] = values
	}
	return forecast, nil
}

func (m *SequenceModel) flatten(rows [][]float64) []float64 {
	out := make([]float64, 0, len(rows)*len(m.Features))
	for _, row := range rows {
		for j, v := range row {
			out = append(out, m.normalize(j, v))
		}
	}
	return out
}

func (m *SequenceModel) normalize(j int, v float64) float64 {
	span := m.Max[j] - m.Min[j]
	if span == 0 {
		return 0
	}
	return (v - m.Min[j]) / span
}

func (m *SequenceModel) denormalize(j int, v float64) float64 {
	return m.Min[j] + v*(m.Max[j]-m.Min[j])
}
