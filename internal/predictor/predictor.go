// Package predictor forecasts the next readings of each vital sign.
package predictor

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

var ErrEmptyHistory = errors.New("empty history")

// trendWindow points considered for the linear trend
const trendWindow = 20

// noiseSigma per-signal gaussian noise added to trend forecasts
var noiseSigma = map[string]float64{
	models.SignalHeartRate:        0.5,
	models.SignalSystolic:         0.8,
	models.SignalDiastolic:        0.5,
	models.SignalRespiratoryRate:  0.2,
	models.SignalOxygenSaturation: 0.1,
	models.SignalTemperature:      0.05,
}

// Predictor trend extrapolation with an optional trained sequence model
type Predictor struct {
	mu      sync.RWMutex
	horizon int
	step    time.Duration
	model   *SequenceModel

	rngMu      sync.Mutex
	rng        *rand.Rand
	noiseScale float64

	logger *zap.Logger
}

// Option configures a Predictor
type Option func(*Predictor)

// WithHorizon number of future steps
func WithHorizon(n int) Option {
	return func(p *Predictor) { p.horizon = n }
}

// WithStep spacing of forecast timestamps
func WithStep(d time.Duration) Option {
	return func(p *Predictor) { p.step = d }
}

// WithNoise scales the per-signal noise; 0 disables it.
func WithNoise(scale float64) Option {
	return func(p *Predictor) { p.noiseScale = scale }
}

// WithSeed fixes the noise source
func WithSeed(seed int64) Option {
	return func(p *Predictor) { p.rng = rand.New(rand.NewSource(seed)) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Predictor) { p.logger = logger }
}

// New creates a Predictor (horizon 12, step 3s, unit noise)
func New(opts ...Option) *Predictor {
	p := &Predictor{
		horizon:    12,
		step:       3 * time.Second,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		noiseScale: 1,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Horizon current forecast length.
func (p *Predictor) Horizon() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.horizon
}

// SetHorizon changes the forecast length.
func (p *Predictor) SetHorizon(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.horizon = n
}

// SetModel installs a trained sequence model; nil reverts to trend only.
func (p *Predictor) SetModel(m *SequenceModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.model = m
}

// Model current sequence model, nil if none.
func (p *Predictor) Model() *SequenceModel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

// Predict forecasts every history signal. The sequence model is used when present and
// compatible; temperature and any model failure use trend extrapolation.
func (p *Predictor) Predict(h *models.HistorySnapshot) (*models.PredictionSet, error) {
	if h.Len() == 0 {
		return nil, ErrEmptyHistory
	}
	p.mu.RLock()
	horizon, step, model := p.horizon, p.step, p.model
	p.mu.RUnlock()

	out := &models.PredictionSet{
		Timestamps: futureTimestamps(h.Timestamps[h.Len()-1], horizon, step),
		Source:     models.PredictionTrend,
	}

	if model != nil {
		forecast, err := model.Forecast(h, horizon)
		if err == nil {
			for signal, values := range forecast {
				out.SetSeries(signal, values)
			}
			out.Source = models.PredictionSequence
		} else {
			p.logger.Warn("Sequence model failed, using trend extrapolation", zap.Error(err))
		}
	}

	for _, signal := range models.HistorySignals {
		if out.Series(signal) == nil {
			out.SetSeries(signal, p.trend(signal, h.Series(signal), horizon))
		}
	}
	for _, signal := range models.HistorySignals {
		series := h.Series(signal)
		out.SetSeries(signal, finish(signal, out.Series(signal), series[len(series)-1]))
	}
	return out, nil
}

// Trend returns the raw trend of a series: (v[-1] - v[-5]) / 5 over the last 20 points.
func Trend(series []float64) float64 {
	if len(series) > trendWindow {
		series = series[len(series)-trendWindow:]
	}
	n := len(series)
	if n < 5 {
		return 0
	}
	return (series[n-1] - series[n-5]) / 5
}

func (p *Predictor) trend(signal string, series []float64, horizon int) []float64 {
	last := series[len(series)-1]
	slope := Trend(series)
	sigma := noiseSigma[signal] * p.noiseScale

	values := make([]float64, horizon)
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	for i := range values {
		v := last + slope*float64(i+1)
		if sigma > 0 {
			v += p.rng.NormFloat64() * sigma
		}
		values[i] = v
	}
	return values
}

// finish bounds each value to the signal's domain (oxygen therefore at most 100) and rounds
// (blood pressure to integers, the rest to one decimal). NaN falls back to the last reading.
func finish(signal string, values []float64, last float64) []float64 {
	d := models.SignalDomains[signal]
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			v = last
		}
		v = models.Clamp(v, d[0], d[1])
		switch signal {
		case models.SignalSystolic, models.SignalDiastolic:
			out[i] = models.RoundInt(v)
		default:
			out[i] = models.Round1(v)
		}
	}
	return out
}

func futureTimestamps(last string, horizon int, step time.Duration) []string {
	base, err := time.ParseInLocation(models.TimestampLayout, last, time.Local)
	if err != nil {
		base = time.Now()
	}
	out := make([]string, horizon)
	for i := range out {
		out[i] = base.Add(time.Duration(i+1) * step).Format(models.TimestampLayout)
	}
	return out
}
