package detector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"

	"owl-vitals/internal/models"
	"owl-vitals/internal/nn"
)

// AutoencoderFeatures inputs of the reconstruction model; temperature is not modelled.
var AutoencoderFeatures = []string{
	models.SignalHeartRate,
	models.SignalSystolic,
	models.SignalDiastolic,
	models.SignalRespiratoryRate,
	models.SignalOxygenSaturation,
}

// AutoencoderConfig network and training parameters, persisted in the threshold sidecar
type AutoencoderConfig struct {
	Features            []string `json:"features"`
	EncodingDims        []int    `json:"encoding_dims"`
	ThresholdMultiplier float64  `json:"threshold_multiplier"`
	Epochs              int      `json:"epochs"`
	BatchSize           int      `json:"batch_size"`
	LearningRate        float64  `json:"learning_rate"`
}

// DefaultAutoencoderConfig 5 -> 32 -> 16 -> 8 -> 16 -> 32 -> 5
func DefaultAutoencoderConfig() AutoencoderConfig {
	return AutoencoderConfig{
		Features:            append([]string(nil), AutoencoderFeatures...),
		EncodingDims:        []int{32, 16, 8},
		ThresholdMultiplier: 3,
		Epochs:              60,
		BatchSize:           32,
		LearningRate:        0.005,
	}
}

// layerSizes mirrors the encoder dims around the bottleneck.
func (c AutoencoderConfig) layerSizes() []int {
	sizes := []int{len(c.Features)}
	sizes = append(sizes, c.EncodingDims...)
	for i := len(c.EncodingDims) - 2; i >= 0; i-- {
		sizes = append(sizes, c.EncodingDims[i])
	}
	return append(sizes, len(c.Features))
}

// AutoencoderModel trained network plus thresholds and standardisation parameters
type AutoencoderModel struct {
	Network           *nn.Network
	Threshold         float64
	FeatureThresholds []float64
	Mean              []float64
	Std               []float64
	Config            AutoencoderConfig
}

// Validate checks that all parts agree on the feature count.
func (m *AutoencoderModel) Validate() error {
	if m == nil || m.Network == nil {
		return ErrNotTrained
	}
	n := len(m.Config.Features)
	if m.Network.InputDim() != n || m.Network.OutputDim() != n ||
		len(m.FeatureThresholds) != n || len(m.Mean) != n || len(m.Std) != n {
		return fmt.Errorf("%w: autoencoder parts disagree on %d features", ErrShapeMismatch, n)
	}
	return nil
}

// TrainAutoencoder fits a model on rows ordered as cfg.Features.
// Overall and per-feature thresholds are mean + k*std of the training reconstruction error.
func TrainAutoencoder(data [][]float64, cfg AutoencoderConfig, rng *rand.Rand) (*AutoencoderModel, error) {
	if len(data) < 2 {
		return nil, ErrInsufficientHistory
	}
	nf := len(cfg.Features)

	mean, std := columnStats(data, nf)
	for i := range std {
		if std[i] == 0 {
			std[i] = 1
		}
	}
	z := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != nf {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), nf)
		}
		z[i] = standardize(row, mean, std)
	}

	net := nn.New(cfg.layerSizes(), rng)
	if _, err := nn.Fit(net, z, z, nn.FitConfig{
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		LearningRate: cfg.LearningRate,
	}, rng); err != nil {
		return nil, fmt.Errorf("failed to fit autoencoder: %w", err)
	}

	overall := make([]float64, len(z))
	perFeature := make([][]float64, len(z))
	for i, x := range z {
		out, err := net.Forward(x)
		if err != nil {
			return nil, err
		}
		perFeature[i] = squaredErrors(x, out)
		overall[i] = meanOf(perFeature[i])
	}

	k := cfg.ThresholdMultiplier
	overallMean, overallStd := meanStd(overall)
	fm, fs := columnStats(perFeature, nf)
	thresholds := make([]float64, nf)
	for i := range thresholds {
		thresholds[i] = fm[i] + k*fs[i]
	}

	return &AutoencoderModel{
		Network:           net,
		Threshold:         overallMean + k*overallStd,
		FeatureThresholds: thresholds,
		Mean:              mean,
		Std:               std,
		Config:            cfg,
	}, nil
}

// AutoencoderDetector reconstruction-error detector with explanations
type AutoencoderDetector struct {
	mu    sync.RWMutex
	model *AutoencoderModel

	cfg        AutoencoderConfig
	minSamples int
	seed       int64
	ranges     *RangeDetector
}

// NewAutoencoderDetector creates an untrained detector; ranges supplies temperature flags and explanation ranges.
func NewAutoencoderDetector(cfg AutoencoderConfig, minSamples int, seed int64, ranges *RangeDetector) *AutoencoderDetector {
	return &AutoencoderDetector{
		cfg:        cfg,
		minSamples: minSamples,
		seed:       seed,
		ranges:     ranges,
	}
}

func (d *AutoencoderDetector) Name() string { return models.MethodAutoencoder }

func (d *AutoencoderDetector) MinSamples() int { return d.minSamples }

func (d *AutoencoderDetector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.model == nil {
		return StateUntrained
	}
	return StateTrained
}

// Model returns the trained model, nil when untrained.
func (d *AutoencoderDetector) Model() *AutoencoderModel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model
}

// Restore installs a previously persisted model.
func (d *AutoencoderDetector) Restore(m *AutoencoderModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.model = m
	d.mu.Unlock()
	return nil
}

// Train fits a new model on the full history.
func (d *AutoencoderDetector) Train(h *models.HistorySnapshot) error {
	if h.Len() <= d.minSamples {
		return fmt.Errorf("%w: have %d samples, need more than %d", ErrInsufficientHistory, h.Len(), d.minSamples)
	}
	m, err := TrainAutoencoder(h.Rows(d.cfg.Features), d.cfg, rand.New(rand.NewSource(d.seed)))
	if err != nil {
		return err
	}
	return d.Restore(m)
}

// Detect flags features whose reconstruction error exceeds their threshold.
func (d *AutoencoderDetector) Detect(r *models.VitalReading) Result {
	m := d.Model()
	if m == nil {
		return errorResult(ErrNotTrained)
	}
	nf := len(m.Config.Features)

	x := make([]float64, nf)
	for i, feature := range m.Config.Features {
		val, found := r.Value(feature)
		if !found {
			return errorResult(fmt.Errorf("%w: unknown feature %s", ErrShapeMismatch, feature))
		}
		x[i] = val
	}
	z := standardize(x, m.Mean, m.Std)
	out, err := m.Network.Forward(z)
	if err != nil {
		return errorResult(err)
	}

	sq := squaredErrors(z, out)
	overall := meanOf(sq)
	if math.IsNaN(overall) {
		return errorResult(errors.New("non-finite reconstruction error"))
	}

	flags := make(map[string]bool, nf)
	scores := make(map[string]float64, nf)
	v := models.NewAnomalyVerdict(models.MethodAutoencoder)
	v.Reconstruction = make(map[string]float64, nf)
	for i, feature := range m.Config.Features {
		flags[feature] = sq[i] > m.FeatureThresholds[i]
		scores[feature] = sq[i]
		v.Reconstruction[feature] = out[i]*m.Std[i] + m.Mean[i]
	}

	set := func(signal string, anomalous bool, score float64) {
		v.Signals[signal] = models.SignalVerdict{IsAnomaly: anomalous, Score: score, Method: models.MethodAutoencoder}
	}
	set(models.SignalHeartRate, flags[models.SignalHeartRate], scores[models.SignalHeartRate])
	set(models.SignalBloodPressure,
		flags[models.SignalSystolic] || flags[models.SignalDiastolic],
		math.Max(scores[models.SignalSystolic], scores[models.SignalDiastolic]))
	set(models.SignalRespiratoryRate, flags[models.SignalRespiratoryRate], scores[models.SignalRespiratoryRate])
	set(models.SignalOxygenSaturation, flags[models.SignalOxygenSaturation], scores[models.SignalOxygenSaturation])

	tempAnomalous := d.ranges.OutOfRange(models.SignalTemperature, r.Temperature)
	v.Signals[models.SignalTemperature] = models.SignalVerdict{IsAnomaly: tempAnomalous, Method: models.MethodRange}
	flags[models.SignalTemperature] = tempAnomalous

	v.Explanation = d.explain(r, flags, v.Reconstruction, overall)
	return verdictResult(v)
}

// feature display metadata for explanations
var featureText = map[string]struct{ label, unit string }{
	models.SignalHeartRate:        {"Heart rate", " BPM"},
	models.SignalSystolic:         {"Systolic blood pressure", " mmHg"},
	models.SignalDiastolic:        {"Diastolic blood pressure", " mmHg"},
	models.SignalRespiratoryRate:  {"Respiratory rate", " breaths/min"},
	models.SignalOxygenSaturation: {"Oxygen saturation", "%"},
	models.SignalTemperature:      {"Temperature", "°F"},
}

func (d *AutoencoderDetector) explain(r *models.VitalReading, flags map[string]bool, recon map[string]float64, overall float64) *models.Explanation {
	e := &models.Explanation{
		OverallScore:      overall,
		AnomalousFeatures: []string{},
		Details:           []string{},
	}
	ranges := d.ranges.Ranges()

	for _, feature := range models.HistorySignals {
		if !flags[feature] {
			continue
		}
		e.AnomalousFeatures = append(e.AnomalousFeatures, feature)

		val, _ := r.Value(feature)
		txt := featureText[feature]
		rg := ranges[feature]
		normal := fmt.Sprintf("normal range: %s-%s", formatNumber(rg.Min), formatNumber(rg.Max))
		if expected, found := recon[feature]; found {
			e.Details = append(e.Details, fmt.Sprintf("%s is %s%s (expected around %.1f, %s)",
				txt.label, formatNumber(val), txt.unit, expected, normal))
		} else {
			e.Details = append(e.Details, fmt.Sprintf("%s is %s%s (%s)",
				txt.label, formatNumber(val), txt.unit, normal))
		}
	}
	e.IsAnomaly = len(e.AnomalousFeatures) > 0

	switch {
	case overall > 0.5:
		e.Severity = models.SeverityCritical
	case overall > 0.2:
		e.Severity = models.SeverityWarning
	default:
		e.Severity = models.SeverityNormal
	}

	switch {
	case !e.IsAnomaly:
		e.Summary = "All vital signs within normal patterns"
	case e.Severity == models.SeverityCritical:
		e.Summary = fmt.Sprintf("Critical anomaly detected in %d vital signs", len(e.AnomalousFeatures))
	default:
		e.Summary = fmt.Sprintf("Unusual pattern detected in %d vital signs", len(e.AnomalousFeatures))
	}
	return e
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func standardize(x, mean, std []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		out[i] = (x[i] - mean[i]) / std[i]
	}
	return out
}

func squaredErrors(x, y []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		d := x[i] - y[i]
		out[i] = d * d
	}
	return out
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// meanStd population mean and standard deviation
func meanStd(xs []float64) (float64, float64) {
	m := meanOf(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	if len(xs) == 0 {
		return 0, 0
	}
	return m, math.Sqrt(ss / float64(len(xs)))
}

func columnStats(rows [][]float64, n int) ([]float64, []float64) {
	mean := make([]float64, n)
	std := make([]float64, n)
	col := make([]float64, len(rows))
	for j := 0; j < n; j++ {
		for i, row := range rows {
			if j < len(row) {
				col[i] = row[j]
			}
		}
		mean[j], std[j] = meanStd(col)
	}
	return mean, std
}
