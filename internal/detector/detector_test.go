package detector

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"owl-vitals/internal/generator"
	"owl-vitals/internal/models"
	"owl-vitals/internal/nn"
)

func normalReading() *models.VitalReading {
	return &models.VitalReading{
		HeartRate:        75,
		BloodPressure:    models.BloodPressure{Systolic: 120, Diastolic: 80},
		RespiratoryRate:  16,
		OxygenSaturation: 98,
		Temperature:      98.6,
	}
}

func history(t *testing.T, n int) *models.HistorySnapshot {
	t.Helper()
	g := generator.New(generator.WithSeed(21), generator.WithoutTimeOfDay())
	h := models.NewHistorySnapshot(n)
	for _, r := range g.Series(n, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 5*time.Minute) {
		r := r
		h.Append(r.Timestamp.Format(models.TimestampLayout), &r, r.ECGSummary())
	}
	return h
}

// fakeDetector returns a fixed result
type fakeDetector struct {
	name   string
	result Result
	calls  int
}

func (f *fakeDetector) Name() string { return f.name }

func (f *fakeDetector) Detect(*models.VitalReading) Result {
	f.calls++
	return f.result
}

func allNormal(method string) *models.AnomalyVerdict {
	v := models.NewAnomalyVerdict(method)
	for _, s := range models.VerdictSignals {
		v.Signals[s] = models.SignalVerdict{Method: method}
	}
	return v
}

func TestRangeDetector(t *testing.T) {
	d := NewRangeDetector(nil)

	v := d.Detect(normalReading()).Verdict
	assert.False(t, v.AnyAnomaly())
	assert.Equal(t, models.MethodRange, v.Source)

	r := normalReading()
	r.HeartRate = 130
	r.BloodPressure.Diastolic = 95
	v = d.Detect(r).Verdict
	assert.True(t, v.Flag(models.SignalHeartRate))
	assert.True(t, v.Flag(models.SignalBloodPressure))
	assert.False(t, v.Flag(models.SignalOxygenSaturation))

	// bounds are inclusive
	r = normalReading()
	r.HeartRate = 100
	r.OxygenSaturation = 95
	assert.False(t, d.Detect(r).Verdict.AnyAnomaly())
}

func TestRangeDetector_SetRangesFromSettings(t *testing.T) {
	d := NewRangeDetector(nil)
	s := models.DefaultSettings()
	s.AlertThresholds.HeartRate.Max = 70
	d.SetRanges(RangesFromSettings(s))

	assert.True(t, d.Detect(normalReading()).Verdict.Flag(models.SignalHeartRate))
	assert.Equal(t, Range{95, 100}, d.Ranges()[models.SignalOxygenSaturation])
}

func TestComposite_ColdStartUsesRange(t *testing.T) {
	ranges := NewRangeDetector(nil)
	iso := NewIsolationDetector(0.05, 42, 30)
	ae := NewAutoencoderDetector(DefaultAutoencoderConfig(), 50, 42, ranges)
	c := NewComposite(ranges, iso, ae, zap.NewNop())

	r := normalReading()
	r.OxygenSaturation = 90
	v := c.Detect(r).Verdict

	require.NoError(t, c.Detect(r).Err)
	assert.Equal(t, models.MethodRange, v.Source)
	assert.True(t, v.Flag(models.SignalOxygenSaturation))
	assert.Nil(t, v.Reconstruction)
	assert.Nil(t, v.Explanation)
	for _, s := range v.Signals {
		assert.Equal(t, models.MethodRange, s.Method)
	}
}

func TestComposite_AutoencoderTakesPrecedence(t *testing.T) {
	aeVerdict := allNormal(models.MethodAutoencoder)
	aeVerdict.Signals[models.SignalOxygenSaturation] = models.SignalVerdict{IsAnomaly: true, Score: 0.6, Method: models.MethodAutoencoder}
	ae := &fakeDetector{name: models.MethodAutoencoder, result: Result{Verdict: aeVerdict}}
	iso := &fakeDetector{name: models.MethodIsolation, result: Result{Verdict: allNormal(models.MethodIsolation)}}

	c := NewComposite(NewRangeDetector(nil), iso, ae, zap.NewNop())
	v := c.Detect(normalReading()).Verdict

	assert.True(t, v.Flag(models.SignalOxygenSaturation))
	assert.Equal(t, 0.6, v.Signals[models.SignalOxygenSaturation].Score)
	assert.Equal(t, models.MethodAutoencoder, v.Source)
}

func TestComposite_AutoencoderDisabled(t *testing.T) {
	aeVerdict := allNormal(models.MethodAutoencoder)
	aeVerdict.Signals[models.SignalOxygenSaturation] = models.SignalVerdict{IsAnomaly: true, Score: 0.6}
	ae := &fakeDetector{name: models.MethodAutoencoder, result: Result{Verdict: aeVerdict}}
	iso := &fakeDetector{name: models.MethodIsolation, result: Result{Verdict: allNormal(models.MethodIsolation)}}

	c := NewComposite(NewRangeDetector(nil), iso, ae, zap.NewNop())
	c.SetAutoencoderEnabled(false)
	v := c.Detect(normalReading()).Verdict

	assert.False(t, v.Flag(models.SignalOxygenSaturation))
	assert.Equal(t, models.MethodIsolation, v.Source)
	assert.Equal(t, 0, ae.calls)
}

func TestComposite_FallbackOnError(t *testing.T) {
	isoVerdict := allNormal(models.MethodIsolation)
	isoVerdict.Signals[models.SignalHeartRate] = models.SignalVerdict{IsAnomaly: true, Score: -0.3, Method: models.MethodIsolation}
	ae := &fakeDetector{name: models.MethodAutoencoder, result: Result{Err: ErrShapeMismatch}}
	iso := &fakeDetector{name: models.MethodIsolation, result: Result{Verdict: isoVerdict}}

	c := NewComposite(NewRangeDetector(nil), iso, ae, zap.NewNop())
	res := c.Detect(normalReading())

	require.NoError(t, res.Err)
	assert.Equal(t, models.MethodIsolation, res.Verdict.Source)
	assert.True(t, res.Verdict.Flag(models.SignalHeartRate))

	// both advanced detectors failing leaves the range verdict
	iso.result = Result{Err: errors.New("boom")}
	res = c.Detect(normalReading())
	require.NoError(t, res.Err)
	assert.Equal(t, models.MethodRange, res.Verdict.Source)
	assert.False(t, res.Verdict.AnyAnomaly())
}

func TestComposite_TemperatureAlwaysFromRange(t *testing.T) {
	isoVerdict := allNormal(models.MethodIsolation)
	isoVerdict.Signals[models.SignalTemperature] = models.SignalVerdict{IsAnomaly: true, Score: -0.4, Method: models.MethodIsolation}
	iso := &fakeDetector{name: models.MethodIsolation, result: Result{Verdict: isoVerdict}}

	c := NewComposite(NewRangeDetector(nil), iso, nil, zap.NewNop())

	v := c.Detect(normalReading()).Verdict
	assert.False(t, v.Flag(models.SignalTemperature))
	assert.Equal(t, models.MethodRange, v.Signals[models.SignalTemperature].Method)

	r := normalReading()
	r.Temperature = 101.5
	assert.True(t, c.Detect(r).Verdict.Flag(models.SignalTemperature))
}

func TestIsolationForest_DetectsOutlier(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 300)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}

	f := NewIsolationForest(WithContamination(0.05), WithForestSeed(42))
	require.NoError(t, f.Fit(data))

	outlier, err := f.Decision([]float64{8, 8})
	require.NoError(t, err)
	assert.Less(t, outlier, 0.0)

	inlier, err := f.Decision([]float64{0, 0})
	require.NoError(t, err)
	assert.Greater(t, inlier, 0.0)

	s, err := f.Score([]float64{8, 8})
	require.NoError(t, err)
	assert.Greater(t, s, f.Threshold())

	_, err = f.Decision([]float64{1})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestIsolationForest_SaveLoad(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	data := make([][]float64, 100)
	for i := range data {
		data[i] = []float64{rng.Float64()}
	}
	f := NewIsolationForest(WithTrees(20))
	require.NoError(t, f.Fit(data))

	blob, err := f.Save()
	require.NoError(t, err)

	restored := NewIsolationForest()
	require.NoError(t, restored.Load(blob))
	for _, x := range []float64{0.1, 0.5, 3} {
		want, _ := f.Decision([]float64{x})
		got, err := restored.Decision([]float64{x})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = NewIsolationForest().Save()
	assert.True(t, errors.Is(err, ErrNotTrained))
}

func TestIsolationDetector_TrainAndDetect(t *testing.T) {
	d := NewIsolationDetector(0.05, 42, 30)

	res := d.Detect(normalReading())
	assert.True(t, errors.Is(res.Err, ErrNotTrained))

	err := d.Train(history(t, 30))
	assert.True(t, errors.Is(err, ErrInsufficientHistory))
	assert.Equal(t, StateUntrained, d.State())

	require.NoError(t, d.Train(history(t, 200)))
	assert.Equal(t, StateTrained, d.State())

	typical := d.Detect(normalReading())
	require.NoError(t, typical.Err)
	assert.Len(t, typical.Verdict.Signals, len(models.VerdictSignals))
	assert.Equal(t, models.MethodIsolation, typical.Verdict.Source)

	r := normalReading()
	r.HeartRate = 170
	res = d.Detect(r)
	require.NoError(t, res.Err)
	// more negative is more anomalous
	assert.Less(t, res.Verdict.Signals[models.SignalHeartRate].Score, typical.Verdict.Signals[models.SignalHeartRate].Score)
}

func TestIsolationDetector_ExportImport(t *testing.T) {
	d := NewIsolationDetector(0.05, 42, 30)
	require.NoError(t, d.Train(history(t, 100)))

	blobs, err := d.Export()
	require.NoError(t, err)
	assert.Len(t, blobs, len(isolationGroups))

	restored := NewIsolationDetector(0.05, 42, 30)
	require.NoError(t, restored.Import(blobs))
	assert.Equal(t, StateTrained, restored.State())
	assert.Equal(t, d.Detect(normalReading()).Verdict.Signals, restored.Detect(normalReading()).Verdict.Signals)

	delete(blobs, models.SignalTemperature)
	assert.Error(t, NewIsolationDetector(0.05, 42, 30).Import(blobs))
}

// meanModel reconstructs every input as the training mean, so squared error equals z^2.
func meanModel() *AutoencoderModel {
	net := nn.New([]int{5, 8, 5}, rand.New(rand.NewSource(1)))
	for _, l := range net.Layers {
		for _, row := range l.Weights {
			for i := range row {
				row[i] = 0
			}
		}
	}
	return &AutoencoderModel{
		Network:           net,
		Threshold:         9,
		FeatureThresholds: []float64{9, 9, 9, 9, 9},
		Mean:              []float64{75, 120, 80, 16, 98},
		Std:               []float64{2, 3, 2, 1, 1},
		Config:            DefaultAutoencoderConfig(),
	}
}

func TestAutoencoderDetector_FlagsAndExplains(t *testing.T) {
	ranges := NewRangeDetector(nil)
	d := NewAutoencoderDetector(DefaultAutoencoderConfig(), 50, 42, ranges)
	require.NoError(t, d.Restore(meanModel()))

	r := normalReading()
	r.OxygenSaturation = 80
	res := d.Detect(r)
	require.NoError(t, res.Err)
	v := res.Verdict

	assert.Equal(t, models.MethodAutoencoder, v.Source)
	assert.True(t, v.Flag(models.SignalOxygenSaturation))
	assert.Equal(t, 324.0, v.Signals[models.SignalOxygenSaturation].Score)
	assert.False(t, v.Flag(models.SignalHeartRate))
	assert.Equal(t, 98.0, v.Reconstruction[models.SignalOxygenSaturation])

	e := v.Explanation
	require.NotNil(t, e)
	assert.True(t, e.IsAnomaly)
	assert.Equal(t, []string{models.SignalOxygenSaturation}, e.AnomalousFeatures)
	assert.Equal(t, []string{"Oxygen saturation is 80% (expected around 98.0, normal range: 95-100)"}, e.Details)
	assert.Equal(t, models.SeverityCritical, e.Severity)
	assert.Equal(t, "Critical anomaly detected in 1 vital signs", e.Summary)
}

func TestAutoencoderDetector_NormalExplanation(t *testing.T) {
	ranges := NewRangeDetector(nil)
	d := NewAutoencoderDetector(DefaultAutoencoderConfig(), 50, 42, ranges)
	require.NoError(t, d.Restore(meanModel()))

	r := normalReading()
	r.HeartRate = 76 // z = 0.5, overall error 0.05
	e := d.Detect(r).Verdict.Explanation
	assert.False(t, e.IsAnomaly)
	assert.Equal(t, models.SeverityNormal, e.Severity)
	assert.Equal(t, "All vital signs within normal patterns", e.Summary)
}

func TestAutoencoderDetector_TemperatureByRange(t *testing.T) {
	d := NewAutoencoderDetector(DefaultAutoencoderConfig(), 50, 42, NewRangeDetector(nil))
	require.NoError(t, d.Restore(meanModel()))

	r := normalReading()
	r.Temperature = 101.2
	v := d.Detect(r).Verdict
	assert.True(t, v.Flag(models.SignalTemperature))
	assert.Equal(t, models.MethodRange, v.Signals[models.SignalTemperature].Method)
	assert.Contains(t, v.Explanation.Details, "Temperature is 101.2°F (normal range: 97-99)")
	assert.Equal(t, "Unusual pattern detected in 1 vital signs", v.Explanation.Summary)
}

func TestAutoencoderDetector_RestoreRejectsMismatch(t *testing.T) {
	d := NewAutoencoderDetector(DefaultAutoencoderConfig(), 50, 42, NewRangeDetector(nil))
	m := meanModel()
	m.Mean = m.Mean[:3]
	assert.True(t, errors.Is(d.Restore(m), ErrShapeMismatch))
	assert.Equal(t, StateUntrained, d.State())
}

func TestAutoencoderDetector_Train(t *testing.T) {
	cfg := DefaultAutoencoderConfig()
	cfg.Epochs = 10
	d := NewAutoencoderDetector(cfg, 50, 42, NewRangeDetector(nil))

	assert.True(t, errors.Is(d.Train(history(t, 50)), ErrInsufficientHistory))
	require.NoError(t, d.Train(history(t, 120)))
	assert.Equal(t, StateTrained, d.State())

	m := d.Model()
	require.NoError(t, m.Validate())
	assert.Greater(t, m.Threshold, 0.0)
	for _, th := range m.FeatureThresholds {
		assert.Greater(t, th, 0.0)
	}

	res := d.Detect(normalReading())
	require.NoError(t, res.Err)
	assert.NotNil(t, res.Verdict.Explanation)
}

// countingModel fake Trainable
type countingModel struct {
	name    string
	min     int
	trained bool
	trains  int
}

func (m *countingModel) Name() string                      { return m.name }
func (m *countingModel) Detect(*models.VitalReading) Result { return errorResult(ErrNotTrained) }
func (m *countingModel) MinSamples() int                   { return m.min }

func (m *countingModel) State() State {
	if m.trained {
		return StateTrained
	}
	return StateUntrained
}

func (m *countingModel) Train(h *models.HistorySnapshot) error {
	if h.Len() <= m.min {
		return ErrInsufficientHistory
	}
	m.trained = true
	m.trains++
	return nil
}

func TestTrainer_TransitionsOnce(t *testing.T) {
	iso := &countingModel{name: "iso", min: 30}
	ae := &countingModel{name: "ae", min: 50}
	tr := NewTrainer(0, zap.NewNop(), iso, ae)

	var hooked []string
	tr.OnTrained(func(m Trainable) { hooked = append(hooked, m.Name()) })

	assert.Empty(t, tr.Observe(history(t, 30)))
	assert.Equal(t, []string{"iso"}, tr.Observe(history(t, 31)))
	assert.Empty(t, tr.Observe(history(t, 40)))
	assert.Equal(t, []string{"ae"}, tr.Observe(history(t, 51)))
	for i := 0; i < 5; i++ {
		tr.Observe(history(t, 60))
	}

	assert.Equal(t, 1, iso.trains)
	assert.Equal(t, 1, ae.trains)
	assert.Equal(t, []string{"iso", "ae"}, hooked)
	assert.Equal(t, map[string]string{"iso": "trained", "ae": "trained"}, tr.States())
}

func TestTrainer_RetrainCadence(t *testing.T) {
	iso := &countingModel{name: "iso", min: 30}
	tr := NewTrainer(3, zap.NewNop(), iso)

	h := history(t, 40)
	for i := 0; i < 7; i++ {
		tr.Observe(h)
	}
	// trained on observation 1, retrained on 4 and 7
	assert.Equal(t, 3, iso.trains)
}
