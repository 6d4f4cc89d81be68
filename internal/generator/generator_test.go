package generator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owl-vitals/internal/models"
)

func TestGenerate_ClampInvariant(t *testing.T) {
	g := New(WithSeed(7))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5000; i++ {
		r := g.GenerateAt(start.Add(time.Duration(i) * 5 * time.Minute))

		assert.GreaterOrEqual(t, r.HeartRate, 40.0)
		assert.LessOrEqual(t, r.HeartRate, 180.0)
		assert.GreaterOrEqual(t, r.BloodPressure.Systolic, 80.0)
		assert.LessOrEqual(t, r.BloodPressure.Systolic, 200.0)
		assert.GreaterOrEqual(t, r.BloodPressure.Diastolic, 40.0)
		assert.LessOrEqual(t, r.BloodPressure.Diastolic, 120.0)
		assert.GreaterOrEqual(t, r.RespiratoryRate, 8.0)
		assert.LessOrEqual(t, r.RespiratoryRate, 40.0)
		assert.GreaterOrEqual(t, r.OxygenSaturation, 80.0)
		assert.LessOrEqual(t, r.OxygenSaturation, 100.0)
		assert.GreaterOrEqual(t, r.Temperature, 95.0)
		assert.LessOrEqual(t, r.Temperature, 104.0)
		require.Len(t, r.ECG, models.ECGLength)
	}
}

func TestGenerate_SeededIsDeterministic(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := New(WithSeed(42)).Series(50, ts, 3*time.Second)
	b := New(WithSeed(42)).Series(50, ts, 3*time.Second)
	assert.Equal(t, a, b)
}

func TestGenerate_UsesClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	g := New(WithSeed(1), WithClock(func() time.Time { return fixed }))
	r := g.Generate()
	assert.Equal(t, fixed, r.Timestamp)
}

func TestGenerate_TimeOfDay(t *testing.T) {
	day := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	night := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

	var daySum, nightSum float64
	g := New(WithSeed(3))
	for i := 0; i < 200; i++ {
		g.StartEpisode(EpisodeNone, 0)
		daySum += g.GenerateAt(day).HeartRate
		g.StartEpisode(EpisodeNone, 0)
		nightSum += g.GenerateAt(night).HeartRate
	}
	// +10 by day, -5 at night
	assert.Greater(t, daySum/200-nightSum/200, 12.0)
}

func TestGenerate_HypoxiaEpisode(t *testing.T) {
	g := New(WithSeed(11), WithoutTimeOfDay())
	g.StartEpisode(EpisodeHypoxia, 10)

	r := g.GenerateAt(time.Now())
	// baseline 98 + U(-1,0.5) shifted down by at least 5
	assert.LessOrEqual(t, r.OxygenSaturation, 93.5)
	kind, remaining := g.Episode()
	assert.Equal(t, EpisodeHypoxia, kind)
	assert.Equal(t, 9, remaining)
}

func TestGenerate_EpisodeExpires(t *testing.T) {
	g := New(WithSeed(5), WithoutTimeOfDay())
	g.StartEpisode(EpisodeTachycardia, 3)

	g.GenerateAt(time.Now())
	g.GenerateAt(time.Now())
	g.GenerateAt(time.Now())

	kind, remaining := g.Episode()
	assert.Equal(t, EpisodeNone, kind)
	assert.Equal(t, 0, remaining)
}

func TestSeries_Spacing(t *testing.T) {
	end := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	rs := New(WithSeed(9)).Series(288, end, 5*time.Minute)

	require.Len(t, rs, 288)
	assert.Equal(t, end, rs[287].Timestamp)
	assert.Equal(t, end.Add(-287*5*time.Minute), rs[0].Timestamp)
}

func TestECG_Shape(t *testing.T) {
	g := New(WithSeed(2))
	ecg := g.ecg(60)
	require.Len(t, ecg, models.ECGLength)

	// R peak of the first beat sits at template index 13
	assert.InDelta(t, 1.0, ecg[13], 0.15)
	// baseline between beats
	assert.InDelta(t, baselineLevel, ecg[40], 0.06)
	// next beat starts after 125 samples at 60 bpm
	assert.InDelta(t, 1.0, ecg[125+13], 0.15)
}
