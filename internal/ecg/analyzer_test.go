package ecg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owl-vitals/internal/models"
)

func spikes(positions ...int) []float64 {
	s := make([]float64, models.ECGLength)
	for _, p := range positions {
		s[p] = 1
	}
	return s
}

func TestAnalyze_NormalRhythm(t *testing.T) {
	got := Analyze(spikes(13, 138))

	assert.InDelta(t, 60, got.HeartRate, 1e-9)
	assert.Equal(t, []string{ConditionNormal}, got.Conditions)
	assert.Equal(t, []string{"Normal sinus rhythm"}, got.ConditionNames)
	assert.Equal(t, 0.9, got.ConfidenceScores[ConditionNormal])
	assert.Equal(t, 1.0, got.RhythmRegularity)
	assert.False(t, got.STSegment.Elevation)
}

func TestAnalyze_Tachycardia(t *testing.T) {
	got := Analyze(spikes(5, 75, 145, 215))

	assert.InDelta(t, 107.14, got.HeartRate, 0.01)
	assert.Equal(t, []string{ConditionNormal, ConditionTachycardia}, got.Conditions)
	assert.InDelta(t, (got.HeartRate-100)/40, got.ConfidenceScores[ConditionTachycardia], 1e-9)
	assert.InDelta(t, 0.9*(1-got.ConfidenceScores[ConditionTachycardia]), got.ConfidenceScores[ConditionNormal], 1e-9)
}

func TestAnalyze_SevereBradycardiaDropsNormal(t *testing.T) {
	got := Analyze(spikes(20, 220))

	assert.InDelta(t, 37.5, got.HeartRate, 1e-9)
	assert.Equal(t, []string{ConditionBradycardia}, got.Conditions)
	assert.Equal(t, 1.0, got.ConfidenceScores[ConditionBradycardia])
	assert.Equal(t, 0.0, got.ConfidenceScores[ConditionNormal])
}

func TestAnalyze_Irregular(t *testing.T) {
	s := spikes(1, 64, 200)
	require.Equal(t, []int{1, 64, 200}, RPeaks(s))

	got := Analyze(s)
	assert.Contains(t, got.Conditions, ConditionAFib)
	assert.NotContains(t, got.Conditions, ConditionNormal)
	assert.Less(t, got.RhythmRegularity, 0.8)
}

func TestAnalyze_STElevation(t *testing.T) {
	s := spikes(20, 145)
	for _, p := range []int{20, 145} {
		for i := p + 10; i < p+15; i++ {
			s[i] = 0.5
		}
	}

	got := Analyze(s)
	assert.True(t, got.STSegment.Elevation)
	assert.InDelta(t, 0.5, got.STSegment.Deviation, 1e-9)
	assert.Equal(t, []string{ConditionSTElevation}, got.Conditions)
}

func TestAnalyze_InsufficientData(t *testing.T) {
	got := Analyze(make([]float64, models.ECGLength))

	assert.Equal(t, 0.0, got.HeartRate)
	assert.Equal(t, []string{ConditionInsufficientData}, got.Conditions)
}

func TestRPeaks_MinimumDistance(t *testing.T) {
	s := spikes(10, 40, 100)
	s[40] = 0.9

	assert.Equal(t, []int{10, 100}, RPeaks(s))
}
