// Package ecg derives rhythm and ST-segment findings from a raw ECG window.
package ecg

import (
	"math"
	"sort"

	"owl-vitals/internal/models"
)

// Condition keys
const (
	ConditionNormal           = "normal"
	ConditionTachycardia      = "tachycardia"
	ConditionBradycardia      = "bradycardia"
	ConditionAFib             = "afib"
	ConditionSTElevation      = "st_elevation"
	ConditionSTDepression     = "st_depression"
	ConditionInsufficientData = "insufficient_data"
)

// ConditionNames display names per condition key
var ConditionNames = map[string]string{
	ConditionNormal:           "Normal sinus rhythm",
	ConditionTachycardia:      "Tachycardia (fast heart rate)",
	ConditionBradycardia:      "Bradycardia (slow heart rate)",
	ConditionAFib:             "Atrial fibrillation",
	ConditionSTElevation:      "ST segment elevation",
	ConditionSTDepression:     "ST segment depression",
	ConditionInsufficientData: "Insufficient data for analysis",
}

const (
	peakHeight       = 0.7
	peakDistance     = models.ECGSampleRate / 2
	irregularCV      = 0.2
	stThreshold      = 0.3
	normalConfidence = 0.9
)

// Analyze runs peak detection, rate, rhythm and ST analysis over one window.
func Analyze(samples []float64) *models.ECGAnalysis {
	peaks := RPeaks(samples)
	st := stSegment(samples, peaks)

	if len(peaks) < 2 {
		return &models.ECGAnalysis{
			RhythmRegularity: 1,
			Conditions:       []string{ConditionInsufficientData},
			ConditionNames:   []string{ConditionNames[ConditionInsufficientData]},
			ConfidenceScores: map[string]float64{},
			STSegment:        st,
		}
	}

	hr := heartRate(peaks)
	cv := rrVariation(peaks)

	conditions := []string{ConditionNormal}
	scores := map[string]float64{ConditionNormal: normalConfidence}
	add := func(condition string, confidence float64) {
		c := math.Min(1, confidence)
		conditions = append(conditions, condition)
		scores[condition] = c
		scores[ConditionNormal] *= 1 - c
	}

	if hr > 100 {
		add(ConditionTachycardia, (hr-100)/40)
	}
	if hr < 60 {
		add(ConditionBradycardia, (60-hr)/20)
	}
	if cv > irregularCV {
		add(ConditionAFib, cv*3)
	}
	if st.Elevation {
		add(ConditionSTElevation, st.Deviation*2)
	}
	if st.Depression {
		add(ConditionSTDepression, -st.Deviation*2)
	}
	if scores[ConditionNormal] < 0.5 && len(conditions) > 1 {
		conditions = conditions[1:]
	}

	names := make([]string, len(conditions))
	for i, c := range conditions {
		names[i] = ConditionNames[c]
	}

	return &models.ECGAnalysis{
		HeartRate:        hr,
		RhythmRegularity: 1 - cv,
		Conditions:       conditions,
		ConditionNames:   names,
		ConfidenceScores: scores,
		STSegment:        st,
	}
}

// RPeaks returns indices of local maxima of the max-abs normalised signal that reach
// peakHeight, keeping the tallest of any peaks closer than peakDistance.
func RPeaks(samples []float64) []int {
	var maxAbs float64
	for _, v := range samples {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if maxAbs == 0 {
		return nil
	}

	var candidates []int
	for i := 1; i < len(samples)-1; i++ {
		v := samples[i] / maxAbs
		if v >= peakHeight && samples[i] > samples[i-1] && samples[i] >= samples[i+1] {
			candidates = append(candidates, i)
		}
	}

	byHeight := append([]int(nil), candidates...)
	sort.SliceStable(byHeight, func(a, b int) bool {
		return samples[byHeight[a]] > samples[byHeight[b]]
	})
	var kept []int
	for _, c := range byHeight {
		clear := true
		for _, k := range kept {
			if abs(c-k) < peakDistance {
				clear = false
				break
			}
		}
		if clear {
			kept = append(kept, c)
		}
	}
	sort.Ints(kept)
	return kept
}

func heartRate(peaks []int) float64 {
	var sum float64
	for i := 1; i < len(peaks); i++ {
		rr := float64(peaks[i]-peaks[i-1]) / models.ECGSampleRate
		sum += 60 / rr
	}
	return sum / float64(len(peaks)-1)
}

// rrVariation coefficient of variation of RR intervals; needs three peaks.
func rrVariation(peaks []int) float64 {
	if len(peaks) < 3 {
		return 0
	}
	intervals := make([]float64, len(peaks)-1)
	var mean float64
	for i := range intervals {
		intervals[i] = float64(peaks[i+1] - peaks[i])
		mean += intervals[i]
	}
	mean /= float64(len(intervals))

	var variance float64
	for _, v := range intervals {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance/float64(len(intervals))) / mean
}

// stSegment averages ST level (10-15 samples after R) minus PR baseline (10-5 before).
func stSegment(samples []float64, peaks []int) models.STSegment {
	var (
		sum float64
		n   int
	)
	for _, p := range peaks {
		if p+15 >= len(samples) {
			continue
		}
		var baseline float64
		if p > 10 {
			baseline = mean(samples[p-10 : p-5])
		}
		sum += mean(samples[p+10:p+15]) - baseline
		n++
	}
	if n == 0 {
		return models.STSegment{}
	}
	dev := sum / float64(n)
	return models.STSegment{
		Deviation:  dev,
		Elevation:  dev > stThreshold,
		Depression: dev < -stThreshold,
	}
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
