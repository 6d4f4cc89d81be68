package httpapi

import (
	"errors"
	"fmt"
	"math"
	"time"

	"owl-vitals/internal/models"
)

var errUnknownParameter = errors.New("unknown parameter")

// SignalStats min/max/mean of one stored series
type SignalStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// PatientSummary GET /api/patient/summary result
type PatientSummary struct {
	PatientID    string                 `json:"patient_id"`
	LatestVitals *models.VitalReading   `json:"latest_vitals"`
	Statistics   map[string]SignalStats `json:"statistics"`
	AlertCount   int                    `json:"alert_count"`
	DataPoints   int                    `json:"data_points"`
	LastUpdated  string                 `json:"last_updated,omitempty"`
}

// TrendAnalysis GET /api/trend-analysis result
type TrendAnalysis struct {
	PatientID     string  `json:"patient_id"`
	Parameter     string  `json:"parameter"`
	Window        string  `json:"window"`
	DataPoints    int     `json:"data_points"`
	SlopePerHour  float64 `json:"slope_per_hour"`
	Direction     string  `json:"direction"`
	Mean          float64 `json:"mean"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	StartTime     string  `json:"start_time,omitempty"`
	EndTime       string  `json:"end_time,omitempty"`
	TotalChange   float64 `json:"total_change"`
	PercentChange float64 `json:"percent_change"`
}

// Trend directions
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
)

func statsOf(values []float64) SignalStats {
	if len(values) == 0 {
		return SignalStats{}
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	return SignalStats{Min: lo, Max: hi, Mean: models.Round1(sum / float64(len(values)))}
}

func summarize(patientID string, h *models.HistorySnapshot, latest *models.VitalReading, alertCount int) PatientSummary {
	s := PatientSummary{
		PatientID:    patientID,
		LatestVitals: latest,
		Statistics:   make(map[string]SignalStats, len(models.HistorySignals)),
		AlertCount:   alertCount,
		DataPoints:   h.Len(),
	}
	for _, signal := range models.HistorySignals {
		s.Statistics[signal] = statsOf(h.Series(signal))
	}
	if n := h.Len(); n > 0 {
		s.LastUpdated = h.Timestamps[n-1]
	}
	return s
}

// analyzeTrend fits a least-squares line to parameter over the entries within window of the newest one.
func analyzeTrend(patientID, parameter string, window time.Duration, h *models.HistorySnapshot) (TrendAnalysis, error) {
	series := h.Series(parameter)
	if series == nil {
		return TrendAnalysis{}, fmt.Errorf("%w: %s", errUnknownParameter, parameter)
	}

	out := TrendAnalysis{
		PatientID: patientID,
		Parameter: parameter,
		Window:    window.String(),
		Direction: DirectionStable,
	}
	n := h.Len()
	if n == 0 {
		return out, nil
	}

	times := make([]time.Time, n)
	for i, ts := range h.Timestamps {
		t, err := time.ParseInLocation(models.TimestampLayout, ts, time.Local)
		if err != nil {
			return TrendAnalysis{}, fmt.Errorf("failed to parse history timestamp %q: %w", ts, err)
		}
		times[i] = t
	}

	cutoff := times[n-1].Add(-window)
	start := n - 1
	for start > 0 && !times[start-1].Before(cutoff) {
		start--
	}
	values := series[start:]
	stamps := times[start:]

	st := statsOf(values)
	out.DataPoints = len(values)
	out.Mean, out.Min, out.Max = st.Mean, st.Min, st.Max
	out.StartTime = h.Timestamps[start]
	out.EndTime = h.Timestamps[n-1]
	out.TotalChange = models.Round1(values[len(values)-1] - values[0])
	if values[0] != 0 {
		out.PercentChange = models.Round1(out.TotalChange / values[0] * 100)
	}
	if len(values) < 2 {
		return out, nil
	}

	hours := make([]float64, len(stamps))
	for i, t := range stamps {
		hours[i] = t.Sub(stamps[0]).Hours()
	}
	slope := leastSquaresSlope(hours, values)
	out.SlopePerHour = math.Round(slope*100) / 100

	span := hours[len(hours)-1]
	if change := slope * span; math.Abs(change) >= 0.01*math.Abs(st.Mean) {
		if change > 0 {
			out.Direction = DirectionIncreasing
		} else {
			out.Direction = DirectionDecreasing
		}
	}
	return out, nil
}

func leastSquaresSlope(x, y []float64) float64 {
	n := float64(len(x))
	var sx, sy, sxx, sxy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}
