package models

// Detection methods
const (
	MethodRange       = "range"
	MethodIsolation   = "isolation_forest"
	MethodAutoencoder = "autoencoder"
)

// Severity levels
const (
	SeverityNormal   = "normal"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SignalVerdict per-signal anomaly flag and score
type SignalVerdict struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
	Method    string  `json:"method"`
}

// Explanation autoencoder explanation attached to a verdict
type Explanation struct {
	IsAnomaly         bool     `json:"is_anomaly"`
	OverallScore      float64  `json:"overall_score"`
	AnomalousFeatures []string `json:"anomalous_features"`
	Details           []string `json:"details"`
	Severity          string   `json:"severity"`
	Summary           string   `json:"summary"`
}

// AnomalyVerdict merged detector output, keyed by VerdictSignals
type AnomalyVerdict struct {
	Signals        map[string]SignalVerdict `json:"signals"`
	Reconstruction map[string]float64       `json:"reconstruction,omitempty"`
	Explanation    *Explanation             `json:"explanation,omitempty"`
	// Source is the method that produced the authoritative flags.
	Source string `json:"source"`
}

// NewAnomalyVerdict returns an empty verdict for source.
func NewAnomalyVerdict(source string) *AnomalyVerdict {
	return &AnomalyVerdict{Signals: make(map[string]SignalVerdict, len(VerdictSignals)), Source: source}
}

// AnyAnomaly reports whether any signal is flagged.
func (v *AnomalyVerdict) AnyAnomaly() bool {
	if v == nil {
		return false
	}
	for _, s := range v.Signals {
		if s.IsAnomaly {
			return true
		}
	}
	return false
}

// Flag returns the anomaly flag for a signal group.
func (v *AnomalyVerdict) Flag(signal string) bool {
	if v == nil {
		return false
	}
	return v.Signals[signal].IsAnomaly
}

// Clone deep-copies the verdict.
func (v *AnomalyVerdict) Clone() *AnomalyVerdict {
	if v == nil {
		return nil
	}
	out := &AnomalyVerdict{Signals: make(map[string]SignalVerdict, len(v.Signals)), Source: v.Source}
	for k, s := range v.Signals {
		out.Signals[k] = s
	}
	if v.Reconstruction != nil {
		out.Reconstruction = make(map[string]float64, len(v.Reconstruction))
		for k, r := range v.Reconstruction {
			out.Reconstruction[k] = r
		}
	}
	if v.Explanation != nil {
		e := *v.Explanation
		e.AnomalousFeatures = append([]string(nil), v.Explanation.AnomalousFeatures...)
		e.Details = append([]string(nil), v.Explanation.Details...)
		out.Explanation = &e
	}
	return out
}

// Prediction sources
const (
	PredictionTrend    = "trend"
	PredictionSequence = "sequence_model"
)

// PredictionSet per-signal forecasts with aligned timestamps
type PredictionSet struct {
	Timestamps       []string  `json:"timestamps"`
	HeartRate        []float64 `json:"heart_rate"`
	Systolic         []float64 `json:"blood_pressure_systolic"`
	Diastolic        []float64 `json:"blood_pressure_diastolic"`
	RespiratoryRate  []float64 `json:"respiratory_rate"`
	OxygenSaturation []float64 `json:"oxygen_saturation"`
	Temperature      []float64 `json:"temperature"`
	Source           string    `json:"source"`
}

// Series returns the forecast for a history signal key.
func (p *PredictionSet) Series(signal string) []float64 {
	if p == nil {
		return nil
	}
	switch signal {
	case SignalHeartRate:
		return p.HeartRate
	case SignalSystolic:
		return p.Systolic
	case SignalDiastolic:
		return p.Diastolic
	case SignalRespiratoryRate:
		return p.RespiratoryRate
	case SignalOxygenSaturation:
		return p.OxygenSaturation
	case SignalTemperature:
		return p.Temperature
	}
	return nil
}

// SetSeries stores a forecast for a history signal key.
func (p *PredictionSet) SetSeries(signal string, values []float64) {
	switch signal {
	case SignalHeartRate:
		p.HeartRate = values
	case SignalSystolic:
		p.Systolic = values
	case SignalDiastolic:
		p.Diastolic = values
	case SignalRespiratoryRate:
		p.RespiratoryRate = values
	case SignalOxygenSaturation:
		p.OxygenSaturation = values
	case SignalTemperature:
		p.Temperature = values
	}
}

// RiskAssessment bounded score plus ordered contributing factors
type RiskAssessment struct {
	Score   float64  `json:"risk_score"`
	Factors []string `json:"risk_factors"`
}

// STSegment ST deviation summary
type STSegment struct {
	Deviation  float64 `json:"deviation"`
	Elevation  bool    `json:"elevation"`
	Depression bool    `json:"depression"`
}

// ECGAnalysis rhythm analysis of one waveform
type ECGAnalysis struct {
	HeartRate        float64            `json:"heart_rate"`
	RhythmRegularity float64            `json:"rhythm_regularity"`
	Conditions       []string           `json:"conditions"`
	ConditionNames   []string           `json:"condition_names"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	STSegment        STSegment          `json:"st_segment"`
}

// Alert is immutable once created.
type Alert struct {
	ID          string       `json:"id"`
	PatientID   string       `json:"patient_id"`
	Timestamp   string       `json:"timestamp"`
	RiskScore   float64      `json:"risk_score"`
	Message     string       `json:"message"`
	RiskFactors []string     `json:"risk_factors"`
	Vitals      VitalReading `json:"vitals"`
}

// TickPayload is what one pipeline run emits to the push channel and API callers.
type TickPayload struct {
	PatientID      string          `json:"patient_id"`
	Timestamp      string          `json:"timestamp"`
	CurrentVitals  VitalReading    `json:"current_vitals"`
	Predictions    *PredictionSet  `json:"predictions"`
	AnomalyResults *AnomalyVerdict `json:"anomaly_results"`
	RiskScore      float64         `json:"risk_score"`
	RiskFactors    []string        `json:"risk_factors"`
	ECGAnalysis    *ECGAnalysis    `json:"ecg_analysis"`
	Alerts         []Alert         `json:"alerts"`
	// NewAlert is set when this tick fired an alert.
	NewAlert *Alert `json:"new_alert,omitempty"`
}

// InitialData is pushed to a dashboard when it connects.
type InitialData struct {
	PatientID string           `json:"patient_id"`
	History   *HistorySnapshot `json:"patient_data_history"`
	Alerts    []Alert          `json:"alerts"`
}

// RiskPoint one point of a risk history series
type RiskPoint struct {
	Timestamp string  `json:"timestamp"`
	RiskScore float64 `json:"risk_score"`
}
