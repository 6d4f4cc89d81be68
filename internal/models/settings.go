package models

import "fmt"

// Range inclusive numeric bounds
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max,omitempty"`
}

// Settings dashboard-facing settings document
type Settings struct {
	AlertThresholds struct {
		HeartRate     Range `json:"heartRate"`
		BloodPressure struct {
			SystolicMin  float64 `json:"systolicMin"`
			SystolicMax  float64 `json:"systolicMax"`
			DiastolicMin float64 `json:"diastolicMin"`
			DiastolicMax float64 `json:"diastolicMax"`
		} `json:"bloodPressure"`
		OxygenSaturation Range `json:"oxygenSaturation"`
		RespiratoryRate  Range `json:"respiratoryRate"`
		Temperature      Range `json:"temperature"`
	} `json:"alertThresholds"`

	AIModelSettings struct {
		AnomalySensitivity float64 `json:"anomalySensitivity"`
		PredictionHorizon  int     `json:"predictionHorizon"`
		UsePatientBaseline bool    `json:"usePatientBaseline"`
		EnableAdvancedECG  bool    `json:"enableAdvancedECG"`
		EnableAutoencoder  bool    `json:"enableAutoencoder"`
	} `json:"aiModelSettings"`

	AlertPolicy struct {
		RiskThreshold        float64 `json:"riskThreshold"`
		AnomalyRiskThreshold float64 `json:"anomalyRiskThreshold"`
	} `json:"alertPolicy"`

	DisplaySettings struct {
		UpdateFrequency  int  `json:"updateFrequency"`
		ShowPredictions  bool `json:"showPredictions"`
		EnableSoundAlert bool `json:"enableSoundAlerts"`
		ChartPoints      int  `json:"chartPoints"`
	} `json:"displaySettings"`
}

// DefaultSettings mirrors the clinical normal ranges used by the range detector.
func DefaultSettings() Settings {
	var s Settings
	s.AlertThresholds.HeartRate = Range{Min: 60, Max: 100}
	s.AlertThresholds.BloodPressure.SystolicMin = 90
	s.AlertThresholds.BloodPressure.SystolicMax = 140
	s.AlertThresholds.BloodPressure.DiastolicMin = 60
	s.AlertThresholds.BloodPressure.DiastolicMax = 90
	s.AlertThresholds.OxygenSaturation = Range{Min: 95, Max: 100}
	s.AlertThresholds.RespiratoryRate = Range{Min: 12, Max: 20}
	s.AlertThresholds.Temperature = Range{Min: 97, Max: 99}

	s.AIModelSettings.AnomalySensitivity = 0.05
	s.AIModelSettings.PredictionHorizon = 12
	s.AIModelSettings.UsePatientBaseline = true
	s.AIModelSettings.EnableAdvancedECG = true
	s.AIModelSettings.EnableAutoencoder = true

	s.AlertPolicy.RiskThreshold = 0.15
	s.AlertPolicy.AnomalyRiskThreshold = 0.05

	s.DisplaySettings.UpdateFrequency = 3
	s.DisplaySettings.ShowPredictions = true
	s.DisplaySettings.EnableSoundAlert = true
	s.DisplaySettings.ChartPoints = 20
	return s
}

// Validate checks alert threshold ranges, policy thresholds and horizon.
func (s *Settings) Validate() error {
	t := s.AlertThresholds
	oxMax := t.OxygenSaturation.Max
	if oxMax == 0 {
		oxMax = 100
	}
	for _, r := range []struct {
		name     string
		min, max float64
	}{
		{"heartRate", t.HeartRate.Min, t.HeartRate.Max},
		{"bloodPressure.systolic", t.BloodPressure.SystolicMin, t.BloodPressure.SystolicMax},
		{"bloodPressure.diastolic", t.BloodPressure.DiastolicMin, t.BloodPressure.DiastolicMax},
		{"oxygenSaturation", t.OxygenSaturation.Min, oxMax},
		{"respiratoryRate", t.RespiratoryRate.Min, t.RespiratoryRate.Max},
		{"temperature", t.Temperature.Min, t.Temperature.Max},
	} {
		if r.min > r.max {
			return fmt.Errorf("%s min %v exceeds max %v", r.name, r.min, r.max)
		}
	}
	if s.AlertPolicy.RiskThreshold < 0 || s.AlertPolicy.RiskThreshold > 1 {
		return fmt.Errorf("riskThreshold must be in [0,1], got %v", s.AlertPolicy.RiskThreshold)
	}
	if s.AlertPolicy.AnomalyRiskThreshold < 0 || s.AlertPolicy.AnomalyRiskThreshold > 1 {
		return fmt.Errorf("anomalyRiskThreshold must be in [0,1], got %v", s.AlertPolicy.AnomalyRiskThreshold)
	}
	if s.AIModelSettings.PredictionHorizon <= 0 {
		return fmt.Errorf("predictionHorizon must be positive")
	}
	if s.DisplaySettings.UpdateFrequency <= 0 {
		return fmt.Errorf("updateFrequency must be positive")
	}
	return nil
}
