package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"owl-vitals/internal/models"
)

// Default firing thresholds
const (
	DefaultRiskThreshold        = 0.15
	DefaultAnomalyRiskThreshold = 0.05
)

// Policy decides whether a tick raises an alert. Thresholds may be changed at runtime.
type Policy struct {
	mu                   sync.RWMutex
	riskThreshold        float64
	anomalyRiskThreshold float64
}

// NewPolicy creates a Policy
func NewPolicy(riskThreshold, anomalyRiskThreshold float64) *Policy {
	return &Policy{
		riskThreshold:        riskThreshold,
		anomalyRiskThreshold: anomalyRiskThreshold,
	}
}

// SetThresholds replaces both thresholds.
func (p *Policy) SetThresholds(riskThreshold, anomalyRiskThreshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.riskThreshold = riskThreshold
	p.anomalyRiskThreshold = anomalyRiskThreshold
}

// Thresholds returns the current thresholds.
func (p *Policy) Thresholds() (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.riskThreshold, p.anomalyRiskThreshold
}

// ShouldFire fires on a high score, or on a moderate score with any anomaly flag set.
func (p *Policy) ShouldFire(score float64, verdict *models.AnomalyVerdict) bool {
	risk, anomalyRisk := p.Thresholds()
	if score > risk {
		return true
	}
	return score > anomalyRisk && verdict.AnyAnomaly()
}

// Evaluate returns a new alert when the policy fires, nil otherwise.
func (p *Policy) Evaluate(patientID string, assessment models.RiskAssessment, verdict *models.AnomalyVerdict, current models.VitalReading, ts time.Time) *models.Alert {
	if !p.ShouldFire(assessment.Score, verdict) {
		return nil
	}
	a := NewAlert(patientID, ts, assessment, current)
	return &a
}

// NewAlert builds an immutable alert record.
func NewAlert(patientID string, ts time.Time, assessment models.RiskAssessment, current models.VitalReading) models.Alert {
	factors := make([]string, len(assessment.Factors))
	copy(factors, assessment.Factors)
	return models.Alert{
		ID:          uuid.New().String(),
		PatientID:   patientID,
		Timestamp:   ts.Format(models.TimestampLayout),
		RiskScore:   assessment.Score,
		Message:     Message(assessment.Score),
		RiskFactors: factors,
		Vitals:      current.Clone(),
	}
}

// Message alert headline for a risk score
func Message(score float64) string {
	return fmt.Sprintf("Abnormal vital signs detected with %d%% risk score", int(score*100))
}
