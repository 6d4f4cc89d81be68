// Package risk turns current vitals, anomaly verdicts and forecasts into a bounded risk score.
package risk

import (
	"fmt"
	"math"
	"strconv"

	"github.com/iancoleman/strcase"

	"owl-vitals/internal/models"
)

// Weights per signal group; they sum to 1.
var Weights = map[string]float64{
	models.SignalHeartRate:        0.2,
	models.SignalBloodPressure:    0.2,
	models.SignalRespiratoryRate:  0.15,
	models.SignalOxygenSaturation: 0.25,
	models.SignalTemperature:      0.2,
}

// Severe cut-offs deciding the direction named in a risk factor
const (
	heartRateHigh       = 120
	heartRateLow        = 50
	systolicHigh        = 160
	systolicLow         = 90
	diastolicHigh       = 100
	diastolicLow        = 50
	respiratoryRateHigh = 24
	respiratoryRateLow  = 10
	oxygenLow           = 92
	temperatureHigh     = 101
	temperatureLow      = 95
)

const (
	factorThreshold  = 0.6
	anomalyThreshold = -0.2
	trendThreshold   = 0.5
)

// Calculator stateless risk scorer
type Calculator struct{}

// NewCalculator creates a Calculator
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate scores one tick. Factors keep evaluation order and are not deduplicated.
func (c *Calculator) Calculate(current models.VitalReading, predictions *models.PredictionSet, verdict *models.AnomalyVerdict) models.RiskAssessment {
	score, factors := currentVitals(current)

	if verdict != nil {
		for _, signal := range models.VerdictSignals {
			sv, ok := verdict.Signals[signal]
			if !ok || sv.Score >= anomalyThreshold {
				continue
			}
			score += ((-sv.Score) - 0.2) * 2 * 0.1
			factors = append(factors, "Unusual pattern detected in "+strcase.ToDelimited(signal, ' '))
		}
	}

	if hr := predictions.Series(models.SignalHeartRate); len(hr) > 0 {
		if r := trendRisk(hr, heartRateHigh, heartRateLow, false); r > trendThreshold {
			score += r * 0.05
			last := hr[len(hr)-1]
			if last > heartRateHigh {
				factors = append(factors, "Predicted increasing heart rate trend")
			} else if last < heartRateLow {
				factors = append(factors, "Predicted decreasing heart rate trend")
			}
		}
	}
	if ox := predictions.Series(models.SignalOxygenSaturation); len(ox) > 0 {
		if r := trendRisk(ox, 100, oxygenLow, true); r > trendThreshold {
			score += r * 0.1
			factors = append(factors, "Predicted decreasing oxygen saturation trend")
		}
	}

	return models.RiskAssessment{Score: math.Min(score, 1), Factors: factors}
}

// CurrentVitalsScore scores only the current-vitals stage, without anomaly or trend terms.
func (c *Calculator) CurrentVitalsScore(current models.VitalReading) float64 {
	score, _ := currentVitals(current)
	return math.Min(score, 1)
}

func currentVitals(v models.VitalReading) (float64, []string) {
	var (
		score   float64
		factors []string
	)

	hr := HeartRate(v.HeartRate)
	score += hr * Weights[models.SignalHeartRate]
	if hr > factorThreshold {
		if v.HeartRate > heartRateHigh {
			factors = append(factors, fmt.Sprintf("Elevated heart rate: %s BPM", num(v.HeartRate)))
		} else if v.HeartRate < heartRateLow {
			factors = append(factors, fmt.Sprintf("Low heart rate: %s BPM", num(v.HeartRate)))
		}
	}

	sys, dia := v.BloodPressure.Systolic, v.BloodPressure.Diastolic
	bp := BloodPressure(sys, dia)
	score += bp * Weights[models.SignalBloodPressure]
	if bp > factorThreshold {
		if sys > systolicHigh {
			factors = append(factors, fmt.Sprintf("Elevated systolic pressure: %s mmHg", num(sys)))
		} else if sys < systolicLow {
			factors = append(factors, fmt.Sprintf("Low systolic pressure: %s mmHg", num(sys)))
		}
		if dia > diastolicHigh {
			factors = append(factors, fmt.Sprintf("Elevated diastolic pressure: %s mmHg", num(dia)))
		} else if dia < diastolicLow {
			factors = append(factors, fmt.Sprintf("Low diastolic pressure: %s mmHg", num(dia)))
		}
	}

	rr := RespiratoryRate(v.RespiratoryRate)
	score += rr * Weights[models.SignalRespiratoryRate]
	if rr > factorThreshold {
		if v.RespiratoryRate > respiratoryRateHigh {
			factors = append(factors, fmt.Sprintf("Elevated respiratory rate: %s breaths/min", num(v.RespiratoryRate)))
		} else if v.RespiratoryRate < respiratoryRateLow {
			factors = append(factors, fmt.Sprintf("Low respiratory rate: %s breaths/min", num(v.RespiratoryRate)))
		}
	}

	ox := OxygenSaturation(v.OxygenSaturation)
	score += ox * Weights[models.SignalOxygenSaturation]
	if ox > factorThreshold && v.OxygenSaturation < oxygenLow {
		factors = append(factors, fmt.Sprintf("Low oxygen saturation: %s%%", num(v.OxygenSaturation)))
	}

	temp := Temperature(v.Temperature)
	score += temp * Weights[models.SignalTemperature]
	if temp > factorThreshold {
		if v.Temperature > temperatureHigh {
			factors = append(factors, fmt.Sprintf("Elevated temperature: %s°F", num(v.Temperature)))
		} else if v.Temperature < temperatureLow {
			factors = append(factors, fmt.Sprintf("Low temperature: %s°F", num(v.Temperature)))
		}
	}

	return score, factors
}

// HeartRate sub-score
func HeartRate(v float64) float64 {
	switch {
	case v > 150 || v < 40:
		return 1
	case v > 120 || v < 50:
		return 0.7
	case v > 100 || v < 60:
		return 0.3
	}
	return 0
}

// BloodPressure sub-score, the worse of systolic and diastolic.
func BloodPressure(sys, dia float64) float64 {
	var s, d float64
	switch {
	case sys > 180 || sys < 80:
		s = 1
	case sys > 160 || sys < 90:
		s = 0.7
	case sys > 140 || sys < 100:
		s = 0.3
	}
	switch {
	case dia > 120 || dia < 40:
		d = 1
	case dia > 100 || dia < 50:
		d = 0.7
	case dia > 90 || dia < 60:
		d = 0.3
	}
	return math.Max(s, d)
}

// RespiratoryRate sub-score
func RespiratoryRate(v float64) float64 {
	switch {
	case v > 30 || v < 8:
		return 1
	case v > 24 || v < 10:
		return 0.7
	case v > 20 || v < 12:
		return 0.3
	}
	return 0
}

// OxygenSaturation sub-score; only low values carry risk.
func OxygenSaturation(v float64) float64 {
	switch {
	case v < 85:
		return 1
	case v < 90:
		return 0.8
	case v < 92:
		return 0.6
	case v < 95:
		return 0.3
	}
	return 0
}

// Temperature sub-score, °F
func Temperature(v float64) float64 {
	switch {
	case v > 103 || v < 94:
		return 1
	case v > 101 || v < 95:
		return 0.7
	case v > 99.5 || v < 97:
		return 0.3
	}
	return 0
}

// trendRisk compares the first and last forecast. With decreasingIsBad only a falling
// series counts.
func trendRisk(values []float64, high, low float64, decreasingIsBad bool) float64 {
	if len(values) < 2 {
		return 0
	}
	last := values[len(values)-1]
	trend := last - values[0]

	if decreasingIsBad {
		switch {
		case trend < -3 && last < low:
			return 0.8
		case trend < -2:
			return 0.5
		}
		return 0
	}
	switch {
	case (trend > 3 && last > high) || (trend < -3 && last < low):
		return 0.8
	case math.Abs(trend) > 2:
		return 0.5
	}
	return 0
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
