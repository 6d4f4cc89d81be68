package detector

import (
	"sync"

	"owl-vitals/internal/models"
)

// Range inclusive normal range
type Range struct {
	Min float64
	Max float64
}

// Ranges normal ranges keyed by history signal
type Ranges map[string]Range

// DefaultRanges clinical normal ranges (temperature in °F)
func DefaultRanges() Ranges {
	return Ranges{
		models.SignalHeartRate:        {60, 100},
		models.SignalSystolic:         {90, 140},
		models.SignalDiastolic:        {60, 90},
		models.SignalRespiratoryRate:  {12, 20},
		models.SignalOxygenSaturation: {95, 100},
		models.SignalTemperature:      {97, 99},
	}
}

// RangesFromSettings maps dashboard alert thresholds onto detector ranges.
func RangesFromSettings(s models.Settings) Ranges {
	t := s.AlertThresholds
	oxMax := t.OxygenSaturation.Max
	if oxMax == 0 {
		oxMax = 100
	}
	return Ranges{
		models.SignalHeartRate:        {t.HeartRate.Min, t.HeartRate.Max},
		models.SignalSystolic:         {t.BloodPressure.SystolicMin, t.BloodPressure.SystolicMax},
		models.SignalDiastolic:        {t.BloodPressure.DiastolicMin, t.BloodPressure.DiastolicMax},
		models.SignalRespiratoryRate:  {t.RespiratoryRate.Min, t.RespiratoryRate.Max},
		models.SignalOxygenSaturation: {t.OxygenSaturation.Min, oxMax},
		models.SignalTemperature:      {t.Temperature.Min, t.Temperature.Max},
	}
}

func (r Ranges) clone() Ranges {
	out := make(Ranges, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RangeDetector fixed normal-range checks. Always available.
type RangeDetector struct {
	mu     sync.RWMutex
	ranges Ranges
}

// NewRangeDetector creates a RangeDetector; nil ranges means DefaultRanges.
func NewRangeDetector(ranges Ranges) *RangeDetector {
	if ranges == nil {
		ranges = DefaultRanges()
	}
	return &RangeDetector{ranges: ranges.clone()}
}

func (d *RangeDetector) Name() string { return models.MethodRange }

// SetRanges replaces the normal ranges.
func (d *RangeDetector) SetRanges(r Ranges) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ranges = r.clone()
}

// Ranges returns a copy of the current ranges.
func (d *RangeDetector) Ranges() Ranges {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ranges.clone()
}

// OutOfRange reports whether v lies outside the normal range for signal.
func (d *RangeDetector) OutOfRange(signal string, v float64) bool {
	d.mu.RLock()
	rg, found := d.ranges[signal]
	d.mu.RUnlock()
	if !found {
		return false
	}
	return v < rg.Min || v > rg.Max
}

// Detect checks every signal; blood pressure is anomalous if either component is.
func (d *RangeDetector) Detect(r *models.VitalReading) Result {
	v := models.NewAnomalyVerdict(models.MethodRange)
	flag := func(signal string, anomalous bool) {
		v.Signals[signal] = models.SignalVerdict{IsAnomaly: anomalous, Method: models.MethodRange}
	}

	flag(models.SignalHeartRate, d.OutOfRange(models.SignalHeartRate, r.HeartRate))
	flag(models.SignalBloodPressure,
		d.OutOfRange(models.SignalSystolic, r.BloodPressure.Systolic) ||
			d.OutOfRange(models.SignalDiastolic, r.BloodPressure.Diastolic))
	flag(models.SignalRespiratoryRate, d.OutOfRange(models.SignalRespiratoryRate, r.RespiratoryRate))
	flag(models.SignalOxygenSaturation, d.OutOfRange(models.SignalOxygenSaturation, r.OxygenSaturation))
	flag(models.SignalTemperature, d.OutOfRange(models.SignalTemperature, r.Temperature))
	return verdictResult(v)
}
