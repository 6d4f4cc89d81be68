package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/relvacode/iso8601"
)

// Signal keys used across history, predictions, verdicts and risk factors.
const (
	SignalHeartRate        = "heart_rate"
	SignalBloodPressure    = "blood_pressure"
	SignalSystolic         = "blood_pressure_systolic"
	SignalDiastolic        = "blood_pressure_diastolic"
	SignalRespiratoryRate  = "respiratory_rate"
	SignalOxygenSaturation = "oxygen_saturation"
	SignalTemperature      = "temperature"
)

// TimestampLayout wire format for timestamps in payloads
const TimestampLayout = "2006-01-02 15:04:05"

// ECG sizes: live waveform and stored summary
const (
	ECGLength        = 250
	ECGSummaryLength = 20
	ECGSampleRate    = 125
)

// HistorySignals are the six stored series, in storage order.
var HistorySignals = []string{
	SignalHeartRate,
	SignalSystolic,
	SignalDiastolic,
	SignalRespiratoryRate,
	SignalOxygenSaturation,
	SignalTemperature,
}

// VerdictSignals are the five signal groups a verdict reports on, in evaluation order.
var VerdictSignals = []string{
	SignalHeartRate,
	SignalBloodPressure,
	SignalRespiratoryRate,
	SignalOxygenSaturation,
	SignalTemperature,
}

// SignalDomains are the accepted value ranges per history signal. Readings outside them
// are rejected as invalid rather than clamped.
var SignalDomains = map[string][2]float64{
	SignalHeartRate:        {0, 300},
	SignalSystolic:         {0, 300},
	SignalDiastolic:        {0, 250},
	SignalRespiratoryRate:  {0, 100},
	SignalOxygenSaturation: {0, 100},
	SignalTemperature:      {80, 115},
}

var ErrInvalidVitals = errors.New("invalid vitals")

// ValidationError a required field is missing or out of domain
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Missing required field: %s", e.Field)
	}
	return fmt.Sprintf("Invalid field %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidVitals }

// BloodPressure is encoded as [systolic, diastolic].
type BloodPressure struct {
	Systolic  float64
	Diastolic float64
}

func (b BloodPressure) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{b.Systolic, b.Diastolic})
}

func (b *BloodPressure) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return &ValidationError{Field: SignalBloodPressure, Reason: "expected [systolic, diastolic]"}
		}
		b.Systolic, b.Diastolic = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Systolic  *float64 `json:"systolic"`
		Diastolic *float64 `json:"diastolic"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Systolic == nil || obj.Diastolic == nil {
		return &ValidationError{Field: SignalBloodPressure, Reason: "expected systolic and diastolic"}
	}
	b.Systolic, b.Diastolic = *obj.Systolic, *obj.Diastolic
	return nil
}

// VitalReading one tick of vitals plus ECG waveform
type VitalReading struct {
	HeartRate        float64       `json:"heart_rate"`
	BloodPressure    BloodPressure `json:"blood_pressure"`
	RespiratoryRate  float64       `json:"respiratory_rate"`
	OxygenSaturation float64       `json:"oxygen_saturation"`
	Temperature      float64       `json:"temperature"`
	ECG              []float64     `json:"ecg_data"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Value returns the reading for a history signal key.
func (v *VitalReading) Value(signal string) (float64, bool) {
	switch signal {
	case SignalHeartRate:
		return v.HeartRate, true
	case SignalSystolic:
		return v.BloodPressure.Systolic, true
	case SignalDiastolic:
		return v.BloodPressure.Diastolic, true
	case SignalRespiratoryRate:
		return v.RespiratoryRate, true
	case SignalOxygenSaturation:
		return v.OxygenSaturation, true
	case SignalTemperature:
		return v.Temperature, true
	}
	return 0, false
}

// Validate checks every signal is finite and inside its domain, and the ECG is finite.
func (v *VitalReading) Validate() error {
	for _, signal := range HistorySignals {
		value, _ := v.Value(signal)
		if err := checkDomain(signal, value); err != nil {
			return err
		}
	}
	if len(v.ECG) > ECGLength {
		return &ValidationError{Field: "ecg_data", Reason: fmt.Sprintf("at most %d samples", ECGLength)}
	}
	for _, x := range v.ECG {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return &ValidationError{Field: "ecg_data", Reason: "samples must be finite"}
		}
	}
	return nil
}

func checkDomain(signal string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &ValidationError{Field: signal, Reason: "must be finite"}
	}
	d := SignalDomains[signal]
	if value < d[0] || value > d[1] {
		return &ValidationError{Field: signal, Reason: fmt.Sprintf("must be within [%g, %g]", d[0], d[1])}
	}
	return nil
}

// ECGSummary returns the first ECGSummaryLength samples.
func (v *VitalReading) ECGSummary() []float64 {
	n := ECGSummaryLength
	if len(v.ECG) < n {
		n = len(v.ECG)
	}
	out := make([]float64, n)
	copy(out, v.ECG[:n])
	return out
}

// Clone deep-copies the reading.
func (v VitalReading) Clone() VitalReading {
	if v.ECG != nil {
		ecg := make([]float64, len(v.ECG))
		copy(ecg, v.ECG)
		v.ECG = ecg
	}
	return v
}

// VitalSubmission is a device or API submission; pointer fields detect omissions.
type VitalSubmission struct {
	PatientID        string         `json:"patient_id"`
	HeartRate        *float64       `json:"heart_rate"`
	BloodPressure    *BloodPressure `json:"blood_pressure"`
	RespiratoryRate  *float64       `json:"respiratory_rate"`
	OxygenSaturation *float64       `json:"oxygen_saturation"`
	Temperature      *float64       `json:"temperature"`
	ECG              []float64      `json:"ecg_data"`
	Timestamp        string         `json:"timestamp"`
}

// Validate checks required fields in submission order, then value domains.
func (s *VitalSubmission) Validate() error {
	switch {
	case s.HeartRate == nil:
		return &ValidationError{Field: SignalHeartRate}
	case s.BloodPressure == nil:
		return &ValidationError{Field: SignalBloodPressure}
	case s.RespiratoryRate == nil:
		return &ValidationError{Field: SignalRespiratoryRate}
	case s.OxygenSaturation == nil:
		return &ValidationError{Field: SignalOxygenSaturation}
	case s.Temperature == nil:
		return &ValidationError{Field: SignalTemperature}
	}
	r := VitalReading{
		HeartRate:        *s.HeartRate,
		BloodPressure:    *s.BloodPressure,
		RespiratoryRate:  *s.RespiratoryRate,
		OxygenSaturation: *s.OxygenSaturation,
		Temperature:      *s.Temperature,
		ECG:              s.ECG,
	}
	return r.Validate()
}

// ToReading validates and converts. A missing ECG becomes ECGLength zeros.
func (s *VitalSubmission) ToReading(ts time.Time) (VitalReading, error) {
	if err := s.Validate(); err != nil {
		return VitalReading{}, err
	}
	ecg := make([]float64, ECGLength)
	copy(ecg, s.ECG)
	return VitalReading{
		HeartRate:        *s.HeartRate,
		BloodPressure:    *s.BloodPressure,
		RespiratoryRate:  *s.RespiratoryRate,
		OxygenSaturation: *s.OxygenSaturation,
		Temperature:      *s.Temperature,
		ECG:              ecg,
		Timestamp:        ts,
	}, nil
}

// Time returns the submission timestamp: ISO-8601, or the wire layout, or now when empty.
func (s *VitalSubmission) Time(now time.Time) (time.Time, error) {
	if s.Timestamp == "" {
		return now, nil
	}
	if t, err := iso8601.ParseString(s.Timestamp); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(TimestampLayout, s.Timestamp, time.Local)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "timestamp", Reason: "expected ISO-8601"}
	}
	return t, nil
}
