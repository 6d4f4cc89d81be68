package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloodPressure_JSON(t *testing.T) {
	data, err := json.Marshal(BloodPressure{Systolic: 120, Diastolic: 80})
	require.NoError(t, err)
	assert.Equal(t, `[120,80]`, string(data))

	var bp BloodPressure
	require.NoError(t, json.Unmarshal([]byte(`{"systolic":135,"diastolic":85}`), &bp))
	assert.Equal(t, BloodPressure{Systolic: 135, Diastolic: 85}, bp)

	err = json.Unmarshal([]byte(`[120]`), &bp)
	assert.True(t, errors.Is(err, ErrInvalidVitals))
}

func TestVitalSubmission_MissingField(t *testing.T) {
	var sub VitalSubmission
	body := `{"patient_id":"p1","heart_rate":72,"blood_pressure":[120,80],"oxygen_saturation":98,"temperature":98.6}`
	require.NoError(t, json.Unmarshal([]byte(body), &sub))

	_, err := sub.ToReading(time.Now())
	require.Error(t, err)
	assert.Equal(t, "Missing required field: respiratory_rate", err.Error())

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, SignalRespiratoryRate, ve.Field)
	assert.True(t, errors.Is(err, ErrInvalidVitals))
}

func TestVitalSubmission_DefaultsECG(t *testing.T) {
	var sub VitalSubmission
	body := `{"heart_rate":72,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":98,"temperature":98.6,"ecg_data":[0.1,0.2]}`
	require.NoError(t, json.Unmarshal([]byte(body), &sub))

	r, err := sub.ToReading(time.Now())
	require.NoError(t, err)
	assert.Len(t, r.ECG, ECGLength)
	assert.Equal(t, 0.1, r.ECG[0])
	assert.Equal(t, 0.0, r.ECG[ECGLength-1])
	assert.Equal(t, 120.0, r.BloodPressure.Systolic)
}

func TestVitalSubmission_RejectsOutOfDomain(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"all absurd", `{"heart_rate":1e308,"blood_pressure":[-5,900],"respiratory_rate":-1,"oxygen_saturation":250,"temperature":0}`, SignalHeartRate},
		{"heart rate too high", `{"heart_rate":301,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":98,"temperature":98.6}`, SignalHeartRate},
		{"negative diastolic", `{"heart_rate":72,"blood_pressure":[120,-1],"respiratory_rate":16,"oxygen_saturation":98,"temperature":98.6}`, SignalDiastolic},
		{"oxygen above 100", `{"heart_rate":72,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":100.1,"temperature":98.6}`, SignalOxygenSaturation},
		{"celsius temperature", `{"heart_rate":72,"blood_pressure":[120,80],"respiratory_rate":16,"oxygen_saturation":98,"temperature":37}`, SignalTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sub VitalSubmission
			require.NoError(t, json.Unmarshal([]byte(tt.body), &sub))

			_, err := sub.ToReading(time.Now())
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
			assert.NotEmpty(t, ve.Reason)
			assert.True(t, errors.Is(err, ErrInvalidVitals))
		})
	}
}

func TestVitalReading_ValidateNonFinite(t *testing.T) {
	r := VitalReading{HeartRate: 72, BloodPressure: BloodPressure{120, 80}, RespiratoryRate: 16, OxygenSaturation: 98, Temperature: 98.6}
	require.NoError(t, r.Validate())

	r.RespiratoryRate = math.NaN()
	assert.EqualError(t, r.Validate(), "Invalid field respiratory_rate: must be finite")

	r.RespiratoryRate = 16
	r.ECG = []float64{0.1, math.Inf(-1)}
	assert.EqualError(t, r.Validate(), "Invalid field ecg_data: samples must be finite")

	r.ECG = make([]float64, ECGLength+1)
	assert.Error(t, r.Validate())
}

func TestRoundHelpers(t *testing.T) {
	assert.Equal(t, 72.4, Round1(72.35))
	assert.Equal(t, 98.6, Round1(98.6))
	assert.Equal(t, 121.0, RoundInt(120.5))
	assert.Equal(t, 80.0, RoundInt(80.49))
	assert.Equal(t, 40.0, Clamp(12, 40, 180))
	assert.Equal(t, 180.0, Clamp(200, 40, 180))

	assert.True(t, math.IsInf(Round1(math.Inf(1)), 1))
	assert.True(t, math.IsInf(RoundInt(math.Inf(-1)), -1))
	assert.True(t, math.IsNaN(Round1(math.NaN())))
}

func TestHistorySnapshot_RowsAndAt(t *testing.T) {
	h := NewHistorySnapshot(2)
	r1 := VitalReading{HeartRate: 70, BloodPressure: BloodPressure{120, 80}, RespiratoryRate: 16, OxygenSaturation: 98, Temperature: 98.6}
	r2 := VitalReading{HeartRate: 90, BloodPressure: BloodPressure{130, 85}, RespiratoryRate: 18, OxygenSaturation: 96, Temperature: 99.1}
	h.Append("t1", &r1, nil)
	h.Append("t2", &r2, nil)

	assert.Equal(t, 2, h.Len())
	rows := h.Rows([]string{SignalHeartRate, SignalOxygenSaturation})
	assert.Equal(t, [][]float64{{70, 98}, {90, 96}}, rows)

	got := h.At(1)
	assert.Equal(t, 130.0, got.BloodPressure.Systolic)
	assert.Equal(t, 99.1, got.Temperature)
}

func TestAnomalyVerdict_AnyAnomalyAndClone(t *testing.T) {
	v := NewAnomalyVerdict(MethodRange)
	assert.False(t, v.AnyAnomaly())

	v.Signals[SignalOxygenSaturation] = SignalVerdict{IsAnomaly: true, Score: -0.4, Method: MethodRange}
	assert.True(t, v.AnyAnomaly())
	assert.True(t, v.Flag(SignalOxygenSaturation))

	c := v.Clone()
	c.Signals[SignalOxygenSaturation] = SignalVerdict{}
	assert.True(t, v.Flag(SignalOxygenSaturation))
}

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.AlertPolicy.RiskThreshold = 1.5
	assert.Error(t, s.Validate())
}

func TestSettings_ValidateRejectsInvertedRanges(t *testing.T) {
	s := DefaultSettings()
	s.AlertThresholds.HeartRate = Range{Min: 100, Max: 60}
	assert.EqualError(t, s.Validate(), "heartRate min 100 exceeds max 60")

	s = DefaultSettings()
	s.AlertThresholds.BloodPressure.DiastolicMin = 95
	assert.Error(t, s.Validate())

	// an omitted oxygen max means 100
	s = DefaultSettings()
	s.AlertThresholds.OxygenSaturation = Range{Min: 92}
	assert.NoError(t, s.Validate())
}

func TestVitalSubmission_Time(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s := &VitalSubmission{}
	got, err := s.Time(now)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	s.Timestamp = "2024-03-01T09:30:00Z"
	got, err = s.Time(now)
	require.NoError(t, err)
	assert.True(t, got.Equal(now.Add(-30*time.Minute)))

	s.Timestamp = "2024-03-01 09:30:00"
	_, err = s.Time(now)
	require.NoError(t, err)

	s.Timestamp = "half past nine"
	_, err = s.Time(now)
	assert.ErrorIs(t, err, ErrInvalidVitals)
}
