package models

// HistorySnapshot is a read-only copy of a patient's history as parallel arrays, oldest first.
type HistorySnapshot struct {
	Timestamps       []string    `json:"timestamps"`
	HeartRate        []float64   `json:"heart_rate"`
	Systolic         []float64   `json:"blood_pressure_systolic"`
	Diastolic        []float64   `json:"blood_pressure_diastolic"`
	RespiratoryRate  []float64   `json:"respiratory_rate"`
	OxygenSaturation []float64   `json:"oxygen_saturation"`
	Temperature      []float64   `json:"temperature"`
	ECG              [][]float64 `json:"ecg_data"`
}

// NewHistorySnapshot allocates a snapshot with capacity n.
func NewHistorySnapshot(n int) *HistorySnapshot {
	return &HistorySnapshot{
		Timestamps:       make([]string, 0, n),
		HeartRate:        make([]float64, 0, n),
		Systolic:         make([]float64, 0, n),
		Diastolic:        make([]float64, 0, n),
		RespiratoryRate:  make([]float64, 0, n),
		OxygenSaturation: make([]float64, 0, n),
		Temperature:      make([]float64, 0, n),
		ECG:              make([][]float64, 0, n),
	}
}

// Len number of entries.
func (h *HistorySnapshot) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Timestamps)
}

// Series returns the stored values for a history signal key, or nil.
func (h *HistorySnapshot) Series(signal string) []float64 {
	switch signal {
	case SignalHeartRate:
		return h.HeartRate
	case SignalSystolic:
		return h.Systolic
	case SignalDiastolic:
		return h.Diastolic
	case SignalRespiratoryRate:
		return h.RespiratoryRate
	case SignalOxygenSaturation:
		return h.OxygenSaturation
	case SignalTemperature:
		return h.Temperature
	}
	return nil
}

// Rows returns one feature row per entry for the given signals.
func (h *HistorySnapshot) Rows(signals []string) [][]float64 {
	n := h.Len()
	rows := make([][]float64, n)
	cols := make([][]float64, len(signals))
	for j, s := range signals {
		cols[j] = h.Series(s)
	}
	for i := 0; i < n; i++ {
		row := make([]float64, len(signals))
		for j := range signals {
			row[j] = cols[j][i]
		}
		rows[i] = row
	}
	return rows
}

// Append adds one reading with a pre-formatted timestamp and stored ECG summary.
func (h *HistorySnapshot) Append(ts string, r *VitalReading, ecgSummary []float64) {
	h.Timestamps = append(h.Timestamps, ts)
	h.HeartRate = append(h.HeartRate, r.HeartRate)
	h.Systolic = append(h.Systolic, r.BloodPressure.Systolic)
	h.Diastolic = append(h.Diastolic, r.BloodPressure.Diastolic)
	h.RespiratoryRate = append(h.RespiratoryRate, r.RespiratoryRate)
	h.OxygenSaturation = append(h.OxygenSaturation, r.OxygenSaturation)
	h.Temperature = append(h.Temperature, r.Temperature)
	h.ECG = append(h.ECG, ecgSummary)
}

// At rebuilds the reading stored at index i (ECG is the stored summary).
func (h *HistorySnapshot) At(i int) VitalReading {
	return VitalReading{
		HeartRate:        h.HeartRate[i],
		BloodPressure:    BloodPressure{Systolic: h.Systolic[i], Diastolic: h.Diastolic[i]},
		RespiratoryRate:  h.RespiratoryRate[i],
		OxygenSaturation: h.OxygenSaturation[i],
		Temperature:      h.Temperature[i],
		ECG:              h.ECG[i],
	}
}
