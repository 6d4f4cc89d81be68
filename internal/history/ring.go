package history

import "owl-vitals/internal/models"

// DefaultCapacity 24h at 5-minute granularity
const DefaultCapacity = 288

type entry struct {
	timestamp string
	reading   models.VitalReading
}

// Ring fixed-capacity FIFO of readings. Not safe for concurrent use.
type Ring struct {
	buf   []entry
	start int
	size  int
}

// NewRing creates a ring with the given capacity
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]entry, capacity)}
}

// Append stores r with its ECG reduced to the summary length, evicting the oldest entry when full.
func (r *Ring) Append(reading models.VitalReading) {
	stored := reading
	stored.ECG = reading.ECGSummary()
	e := entry{timestamp: reading.Timestamp.Format(models.TimestampLayout), reading: stored}

	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *Ring) Len() int { return r.size }

func (r *Ring) Cap() int { return len(r.buf) }

// Latest returns the newest reading.
func (r *Ring) Latest() (models.VitalReading, bool) {
	if r.size == 0 {
		return models.VitalReading{}, false
	}
	return r.buf[(r.start+r.size-1)%len(r.buf)].reading.Clone(), true
}

// Snapshot copies the contents into parallel arrays, oldest first.
func (r *Ring) Snapshot() *models.HistorySnapshot {
	s := models.NewHistorySnapshot(r.size)
	for i := 0; i < r.size; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		ecg := make([]float64, len(e.reading.ECG))
		copy(ecg, e.reading.ECG)
		s.Append(e.timestamp, &e.reading, ecg)
	}
	return s
}
