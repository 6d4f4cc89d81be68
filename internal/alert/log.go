package alert

import "owl-vitals/internal/models"

// DefaultLogSize most recent alerts kept per patient
const DefaultLogSize = 10

// Log bounded FIFO of alerts. Not safe for concurrent use; callers hold the patient lock.
type Log struct {
	entries []models.Alert
	max     int
}

// NewLog creates a Log holding at most max entries
func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultLogSize
	}
	return &Log{entries: make([]models.Alert, 0, max), max: max}
}

// Append adds a, evicting the oldest entry on overflow.
func (l *Log) Append(a models.Alert) {
	if len(l.entries) == l.max {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.max-1]
	}
	l.entries = append(l.entries, a)
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []models.Alert {
	out := make([]models.Alert, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int { return len(l.entries) }
