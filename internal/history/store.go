package history

import (
	"sort"
	"sync"

	"owl-vitals/internal/alert"
	"owl-vitals/internal/models"
)

// patientState history and alert log of one patient, guarded by its own lock
type patientState struct {
	mu      sync.RWMutex
	ring    *Ring
	alerts  *alert.Log
	appends int
}

// Store patient-keyed history and alert logs. Each patient has a single writer
// (the monitoring loop or a submit) and any number of readers.
type Store struct {
	mu           sync.RWMutex
	patients     map[string]*patientState
	capacity     int
	alertLogSize int
}

// NewStore creates a Store
func NewStore(capacity, alertLogSize int) *Store {
	return &Store{
		patients:     make(map[string]*patientState),
		capacity:     capacity,
		alertLogSize: alertLogSize,
	}
}

func (s *Store) get(patientID string) *patientState {
	s.mu.RLock()
	p, ok := s.patients[patientID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.patients[patientID]; ok {
		return p
	}
	p = &patientState{
		ring:   NewRing(s.capacity),
		alerts: alert.NewLog(s.alertLogSize),
	}
	s.patients[patientID] = p
	return p
}

func (s *Store) lookup(patientID string) (*patientState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[patientID]
	return p, ok
}

// Append adds a reading and returns the snapshot including it plus the lifetime append count.
func (s *Store) Append(patientID string, r models.VitalReading) (*models.HistorySnapshot, int) {
	p := s.get(patientID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ring.Append(r)
	p.appends++
	return p.ring.Snapshot(), p.appends
}

// Snapshot returns a copy of the patient's history; empty for unknown patients.
func (s *Store) Snapshot(patientID string) *models.HistorySnapshot {
	p, ok := s.lookup(patientID)
	if !ok {
		return models.NewHistorySnapshot(0)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ring.Snapshot()
}

// Len number of stored entries.
func (s *Store) Len(patientID string) int {
	p, ok := s.lookup(patientID)
	if !ok {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ring.Len()
}

// Latest newest stored reading.
func (s *Store) Latest(patientID string) (models.VitalReading, bool) {
	p, ok := s.lookup(patientID)
	if !ok {
		return models.VitalReading{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ring.Latest()
}

// SeedIfEmpty fills an empty history from seed. Reports whether seeding happened.
func (s *Store) SeedIfEmpty(patientID string, seed func() []models.VitalReading) bool {
	p := s.get(patientID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ring.Len() > 0 {
		return false
	}
	for _, r := range seed() {
		p.ring.Append(r)
	}
	return true
}

// AppendAlert adds an alert to the patient's bounded log and returns the log contents.
func (s *Store) AppendAlert(patientID string, a models.Alert) []models.Alert {
	p := s.get(patientID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts.Append(a)
	return p.alerts.Entries()
}

// Alerts returns the alert log, oldest first.
func (s *Store) Alerts(patientID string) []models.Alert {
	p, ok := s.lookup(patientID)
	if !ok {
		return []models.Alert{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alerts.Entries()
}

// Patients returns known patient ids, sorted.
func (s *Store) Patients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.patients))
	for id := range s.patients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
