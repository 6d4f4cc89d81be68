package detector

import (
	"fmt"
	"sync"

	"owl-vitals/internal/models"
)

// isolationGroup one forest per verdict signal, over one or more history features
type isolationGroup struct {
	signal   string
	features []string
}

var isolationGroups = []isolationGroup{
	{models.SignalHeartRate, []string{models.SignalHeartRate}},
	{models.SignalBloodPressure, []string{models.SignalSystolic, models.SignalDiastolic}},
	{models.SignalRespiratoryRate, []string{models.SignalRespiratoryRate}},
	{models.SignalOxygenSaturation, []string{models.SignalOxygenSaturation}},
	{models.SignalTemperature, []string{models.SignalTemperature}},
}

// IsolationDetector independent isolation forests per signal group
type IsolationDetector struct {
	mu      sync.RWMutex
	forests map[string]*IsolationForest

	contamination float64
	seed          int64
	minSamples    int
}

// NewIsolationDetector creates an untrained detector
func NewIsolationDetector(contamination float64, seed int64, minSamples int) *IsolationDetector {
	return &IsolationDetector{
		contamination: contamination,
		seed:          seed,
		minSamples:    minSamples,
	}
}

func (d *IsolationDetector) Name() string { return models.MethodIsolation }

func (d *IsolationDetector) MinSamples() int { return d.minSamples }

func (d *IsolationDetector) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.forests == nil {
		return StateUntrained
	}
	return StateTrained
}

// Train fits every group on the full history and swaps the models in atomically.
func (d *IsolationDetector) Train(h *models.HistorySnapshot) error {
	if h.Len() <= d.minSamples {
		return fmt.Errorf("%w: have %d samples, need more than %d", ErrInsufficientHistory, h.Len(), d.minSamples)
	}

	forests := make(map[string]*IsolationForest, len(isolationGroups))
	for i, g := range isolationGroups {
		f := NewIsolationForest(
			WithContamination(d.contamination),
			WithForestSeed(d.seed+int64(i)),
		)
		if err := f.Fit(h.Rows(g.features)); err != nil {
			return fmt.Errorf("failed to fit %s forest: %w", g.signal, err)
		}
		forests[g.signal] = f
	}

	d.mu.Lock()
	d.forests = forests
	d.mu.Unlock()
	return nil
}

// Detect scores the reading against each group's forest.
func (d *IsolationDetector) Detect(r *models.VitalReading) Result {
	d.mu.RLock()
	forests := d.forests
	d.mu.RUnlock()
	if forests == nil {
		return errorResult(ErrNotTrained)
	}

	v := models.NewAnomalyVerdict(models.MethodIsolation)
	for _, g := range isolationGroups {
		point := make([]float64, len(g.features))
		for i, feature := range g.features {
			point[i], _ = r.Value(feature)
		}
		decision, err := forests[g.signal].Decision(point)
		if err != nil {
			return errorResult(fmt.Errorf("%s: %w", g.signal, err))
		}
		v.Signals[g.signal] = models.SignalVerdict{
			IsAnomaly: decision < 0,
			Score:     decision,
			Method:    models.MethodIsolation,
		}
	}
	return verdictResult(v)
}

// Export serializes each trained forest keyed by signal group.
func (d *IsolationDetector) Export() (map[string][]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.forests == nil {
		return nil, ErrNotTrained
	}
	out := make(map[string][]byte, len(d.forests))
	for signal, f := range d.forests {
		data, err := f.Save()
		if err != nil {
			return nil, fmt.Errorf("failed to save %s forest: %w", signal, err)
		}
		out[signal] = data
	}
	return out, nil
}

// Import restores forests written by Export. Every group must be present.
func (d *IsolationDetector) Import(blobs map[string][]byte) error {
	forests := make(map[string]*IsolationForest, len(isolationGroups))
	for _, g := range isolationGroups {
		data, found := blobs[g.signal]
		if !found {
			return fmt.Errorf("missing %s forest: %w", g.signal, ErrNotTrained)
		}
		f := NewIsolationForest()
		if err := f.Load(data); err != nil {
			return fmt.Errorf("failed to load %s forest: %w", g.signal, err)
		}
		forests[g.signal] = f
	}

	d.mu.Lock()
	d.forests = forests
	d.mu.Unlock()
	return nil
}
