package generator

import (
	"math/rand"
	"sync"
	"time"

	"owl-vitals/internal/models"
)

// Episode kinds injected into the simulated stream
const (
	EpisodeNone         = ""
	EpisodeTachycardia  = "tachycardia"
	EpisodeBradycardia  = "bradycardia"
	EpisodeHypertension = "hypertension"
	EpisodeHypotension  = "hypotension"
	EpisodeHypoxia      = "hypoxia"
	EpisodeFever        = "fever"
	EpisodeTachypnea    = "tachypnea"
)

var episodeKinds = []string{
	EpisodeTachycardia,
	EpisodeBradycardia,
	EpisodeHypertension,
	EpisodeHypotension,
	EpisodeHypoxia,
	EpisodeFever,
	EpisodeTachypnea,
}

// baseline patient
const (
	baseHeartRate   = 75.0
	baseSystolic    = 120.0
	baseDiastolic   = 80.0
	baseRespiratory = 16.0
	baseOxygen      = 98.0
	baseTemperature = 98.6
)

// physiological bounds applied before and after episode shifts
var (
	heartRateBounds   = [2]float64{40, 180}
	systolicBounds    = [2]float64{80, 200}
	diastolicBounds   = [2]float64{40, 120}
	respiratoryBounds = [2]float64{8, 40}
	oxygenBounds      = [2]float64{80, 100}
	temperatureBounds = [2]float64{95, 104}
)

const episodeStartProbability = 0.01

// Generator synthesizes one reading per tick. Safe for concurrent use.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock func() time.Time

	timeOfDay bool
	episode   string
	remaining int
}

// Option configures a Generator
type Option func(*Generator)

// WithSeed makes the generator deterministic.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewSource(seed))
	}
}

// WithClock overrides time.Now for Generate.
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// WithoutTimeOfDay disables circadian modulation.
func WithoutTimeOfDay() Option {
	return func(g *Generator) {
		g.timeOfDay = false
	}
}

// New creates a Generator
func New(opts ...Option) *Generator {
	g := &Generator{
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:     time.Now,
		timeOfDay: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces a reading stamped with the generator clock.
func (g *Generator) Generate() models.VitalReading {
	return g.GenerateAt(g.clock())
}

// GenerateAt produces a reading for ts; the hour of ts drives time-of-day modulation.
func (g *Generator) GenerateAt(ts time.Time) models.VitalReading {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.variation(ts)

	r := models.VitalReading{
		HeartRate: models.Round1(models.Clamp(baseHeartRate+v.heartRate+g.uniform(-3, 3), heartRateBounds[0], heartRateBounds[1])),
		BloodPressure: models.BloodPressure{
			Systolic:  models.RoundInt(models.Clamp(baseSystolic+v.bloodPressure+g.uniform(-5, 5), systolicBounds[0], systolicBounds[1])),
			Diastolic: models.RoundInt(models.Clamp(baseDiastolic+v.bloodPressure/2+g.uniform(-3, 3), diastolicBounds[0], diastolicBounds[1])),
		},
		RespiratoryRate:  models.Round1(models.Clamp(baseRespiratory+v.respiratory+g.uniform(-1, 1), respiratoryBounds[0], respiratoryBounds[1])),
		OxygenSaturation: models.Round1(models.Clamp(baseOxygen+g.uniform(-1, 0.5), oxygenBounds[0], oxygenBounds[1])),
		Temperature:      models.Round1(models.Clamp(baseTemperature+v.temperature+g.uniform(-0.2, 0.2), temperatureBounds[0], temperatureBounds[1])),
		Timestamp:        ts,
	}

	if g.advanceEpisode() {
		g.applyEpisode(&r)
	}

	r.ECG = g.ecg(r.HeartRate)
	return r
}

// Series generates n readings spaced by step, the last one at end.
func (g *Generator) Series(n int, end time.Time, step time.Duration) []models.VitalReading {
	out := make([]models.VitalReading, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, g.GenerateAt(end.Add(-time.Duration(i)*step)))
	}
	return out
}

// Episode returns the active episode kind and remaining ticks.
func (g *Generator) Episode() (string, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.episode, g.remaining
}

// StartEpisode forces an episode; used by the simulate command and tests.
func (g *Generator) StartEpisode(kind string, ticks int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.episode = kind
	g.remaining = ticks
}

type variation struct {
	heartRate     float64
	bloodPressure float64
	respiratory   float64
	temperature   float64
}

func (g *Generator) variation(ts time.Time) variation {
	if !g.timeOfDay {
		return variation{}
	}
	hour := ts.Hour()

	var v variation
	if hour >= 8 && hour <= 20 {
		v.heartRate = 10
	} else {
		v.heartRate = -5
	}
	switch {
	case hour >= 6 && hour <= 10:
		v.bloodPressure = 5
	case hour >= 22 || hour <= 5:
		v.bloodPressure = -3
	}
	if hour >= 9 && hour <= 18 {
		v.respiratory = 2
	}
	if hour >= 17 && hour <= 22 {
		v.temperature = 0.3
	}
	return v
}

// advanceEpisode starts or ticks down the episode counter and reports whether one is active.
func (g *Generator) advanceEpisode() bool {
	if g.episode == EpisodeNone {
		if g.rng.Float64() < episodeStartProbability {
			g.episode = episodeKinds[g.rng.Intn(len(episodeKinds))]
			g.remaining = g.intBetween(5, 15)
			return true
		}
		return false
	}
	g.remaining--
	if g.remaining <= 0 {
		g.episode = EpisodeNone
		g.remaining = 0
		return false
	}
	return true
}

func (g *Generator) applyEpisode(r *models.VitalReading) {
	switch g.episode {
	case EpisodeTachycardia:
		r.HeartRate += float64(g.intBetween(30, 50))
	case EpisodeBradycardia:
		r.HeartRate -= float64(g.intBetween(20, 35))
	case EpisodeHypertension:
		r.BloodPressure.Systolic += float64(g.intBetween(30, 50))
		r.BloodPressure.Diastolic += float64(g.intBetween(15, 25))
	case EpisodeHypotension:
		r.BloodPressure.Systolic -= float64(g.intBetween(30, 40))
		r.BloodPressure.Diastolic -= float64(g.intBetween(15, 20))
	case EpisodeHypoxia:
		r.OxygenSaturation -= float64(g.intBetween(5, 15))
	case EpisodeFever:
		r.Temperature += g.uniform(1.5, 3.0)
	case EpisodeTachypnea:
		r.RespiratoryRate += float64(g.intBetween(10, 20))
	}

	r.HeartRate = models.Round1(models.Clamp(r.HeartRate, heartRateBounds[0], heartRateBounds[1]))
	r.BloodPressure.Systolic = models.RoundInt(models.Clamp(r.BloodPressure.Systolic, systolicBounds[0], systolicBounds[1]))
	r.BloodPressure.Diastolic = models.RoundInt(models.Clamp(r.BloodPressure.Diastolic, diastolicBounds[0], diastolicBounds[1]))
	r.RespiratoryRate = models.Round1(models.Clamp(r.RespiratoryRate, respiratoryBounds[0], respiratoryBounds[1]))
	r.OxygenSaturation = models.Round1(models.Clamp(r.OxygenSaturation, oxygenBounds[0], oxygenBounds[1]))
	r.Temperature = models.Round1(models.Clamp(r.Temperature, temperatureBounds[0], temperatureBounds[1]))
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// intBetween returns an int in [lo, hi].
func (g *Generator) intBetween(lo, hi int) int {
	return lo + g.rng.Intn(hi-lo+1)
}
