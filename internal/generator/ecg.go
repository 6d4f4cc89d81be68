package generator

import "owl-vitals/internal/models"

// beatTemplate stylized baseline + P + QRS + T + baseline
var beatTemplate = []float64{
	0.05, 0.05, 0.05, 0.05, 0.05,
	0.1, 0.2, 0.25, 0.2, 0.1,
	-0.05, -0.1, 0.8, 1.0, 0.8, -0.1, -0.05,
	0.1, 0.3, 0.4, 0.3, 0.1,
	0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05,
}

const (
	beatNoise     = 0.03
	baselineNoise = 0.01
	baselineLevel = 0.05
)

// ecg tiles the beat template at the interval implied by heartRate.
func (g *Generator) ecg(heartRate float64) []float64 {
	n := models.ECGLength
	rr := int(float64(models.ECGSampleRate) * 60 / heartRate)
	if rr < len(beatTemplate) {
		rr = len(beatTemplate)
	}

	out := make([]float64, 0, n)
	for len(out) < n {
		for _, s := range beatTemplate {
			if len(out) == n {
				break
			}
			out = append(out, s+g.rng.NormFloat64()*beatNoise)
		}
		for j := len(beatTemplate); j < rr && len(out) < n; j++ {
			out = append(out, baselineLevel+g.rng.NormFloat64()*baselineNoise)
		}
	}

	switch g.episode {
	case EpisodeTachycardia, EpisodeBradycardia:
		// irregular spikes
		for i := 20; i < n; i += 50 {
			sign := 1.0
			if g.rng.Intn(2) == 0 {
				sign = -1
			}
			out[i] += g.uniform(0.3, 0.5) * sign
		}
	case EpisodeHypoxia:
		// attenuated T waves
		for i := 0; i+25 < n; i += 30 {
			for j := 15; j < 25; j++ {
				out[i+j] *= 0.7
			}
		}
	}
	return out
}
