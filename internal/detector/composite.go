package detector

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"owl-vitals/internal/models"
)

// Composite merges range, isolation and autoencoder verdicts.
//
// Precedence: autoencoder (when trained and enabled), then isolation forest, then range.
// Temperature always comes from the range check.
type Composite struct {
	ranges      *RangeDetector
	isolation   Detector
	autoencoder Detector
	logger      *zap.Logger

	mu                 sync.RWMutex
	autoencoderEnabled bool
}

// NewComposite creates a Composite. isolation and autoencoder may be nil.
func NewComposite(ranges *RangeDetector, isolation, autoencoder Detector, logger *zap.Logger) *Composite {
	return &Composite{
		ranges:             ranges,
		isolation:          isolation,
		autoencoder:        autoencoder,
		logger:             logger,
		autoencoderEnabled: autoencoder != nil,
	}
}

func (c *Composite) Name() string { return "composite" }

// SetAutoencoderEnabled toggles the autoencoder stage at runtime.
func (c *Composite) SetAutoencoderEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoencoderEnabled = enabled && c.autoencoder != nil
}

func (c *Composite) AutoencoderEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoencoderEnabled
}

// Detect never fails: a detector error selects the next method down.
func (c *Composite) Detect(r *models.VitalReading) Result {
	base := c.ranges.Detect(r).Verdict
	traditional := base

	if c.isolation != nil {
		res := c.isolation.Detect(r)
		if res.Err == nil && res.Verdict != nil {
			traditional = withRangeTemperature(res.Verdict, base)
		} else {
			c.logFallback(c.isolation.Name(), models.MethodRange, res.Err)
		}
	}

	if c.AutoencoderEnabled() {
		res := c.autoencoder.Detect(r)
		if res.Err == nil && res.Verdict != nil {
			return verdictResult(withRangeTemperature(res.Verdict, base))
		}
		c.logFallback(c.autoencoder.Name(), traditional.Source, res.Err)
	}

	return verdictResult(traditional)
}

// withRangeTemperature copies v with the temperature verdict taken from base.
func withRangeTemperature(v, base *models.AnomalyVerdict) *models.AnomalyVerdict {
	out := v.Clone()
	out.Signals[models.SignalTemperature] = base.Signals[models.SignalTemperature]
	return out
}

func (c *Composite) logFallback(method, fallback string, err error) {
	if err == nil {
		err = errors.New("empty verdict")
	}
	if errors.Is(err, ErrNotTrained) {
		c.logger.Debug("Detector not trained, using fallback",
			zap.String("method", method),
			zap.String("fallback", fallback),
		)
		return
	}
	c.logger.Warn("Detector failed, using fallback",
		zap.String("method", method),
		zap.String("fallback", fallback),
		zap.Error(err),
	)
}
