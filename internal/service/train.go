package service

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"owl-vitals/internal/config"
	"owl-vitals/internal/detector"
	"owl-vitals/internal/generator"
	"owl-vitals/internal/history"
	"owl-vitals/internal/modelstore"
	"owl-vitals/internal/predictor"
)

// TrainOptions offline training parameters
type TrainOptions struct {
	Samples int
	Dir     string
	// Epochs overrides both models' epoch counts when positive
	Epochs   int
	Sequence bool
}

// TrainOffline trains the autoencoder (and optionally the sequence model) on synthetic
// readings and saves them where the service restores them from.
func TrainOffline(cfg *config.Config, opts TrainOptions, logger *zap.Logger) error {
	if opts.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", opts.Samples)
	}
	fs, err := modelstore.NewFileStore(opts.Dir)
	if err != nil {
		return err
	}

	gen := generator.New(generator.WithSeed(cfg.Detector.Seed))
	ring := history.NewRing(opts.Samples)
	for _, r := range gen.Series(opts.Samples, time.Now(), cfg.Monitor.Interval) {
		ring.Append(r)
	}
	h := ring.Snapshot()

	aeCfg := detector.DefaultAutoencoderConfig()
	if cfg.Detector.ThresholdMultiplier > 0 {
		aeCfg.ThresholdMultiplier = cfg.Detector.ThresholdMultiplier
	}
	aeCfg.Epochs = cfg.Detector.Epochs
	if opts.Epochs > 0 {
		aeCfg.Epochs = opts.Epochs
	}

	start := time.Now()
	ae := detector.NewAutoencoderDetector(aeCfg, 0, cfg.Detector.Seed, detector.NewRangeDetector(nil))
	if err := ae.Train(h); err != nil {
		return fmt.Errorf("failed to train autoencoder: %w", err)
	}
	if err := fs.SaveAutoencoder(AutoencoderModelName, ae.Model()); err != nil {
		return err
	}
	logger.Info("Autoencoder trained",
		zap.Int("samples", h.Len()),
		zap.Float64("threshold", ae.Model().Threshold),
		zap.Duration("took", time.Since(start)),
		zap.String("dir", opts.Dir),
	)

	if !opts.Sequence {
		return nil
	}

	seqCfg := predictor.DefaultSequenceConfig()
	seqCfg.SequenceLength = cfg.Predictor.SequenceLength
	seqCfg.Horizon = cfg.Predictor.Horizon
	if opts.Epochs > 0 {
		seqCfg.Epochs = opts.Epochs
	}
	start = time.Now()
	m, err := predictor.TrainSequenceModel(h, seqCfg, rand.New(rand.NewSource(cfg.Detector.Seed)))
	if err != nil {
		return fmt.Errorf("failed to train sequence model: %w", err)
	}
	if err := fs.SaveNetwork(SequenceModelName, m.Network, m.Sidecar()); err != nil {
		return err
	}
	logger.Info("Sequence model trained",
		zap.Int("samples", h.Len()),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
