// Package modelstore persists trained model artifacts.
package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"owl-vitals/internal/detector"
	"owl-vitals/internal/nn"
)

var ErrNotFound = errors.New("model artifact not found")

// FileStore network weights as <name>.gob with a <name>_threshold.json sidecar
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) weightsPath(name string) string {
	return filepath.Join(s.dir, name+".gob")
}

func (s *FileStore) sidecarPath(name string) string {
	return filepath.Join(s.dir, name+"_threshold.json")
}

// Exists reports whether both files for name are present.
func (s *FileStore) Exists(name string) bool {
	for _, p := range []string{s.weightsPath(name), s.sidecarPath(name)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// SaveNetwork writes weights and the JSON sidecar.
func (s *FileStore) SaveNetwork(name string, net *nn.Network, sidecar any) error {
	weights, err := net.MarshalBinary()
	if err != nil {
		return err
	}
	meta, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := writeFileAtomic(s.weightsPath(name), weights); err != nil {
		return err
	}
	return writeFileAtomic(s.sidecarPath(name), meta)
}

// LoadNetwork reads weights and decodes the sidecar into sidecar. Both files must exist.
func (s *FileStore) LoadNetwork(name string, sidecar any) (*nn.Network, error) {
	if !s.Exists(name) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	weights, err := os.ReadFile(s.weightsPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read weights: %w", err)
	}
	meta, err := os.ReadFile(s.sidecarPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var net nn.Network
	if err := net.UnmarshalBinary(weights); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, sidecar); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar %s: %w", s.sidecarPath(name), err)
	}
	return &net, nil
}

// thresholdSidecar on-disk layout of the autoencoder sidecar
type thresholdSidecar struct {
	Threshold         float64                    `json:"threshold"`
	FeatureThresholds []float64                  `json:"feature_thresholds"`
	Mean              []float64                  `json:"mean"`
	Std               []float64                  `json:"std"`
	Config            detector.AutoencoderConfig `json:"config"`
}

// SaveAutoencoder persists a trained autoencoder.
func (s *FileStore) SaveAutoencoder(name string, m *detector.AutoencoderModel) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.SaveNetwork(name, m.Network, thresholdSidecar{
		Threshold:         m.Threshold,
		FeatureThresholds: m.FeatureThresholds,
		Mean:              m.Mean,
		Std:               m.Std,
		Config:            m.Config,
	})
}

// LoadAutoencoder restores a model saved by SaveAutoencoder.
func (s *FileStore) LoadAutoencoder(name string) (*detector.AutoencoderModel, error) {
	var meta thresholdSidecar
	net, err := s.LoadNetwork(name, &meta)
	if err != nil {
		return nil, err
	}
	m := &detector.AutoencoderModel{
		Network:           net,
		Threshold:         meta.Threshold,
		FeatureThresholds: meta.FeatureThresholds,
		Mean:              meta.Mean,
		Std:               meta.Std,
		Config:            meta.Config,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
