// Package nn is a small dense feed-forward network with Adam training,
// enough for the autoencoder detector and the sequence predictor.
package nn

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Activations
const (
	ReLU   = "relu"
	Linear = "linear"
)

var ErrShapeMismatch = errors.New("input shape mismatch")

// Layer fully connected layer. Weights are [out][in].
type Layer struct {
	Weights    [][]float64
	Bias       []float64
	Activation string
}

// Network stack of dense layers. Fields are exported for gob.
type Network struct {
	Layers []*Layer
}

// New builds a network with the given layer sizes, ReLU hidden layers and a linear output.
// sizes[0] is the input dimension.
func New(sizes []int, rng *rand.Rand) *Network {
	n := &Network{Layers: make([]*Layer, 0, len(sizes)-1)}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		act := ReLU
		if i == len(sizes)-1 {
			act = Linear
		}
		// He initialisation
		scale := math.Sqrt(2.0 / float64(in))
		w := make([][]float64, out)
		for o := range w {
			w[o] = make([]float64, in)
			for j := range w[o] {
				w[o][j] = rng.NormFloat64() * scale
			}
		}
		n.Layers = append(n.Layers, &Layer{Weights: w, Bias: make([]float64, out), Activation: act})
	}
	return n
}

// InputDim width of the first layer's input.
func (n *Network) InputDim() int {
	if len(n.Layers) == 0 || len(n.Layers[0].Weights) == 0 {
		return 0
	}
	return len(n.Layers[0].Weights[0])
}

// OutputDim width of the last layer.
func (n *Network) OutputDim() int {
	if len(n.Layers) == 0 {
		return 0
	}
	return len(n.Layers[len(n.Layers)-1].Bias)
}

// Forward runs inference on one sample.
func (n *Network) Forward(x []float64) ([]float64, error) {
	if len(x) != n.InputDim() {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrShapeMismatch, len(x), n.InputDim())
	}
	acts := n.forward(x)
	out := acts[len(acts)-1]
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("non-finite network output")
		}
	}
	return out, nil
}

// forward returns the input followed by each layer's post-activation output.
func (n *Network) forward(x []float64) [][]float64 {
	acts := make([][]float64, 0, len(n.Layers)+1)
	acts = append(acts, x)
	cur := x
	for _, l := range n.Layers {
		next := make([]float64, len(l.Bias))
		for o, row := range l.Weights {
			sum := l.Bias[o]
			for i, w := range row {
				sum += w * cur[i]
			}
			if l.Activation == ReLU && sum < 0 {
				sum = 0
			}
			next[o] = sum
		}
		acts = append(acts, next)
		cur = next
	}
	return acts
}

// MarshalBinary gob-encodes the network.
func (n *Network) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n.Layers); err != nil {
		return nil, fmt.Errorf("failed to encode network: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a network written by MarshalBinary.
func (n *Network) UnmarshalBinary(data []byte) error {
	var layers []*Layer
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&layers); err != nil {
		return fmt.Errorf("failed to decode network: %w", err)
	}
	for i, l := range layers {
		if len(l.Weights) != len(l.Bias) {
			return fmt.Errorf("%w: layer %d has %d rows and %d biases", ErrShapeMismatch, i, len(l.Weights), len(l.Bias))
		}
		if i > 0 && len(l.Weights) > 0 && len(l.Weights[0]) != len(layers[i-1].Bias) {
			return fmt.Errorf("%w: layer %d input does not match previous output", ErrShapeMismatch, i)
		}
	}
	n.Layers = layers
	return nil
}
