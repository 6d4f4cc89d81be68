package nn

import (
	"errors"
	"math"
	"math/rand"
)

// Adam optimiser state for one network
type Adam struct {
	net          *Network
	lr           float64
	beta1, beta2 float64
	eps          float64
	step         int
	mW, vW       [][][]float64
	mB, vB       [][]float64
}

// NewAdam creates an optimiser bound to net.
func NewAdam(net *Network, lr float64) *Adam {
	a := &Adam{net: net, lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, l := range net.Layers {
		a.mW = append(a.mW, zeros2(len(l.Weights), len(l.Weights[0])))
		a.vW = append(a.vW, zeros2(len(l.Weights), len(l.Weights[0])))
		a.mB = append(a.mB, make([]float64, len(l.Bias)))
		a.vB = append(a.vB, make([]float64, len(l.Bias)))
	}
	return a
}

// Step runs one mini-batch update minimising mean squared error and returns the batch loss.
func (a *Adam) Step(xs, ys [][]float64) float64 {
	layers := a.net.Layers
	gW := make([][][]float64, len(layers))
	gB := make([][]float64, len(layers))
	for i, l := range layers {
		gW[i] = zeros2(len(l.Weights), len(l.Weights[0]))
		gB[i] = make([]float64, len(l.Bias))
	}

	var loss float64
	for s := range xs {
		acts := a.net.forward(xs[s])
		out := acts[len(acts)-1]
		delta := make([]float64, len(out))
		for o := range out {
			d := out[o] - ys[s][o]
			loss += d * d / float64(len(out))
			delta[o] = 2 * d / float64(len(out))
		}

		for li := len(layers) - 1; li >= 0; li-- {
			l := layers[li]
			in := acts[li]
			for o, row := range l.Weights {
				gB[li][o] += delta[o]
				for i := range row {
					gW[li][o][i] += delta[o] * in[i]
				}
			}
			if li == 0 {
				break
			}
			prev := make([]float64, len(in))
			for i := range prev {
				if in[i] <= 0 {
					// ReLU gradient
					continue
				}
				var sum float64
				for o := range l.Weights {
					sum += l.Weights[o][i] * delta[o]
				}
				prev[i] = sum
			}
			delta = prev
		}
	}

	n := float64(len(xs))
	a.step++
	c1 := 1 - math.Pow(a.beta1, float64(a.step))
	c2 := 1 - math.Pow(a.beta2, float64(a.step))
	for li, l := range layers {
		for o, row := range l.Weights {
			for i := range row {
				g := gW[li][o][i] / n
				a.mW[li][o][i] = a.beta1*a.mW[li][o][i] + (1-a.beta1)*g
				a.vW[li][o][i] = a.beta2*a.vW[li][o][i] + (1-a.beta2)*g*g
				row[i] -= a.lr * (a.mW[li][o][i] / c1) / (math.Sqrt(a.vW[li][o][i]/c2) + a.eps)
			}
			g := gB[li][o] / n
			a.mB[li][o] = a.beta1*a.mB[li][o] + (1-a.beta1)*g
			a.vB[li][o] = a.beta2*a.vB[li][o] + (1-a.beta2)*g*g
			l.Bias[o] -= a.lr * (a.mB[li][o] / c1) / (math.Sqrt(a.vB[li][o]/c2) + a.eps)
		}
	}
	return loss / n
}

// FitConfig training loop parameters
type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
}

// Fit trains net on (xs, ys) with shuffled mini-batches and returns the last epoch's mean loss.
func Fit(net *Network, xs, ys [][]float64, cfg FitConfig, rng *rand.Rand) (float64, error) {
	if len(xs) == 0 || len(xs) != len(ys) {
		return 0, errors.New("empty or misaligned training data")
	}
	if len(xs[0]) != net.InputDim() || len(ys[0]) != net.OutputDim() {
		return 0, ErrShapeMismatch
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	opt := NewAdam(net, cfg.LearningRate)
	var epochLoss float64
	for e := 0; e < cfg.Epochs; e++ {
		order := rng.Perm(len(xs))
		epochLoss = 0
		batches := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			bx := make([][]float64, 0, end-start)
			by := make([][]float64, 0, end-start)
			for _, idx := range order[start:end] {
				bx = append(bx, xs[idx])
				by = append(by, ys[idx])
			}
			epochLoss += opt.Step(bx, by)
			batches++
		}
		epochLoss /= float64(batches)
		if math.IsNaN(epochLoss) {
			return 0, errors.New("training diverged")
		}
	}
	return epochLoss, nil
}

func zeros2(rows, cols int) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
	}
	return out
}
