package predictor

import (
	"math"
	"math/rand"
)

const (
	inputSize   = 10
	hidden1Size = 16
	hidden2Size = 8
	outputSize  = 1
	dropoutRate = 0.2
)

// Network is the fixed dense(10->16,ReLU) -> dropout(0.2) ->
// dense(16->8,ReLU) -> dense(8->1,sigmoid) rejection-probability model.
// Implemented directly over float64 slices: nothing in this module's
// dependency surface provides a neural-network layer, so this stays on
// the standard library (see DESIGN.md).
type Network struct {
	W1 [][]float64 // hidden1Size x inputSize
	B1 []float64   // hidden1Size
	W2 [][]float64 // hidden2Size x hidden1Size
	B2 []float64   // hidden2Size
	W3 []float64   // outputSize x hidden2Size, flattened (outputSize==1)
	B3 float64
}

// NewNetwork builds a network with small random weights, matching the
// conventional fan-in scaled initialization for a ReLU stack.
func NewNetwork(seed int64) *Network {
	rng := rand.New(rand.NewSource(seed))
	n := &Network{
		W1: randMatrix(rng, hidden1Size, inputSize),
		B1: make([]float64, hidden1Size),
		W2: randMatrix(rng, hidden2Size, hidden1Size),
		B2: make([]float64, hidden2Size),
		W3: randVector(rng, hidden2Size),
		B3: 0,
	}
	return n
}

func randMatrix(rng *rand.Rand, rows, cols int) [][]float64 {
	scale := math.Sqrt(2.0 / float64(cols))
	m := make([][]float64, rows)
	for i := range m {
		m[i] = randVectorScaled(rng, cols, scale)
	}
	return m
}

func randVector(rng *rand.Rand, n int) []float64 {
	return randVectorScaled(rng, n, math.Sqrt(2.0/float64(n)))
}

func randVectorScaled(rng *rand.Rand, n int, scale float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = (rng.Float64()*2 - 1) * scale
	}
	return v
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func reluDerivative(x float64) float64 {
	if x < 0 {
		return 0
	}
	return 1
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// forwardPass holds every layer's pre/post-activation values, needed both
// for inference and for backpropagation during training.
type forwardPass struct {
	input  [inputSize]float64
	z1, a1 [hidden1Size]float64
	mask1  [hidden1Size]float64 // dropout mask, all 1s at inference
	z2, a2 [hidden2Size]float64
	z3, a3 float64
}

func (n *Network) forward(x [inputSize]float64, training bool, rng *rand.Rand) forwardPass {
	var fp forwardPass
	fp.input = x

	for i := 0; i < hidden1Size; i++ {
		sum := n.B1[i]
		for j := 0; j < inputSize; j++ {
			sum += n.W1[i][j] * x[j]
		}
		fp.z1[i] = sum
		fp.a1[i] = relu(sum)
		fp.mask1[i] = 1
	}

	if training {
		for i := 0; i < hidden1Size; i++ {
			if rng.Float64() < dropoutRate {
				fp.mask1[i] = 0
			}
			fp.a1[i] *= fp.mask1[i] / (1 - dropoutRate)
		}
	}

	for i := 0; i < hidden2Size; i++ {
		sum := n.B2[i]
		for j := 0; j < hidden1Size; j++ {
			sum += n.W2[i][j] * fp.a1[j]
		}
		fp.z2[i] = sum
		fp.a2[i] = relu(sum)
	}

	sum := n.B3
	for j := 0; j < hidden2Size; j++ {
		sum += n.W3[j] * fp.a2[j]
	}
	fp.z3 = sum
	fp.a3 = sigmoid(sum)

	return fp
}

// Predict returns the rejection probability for a single feature vector.
// Dropout is disabled at inference (the standard train/eval distinction).
func (n *Network) Predict(x [inputSize]float64) float64 {
	return n.forward(x, false, nil).a3
}

// TrainConfig controls one training run.
type TrainConfig struct {
	Epochs       int
	LearningRate float64
	Seed         int64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{Epochs: 50, LearningRate: 0.01, Seed: 1}
}

// Train runs per-sample (stochastic) gradient descent with binary
// cross-entropy loss over samples, updating the network's weights in
// place after every sample. Callers are
// responsible for the single-flight guard (see Predictor.Train) and for
// enforcing the minimum sample-count requirement before calling this.
func (n *Network) Train(samples []Sample, cfg TrainConfig) float64 {
	rng := rand.New(rand.NewSource(cfg.Seed))
	var lastLoss float64

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		var totalLoss float64
		for _, s := range samples {
			x := s.Features.Vector()
			y := 0.0
			if s.Rejected {
				y = 1.0
			}

			fp := n.forward(x, true, rng)
			p := math.Max(math.Min(fp.a3, 1-1e-7), 1e-7)
			totalLoss += -(y*math.Log(p) + (1-y)*math.Log(1-p))

			n.backprop(fp, y, cfg.LearningRate)
		}
		lastLoss = totalLoss / float64(len(samples))
	}
	return lastLoss
}

func (n *Network) backprop(fp forwardPass, y, lr float64) {
	dz3 := fp.a3 - y // d(BCE)/d(z3) for sigmoid output

	var dW3 [hidden2Size]float64
	for j := 0; j < hidden2Size; j++ {
		dW3[j] = dz3 * fp.a2[j]
	}
	dB3 := dz3

	var da2 [hidden2Size]float64
	for j := 0; j < hidden2Size; j++ {
		da2[j] = dz3 * n.W3[j]
	}

	var dz2 [hidden2Size]float64
	for j := 0; j < hidden2Size; j++ {
		dz2[j] = da2[j] * reluDerivative(fp.z2[j])
	}

	var dW2 [hidden2Size][hidden1Size]float64
	var dB2 [hidden2Size]float64
	for i := 0; i < hidden2Size; i++ {
		dB2[i] = dz2[i]
		for j := 0; j < hidden1Size; j++ {
			dW2[i][j] = dz2[i] * fp.a1[j]
		}
	}

	var da1 [hidden1Size]float64
	for j := 0; j < hidden1Size; j++ {
		var sum float64
		for i := 0; i < hidden2Size; i++ {
			sum += dz2[i] * n.W2[i][j]
		}
		da1[j] = sum * fp.mask1[j]
	}

	var dz1 [hidden1Size]float64
	for j := 0; j < hidden1Size; j++ {
		dz1[j] = da1[j] * reluDerivative(fp.z1[j])
	}

	var dW1 [hidden1Size][inputSize]float64
	var dB1 [hidden1Size]float64
	for i := 0; i < hidden1Size; i++ {
		dB1[i] = dz1[i]
		for j := 0; j < inputSize; j++ {
			dW1[i][j] = dz1[i] * fp.input[j]
		}
	}

	for j := 0; j < hidden2Size; j++ {
		n.W3[j] -= lr * dW3[j]
	}
	n.B3 -= lr * dB3

	for i := 0; i < hidden2Size; i++ {
		n.B2[i] -= lr * dB2[i]
		for j := 0; j < hidden1Size; j++ {
			n.W2[i][j] -= lr * dW2[i][j]
		}
	}

	for i := 0; i < hidden1Size; i++ {
		n.B1[i] -= lr * dB1[i]
		for j := 0; j < inputSize; j++ {
			n.W1[i][j] -= lr * dW1[i][j]
		}
	}
}
