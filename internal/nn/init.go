package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// Xavier (Glorot) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// Values are drawn from rng so runs are reproducible from the configured seed.
func Xavier(fanIn, fanOut int, shape tensor.Shape, rng *rand.Rand, backend tensor.Backend) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return Uniform(-bound, bound, shape, rng, backend)
}

// KaimingUniform draws from U(-1/sqrt(fan_in), 1/sqrt(fan_in)), the default
// bias initialization of convolution layers.
func KaimingUniform(fanIn int, shape tensor.Shape, rng *rand.Rand, backend tensor.Backend) *tensor.Tensor {
	bound := 1 / math.Sqrt(float64(fanIn))
	return Uniform(-bound, bound, shape, rng, backend)
}

// Uniform creates a tensor with values drawn from U(lo, hi).
func Uniform(lo, hi float64, shape tensor.Shape, rng *rand.Rand, backend tensor.Backend) *tensor.Tensor {
	t := tensor.Zeros(shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = float32(lo + (hi-lo)*rng.Float64())
	}
	return t
}

// Zeros creates a tensor filled with zeros.
//
// This is commonly used for bias initialization.
func Zeros(shape tensor.Shape, backend tensor.Backend) *tensor.Tensor {
	return tensor.Zeros(shape, backend)
}
