package training

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-mtlfin/tensor"
)

// ErrNonFiniteGradient is returned by Step when a gradient holds NaN or Inf.
var ErrNonFiniteGradient = errors.New("non-finite gradient")

// Optimizer interface defines the methods that all optimizers must implement
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// AdamConfig holds the Adam hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
	AMSGrad      bool
}

// DefaultAdamConfig returns the usual Adam defaults for the given learning rate.
func DefaultAdamConfig(lr float64) AdamConfig {
	return AdamConfig{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam implements the Adam optimizer, optionally with the AMSGrad variant.
// Moment buffers belong to this instance; two optimizers over the same
// parameter keep independent statistics.
type Adam struct {
	parameters []*tensor.Tensor
	config     AdamConfig
	step       int64
	m          map[*tensor.Tensor][]float64 // First moment estimates
	v          map[*tensor.Tensor][]float64 // Second moment estimates
	vMax       map[*tensor.Tensor][]float64 // Running max of v (AMSGrad)
	mutex      sync.RWMutex
}

// NewAdam creates a new Adam optimizer
func NewAdam(parameters []*tensor.Tensor, config AdamConfig) (*Adam, error) {
	if config.LearningRate <= 0 || math.IsNaN(config.LearningRate) {
		return nil, fmt.Errorf("invalid learning rate: %v", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("invalid betas: (%v, %v)", config.Beta1, config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("invalid epsilon: %v", config.Epsilon)
	}

	adam := &Adam{
		parameters: parameters,
		config:     config,
		m:          make(map[*tensor.Tensor][]float64),
		v:          make(map[*tensor.Tensor][]float64),
		vMax:       make(map[*tensor.Tensor][]float64),
	}

	for _, param := range parameters {
		if param.RequiresGrad() {
			adam.m[param] = make([]float64, param.NumElems)
			adam.v[param] = make([]float64, param.NumElems)
			if config.AMSGrad {
				adam.vMax[param] = make([]float64, param.NumElems)
			}
		}
	}

	return adam, nil
}

// Step performs a single optimization step
func (adam *Adam) Step() error {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()

	for i, param := range adam.parameters {
		if grad := param.Grad(); param.RequiresGrad() && grad != nil && !grad.AllFinite() {
			return fmt.Errorf("parameter %d %v: %w", i, param.Shape, ErrNonFiniteGradient)
		}
	}

	adam.step++
	cfg := adam.config

	// Bias correction factors
	bias1 := 1.0 - math.Pow(cfg.Beta1, float64(adam.step))
	bias2 := 1.0 - math.Pow(cfg.Beta2, float64(adam.step))
	stepSize := cfg.LearningRate / bias1
	bias2Sqrt := math.Sqrt(bias2)

	for _, param := range adam.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		grad := param.Grad().Data
		if cfg.WeightDecay > 0 {
			decayed := make([]float64, len(grad))
			copy(decayed, grad)
			floats.AddScaled(decayed, cfg.WeightDecay, param.Data)
			grad = decayed
		}

		m, v := adam.m[param], adam.v[param]

		// m = beta1 * m + (1 - beta1) * grad
		floats.Scale(cfg.Beta1, m)
		floats.AddScaled(m, 1-cfg.Beta1, grad)

		// v = beta2 * v + (1 - beta2) * grad^2
		floats.Scale(cfg.Beta2, v)
		for j, g := range grad {
			v[j] += (1 - cfg.Beta2) * g * g
		}

		denomSrc := v
		if cfg.AMSGrad {
			vMax := adam.vMax[param]
			for j := range vMax {
				vMax[j] = math.Max(vMax[j], v[j])
			}
			denomSrc = vMax
		}

		// param -= lr/bias1 * m / (sqrt(v)/sqrt(bias2) + eps)
		for j := range param.Data {
			param.Data[j] -= stepSize * m[j] / (math.Sqrt(denomSrc[j])/bias2Sqrt + cfg.Epsilon)
		}
	}

	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (adam *Adam) ZeroGrad() {
	tensor.ZeroGrad(adam.parameters)
}

// Steps returns how many updates have been applied.
func (adam *Adam) Steps() int64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.step
}

// Parameters returns the tensors this optimizer updates.
func (adam *Adam) Parameters() []*tensor.Tensor {
	return adam.parameters
}

// GetLR returns the current learning rate
func (adam *Adam) GetLR() float64 {
	adam.mutex.RLock()
	defer adam.mutex.RUnlock()
	return adam.config.LearningRate
}

// SetLR sets the learning rate
func (adam *Adam) SetLR(lr float64) {
	adam.mutex.Lock()
	defer adam.mutex.Unlock()
	adam.config.LearningRate = lr
}
