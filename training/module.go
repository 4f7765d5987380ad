package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-mtlfin/tensor"
)

// Module interface defines methods that all layers must implement
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor // Returns trainable parameters (tensors with requiresGrad=true)
	Train()                       // Sets module to training mode
	Eval()                        // Sets module to evaluation mode, no graph is recorded
	IsTraining() bool             // Returns true if in training mode
}

// Linear implements an affine layer over the last input axis: y = xW + b.
// The weight is stored as [inputSize, outputSize].
type Linear struct {
	weight   *tensor.Tensor
	bias     *tensor.Tensor
	training bool
}

// NewLinear creates a Linear layer with the standard affine default
// initialization: weight and bias ~ U(-1/sqrt(in), 1/sqrt(in)).
func NewLinear(inputSize, outputSize int, bias bool, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, fmt.Errorf("linear layer sizes must be positive, got %d -> %d", inputSize, outputSize)
	}

	bound := 1.0 / math.Sqrt(float64(inputSize))

	weight, err := tensor.Uniform([]int{inputSize, outputSize}, -bound, bound, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to create weight tensor: %w", err)
	}
	weight.SetRequiresGrad(true)

	linear := &Linear{
		weight:   weight,
		training: true,
	}

	if bias {
		biasT, err := tensor.Uniform([]int{outputSize}, -bound, bound, rng)
		if err != nil {
			return nil, fmt.Errorf("failed to create bias tensor: %w", err)
		}
		biasT.SetRequiresGrad(true)
		linear.bias = biasT
	}

	return linear, nil
}

// Forward applies the layer to an input of shape [..., inputSize].
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) == 0 || input.Shape[len(input.Shape)-1] != l.InFeatures() {
		return nil, fmt.Errorf("input size mismatch: expected last dimension %d, got shape %v: %w",
			l.InFeatures(), input.Shape, tensor.ErrShapeMismatch)
	}

	if !l.training {
		return tensor.Affine(input, l.weight, l.bias)
	}
	return tensor.AffineAutograd(input, l.weight, l.bias)
}

func (l *Linear) InFeatures() int {
	return l.weight.Shape[0]
}

func (l *Linear) OutFeatures() int {
	return l.weight.Shape[1]
}

func (l *Linear) Weight() *tensor.Tensor {
	return l.weight
}

// Bias returns the bias tensor, or nil for a bias-free layer.
func (l *Linear) Bias() *tensor.Tensor {
	return l.bias
}

// SetWeights overwrites the parameters in place, keeping optimizer bindings valid.
func (l *Linear) SetWeights(weight, bias []float64) error {
	if err := l.weight.SetData(weight); err != nil {
		return fmt.Errorf("weight: %w", err)
	}
	if l.bias == nil {
		if len(bias) != 0 {
			return fmt.Errorf("layer has no bias but %d bias values were given: %w", len(bias), tensor.ErrShapeMismatch)
		}
		return nil
	}
	if err := l.bias.SetData(bias); err != nil {
		return fmt.Errorf("bias: %w", err)
	}
	return nil
}

// Parameters returns the trainable parameters
func (l *Linear) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{l.weight}
	if l.bias != nil {
		params = append(params, l.bias)
	}
	return params
}

func (l *Linear) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=%t)", l.InFeatures(), l.OutFeatures(), l.bias != nil)
}

// Train sets the module to training mode
func (l *Linear) Train() {
	l.training = true
}

// Eval sets the module to evaluation mode
func (l *Linear) Eval() {
	l.training = false
}

// IsTraining returns true if in training mode
func (l *Linear) IsTraining() bool {
	return l.training
}

// Tanh implements the tanh activation module, bounding outputs to (-1, 1)
type Tanh struct {
	training bool
}

// NewTanh creates a new Tanh activation module
func NewTanh() *Tanh {
	return &Tanh{training: true}
}

// Forward performs tanh activation
func (t *Tanh) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if !t.training {
		return tensor.Tanh(input)
	}
	return tensor.TanhAutograd(input)
}

// Parameters returns empty slice (Tanh has no parameters)
func (t *Tanh) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{}
}

func (t *Tanh) String() string {
	return "Tanh()"
}

func (t *Tanh) Train() {
	t.training = true
}

func (t *Tanh) Eval() {
	t.training = false
}

func (t *Tanh) IsTraining() bool {
	return t.training
}

// Sequential allows chaining multiple modules together
type Sequential struct {
	modules  []Module
	training bool
}

// NewSequential creates a new Sequential container
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{
		modules:  modules,
		training: true,
	}
}

// Forward passes input through all modules in sequence
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	output := input
	var err error

	for i, module := range s.modules {
		output, err = module.Forward(output)
		if err != nil {
			return nil, fmt.Errorf("module %d forward failed: %w", i, err)
		}
	}

	return output, nil
}

// Parameters returns all trainable parameters from all modules
func (s *Sequential) Parameters() []*tensor.Tensor {
	var allParams []*tensor.Tensor
	for _, module := range s.modules {
		allParams = append(allParams, module.Parameters()...)
	}
	return allParams
}

// Train sets all modules to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, module := range s.modules {
		module.Train()
	}
}

// Eval sets all modules to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, module := range s.modules {
		module.Eval()
	}
}

// IsTraining returns true if in training mode
func (s *Sequential) IsTraining() bool {
	return s.training
}
