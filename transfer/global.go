package transfer

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-mtlfin/checkpoints"
	"github.com/tsawler/go-mtlfin/tensor"
	"github.com/tsawler/go-mtlfin/training"
)

// GlobalTransform is the affine map shared by every subtask. Gradients from
// each subtask accumulate into the same parameter tensors until the owning
// optimizer zeroes them, so a zero/forward/backward/step cycle must hold the lock.
type GlobalTransform struct {
	mu     sync.Mutex
	linear *training.Linear
}

func newGlobalTransform(inDim, outDim int, rng *rand.Rand) (*GlobalTransform, error) {
	linear, err := training.NewLinear(inDim, outDim, true, rng)
	if err != nil {
		return nil, fmt.Errorf("global transform: %w", err)
	}
	return &GlobalTransform{linear: linear}, nil
}

// Lock acquires the critical section for one optimization step.
func (g *GlobalTransform) Lock() {
	g.mu.Lock()
}

func (g *GlobalTransform) Unlock() {
	g.mu.Unlock()
}

// Transform applies the shared map to z of shape [B, L, D_in].
func (g *GlobalTransform) Transform(z *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := g.linear.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("global transform: %w", err)
	}
	return out, nil
}

// Linear returns the underlying affine module.
func (g *GlobalTransform) Linear() *training.Linear {
	return g.linear
}

func (g *GlobalTransform) Parameters() []*tensor.Tensor {
	return g.linear.Parameters()
}

func (g *GlobalTransform) Train() { g.linear.Train() }
func (g *GlobalTransform) Eval()  { g.linear.Eval() }

// LoadWeights restores the shared map from a saved artifact.
func (g *GlobalTransform) LoadWeights(lw *checkpoints.LinearWeights) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := lw.ApplyTo(g.linear); err != nil {
		return fmt.Errorf("global transform: %w", err)
	}
	return nil
}

func (g *GlobalTransform) String() string {
	return g.linear.String()
}
