package training

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-mtlfin/tensor"
)

func TestLinearModule(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	t.Run("Linear layer forward pass on 3D input", func(t *testing.T) {
		linear, err := NewLinear(3, 2, true, rng)
		if err != nil {
			t.Fatalf("Failed to create Linear layer: %v", err)
		}

		input, err := tensor.NewTensor([]int{2, 4, 3}, nil)
		if err != nil {
			t.Fatalf("Failed to create input tensor: %v", err)
		}
		for i := range input.Data {
			input.Data[i] = float64(i) / 10
		}

		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Linear forward pass failed: %v", err)
		}

		expectedShape := []int{2, 4, 2}
		for i, dim := range expectedShape {
			if output.Shape[i] != dim {
				t.Errorf("Output shape dimension %d: expected %d, got %d", i, dim, output.Shape[i])
			}
		}
		if !output.RequiresGrad() {
			t.Error("Training mode output should be attached to the graph")
		}
	})

	t.Run("Default initialization bound", func(t *testing.T) {
		linear, err := NewLinear(16, 8, true, rng)
		if err != nil {
			t.Fatalf("Failed to create Linear layer: %v", err)
		}
		bound := 1 / math.Sqrt(16)
		for _, p := range linear.Parameters() {
			for i, v := range p.Data {
				if math.Abs(v) > bound {
					t.Errorf("Parameter value %d = %v exceeds bound %v", i, v, bound)
				}
			}
		}
	})

	t.Run("Eval mode records no graph", func(t *testing.T) {
		linear, _ := NewLinear(2, 2, true, rng)
		linear.Eval()
		if linear.IsTraining() {
			t.Fatal("Expected eval mode")
		}
		input, _ := tensor.NewTensor([]int{1, 2}, []float64{1, 2})
		output, err := linear.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if output.RequiresGrad() || output.Creator() != nil {
			t.Error("Eval mode output should be detached")
		}
	})

	t.Run("Input width mismatch", func(t *testing.T) {
		linear, _ := NewLinear(3, 2, true, rng)
		input, _ := tensor.NewTensor([]int{1, 2}, nil)
		if _, err := linear.Forward(input); !errors.Is(err, tensor.ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("SetWeights", func(t *testing.T) {
		linear, _ := NewLinear(2, 1, true, rng)
		if err := linear.SetWeights([]float64{1, 2}, []float64{3}); err != nil {
			t.Fatalf("SetWeights failed: %v", err)
		}
		input, _ := tensor.NewTensor([]int{1, 2}, []float64{1, 1})
		output, _ := linear.Forward(input)
		if output.Data[0] != 6 {
			t.Errorf("Expected 6, got %v", output.Data[0])
		}
		if err := linear.SetWeights([]float64{1}, []float64{3}); err == nil {
			t.Error("Expected error for wrong weight length")
		}
	})

	t.Run("Deterministic with seeded source", func(t *testing.T) {
		a, _ := NewLinear(4, 3, true, rand.New(rand.NewSource(42)))
		b, _ := NewLinear(4, 3, true, rand.New(rand.NewSource(42)))
		if !a.Weight().Equal(b.Weight()) || !a.Bias().Equal(b.Bias()) {
			t.Error("Expected identical initialization for identical seeds")
		}
	})
}

func TestTanhAndSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	linear, _ := NewLinear(2, 3, true, rng)
	seq := NewSequential(linear, NewTanh())

	if got := len(seq.Parameters()); got != 2 {
		t.Fatalf("Expected 2 parameters, got %d", got)
	}

	input, _ := tensor.NewTensor([]int{1, 1, 2}, []float64{50, -50})
	output, err := seq.Forward(input)
	if err != nil {
		t.Fatalf("Sequential forward failed: %v", err)
	}
	for i, v := range output.Data {
		// tanh saturates to exactly ±1 in float64 for large inputs
		if math.Abs(v) > 1 {
			t.Errorf("Output[%d] = %v outside [-1, 1]", i, v)
		}
	}

	seq.Eval()
	if linear.IsTraining() {
		t.Error("Eval should propagate to child modules")
	}
	seq.Train()
	if !linear.IsTraining() {
		t.Error("Train should propagate to child modules")
	}
}
