package training

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-mtlfin/tensor"
)

func TestSharpeLoss(t *testing.T) {
	t.Run("Defaults disable trading costs", func(t *testing.T) {
		loss := DefaultSharpeLoss()
		if loss.CostRate() != 0 {
			t.Errorf("Expected zero cost rate, got %v", loss.CostRate())
		}
	})

	t.Run("Scale invariance without costs", func(t *testing.T) {
		rng := rand.New(rand.NewSource(5))
		predicted, _ := tensor.Uniform([]int{4, 5, 3}, -1, 1, rng)
		target, _ := tensor.Uniform([]int{4, 5, 3}, -0.02, 0.02, rng)

		loss := DefaultSharpeLoss()
		base, err := loss.Forward(predicted, target)
		if err != nil {
			t.Fatalf("SharpeLoss forward failed: %v", err)
		}

		scaled := predicted.Clone()
		for i := range scaled.Data {
			scaled.Data[i] *= 7.5
		}
		got, err := loss.Forward(scaled, target)
		if err != nil {
			t.Fatalf("SharpeLoss forward failed: %v", err)
		}
		if math.Abs(got.Data[0]-base.Data[0]) > 1e-9 {
			t.Errorf("Expected %.10f, got %.10f", base.Data[0], got.Data[0])
		}
	})

	t.Run("Costs lower the ratio for a churning signal", func(t *testing.T) {
		predicted, _ := tensor.NewTensor([]int{1, 4, 1}, []float64{1, -1, 1, -1})
		target, _ := tensor.NewTensor([]int{1, 4, 1}, []float64{0.01, -0.02, 0.03, -0.005})

		free, err := SharpeLoss{}.Forward(predicted, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		costly, err := SharpeLoss{BPRate: 0.002, SlippageRate: 0.0005}.Forward(predicted, target)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if costly.Data[0] <= free.Data[0] {
			t.Errorf("Expected costs to increase the loss: free=%v costly=%v", free.Data[0], costly.Data[0])
		}
	})

	t.Run("Zero variance is an error, not NaN", func(t *testing.T) {
		predicted, _ := tensor.Full([]int{2, 3, 1}, 0.5)
		target, _ := tensor.Full([]int{2, 3, 1}, 0.01)
		_, err := DefaultSharpeLoss().Forward(predicted, target)
		if !errors.Is(err, tensor.ErrDegenerateVariance) {
			t.Fatalf("Expected ErrDegenerateVariance, got %v", err)
		}
	})

	t.Run("Negative rates are rejected", func(t *testing.T) {
		predicted, _ := tensor.Full([]int{1, 2, 1}, 1)
		if _, err := (SharpeLoss{BPRate: -1}).Forward(predicted, predicted); err == nil {
			t.Error("Expected error for negative cost rate")
		}
	})
}
