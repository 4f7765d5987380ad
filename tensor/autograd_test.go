package tensor

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// numericGrad estimates ∂f/∂p[i] with central differences.
func numericGrad(t *testing.T, p *Tensor, f func() float64) []float64 {
	t.Helper()
	const h = 1e-6
	grad := make([]float64, p.NumElems)
	for i := range p.Data {
		orig := p.Data[i]
		p.Data[i] = orig + h
		plus := f()
		p.Data[i] = orig - h
		minus := f()
		p.Data[i] = orig
		grad[i] = (plus - minus) / (2 * h)
	}
	return grad
}

func assertClose(t *testing.T, name string, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length %d, expected %d", name, len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("%s[%d]: expected %.8f, got %.8f", name, i, want[i], got[i])
		}
	}
}

func TestAffineForward(t *testing.T) {
	x, _ := NewTensor([]int{1, 2, 2}, []float64{1, 2, 3, 4})
	w, _ := NewTensor([]int{2, 3}, []float64{1, 0, 1, 0, 1, 1})
	b, _ := NewTensor([]int{3}, []float64{0.5, -0.5, 0})

	out, err := Affine(x, w, b)
	if err != nil {
		t.Fatalf("Affine failed: %v", err)
	}

	if !shapesEqual(out.Shape, []int{1, 2, 3}) {
		t.Fatalf("Expected shape [1 2 3], got %v", out.Shape)
	}
	assertClose(t, "out", out.Data, []float64{1.5, 1.5, 3, 3.5, 3.5, 7}, 1e-12)

	t.Run("width mismatch", func(t *testing.T) {
		bad, _ := NewTensor([]int{2, 3}, nil)
		if _, err := Affine(bad, w, b); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("Expected ErrShapeMismatch, got %v", err)
		}
	})
}

func TestAffineTanhGradients(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x, _ := Uniform([]int{2, 3, 4}, -1, 1, rng)
	w, _ := Uniform([]int{4, 2}, -1, 1, rng)
	b, _ := Uniform([]int{2}, -1, 1, rng)
	w.SetRequiresGrad(true)
	b.SetRequiresGrad(true)
	x.SetRequiresGrad(true)

	// scalar objective: sum of tanh(xW+b) weighted by fixed coefficients
	coef := make([]float64, 2*3*2)
	for i := range coef {
		coef[i] = float64(i%5) - 2
	}
	objective := func() float64 {
		h, _ := Affine(x, w, b)
		y, _ := Tanh(h)
		s := 0.0
		for i, v := range y.Data {
			s += v * coef[i]
		}
		return s
	}

	h, err := AffineAutograd(x, w, b)
	if err != nil {
		t.Fatalf("AffineAutograd failed: %v", err)
	}
	y, err := TanhAutograd(h)
	if err != nil {
		t.Fatalf("TanhAutograd failed: %v", err)
	}
	weights, _ := NewTensor(y.Shape, coef)
	loss, err := weightedSum(y, weights)
	if err != nil {
		t.Fatalf("weightedSum failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	assertClose(t, "dW", w.Grad().Data, numericGrad(t, w, objective), 1e-6)
	assertClose(t, "db", b.Grad().Data, numericGrad(t, b, objective), 1e-6)
	assertClose(t, "dx", x.Grad().Data, numericGrad(t, x, objective), 1e-6)
}

func TestGradientAccumulationAndZeroGrad(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 2}, []float64{1, 2})
	w, _ := NewTensor([]int{2, 1}, []float64{0.5, 0.5})
	w.SetRequiresGrad(true)
	ones, _ := Ones([]int{1, 1, 1})

	run := func() {
		out, err := AffineAutograd(x, w, nil)
		if err != nil {
			t.Fatalf("AffineAutograd failed: %v", err)
		}
		loss, err := weightedSum(out, ones)
		if err != nil {
			t.Fatalf("weightedSum failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
	}

	run()
	assertClose(t, "first", w.Grad().Data, []float64{1, 2}, 1e-12)

	run()
	assertClose(t, "accumulated", w.Grad().Data, []float64{2, 4}, 1e-12)

	ZeroGrad([]*Tensor{w})
	assertClose(t, "zeroed", w.Grad().Data, []float64{0, 0}, 0)
}

func TestNoGraphWithoutRequiresGrad(t *testing.T) {
	x, _ := NewTensor([]int{1, 2}, []float64{1, 2})
	w, _ := NewTensor([]int{2, 2}, []float64{1, 0, 0, 1})

	out, err := AffineAutograd(x, w, nil)
	if err != nil {
		t.Fatalf("AffineAutograd failed: %v", err)
	}
	if out.RequiresGrad() || out.Creator() != nil {
		t.Error("Expected no graph node when no input requires grad")
	}
}

// weightedSum is a test-only reduction op: Σ a_i * w_i.
type weightedSumOp struct {
	inputs []*Tensor
}

func (op *weightedSumOp) Inputs() []*Tensor { return op.inputs }

func (op *weightedSumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	g := make([]float64, op.inputs[0].NumElems)
	for i, w := range op.inputs[1].Data {
		g[i] = gradOut.Data[0] * w
	}
	t, err := NewTensor(op.inputs[0].Shape, g)
	return []*Tensor{t, nil}, err
}

func weightedSum(a, w *Tensor) (*Tensor, error) {
	s := 0.0
	for i, v := range a.Data {
		s += v * w.Data[i]
	}
	out := FromScalar(s)
	out.requiresGrad = a.requiresGrad
	if out.requiresGrad {
		out.creator = &weightedSumOp{inputs: []*Tensor{a, w}}
	}
	return out, nil
}
