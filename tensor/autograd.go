package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Backward propagates gradients from a scalar tensor to every leaf in its
// graph that requires them. Leaf gradients accumulate across calls until
// ZeroGrad is invoked.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar output, got shape %v", t.Shape)
	}

	seed := FromScalar(1)
	if t.creator == nil {
		if t.requiresGrad {
			return accumulateGrad(t, seed)
		}
		return nil
	}

	// reverse topological order
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				if in != nil {
					visit(in)
				}
			}
		}
		order = append(order, n)
	}
	visit(t)

	grads := map[*Tensor]*Tensor{t: seed}
	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil {
			continue
		}
		gradOut, ok := grads[node]
		if !ok {
			continue
		}

		inputGrads, err := node.creator.Backward(gradOut)
		if err != nil {
			return fmt.Errorf("backward through %T failed: %w", node.creator, err)
		}

		for j, in := range node.creator.Inputs() {
			if in == nil || j >= len(inputGrads) || inputGrads[j] == nil || !in.requiresGrad {
				continue
			}
			g := inputGrads[j]
			if in.creator == nil {
				if err := accumulateGrad(in, g); err != nil {
					return err
				}
				continue
			}
			if prev, ok := grads[in]; ok {
				for k := range prev.Data {
					prev.Data[k] += g.Data[k]
				}
			} else {
				grads[in] = g
			}
		}
	}

	return nil
}

func accumulateGrad(leaf, g *Tensor) error {
	if g.NumElems != leaf.NumElems {
		return fmt.Errorf("gradient size %d does not match parameter size %d: %w", g.NumElems, leaf.NumElems, ErrShapeMismatch)
	}
	if leaf.grad == nil {
		grad, err := NewTensor(leaf.Shape, nil)
		if err != nil {
			return err
		}
		leaf.grad = grad
	}
	for i, v := range g.Data {
		leaf.grad.Data[i] += v
	}
	return nil
}

// AffineOp computes x·W + b over the last axis of x, for inputs of any rank.
type AffineOp struct {
	inputs []*Tensor
}

func (op *AffineOp) Inputs() []*Tensor {
	return op.inputs
}

func (op *AffineOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	x, weight, bias := op.inputs[0], op.inputs[1], op.inputs[2]
	rows, in := rows2D(x)
	out := weight.Shape[1]
	if gradOut.NumElems != rows*out {
		return nil, fmt.Errorf("affine gradient has %d elements, expected %d: %w", gradOut.NumElems, rows*out, ErrShapeMismatch)
	}

	g := mat.NewDense(rows, out, gradOut.Data)
	grads := make([]*Tensor, 3)

	// ∂/∂x = G·Wᵀ
	if x.requiresGrad {
		dx := make([]float64, rows*in)
		mat.NewDense(rows, in, dx).Mul(g, mat.NewDense(in, out, weight.Data).T())
		t, err := NewTensor(x.Shape, dx)
		if err != nil {
			return nil, err
		}
		grads[0] = t
	}

	// ∂/∂W = xᵀ·G
	if weight.requiresGrad {
		dw := make([]float64, in*out)
		mat.NewDense(in, out, dw).Mul(mat.NewDense(rows, in, x.Data).T(), g)
		t, err := NewTensor(weight.Shape, dw)
		if err != nil {
			return nil, err
		}
		grads[1] = t
	}

	if bias != nil && bias.requiresGrad {
		db := make([]float64, out)
		for r := 0; r < rows; r++ {
			for j := 0; j < out; j++ {
				db[j] += gradOut.Data[r*out+j]
			}
		}
		t, err := NewTensor(bias.Shape, db)
		if err != nil {
			return nil, err
		}
		grads[2] = t
	}

	return grads, nil
}

// TanhOp applies tanh elementwise.
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor {
	return op.inputs
}

func (op *TanhOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	if op.output == nil {
		return nil, fmt.Errorf("tanh output not stored for backward pass")
	}

	// ∂tanh(x)/∂x = 1 - tanh(x)²
	grad := make([]float64, op.output.NumElems)
	for i, y := range op.output.Data {
		grad[i] = gradOut.Data[i] * (1 - y*y)
	}
	t, err := NewTensor(op.inputs[0].Shape, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{t}, nil
}

// Affine computes x·W + b without recording a graph node. bias may be nil.
func Affine(x, weight, bias *Tensor) (*Tensor, error) {
	return affineForward(x, weight, bias)
}

// AffineAutograd computes x·W + b and records the operation for Backward.
func AffineAutograd(x, weight, bias *Tensor) (*Tensor, error) {
	result, err := affineForward(x, weight, bias)
	if err != nil {
		return nil, err
	}

	result.requiresGrad = x.requiresGrad || weight.requiresGrad || (bias != nil && bias.requiresGrad)
	if result.requiresGrad {
		result.creator = &AffineOp{inputs: []*Tensor{x, weight, bias}}
	}
	return result, nil
}

// Tanh applies tanh elementwise without recording a graph node.
func Tanh(x *Tensor) (*Tensor, error) {
	data := make([]float64, x.NumElems)
	for i, v := range x.Data {
		data[i] = math.Tanh(v)
	}
	return NewTensor(x.Shape, data)
}

// TanhAutograd applies tanh elementwise and records the operation for Backward.
func TanhAutograd(x *Tensor) (*Tensor, error) {
	result, err := Tanh(x)
	if err != nil {
		return nil, err
	}

	result.requiresGrad = x.requiresGrad
	if result.requiresGrad {
		result.creator = &TanhOp{inputs: []*Tensor{x}, output: result}
	}
	return result, nil
}
