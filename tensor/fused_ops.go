package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// MinSharpeStd is the smallest return standard deviation SharpeRatio accepts.
const MinSharpeStd = 1e-12

// SharpeRatioOp is the fused negative Sharpe ratio of a position signal
// against realized returns, net of turnover costs.
//
// For output o and target y of shape [B, L, F]:
//
//	r[b,t,f] = o[b,t,f]*y[b,t,f] - c*|o[b,t,f] - o[b,t-1,f]|   (cost term only for t >= 1)
//	loss     = -mean(r) / std(r)
//
// std is the unbiased sample deviation.
type SharpeRatioOp struct {
	inputs   []*Tensor
	costRate float64
	rets     []float64
	mean     float64
	std      float64
}

func (op *SharpeRatioOp) Inputs() []*Tensor {
	return op.inputs
}

func (op *SharpeRatioOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	output, target := op.inputs[0], op.inputs[1]
	upstream, err := gradOut.Item()
	if err != nil {
		return nil, err
	}

	n := float64(len(op.rets))
	s := op.std
	m := op.mean

	// ∂loss/∂r_i = -1/(N s) + m (r_i - m) / ((N-1) s³)
	gr := make([]float64, len(op.rets))
	for i, r := range op.rets {
		gr[i] = upstream * (-1/(n*s) + m*(r-m)/((n-1)*s*s*s))
	}

	length, features := output.Shape[1], output.Shape[2]
	o, y := output.Data, target.Data
	c := op.costRate
	grad := make([]float64, output.NumElems)
	for idx := range grad {
		t := (idx / features) % length
		g := gr[idx] * y[idx]
		if c != 0 {
			if t >= 1 {
				g -= gr[idx] * c * sign(o[idx]-o[idx-features])
			}
			if t+1 < length {
				next := idx + features
				g += gr[next] * c * sign(o[next]-o[idx])
			}
		}
		grad[idx] = g
	}

	dOut, err := NewTensor(output.Shape, grad)
	if err != nil {
		return nil, err
	}
	return []*Tensor{dOut, nil}, nil
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func sharpeForward(output, target *Tensor, costRate float64) (*SharpeRatioOp, error) {
	if len(output.Shape) != 3 || !shapesEqual(output.Shape, target.Shape) {
		return nil, fmt.Errorf("sharpe ratio expects matching [batch, seq, features] tensors, got %v and %v: %w", output.Shape, target.Shape, ErrShapeMismatch)
	}
	if !output.AllFinite() || !target.AllFinite() {
		return nil, fmt.Errorf("sharpe ratio inputs: %w", ErrNonFinite)
	}
	if output.NumElems < 2 {
		return nil, fmt.Errorf("sharpe ratio needs at least 2 returns, got %d: %w", output.NumElems, ErrDegenerateVariance)
	}

	length, features := output.Shape[1], output.Shape[2]
	o, y := output.Data, target.Data
	rets := make([]float64, output.NumElems)
	for idx := range rets {
		rets[idx] = o[idx] * y[idx]
		if t := (idx / features) % length; t >= 1 && costRate != 0 {
			rets[idx] -= math.Abs(o[idx]-o[idx-features]) * costRate
		}
	}

	mean, std := stat.MeanStdDev(rets, nil)
	if math.IsNaN(mean) || math.IsInf(mean, 0) || math.IsNaN(std) || math.IsInf(std, 0) {
		return nil, fmt.Errorf("sharpe ratio moments mean=%v std=%v: %w", mean, std, ErrNonFinite)
	}
	if std <= MinSharpeStd {
		return nil, fmt.Errorf("returns standard deviation %g is below %g: %w", std, MinSharpeStd, ErrDegenerateVariance)
	}

	return &SharpeRatioOp{
		inputs:   []*Tensor{output, target},
		costRate: costRate,
		rets:     rets,
		mean:     mean,
		std:      std,
	}, nil
}

// SharpeRatio returns -mean(r)/std(r) without recording a graph node.
// costRate is the per-unit turnover cost (basis points plus slippage).
func SharpeRatio(output, target *Tensor, costRate float64) (*Tensor, error) {
	op, err := sharpeForward(output, target, costRate)
	if err != nil {
		return nil, err
	}
	return FromScalar(-op.mean / op.std), nil
}

// SharpeRatioAutograd returns -mean(r)/std(r) and records the operation so
// Backward reaches the output tensor. The target receives no gradient.
func SharpeRatioAutograd(output, target *Tensor, costRate float64) (*Tensor, error) {
	op, err := sharpeForward(output, target, costRate)
	if err != nil {
		return nil, err
	}

	result := FromScalar(-op.mean / op.std)
	result.requiresGrad = output.requiresGrad
	if result.requiresGrad {
		result.creator = op
	}
	return result, nil
}
