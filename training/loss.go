package training

import (
	"fmt"

	"github.com/tsawler/go-mtlfin/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns a scalar tensor connected to the autograd graph of predicted.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

// Default trading cost rates. The feature is present but disabled: both
// nominal rates are multiplied by zero.
const (
	DefaultBPRate       = 0.0020 * 0.00
	DefaultSlippageRate = 0.0005 * 0.00
)

// SharpeLoss is the negative Sharpe ratio of the strategy whose positions are
// the predictions and whose realized returns are the targets, net of turnover
// cost (BPRate + SlippageRate per unit of position change).
type SharpeLoss struct {
	BPRate       float64
	SlippageRate float64
}

// DefaultSharpeLoss returns a SharpeLoss with the default (zero) cost rates.
func DefaultSharpeLoss() SharpeLoss {
	return SharpeLoss{BPRate: DefaultBPRate, SlippageRate: DefaultSlippageRate}
}

// CostRate is the combined per-unit turnover cost.
func (s SharpeLoss) CostRate() float64 {
	return s.BPRate + s.SlippageRate
}

// Forward computes -mean(r)/std(r) for predicted and target of shape
// [batch, seq, features]. A zero-variance batch yields tensor.ErrDegenerateVariance.
func (s SharpeLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if s.BPRate < 0 || s.SlippageRate < 0 {
		return nil, fmt.Errorf("cost rates must be non-negative, got bp=%v slippage=%v", s.BPRate, s.SlippageRate)
	}

	loss, err := tensor.SharpeRatioAutograd(predicted, target, s.CostRate())
	if err != nil {
		return nil, fmt.Errorf("sharpe loss: %w", err)
	}
	return loss, nil
}
