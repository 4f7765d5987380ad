package transfer

import (
	"fmt"

	"github.com/tsawler/go-mtlfin/tensor"
)

// Predict runs every known subtask present in xTest on rows [0, T-1) of its
// [T, F] series and returns outputs of shape [1, T-1, F]. Subtasks missing
// from xTest are skipped. No gradients are recorded.
func (t *Trainer) Predict(xTest Series) (Predictions, error) {
	for _, ts := range xTest {
		for _, ss := range ts.Subtasks {
			if _, err := t.lookup(ts.Name, ss.Name); err != nil {
				return nil, err
			}
		}
	}

	t.global.Lock()
	defer t.global.Unlock()
	t.global.Eval()
	defer t.global.Train()

	predictions := make(Predictions)
	for _, st := range t.order {
		series, ok := xTest.Lookup(st.task, st.subtask)
		if !ok {
			continue
		}
		out, err := t.predictOne(st, series)
		if err != nil {
			return nil, err
		}
		if predictions[st.task] == nil {
			predictions[st.task] = make(map[string]*tensor.Tensor)
		}
		predictions[st.task][st.subtask] = out
	}
	return predictions, nil
}

func (t *Trainer) predictOne(st *subtaskState, series *tensor.Tensor) (*tensor.Tensor, error) {
	if series == nil || len(series.Shape) != 2 || series.Shape[1] != st.model.Features() {
		var shape []int
		if series != nil {
			shape = series.Shape
		}
		return nil, fmt.Errorf("predict %s/%s: expected [T, %d], got %v: %w",
			st.task, st.subtask, st.model.Features(), shape, ErrShapeMismatch)
	}
	length, features := series.Shape[0], series.Shape[1]
	if length < 2 {
		return nil, fmt.Errorf("predict %s/%s: need at least 2 rows, got %d: %w",
			st.task, st.subtask, length, ErrInsufficientLength)
	}

	// [1, T-1, F] view over all rows but the last
	input, err := tensor.NewTensor([]int{1, length - 1, features}, series.Data[:(length-1)*features])
	if err != nil {
		return nil, fmt.Errorf("predict %s/%s: %w", st.task, st.subtask, err)
	}

	st.model.Eval()
	defer st.model.Train()

	out, err := t.forward(st.model, input)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return out, nil
}
