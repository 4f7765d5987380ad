package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// rows2D views the leading dimensions of t as rows of its last dimension.
func rows2D(t *Tensor) (rows, cols int) {
	cols = t.Shape[len(t.Shape)-1]
	return t.NumElems / cols, cols
}

// affineForward computes x·W + b over the last axis of x.
func affineForward(x, weight, bias *Tensor) (*Tensor, error) {
	if err := checkAffine(x, weight, bias); err != nil {
		return nil, err
	}

	rows, in := rows2D(x)
	out := weight.Shape[1]
	data := make([]float64, rows*out)
	dst := mat.NewDense(rows, out, data)
	dst.Mul(mat.NewDense(rows, in, x.Data), mat.NewDense(in, out, weight.Data))

	if bias != nil {
		for r := 0; r < rows; r++ {
			row := data[r*out : (r+1)*out]
			for j, b := range bias.Data {
				row[j] += b
			}
		}
	}

	shape := make([]int, len(x.Shape))
	copy(shape, x.Shape)
	shape[len(shape)-1] = out
	return NewTensor(shape, data)
}

func checkAffine(x, weight, bias *Tensor) error {
	if len(weight.Shape) != 2 {
		return fmt.Errorf("affine weight must be 2D [in, out], got %v: %w", weight.Shape, ErrShapeMismatch)
	}
	if len(x.Shape) < 1 {
		return fmt.Errorf("affine input must have at least one dimension: %w", ErrShapeMismatch)
	}
	if in := x.Shape[len(x.Shape)-1]; in != weight.Shape[0] {
		return fmt.Errorf("affine input width %d does not match weight input size %d: %w", in, weight.Shape[0], ErrShapeMismatch)
	}
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != weight.Shape[1]) {
		return fmt.Errorf("affine bias shape %v does not match output size %d: %w", bias.Shape, weight.Shape[1], ErrShapeMismatch)
	}
	return nil
}
