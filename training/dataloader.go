package training

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-mtlfin/tensor"
)

// ErrInsufficientLength is returned when a series is too short to hold a
// single training window.
var ErrInsufficientLength = errors.New("insufficient series length")

// Batch holds one-step-ahead training pairs of shape [batch, seqLen, features].
// Labels is Data shifted forward by one timestep.
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// WindowSampler draws minibatches of overlapping windows from a [T, F] series.
// Each window spans seqLen+1 rows; the first seqLen rows are the input and
// the last seqLen rows are the target.
type WindowSampler struct {
	seqLen    int
	batchSize int
	rng       *rand.Rand
	mutex     sync.Mutex
}

// NewWindowSampler creates a sampler. rng must not be nil; share one source
// across samplers for reproducible runs.
func NewWindowSampler(seqLen, batchSize int, rng *rand.Rand) (*WindowSampler, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", seqLen)
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if rng == nil {
		return nil, fmt.Errorf("window sampler requires a random source")
	}
	return &WindowSampler{seqLen: seqLen, batchSize: batchSize, rng: rng}, nil
}

// SeqLen returns the input window length.
func (ws *WindowSampler) SeqLen() int {
	return ws.seqLen
}

// StartRange returns the number of valid window starts for a series of
// length T: starts are drawn from [0, T-seqLen-1).
func (ws *WindowSampler) StartRange(length int) (int, error) {
	n := length - ws.seqLen - 1
	if n <= 0 {
		return 0, fmt.Errorf("series length %d cannot hold a window of %d steps plus a one-step target (need at least %d): %w",
			length, ws.seqLen, ws.seqLen+2, ErrInsufficientLength)
	}
	return n, nil
}

// Offsets samples up to batchSize distinct start offsets uniformly from the
// valid range. If the range holds fewer starts than batchSize, all of them
// are returned in random order.
func (ws *WindowSampler) Offsets(length int) ([]int, error) {
	n, err := ws.StartRange(length)
	if err != nil {
		return nil, err
	}

	ws.mutex.Lock()
	perm := ws.rng.Perm(n)
	ws.mutex.Unlock()

	if len(perm) > ws.batchSize {
		perm = perm[:ws.batchSize]
	}
	return perm, nil
}

// Sample draws a batch from series.
func (ws *WindowSampler) Sample(series *tensor.Tensor) (*Batch, error) {
	if len(series.Shape) != 2 {
		return nil, fmt.Errorf("series must be 2D [timesteps, features], got %v: %w", series.Shape, tensor.ErrShapeMismatch)
	}

	starts, err := ws.Offsets(series.Shape[0])
	if err != nil {
		return nil, err
	}
	return ws.Windows(series, starts)
}

// Windows stacks the windows beginning at starts into a batch.
func (ws *WindowSampler) Windows(series *tensor.Tensor, starts []int) (*Batch, error) {
	if len(series.Shape) != 2 {
		return nil, fmt.Errorf("series must be 2D [timesteps, features], got %v: %w", series.Shape, tensor.ErrShapeMismatch)
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("empty batch offsets")
	}

	length, features := series.Shape[0], series.Shape[1]
	span := ws.seqLen * features
	xData := make([]float64, len(starts)*span)
	yData := make([]float64, len(starts)*span)

	for b, start := range starts {
		if start < 0 || start+ws.seqLen+1 > length {
			return nil, fmt.Errorf("window start %d out of range for series length %d: %w", start, length, ErrInsufficientLength)
		}
		window := series.Data[start*features : (start+ws.seqLen+1)*features]
		copy(xData[b*span:(b+1)*span], window[:span])
		copy(yData[b*span:(b+1)*span], window[features:])
	}

	shape := []int{len(starts), ws.seqLen, features}
	data, err := tensor.NewTensor(shape, xData)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}
	labels, err := tensor.NewTensor(shape, yData)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %w", err)
	}

	return &Batch{Data: data, Labels: labels}, nil
}
