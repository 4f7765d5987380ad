package transfer

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-mtlfin/checkpoints"
	"github.com/tsawler/go-mtlfin/tensor"
	"github.com/tsawler/go-mtlfin/training"
)

// SubModel is the private encoder/decoder pair of one (task, subtask).
// Encode maps [B, L, F] to the global input width; Decode maps the global
// output width back to F and squashes it with tanh.
type SubModel struct {
	task     string
	subtask  string
	encoder  *training.Linear
	decoder  *training.Linear
	signal   *training.Tanh
	decodeFn *training.Sequential
}

func newSubModel(task, subtask string, features, inDim, outDim int, rng *rand.Rand) (*SubModel, error) {
	encoder, err := training.NewLinear(features, inDim, true, rng)
	if err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	decoder, err := training.NewLinear(outDim, features, true, rng)
	if err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	signal := training.NewTanh()

	return &SubModel{
		task:     task,
		subtask:  subtask,
		encoder:  encoder,
		decoder:  decoder,
		signal:   signal,
		decodeFn: training.NewSequential(decoder, signal),
	}, nil
}

func (m *SubModel) Task() string    { return m.task }
func (m *SubModel) Subtask() string { return m.subtask }

// Features is the series width F.
func (m *SubModel) Features() int {
	return m.encoder.InFeatures()
}

// Encoder returns the input affine module.
func (m *SubModel) Encoder() *training.Linear {
	return m.encoder
}

// Decoder returns the output affine module (before tanh).
func (m *SubModel) Decoder() *training.Linear {
	return m.decoder
}

// Encode applies the encoder to x of shape [B, L, F].
func (m *SubModel) Encode(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.encoder.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("%s/%s encode: %w", m.task, m.subtask, err)
	}
	return out, nil
}

// Decode applies the decoder and tanh to z of shape [B, L, D_out].
func (m *SubModel) Decode(z *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := m.decodeFn.Forward(z)
	if err != nil {
		return nil, fmt.Errorf("%s/%s decode: %w", m.task, m.subtask, err)
	}
	return out, nil
}

// Parameters returns encoder then decoder parameters.
func (m *SubModel) Parameters() []*tensor.Tensor {
	return append(m.encoder.Parameters(), m.decodeFn.Parameters()...)
}

func (m *SubModel) Train() {
	m.encoder.Train()
	m.decodeFn.Train()
}

func (m *SubModel) Eval() {
	m.encoder.Eval()
	m.decodeFn.Eval()
}

// LoadWeights restores both affine modules from saved artifacts.
func (m *SubModel) LoadWeights(encoder, decoder *checkpoints.LinearWeights) error {
	if err := encoder.ApplyTo(m.encoder); err != nil {
		return fmt.Errorf("%s/%s encoder: %w", m.task, m.subtask, err)
	}
	if err := decoder.ApplyTo(m.decoder); err != nil {
		return fmt.Errorf("%s/%s decoder: %w", m.task, m.subtask, err)
	}
	return nil
}

func (m *SubModel) String() string {
	return fmt.Sprintf("in=%s out=%s signal=%s", m.encoder, m.decoder, m.signal)
}
