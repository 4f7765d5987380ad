package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tsawler/go-mtlfin/tensor"
	"github.com/tsawler/go-mtlfin/training"
)

// ErrUnknownFormat is returned for an unrecognised artifact format or extension.
var ErrUnknownFormat = errors.New("unknown checkpoint format")

// Format defines the serialization format
type Format int

const (
	FormatONNX Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatONNX:
		return "ONNX"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension written for the format, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatONNX:
		return "onnx"
	case FormatJSON:
		return "json"
	default:
		return ""
	}
}

// ParseFormat maps a configuration value ("onnx", "json", or empty for onnx) to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "onnx":
		return FormatONNX, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownFormat)
	}
}

// LinearWeights is the persisted form of one affine module.
// Weight is row-major [InFeatures, OutFeatures], the layout training.Linear uses.
type LinearWeights struct {
	Name        string
	InFeatures  int
	OutFeatures int
	Weight      []float64
	Bias        []float64
}

// FromLinear copies the current parameters of layer.
func FromLinear(name string, layer *training.Linear) *LinearWeights {
	lw := &LinearWeights{
		Name:        name,
		InFeatures:  layer.InFeatures(),
		OutFeatures: layer.OutFeatures(),
		Weight:      append([]float64(nil), layer.Weight().Data...),
	}
	if b := layer.Bias(); b != nil {
		lw.Bias = append([]float64(nil), b.Data...)
	}
	return lw
}

// Validate checks that the buffers agree with the declared dimensions.
func (lw *LinearWeights) Validate() error {
	if lw.InFeatures <= 0 || lw.OutFeatures <= 0 {
		return fmt.Errorf("linear %q has invalid dimensions %dx%d: %w", lw.Name, lw.InFeatures, lw.OutFeatures, tensor.ErrShapeMismatch)
	}
	if len(lw.Weight) != lw.InFeatures*lw.OutFeatures {
		return fmt.Errorf("linear %q weight has %d values, expected %d: %w", lw.Name, len(lw.Weight), lw.InFeatures*lw.OutFeatures, tensor.ErrShapeMismatch)
	}
	if len(lw.Bias) != 0 && len(lw.Bias) != lw.OutFeatures {
		return fmt.Errorf("linear %q bias has %d values, expected %d: %w", lw.Name, len(lw.Bias), lw.OutFeatures, tensor.ErrShapeMismatch)
	}
	return nil
}

// ApplyTo writes the stored parameters into layer.
func (lw *LinearWeights) ApplyTo(layer *training.Linear) error {
	if err := lw.Validate(); err != nil {
		return err
	}
	if layer.InFeatures() != lw.InFeatures || layer.OutFeatures() != lw.OutFeatures {
		return fmt.Errorf("linear %q is %dx%d but layer is %dx%d: %w",
			lw.Name, lw.InFeatures, lw.OutFeatures, layer.InFeatures(), layer.OutFeatures(), tensor.ErrShapeMismatch)
	}
	return layer.SetWeights(lw.Weight, lw.Bias)
}

// Checkpoint is the JSON document written for one module.
type Checkpoint struct {
	Weights  []WeightTensor     `json:"weights"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

const (
	frameworkName    = "go-mtlfin"
	frameworkVersion = "1.0.0"
)

// CheckpointSaver handles saving linear modules in various formats
type CheckpointSaver struct {
	format Format
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format Format) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the format the saver writes.
func (cs *CheckpointSaver) Format() Format {
	return cs.format
}

// SaveLinear writes one affine module to path.
func (cs *CheckpointSaver) SaveLinear(lw *LinearWeights, path string) error {
	if err := lw.Validate(); err != nil {
		return err
	}
	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(lw, path)
	case FormatONNX:
		return cs.saveONNX(lw, path)
	default:
		return fmt.Errorf("unsupported checkpoint format %s: %w", cs.format, ErrUnknownFormat)
	}
}

// LoadLinear reads one affine module from path.
func (cs *CheckpointSaver) LoadLinear(path string) (*LinearWeights, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatONNX:
		return cs.loadONNX(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format %s: %w", cs.format, ErrUnknownFormat)
	}
}

// LoadLinear reads an artifact, picking the format from the file extension.
func LoadLinear(path string) (*LinearWeights, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		format = FormatONNX
	case ".json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("cannot infer format of %s: %w", path, ErrUnknownFormat)
	}
	return NewCheckpointSaver(format).LoadLinear(path)
}

func (cs *CheckpointSaver) saveJSON(lw *LinearWeights, path string) error {
	checkpoint := &Checkpoint{
		Weights: []WeightTensor{{
			Name:  lw.Name + ".weight",
			Shape: []int{lw.InFeatures, lw.OutFeatures},
			Data:  lw.Weight,
			Layer: lw.Name,
			Type:  "weight",
		}},
		Metadata: CheckpointMetadata{
			Version:     frameworkVersion,
			Framework:   frameworkName,
			CreatedAt:   time.Now(),
			Description: fmt.Sprintf("linear %d -> %d", lw.InFeatures, lw.OutFeatures),
		},
	}
	if len(lw.Bias) > 0 {
		checkpoint.Weights = append(checkpoint.Weights, WeightTensor{
			Name:  lw.Name + ".bias",
			Shape: []int{lw.OutFeatures},
			Data:  lw.Bias,
			Layer: lw.Name,
			Type:  "bias",
		})
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadJSON(path string) (*LinearWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	lw := &LinearWeights{}
	for _, w := range checkpoint.Weights {
		switch w.Type {
		case "weight":
			if len(w.Shape) != 2 {
				return nil, fmt.Errorf("weight %q has shape %v: %w", w.Name, w.Shape, tensor.ErrShapeMismatch)
			}
			lw.Name = w.Layer
			lw.InFeatures, lw.OutFeatures = w.Shape[0], w.Shape[1]
			lw.Weight = w.Data
		case "bias":
			lw.Bias = w.Data
		}
	}
	if lw.Weight == nil {
		return nil, fmt.Errorf("checkpoint %s has no weight tensor: %w", path, tensor.ErrShapeMismatch)
	}
	if err := lw.Validate(); err != nil {
		return nil, err
	}
	return lw, nil
}

func (cs *CheckpointSaver) saveONNX(lw *LinearWeights, path string) error {
	if err := os.WriteFile(path, NewONNXExporter().Marshal(lw), 0644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %w", err)
	}
	return nil
}

func (cs *CheckpointSaver) loadONNX(path string) (*LinearWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %w", err)
	}
	return NewONNXImporter().Unmarshal(data)
}
