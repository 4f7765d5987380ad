package checkpoints

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tsawler/go-mtlfin/tensor"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrNotLinear is returned when an ONNX model does not hold a single affine module.
var ErrNotLinear = errors.New("onnx model is not a linear module")

// ONNX protobuf field numbers (onnx.proto3, IR version 7).
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelVersion         protowire.Number = 5
	modelDocString       protowire.Number = 6
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	nodeInput  protowire.Number = 1
	nodeOutput protowire.Number = 2
	nodeName   protowire.Number = 3
	nodeOpType protowire.Number = 4

	tensorDims       protowire.Number = 1
	tensorDataType   protowire.Number = 2
	tensorFloatData  protowire.Number = 4
	tensorName       protowire.Number = 8
	tensorRawData    protowire.Number = 9
	tensorDoubleData protowire.Number = 10

	valueInfoName protowire.Number = 1
	valueInfoType protowire.Number = 2

	typeTensorType  protowire.Number = 1
	tensorTypeElem  protowire.Number = 1
	tensorTypeShape protowire.Number = 2
	shapeDim        protowire.Number = 1
	dimensionValue  protowire.Number = 1
	dimensionParam  protowire.Number = 2
)

const (
	onnxIRVersion = 7
	onnxOpset     = 13

	dataTypeFloat  = 1
	dataTypeDouble = 11
)

// ONNXExporter encodes a linear module as an ONNX MatMul + Add graph.
type ONNXExporter struct {
	ProducerName    string
	ProducerVersion string
}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{
		ProducerName:    frameworkName,
		ProducerVersion: frameworkVersion,
	}
}

// Marshal returns the serialized ModelProto. The input is [batch, sequence, in]
// and the weight initializer keeps the [in, out] layout MatMul expects.
func (oe *ONNXExporter) Marshal(lw *LinearWeights) []byte {
	var opset []byte
	opset = appendString(opset, opsetDomain, "")
	opset = appendVarint(opset, opsetVersion, onnxOpset)

	var b []byte
	b = appendVarint(b, modelIRVersion, onnxIRVersion)
	b = appendString(b, modelProducerName, oe.ProducerName)
	b = appendString(b, modelProducerVersion, oe.ProducerVersion)
	b = appendVarint(b, modelVersion, 1)
	b = appendString(b, modelDocString, fmt.Sprintf("linear %d -> %d", lw.InFeatures, lw.OutFeatures))
	b = appendMessage(b, modelGraph, oe.buildGraph(lw))
	b = appendMessage(b, modelOpsetImport, opset)
	return b
}

func (oe *ONNXExporter) buildGraph(lw *LinearWeights) []byte {
	weightName := lw.Name + ".weight"
	biasName := lw.Name + ".bias"
	matmulOutput := lw.Name + "_matmul"

	var g []byte
	g = appendString(g, graphName, lw.Name)

	finalOutput := "output"
	if len(lw.Bias) == 0 {
		matmulOutput = finalOutput
	}
	g = appendMessage(g, graphNode, oe.node(lw.Name+"_matmul_op", "MatMul", []string{"input", weightName}, matmulOutput))
	if len(lw.Bias) > 0 {
		g = appendMessage(g, graphNode, oe.node(lw.Name+"_add_bias", "Add", []string{matmulOutput, biasName}, finalOutput))
	}

	g = appendMessage(g, graphInitializer, oe.tensorProto(weightName, []int{lw.InFeatures, lw.OutFeatures}, lw.Weight))
	if len(lw.Bias) > 0 {
		g = appendMessage(g, graphInitializer, oe.tensorProto(biasName, []int{lw.OutFeatures}, lw.Bias))
	}

	g = appendMessage(g, graphInput, oe.valueInfo("input", lw.InFeatures))
	g = appendMessage(g, graphOutput, oe.valueInfo(finalOutput, lw.OutFeatures))
	return g
}

func (oe *ONNXExporter) node(name, opType string, inputs []string, output string) []byte {
	var n []byte
	for _, in := range inputs {
		n = appendString(n, nodeInput, in)
	}
	n = appendString(n, nodeOutput, output)
	n = appendString(n, nodeName, name)
	n = appendString(n, nodeOpType, opType)
	return n
}

func (oe *ONNXExporter) tensorProto(name string, dims []int, data []float64) []byte {
	var t []byte
	for _, d := range dims {
		t = appendVarint(t, tensorDims, uint64(d))
	}
	t = appendVarint(t, tensorDataType, dataTypeDouble)
	t = appendString(t, tensorName, name)

	raw := make([]byte, 8*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	t = protowire.AppendTag(t, tensorRawData, protowire.BytesType)
	t = protowire.AppendBytes(t, raw)
	return t
}

// valueInfo describes a double tensor of shape [batch, sequence, features].
func (oe *ONNXExporter) valueInfo(name string, features int) []byte {
	var shape []byte
	for _, param := range []string{"batch", "sequence"} {
		shape = appendMessage(shape, shapeDim, appendString(nil, dimensionParam, param))
	}
	shape = appendMessage(shape, shapeDim, appendVarint(nil, dimensionValue, uint64(features)))

	var tensorType []byte
	tensorType = appendVarint(tensorType, tensorTypeElem, dataTypeDouble)
	tensorType = appendMessage(tensorType, tensorTypeShape, shape)

	var v []byte
	v = appendString(v, valueInfoName, name)
	v = appendMessage(v, valueInfoType, appendMessage(nil, typeTensorType, tensorType))
	return v
}

// ONNXImporter reads the MatMul + Add graphs written by ONNXExporter.
type ONNXImporter struct{}

// NewONNXImporter creates a new ONNX importer
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

// Unmarshal decodes a serialized ModelProto into linear weights.
func (oi *ONNXImporter) Unmarshal(data []byte) (*LinearWeights, error) {
	fields, err := parseFields(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX model: %w", err)
	}

	var graph []byte
	for _, f := range fields {
		if f.num == modelGraph && f.typ == protowire.BytesType {
			graph = f.bytes
		}
	}
	if graph == nil {
		return nil, fmt.Errorf("model has no graph: %w", ErrNotLinear)
	}
	return oi.convertGraph(graph)
}

type onnxTensor struct {
	name   string
	dims   []int
	values []float64
}

func (oi *ONNXImporter) convertGraph(graph []byte) (*LinearWeights, error) {
	fields, err := parseFields(graph)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX graph: %w", err)
	}

	var (
		name      string
		hasMatMul bool
		weight    *onnxTensor
		bias      *onnxTensor
	)
	for _, f := range fields {
		if f.typ != protowire.BytesType {
			continue
		}
		switch f.num {
		case graphName:
			name = string(f.bytes)
		case graphNode:
			opType, err := oi.nodeOpType(f.bytes)
			if err != nil {
				return nil, err
			}
			if opType == "MatMul" {
				hasMatMul = true
			}
		case graphInitializer:
			t, err := oi.parseTensor(f.bytes)
			if err != nil {
				return nil, err
			}
			switch {
			case strings.HasSuffix(t.name, ".weight"):
				weight = t
			case strings.HasSuffix(t.name, ".bias"):
				bias = t
			}
		}
	}

	if !hasMatMul || weight == nil {
		return nil, ErrNotLinear
	}
	if len(weight.dims) != 2 {
		return nil, fmt.Errorf("weight %q has dims %v: %w", weight.name, weight.dims, tensor.ErrShapeMismatch)
	}
	if prefix := strings.TrimSuffix(weight.name, ".weight"); prefix != "" {
		name = prefix
	}

	lw := &LinearWeights{
		Name:        name,
		InFeatures:  weight.dims[0],
		OutFeatures: weight.dims[1],
		Weight:      weight.values,
	}
	if bias != nil {
		lw.Bias = bias.values
	}
	if err := lw.Validate(); err != nil {
		return nil, err
	}
	return lw, nil
}

func (oi *ONNXImporter) nodeOpType(node []byte) (string, error) {
	fields, err := parseFields(node)
	if err != nil {
		return "", fmt.Errorf("failed to parse ONNX node: %w", err)
	}
	for _, f := range fields {
		if f.num == nodeOpType && f.typ == protowire.BytesType {
			return string(f.bytes), nil
		}
	}
	return "", nil
}

// parseTensor accepts DOUBLE or FLOAT data in raw_data or in the typed repeated fields.
func (oi *ONNXImporter) parseTensor(b []byte) (*onnxTensor, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX tensor: %w", err)
	}

	t := &onnxTensor{}
	dataType := uint64(0)
	var raw []byte
	for _, f := range fields {
		switch f.num {
		case tensorDims:
			dims, err := unpackVarints(f)
			if err != nil {
				return nil, err
			}
			for _, d := range dims {
				t.dims = append(t.dims, int(int64(d)))
			}
		case tensorDataType:
			dataType = f.varint
		case tensorName:
			t.name = string(f.bytes)
		case tensorRawData:
			raw = f.bytes
		case tensorFloatData:
			vals, err := unpackFixed32(f)
			if err != nil {
				return nil, err
			}
			for _, v := range vals {
				t.values = append(t.values, float64(math.Float32frombits(v)))
			}
		case tensorDoubleData:
			vals, err := unpackFixed64(f)
			if err != nil {
				return nil, err
			}
			for _, v := range vals {
				t.values = append(t.values, math.Float64frombits(v))
			}
		}
	}

	if raw != nil {
		switch dataType {
		case dataTypeDouble:
			if len(raw)%8 != 0 {
				return nil, fmt.Errorf("tensor %q raw data length %d: %w", t.name, len(raw), tensor.ErrShapeMismatch)
			}
			t.values = make([]float64, len(raw)/8)
			for i := range t.values {
				t.values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
			}
		case dataTypeFloat:
			if len(raw)%4 != 0 {
				return nil, fmt.Errorf("tensor %q raw data length %d: %w", t.name, len(raw), tensor.ErrShapeMismatch)
			}
			t.values = make([]float64, len(raw)/4)
			for i := range t.values {
				t.values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
			}
		default:
			return nil, fmt.Errorf("tensor %q has unsupported data type %d: %w", t.name, dataType, ErrNotLinear)
		}
	}
	return t, nil
}

type protoField struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	bytes   []byte
}

func parseFields(b []byte) ([]protoField, error) {
	var fields []protoField
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := protoField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

// Repeated scalars may be packed (one bytes field) or not (one field per value).

func unpackVarints(f protoField) ([]uint64, error) {
	if f.typ == protowire.VarintType {
		return []uint64{f.varint}, nil
	}
	var out []uint64
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func unpackFixed32(f protoField) ([]uint32, error) {
	if f.typ == protowire.Fixed32Type {
		return []uint32{f.fixed32}, nil
	}
	var out []uint32
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func unpackFixed64(f protoField) ([]uint64, error) {
	if f.typ == protowire.Fixed64Type {
		return []uint64{f.fixed64}, nil
	}
	var out []uint64
	b := f.bytes
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
