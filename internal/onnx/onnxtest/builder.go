// Package onnxtest builds small ONNX models in memory for tests.
//
// The models mirror the node naming of tf2onnx exports of Keras
// applications ("<layer>/<Op>" nodes fed by an NHWC input), so layer
// resolution, weight freezing and the saliency pipeline can be exercised
// without downloading a pretrained network.
package onnxtest

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/onnx"
)

// Builder assembles a ModelProto node by node.
type Builder struct {
	graph onnx.GraphProto
	opset int64
}

// NewBuilder starts an empty graph targeting opset 13.
func NewBuilder(name string) *Builder {
	return &Builder{graph: onnx.GraphProto{Name: name}, opset: 13}
}

// Opset overrides the default opset version.
func (b *Builder) Opset(v int64) *Builder {
	b.opset = v
	return b
}

// Input declares a float graph input. Negative dims become a symbolic
// "batch" dimension.
func (b *Builder) Input(name string, dims ...int64) *Builder {
	b.graph.Inputs = append(b.graph.Inputs, valueInfo(name, dims))
	return b
}

// Output declares a float graph output.
func (b *Builder) Output(name string, dims ...int64) *Builder {
	b.graph.Outputs = append(b.graph.Outputs, valueInfo(name, dims))
	return b
}

func valueInfo(name string, dims []int64) onnx.ValueInfoProto {
	shape := make([]onnx.DimensionProto, len(dims))
	for i, d := range dims {
		if d < 0 {
			shape[i] = onnx.DimensionProto{DimParam: "batch"}
		} else {
			shape[i] = onnx.DimensionProto{DimValue: d}
		}
	}
	return onnx.ValueInfoProto{Name: name, ElemType: onnx.TensorProtoFloat, Shape: shape}
}

// Weight adds a float initializer stored as little-endian raw data.
func (b *Builder) Weight(name string, data []float32, dims ...int64) *Builder {
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	b.graph.Initializers = append(b.graph.Initializers, onnx.TensorProto{
		Name:     name,
		DataType: onnx.TensorProtoFloat,
		Dims:     dims,
		RawData:  raw,
	})
	return b
}

// Int64s adds an int64 initializer, as used for Reshape shapes.
func (b *Builder) Int64s(name string, data []int64, dims ...int64) *Builder {
	b.graph.Initializers = append(b.graph.Initializers, onnx.TensorProto{
		Name:      name,
		DataType:  onnx.TensorProtoInt64,
		Dims:      dims,
		Int64Data: data,
	})
	return b
}

// Node appends a node.
func (b *Builder) Node(opType, name string, inputs, outputs []string, attrs ...onnx.AttributeProto) *Builder {
	b.graph.Nodes = append(b.graph.Nodes, onnx.NodeProto{
		Name:       name,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	})
	return b
}

// Proto returns the assembled model.
func (b *Builder) Proto() *onnx.ModelProto {
	graph := b.graph
	return &onnx.ModelProto{
		IRVersion:       8,
		ProducerName:    "onnxtest",
		ProducerVersion: "1",
		OpsetImport:     []onnx.OperatorSetID{{Domain: "", Version: b.opset}},
		Graph:           &graph,
	}
}

// Bytes returns the serialized model.
func (b *Builder) Bytes() []byte {
	return onnx.Marshal(b.Proto())
}

// MustLoad serializes, parses and compiles the model.
func (b *Builder) MustLoad(tb testing.TB) *onnx.Model {
	tb.Helper()
	model, err := onnx.LoadFromBytes(b.Bytes())
	require.NoError(tb, err)
	return model
}

// Int builds an INT attribute.
func Int(name string, v int64) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoInt, I: v}
}

// Ints builds an INTS attribute.
func Ints(name string, vs ...int64) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoInts, Ints: vs}
}

// Float builds a FLOAT attribute.
func Float(name string, v float32) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoFloat, F: v}
}

// String builds a STRING attribute.
func String(name, s string) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoString, S: []byte(s)}
}

// Weights returns n deterministic values uniformly drawn from
// [-scale, scale).
func Weights(seed int64, n int, scale float32) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = (2*rng.Float32() - 1) * scale
	}
	return out
}

// Fill returns n copies of v.
func Fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
