package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ParseFile parses an ONNX model from file.
//
//nolint:gosec // G304: model path comes from the user's configuration
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	model := &ModelProto{}
	if err := readModel(data, model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// field is one decoded protobuf field. For BytesType fields only b is set;
// for scalar wire types only u is set.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f field) str() string { return string(f.b) }

// eachField decodes the fields of a message in order and calls fn for
// every one of them. Groups are skipped.
func eachField(data []byte, fn func(f field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(data)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// varints appends a repeated varint field, accepting both packed and
// unpacked encodings.
func varints(dst []int64, f field) ([]int64, error) {
	if f.typ == protowire.VarintType {
		return append(dst, int64(f.u)), nil
	}
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		dst = append(dst, int64(v))
		b = b[n:]
	}
	return dst, nil
}

// floats appends a repeated float field (packed or unpacked).
func floats(dst []float32, f field) ([]float32, error) {
	if f.typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(f.u))), nil
	}
	if len(f.b)%4 != 0 {
		return nil, fmt.Errorf("packed float field of %d bytes", len(f.b))
	}
	for i := 0; i < len(f.b); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(f.b[i:])))
	}
	return dst, nil
}

// doubles appends a repeated double field (packed or unpacked).
func doubles(dst []float64, f field) ([]float64, error) {
	if f.typ == protowire.Fixed64Type {
		return append(dst, math.Float64frombits(f.u)), nil
	}
	if len(f.b)%8 != 0 {
		return nil, fmt.Errorf("packed double field of %d bytes", len(f.b))
	}
	for i := 0; i < len(f.b); i += 8 {
		dst = append(dst, math.Float64frombits(binary.LittleEndian.Uint64(f.b[i:])))
	}
	return dst, nil
}

func readModel(data []byte, m *ModelProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case fieldModelIRVersion:
			m.IRVersion = int64(f.u)
		case fieldModelProducerName:
			m.ProducerName = f.str()
		case fieldModelProducerVersion:
			m.ProducerVersion = f.str()
		case fieldModelDomain:
			m.Domain = f.str()
		case fieldModelVersion:
			m.ModelVersion = int64(f.u)
		case fieldModelDocString:
			m.DocString = f.str()
		case fieldModelGraph:
			m.Graph = &GraphProto{}
			return readGraph(f.b, m.Graph)
		case fieldModelOpsetImport:
			var opset OperatorSetID
			err := eachField(f.b, func(f field) error {
				switch f.num {
				case fieldOpsetDomain:
					opset.Domain = f.str()
				case fieldOpsetVersion:
					opset.Version = int64(f.u)
				}
				return nil
			})
			m.OpsetImport = append(m.OpsetImport, opset)
			return err
		case fieldModelMetadataProps:
			var entry StringStringEntry
			err := eachField(f.b, func(f field) error {
				switch f.num {
				case fieldEntryKey:
					entry.Key = f.str()
				case fieldEntryValue:
					entry.Value = f.str()
				}
				return nil
			})
			m.MetadataProps = append(m.MetadataProps, entry)
			return err
		}
		return nil
	})
}

func readGraph(data []byte, g *GraphProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case fieldGraphNode:
			var node NodeProto
			if err := readNode(f.b, &node); err != nil {
				return fmt.Errorf("node %d: %w", len(g.Nodes), err)
			}
			g.Nodes = append(g.Nodes, node)
		case fieldGraphName:
			g.Name = f.str()
		case fieldGraphInitializer:
			var t TensorProto
			if err := readTensor(f.b, &t); err != nil {
				return fmt.Errorf("initializer %d: %w", len(g.Initializers), err)
			}
			g.Initializers = append(g.Initializers, t)
		case fieldGraphDocString:
			g.DocString = f.str()
		case fieldGraphInput, fieldGraphOutput, fieldGraphValueInfo:
			var vi ValueInfoProto
			if err := readValueInfo(f.b, &vi); err != nil {
				return err
			}
			switch f.num {
			case fieldGraphInput:
				g.Inputs = append(g.Inputs, vi)
			case fieldGraphOutput:
				g.Outputs = append(g.Outputs, vi)
			default:
				g.ValueInfo = append(g.ValueInfo, vi)
			}
		}
		return nil
	})
}

func readNode(data []byte, n *NodeProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case fieldNodeInput:
			n.Inputs = append(n.Inputs, f.str())
		case fieldNodeOutput:
			n.Outputs = append(n.Outputs, f.str())
		case fieldNodeName:
			n.Name = f.str()
		case fieldNodeOpType:
			n.OpType = f.str()
		case fieldNodeAttribute:
			var attr AttributeProto
			if err := readAttribute(f.b, &attr); err != nil {
				return fmt.Errorf("attribute: %w", err)
			}
			n.Attributes = append(n.Attributes, attr)
		case fieldNodeDocString:
			n.DocString = f.str()
		case fieldNodeDomain:
			n.Domain = f.str()
		}
		return nil
	})
}

func readAttribute(data []byte, a *AttributeProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case fieldAttrName:
			a.Name = f.str()
		case fieldAttrType:
			a.Type = int32(f.u)
		case fieldAttrF:
			a.F = math.Float32frombits(uint32(f.u))
		case fieldAttrI:
			a.I = int64(f.u)
		case fieldAttrS:
			a.S = f.b
		case fieldAttrT:
			a.T = &TensorProto{}
			err = readTensor(f.b, a.T)
		case fieldAttrFloats:
			a.Floats, err = floats(a.Floats, f)
		case fieldAttrInts:
			a.Ints, err = varints(a.Ints, f)
		case fieldAttrStrings:
			a.Strings = append(a.Strings, f.b)
		}
		return err
	})
}

func readTensor(data []byte, t *TensorProto) error {
	return eachField(data, func(f field) error {
		var err error
		switch f.num {
		case fieldTensorDims:
			t.Dims, err = varints(t.Dims, f)
		case fieldTensorDataType:
			t.DataType = int32(f.u)
		case fieldTensorFloatData:
			t.FloatData, err = floats(t.FloatData, f)
		case fieldTensorInt32Data:
			var vs []int64
			vs, err = varints(nil, f)
			for _, v := range vs {
				t.Int32Data = append(t.Int32Data, int32(v))
			}
		case fieldTensorInt64Data:
			t.Int64Data, err = varints(t.Int64Data, f)
		case fieldTensorName:
			t.Name = f.str()
		case fieldTensorRawData:
			t.RawData = f.b
		case fieldTensorDoubleData:
			t.DoubleData, err = doubles(t.DoubleData, f)
		case fieldTensorDataLocation:
			t.DataLocation = int32(f.u)
		}
		return err
	})
}

func readValueInfo(data []byte, vi *ValueInfoProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case fieldValueInfoName:
			vi.Name = f.str()
		case fieldValueInfoType:
			return eachField(f.b, func(f field) error {
				if f.num != fieldTypeTensor {
					return nil
				}
				return readTensorType(f.b, vi)
			})
		}
		return nil
	})
}

func readTensorType(data []byte, vi *ValueInfoProto) error {
	return eachField(data, func(f field) error {
		switch f.num {
		case fieldTensorTypeElem:
			vi.ElemType = int32(f.u)
		case fieldTensorTypeShape:
			vi.Shape = []DimensionProto{}
			return eachField(f.b, func(f field) error {
				if f.num != fieldShapeDim {
					return nil
				}
				var dim DimensionProto
				err := eachField(f.b, func(f field) error {
					switch f.num {
					case fieldDimValue:
						dim.DimValue = int64(f.u)
					case fieldDimParam:
						dim.DimParam = f.str()
					}
					return nil
				})
				vi.Shape = append(vi.Shape, dim)
				return err
			})
		}
		return nil
	})
}
