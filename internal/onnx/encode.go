package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal encodes m in the ONNX protobuf wire format. Repeated numeric
// fields are written packed. Marshal is the inverse of Parse for every
// field Parse understands.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarint(b, fieldModelIRVersion, uint64(m.IRVersion))
	b = appendString(b, fieldModelProducerName, m.ProducerName)
	b = appendString(b, fieldModelProducerVersion, m.ProducerVersion)
	b = appendString(b, fieldModelDomain, m.Domain)
	b = appendVarint(b, fieldModelVersion, uint64(m.ModelVersion))
	b = appendString(b, fieldModelDocString, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, fieldModelGraph, marshalGraph(m.Graph))
	}
	for _, op := range m.OpsetImport {
		var sub []byte
		sub = appendString(sub, fieldOpsetDomain, op.Domain)
		sub = appendVarint(sub, fieldOpsetVersion, uint64(op.Version))
		b = appendMessage(b, fieldModelOpsetImport, sub)
	}
	for _, e := range m.MetadataProps {
		var sub []byte
		sub = appendString(sub, fieldEntryKey, e.Key)
		sub = appendString(sub, fieldEntryValue, e.Value)
		b = appendMessage(b, fieldModelMetadataProps, sub)
	}
	return b
}

func marshalGraph(g *GraphProto) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, fieldGraphNode, marshalNode(&g.Nodes[i]))
	}
	b = appendString(b, fieldGraphName, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, fieldGraphInitializer, marshalTensor(&g.Initializers[i]))
	}
	b = appendString(b, fieldGraphDocString, g.DocString)
	for i := range g.Inputs {
		b = appendMessage(b, fieldGraphInput, marshalValueInfo(&g.Inputs[i]))
	}
	for i := range g.Outputs {
		b = appendMessage(b, fieldGraphOutput, marshalValueInfo(&g.Outputs[i]))
	}
	for i := range g.ValueInfo {
		b = appendMessage(b, fieldGraphValueInfo, marshalValueInfo(&g.ValueInfo[i]))
	}
	return b
}

func marshalNode(n *NodeProto) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = protowire.AppendTag(b, fieldNodeInput, protowire.BytesType)
		b = protowire.AppendString(b, in)
	}
	for _, out := range n.Outputs {
		b = protowire.AppendTag(b, fieldNodeOutput, protowire.BytesType)
		b = protowire.AppendString(b, out)
	}
	b = appendString(b, fieldNodeName, n.Name)
	b = appendString(b, fieldNodeOpType, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, fieldNodeAttribute, marshalAttribute(&n.Attributes[i]))
	}
	b = appendString(b, fieldNodeDocString, n.DocString)
	b = appendString(b, fieldNodeDomain, n.Domain)
	return b
}

func marshalAttribute(a *AttributeProto) []byte {
	var b []byte
	b = appendString(b, fieldAttrName, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		b = protowire.AppendTag(b, fieldAttrF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeProtoInt:
		b = appendVarint(b, fieldAttrI, uint64(a.I))
	case AttributeProtoString:
		b = protowire.AppendTag(b, fieldAttrS, protowire.BytesType)
		b = protowire.AppendBytes(b, a.S)
	case AttributeProtoTensor:
		if a.T != nil {
			b = appendMessage(b, fieldAttrT, marshalTensor(a.T))
		}
	case AttributeProtoFloats:
		b = appendPackedFloats(b, fieldAttrFloats, a.Floats)
	case AttributeProtoInts:
		b = appendPackedVarints(b, fieldAttrInts, a.Ints)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			b = protowire.AppendTag(b, fieldAttrStrings, protowire.BytesType)
			b = protowire.AppendBytes(b, s)
		}
	}
	b = appendVarint(b, fieldAttrType, uint64(a.Type))
	return b
}

func marshalTensor(t *TensorProto) []byte {
	var b []byte
	b = appendPackedVarints(b, fieldTensorDims, t.Dims)
	b = appendVarint(b, fieldTensorDataType, uint64(t.DataType))
	b = appendPackedFloats(b, fieldTensorFloatData, t.FloatData)
	if len(t.Int32Data) > 0 {
		vs := make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			vs[i] = int64(v)
		}
		b = appendPackedVarints(b, fieldTensorInt32Data, vs)
	}
	b = appendPackedVarints(b, fieldTensorInt64Data, t.Int64Data)
	b = appendString(b, fieldTensorName, t.Name)
	if len(t.RawData) > 0 {
		b = protowire.AppendTag(b, fieldTensorRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var packed []byte
		for _, v := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendMessage(b, fieldTensorDoubleData, packed)
	}
	b = appendVarint(b, fieldTensorDataLocation, uint64(t.DataLocation))
	return b
}

func marshalValueInfo(vi *ValueInfoProto) []byte {
	var tt []byte
	tt = appendVarint(tt, fieldTensorTypeElem, uint64(vi.ElemType))
	if vi.Shape != nil {
		var shape []byte
		for _, d := range vi.Shape {
			var dim []byte
			if d.DimParam != "" {
				dim = appendString(dim, fieldDimParam, d.DimParam)
			} else {
				dim = protowire.AppendTag(dim, fieldDimValue, protowire.VarintType)
				dim = protowire.AppendVarint(dim, uint64(d.DimValue))
			}
			shape = appendMessage(shape, fieldShapeDim, dim)
		}
		tt = appendMessage(tt, fieldTensorTypeShape, shape)
	}

	var b []byte
	b = appendString(b, fieldValueInfoName, vi.Name)
	b = appendMessage(b, fieldValueInfoType, appendMessage(nil, fieldTypeTensor, tt))
	return b
}

// appendVarint writes a varint field, omitting zero values like proto3.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendString writes a string field, omitting empty strings.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendMessage writes an embedded message, even when it is empty.
func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedVarints(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendMessage(b, num, packed)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}
