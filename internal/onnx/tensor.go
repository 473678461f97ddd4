package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/born-ml/saliency/internal/tensor"
)

// tensorFromProto converts TensorProto to RawTensor.
//
// float32, int64 and uint8 are kept; double is narrowed to float32, and
// int32 and bool are widened to int64.
func tensorFromProto(proto *TensorProto) (*tensor.RawTensor, error) {
	if proto.DataLocation == 1 {
		return nil, fmt.Errorf("tensor %s: external data is not supported", proto.Name)
	}

	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}
	n := shape.NumElements()

	switch proto.DataType {
	case TensorProtoFloat:
		t, err := tensor.NewRaw(shape, tensor.Float32)
		if err != nil {
			return nil, err
		}
		switch {
		case len(proto.RawData) > 0:
			if len(proto.RawData) != n*4 {
				return nil, sizeError(proto, len(proto.RawData), n*4)
			}
			copy(t.Data(), proto.RawData)
		case len(proto.FloatData) > 0:
			if len(proto.FloatData) != n {
				return nil, sizeError(proto, len(proto.FloatData), n)
			}
			copy(t.AsFloat32(), proto.FloatData)
		}
		return t, nil

	case TensorProtoDouble:
		t, err := tensor.NewRaw(shape, tensor.Float32)
		if err != nil {
			return nil, err
		}
		dst := t.AsFloat32()
		switch {
		case len(proto.RawData) > 0:
			if len(proto.RawData) != n*8 {
				return nil, sizeError(proto, len(proto.RawData), n*8)
			}
			for i := range dst {
				dst[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(proto.RawData[i*8:])))
			}
		case len(proto.DoubleData) > 0:
			if len(proto.DoubleData) != n {
				return nil, sizeError(proto, len(proto.DoubleData), n)
			}
			for i, v := range proto.DoubleData {
				dst[i] = float32(v)
			}
		}
		return t, nil

	case TensorProtoInt64, TensorProtoInt32, TensorProtoBool, TensorProtoInt8:
		t, err := tensor.NewRaw(shape, tensor.Int64)
		if err != nil {
			return nil, err
		}
		dst := t.AsInt64()
		switch {
		case len(proto.RawData) > 0:
			width := map[int32]int{TensorProtoInt64: 8, TensorProtoInt32: 4, TensorProtoBool: 1, TensorProtoInt8: 1}[proto.DataType]
			if len(proto.RawData) != n*width {
				return nil, sizeError(proto, len(proto.RawData), n*width)
			}
			for i := range dst {
				b := proto.RawData[i*width:]
				switch width {
				case 8:
					dst[i] = int64(binary.LittleEndian.Uint64(b))
				case 4:
					dst[i] = int64(int32(binary.LittleEndian.Uint32(b)))
				default:
					dst[i] = int64(int8(b[0]))
				}
			}
		case len(proto.Int64Data) > 0:
			if len(proto.Int64Data) != n {
				return nil, sizeError(proto, len(proto.Int64Data), n)
			}
			copy(dst, proto.Int64Data)
		case len(proto.Int32Data) > 0:
			if len(proto.Int32Data) != n {
				return nil, sizeError(proto, len(proto.Int32Data), n)
			}
			for i, v := range proto.Int32Data {
				dst[i] = int64(v)
			}
		}
		return t, nil

	case TensorProtoUint8:
		t, err := tensor.NewRaw(shape, tensor.Uint8)
		if err != nil {
			return nil, err
		}
		switch {
		case len(proto.RawData) > 0:
			if len(proto.RawData) != n {
				return nil, sizeError(proto, len(proto.RawData), n)
			}
			copy(t.Data(), proto.RawData)
		case len(proto.Int32Data) > 0:
			for i, v := range proto.Int32Data {
				t.Data()[i] = uint8(v)
			}
		}
		return t, nil

	default:
		return nil, fmt.Errorf("tensor %s: unsupported data type %d", proto.Name, proto.DataType)
	}
}

func sizeError(proto *TensorProto, got, want int) error {
	return fmt.Errorf("tensor %s: data has %d entries, shape %v needs %d", proto.Name, got, proto.Dims, want)
}
