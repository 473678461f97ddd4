// Package tensor provides the dense tensor type shared by the CPU kernels,
// the autodiff tape and the ONNX executor.
//
// All numeric work happens in float32. Int64 exists for ONNX shape tensors
// (Reshape targets, Constant nodes) and Uint8 for decoded image data.
package tensor

// DataType is the runtime element type of a RawTensor.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Int64
	Uint8
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Int64:
		return 8
	case Uint8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}
