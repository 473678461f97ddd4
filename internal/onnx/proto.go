package onnx

// ModelProto is the top-level ONNX model.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string // e.g. "tf2onnx", "pytorch"
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// GraphProto is the computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	Initializers []TensorProto // pretrained weights
	ValueInfo    []ValueInfoProto
	DocString    string
}

// NodeProto is a single operation.
type NodeProto struct {
	Name       string
	OpType     string // e.g. "Conv", "Relu", "MaxPool"
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
	Domain     string
	DocString  string
}

// TensorProto is a constant tensor (initializer or attribute value).
type TensorProto struct {
	Name         string
	DataType     int32
	Dims         []int64
	RawData      []byte // little-endian, the common encoding
	FloatData    []float32
	Int32Data    []int32
	Int64Data    []int64
	DoubleData   []float64
	DataLocation int32 // 1 = external file, unsupported
}

// ValueInfoProto describes a graph input, output or intermediate value.
type ValueInfoProto struct {
	Name     string
	ElemType int32
	Shape    []DimensionProto // nil when the type carries no shape
}

// DimensionProto is a static size or a symbolic name such as "batch".
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto is a node attribute.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a metadata key-value pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX element types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoBool      = 9
	TensorProtoDouble    = 11
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoFloat   = 1
	AttributeProtoInt     = 2
	AttributeProtoString  = 3
	AttributeProtoTensor  = 4
	AttributeProtoFloats  = 6
	AttributeProtoInts    = 7
	AttributeProtoStrings = 8
)

// Field numbers from onnx.proto.
const (
	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelDomain          = 4
	fieldModelVersion         = 5
	fieldModelDocString       = 6
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8
	fieldModelMetadataProps   = 14

	fieldGraphNode        = 1
	fieldGraphName        = 2
	fieldGraphInitializer = 5
	fieldGraphDocString   = 10
	fieldGraphInput       = 11
	fieldGraphOutput      = 12
	fieldGraphValueInfo   = 13

	fieldNodeInput     = 1
	fieldNodeOutput    = 2
	fieldNodeName      = 3
	fieldNodeOpType    = 4
	fieldNodeAttribute = 5
	fieldNodeDocString = 6
	fieldNodeDomain    = 7

	fieldAttrName    = 1
	fieldAttrF       = 2
	fieldAttrI       = 3
	fieldAttrS       = 4
	fieldAttrT       = 5
	fieldAttrFloats  = 7
	fieldAttrInts    = 8
	fieldAttrStrings = 9
	fieldAttrType    = 20

	fieldTensorDims         = 1
	fieldTensorDataType     = 2
	fieldTensorFloatData    = 4
	fieldTensorInt32Data    = 5
	fieldTensorInt64Data    = 7
	fieldTensorName         = 8
	fieldTensorRawData      = 9
	fieldTensorDoubleData   = 10
	fieldTensorDataLocation = 14

	fieldValueInfoName = 1
	fieldValueInfoType = 2

	fieldTypeTensor      = 1
	fieldTensorTypeElem  = 1
	fieldTensorTypeShape = 2
	fieldShapeDim        = 1
	fieldDimValue        = 1
	fieldDimParam        = 2

	fieldOpsetDomain  = 1
	fieldOpsetVersion = 2

	fieldEntryKey   = 1
	fieldEntryValue = 2
)
