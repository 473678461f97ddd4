package onnx

import (
	"fmt"
	"sort"

	"github.com/born-ml/saliency/internal/onnx/operators"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// StrictMode fails at load time on unsupported operators. Otherwise
	// they fail when the graph reaches them, which allows running the
	// supported prefix of a graph with RunOptions.StopAfter.
	StrictMode bool

	// CustomOps provides custom operator handlers.
	CustomOps map[string]operators.OpHandler
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{StrictMode: true}
}

// Load loads an ONNX model from file and prepares it for inference.
//
// Example:
//
//	model, err := onnx.Load("vgg19.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	probs, err := model.Predict(cpu.New(), input)
func Load(path string, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX file: %w", err)
	}

	return LoadFromProto(proto, opt)
}

// LoadFromBytes loads an ONNX model from bytes.
func LoadFromBytes(data []byte, opts ...LoadOptions) (*Model, error) {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}

	proto, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX data: %w", err)
	}

	return LoadFromProto(proto, opt)
}

// LoadFromProto loads a model from parsed ModelProto.
func LoadFromProto(proto *ModelProto, opt LoadOptions) (*Model, error) {
	registry := operators.NewRegistry()
	for opType, handler := range opt.CustomOps {
		registry.Register(opType, handler)
	}

	if opt.StrictMode {
		if err := validateOperators(proto.Graph, registry); err != nil {
			return nil, err
		}
	}

	model := &Model{
		proto:    proto,
		registry: registry,
	}
	if err := model.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}

	return model, nil
}

// validateOperators checks that all operators are supported.
func validateOperators(graph *GraphProto, registry *operators.Registry) error {
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	seen := make(map[string]bool)
	var unsupported []string
	for i := range graph.Nodes {
		op := graph.Nodes[i].OpType
		if _, ok := registry.Get(op); !ok && !seen[op] {
			seen[op] = true
			unsupported = append(unsupported, op)
		}
	}

	if len(unsupported) > 0 {
		sort.Strings(unsupported)
		return fmt.Errorf("%w: %v", ErrUnsupportedOperator, unsupported)
	}
	return nil
}

// ModelInfo contains basic information about an ONNX model without compiling it.
type ModelInfo struct {
	IRVersion       int64
	OpsetVersion    int64
	ProducerName    string
	ProducerVersion string
	InputNames      []string
	OutputNames     []string
	NodeCount       int
	WeightCount     int
	OpCounts        map[string]int
}

// GetModelInfo extracts basic info from an ONNX file.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return InfoFromProto(proto), nil
}

// InfoFromProto summarizes a parsed model.
func InfoFromProto(proto *ModelProto) *ModelInfo {
	info := &ModelInfo{
		IRVersion:       proto.IRVersion,
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		OpCounts:        make(map[string]int),
	}

	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			info.OpsetVersion = opset.Version
			break
		}
	}

	if proto.Graph == nil {
		return info
	}
	weights := make(map[string]bool, len(proto.Graph.Initializers))
	for i := range proto.Graph.Initializers {
		weights[proto.Graph.Initializers[i].Name] = true
	}
	for i := range proto.Graph.Inputs {
		if !weights[proto.Graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, proto.Graph.Inputs[i].Name)
		}
	}
	for i := range proto.Graph.Outputs {
		info.OutputNames = append(info.OutputNames, proto.Graph.Outputs[i].Name)
	}
	info.NodeCount = len(proto.Graph.Nodes)
	info.WeightCount = len(proto.Graph.Initializers)
	for i := range proto.Graph.Nodes {
		info.OpCounts[proto.Graph.Nodes[i].OpType]++
	}

	return info
}

// ListSupportedOps returns the operator types the loader can execute.
func ListSupportedOps() []string {
	return operators.NewRegistry().SupportedOps()
}
