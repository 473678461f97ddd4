package onnx

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/saliency/internal/onnx/operators"
	"github.com/born-ml/saliency/internal/tensor"
)

// ErrLayerNotFound is returned when a layer name matches no node.
var ErrLayerNotFound = errors.New("layer not found")

// ErrUnsupportedOperator is returned for node types without a handler.
var ErrUnsupportedOperator = operators.ErrUnsupportedOperator

// Freezer is implemented by backends that can exclude tensors from
// gradient computation. Run freezes every initializer on such backends.
type Freezer interface {
	Freeze(ts ...*tensor.RawTensor)
}

// Model represents a loaded ONNX model ready for inference.
// A Model is immutable after loading and may be run on several backends.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	initializers map[string]*tensor.RawTensor
	inputNames   []string
	outputNames  []string
	nodes        []*operators.Node // topologically sorted
	producer     map[string]int    // tensor name -> index into nodes
	opsetVersion int64
}

// Layer describes an addressable node of the graph.
type Layer struct {
	Index  int
	Name   string
	OpType string
	Inputs []string
	Output string
}

// Edge is a data dependency between two nodes (or a graph input and a node).
type Edge struct {
	From   string
	To     string
	Tensor string
}

// RunOptions controls a forward pass.
type RunOptions struct {
	// Capture lists layers whose outputs are returned in Trace.Layers,
	// addressed as in ResolveLayer.
	Capture []string

	// StopAfter ends the pass once this layer has been computed. Only the
	// nodes it depends on are executed.
	StopAfter string
}

// Trace holds the results of a forward pass.
type Trace struct {
	Outputs map[string]*tensor.RawTensor // graph outputs that were computed
	Layers  map[string]*tensor.RawTensor // captured layers, keyed as requested
}

// Layer returns a captured layer output.
func (t *Trace) Layer(name string) (*tensor.RawTensor, bool) {
	x, ok := t.Layers[name]
	return x, ok
}

// Output returns a graph output.
func (t *Trace) Output(name string) (*tensor.RawTensor, bool) {
	x, ok := t.Outputs[name]
	return x, ok
}

// InputNames returns the names of model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// InputName returns the first model input, the image for classifiers.
func (m *Model) InputName() string {
	if len(m.inputNames) == 0 {
		return ""
	}
	return m.inputNames[0]
}

// InputShape returns the declared shape of the first input. Symbolic or
// unknown dimensions are -1.
func (m *Model) InputShape() []int {
	name := m.InputName()
	for _, in := range m.proto.Graph.Inputs {
		if in.Name != name {
			continue
		}
		shape := make([]int, len(in.Shape))
		for i, d := range in.Shape {
			if d.DimParam != "" || d.DimValue <= 0 {
				shape[i] = -1
			} else {
				shape[i] = int(d.DimValue)
			}
		}
		return shape
	}
	return nil
}

// OutputNames returns the names of model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the ONNX opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Name returns the graph name, or the producer name when the graph is unnamed.
func (m *Model) Name() string {
	if m.proto.Graph.Name != "" {
		return m.proto.Graph.Name
	}
	return m.proto.ProducerName
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	meta["domain"] = m.proto.Domain
	return meta
}

// NumParameters returns the number of weight elements.
func (m *Model) NumParameters() int {
	n := 0
	for _, t := range m.initializers {
		n += t.NumElements()
	}
	return n
}

// Layers returns every node in execution order.
func (m *Model) Layers() []Layer {
	layers := make([]Layer, len(m.nodes))
	for i := range m.nodes {
		layers[i] = m.layer(i)
	}
	return layers
}

func (m *Model) layer(i int) Layer {
	node := m.nodes[i]
	l := Layer{Index: i, Name: node.Name, OpType: node.OpType, Inputs: node.Inputs}
	if len(node.Outputs) > 0 {
		l.Output = node.Outputs[0]
	}
	return l
}

// ResolveLayer finds the node addressed by name. It tries, in order:
//  1. a node with exactly that name
//  2. the node producing a tensor with that name
//  3. the last node whose "/"-separated name or output path contains name
//     as a segment, so Keras layer names such as "block5_conv3" address the
//     final node of the layer (its activation) in tf2onnx exports
func (m *Model) ResolveLayer(name string) (Layer, error) {
	for i, node := range m.nodes {
		if node.Name == name {
			return m.layer(i), nil
		}
	}
	if i, ok := m.producer[name]; ok {
		return m.layer(i), nil
	}
	for i := len(m.nodes) - 1; i >= 0; i-- {
		node := m.nodes[i]
		if hasSegment(node.Name, name) {
			return m.layer(i), nil
		}
		if len(node.Outputs) > 0 && hasSegment(node.Outputs[0], name) {
			return m.layer(i), nil
		}
	}
	return Layer{}, fmt.Errorf("%w: %q", ErrLayerNotFound, name)
}

func hasSegment(path, segment string) bool {
	for _, s := range strings.Split(path, "/") {
		if s == segment || strings.TrimSuffix(s, ":0") == segment {
			return true
		}
	}
	return false
}

// Edges returns the data dependencies between nodes and from graph inputs
// to nodes. Weights are not included.
func (m *Model) Edges() []Edge {
	isInput := make(map[string]bool, len(m.inputNames))
	for _, name := range m.inputNames {
		isInput[name] = true
	}

	var edges []Edge
	for _, node := range m.nodes {
		for _, in := range node.Inputs {
			if i, ok := m.producer[in]; ok {
				edges = append(edges, Edge{From: m.nodes[i].Name, To: node.Name, Tensor: in})
			} else if isInput[in] {
				edges = append(edges, Edge{From: in, To: node.Name, Tensor: in})
			}
		}
	}
	return edges
}

// Run executes the graph on backend.
//
// Running on an autodiff backend records every node on its tape, and the
// model's weights are frozen so that only activations receive gradients.
func (m *Model) Run(backend tensor.Backend, inputs map[string]*tensor.RawTensor, opts RunOptions) (*Trace, error) {
	tensors := make(map[string]*tensor.RawTensor, len(m.initializers)+len(m.nodes))
	for name, t := range m.initializers {
		tensors[name] = t
	}
	for _, name := range m.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input: %s", name)
		}
		tensors[name] = t
	}

	ctx := &operators.Context{Backend: backend, Opset: m.opsetVersion}
	if f, ok := backend.(Freezer); ok {
		for _, t := range m.initializers {
			f.Freeze(t)
		}
	}

	captures := make(map[string][]string, len(opts.Capture)) // tensor -> requested names
	for _, name := range opts.Capture {
		l, err := m.ResolveLayer(name)
		if err != nil {
			return nil, err
		}
		captures[l.Output] = append(captures[l.Output], name)
	}

	last := len(m.nodes) - 1
	var needed []bool
	if opts.StopAfter != "" {
		l, err := m.ResolveLayer(opts.StopAfter)
		if err != nil {
			return nil, err
		}
		last = l.Index
		needed = m.ancestors(l.Index)
	}

	for i := 0; i <= last; i++ {
		if needed != nil && !needed[i] {
			continue
		}
		node := m.nodes[i]

		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for j, name := range node.Inputs {
			if name == "" {
				continue // optional input not provided
			}
			t, ok := tensors[name]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, name)
			}
			nodeInputs[j] = t
		}

		outputs, err := m.registry.Execute(ctx, node, nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for j, name := range node.Outputs {
			if j < len(outputs) && name != "" {
				tensors[name] = outputs[j]
			}
		}
	}

	trace := &Trace{
		Outputs: make(map[string]*tensor.RawTensor, len(m.outputNames)),
		Layers:  make(map[string]*tensor.RawTensor, len(opts.Capture)),
	}
	for _, name := range m.outputNames {
		if t, ok := tensors[name]; ok {
			trace.Outputs[name] = t
		}
	}
	for tensorName, names := range captures {
		t, ok := tensors[tensorName]
		if !ok {
			return nil, fmt.Errorf("layer %s was not computed before %s", names[0], opts.StopAfter)
		}
		for _, name := range names {
			trace.Layers[name] = t
		}
	}
	return trace, nil
}

// Predict runs the full graph and returns the first output.
func (m *Model) Predict(backend tensor.Backend, input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.outputNames) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	trace, err := m.Run(backend, map[string]*tensor.RawTensor{m.InputName(): input}, RunOptions{})
	if err != nil {
		return nil, err
	}
	out, ok := trace.Output(m.outputNames[0])
	if !ok {
		return nil, fmt.Errorf("missing output: %s", m.outputNames[0])
	}
	return out, nil
}

// ancestors marks node target and every node it transitively depends on.
func (m *Model) ancestors(target int) []bool {
	needed := make([]bool, len(m.nodes))
	stack := []int{target}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed[i] {
			continue
		}
		needed[i] = true
		for _, in := range m.nodes[i].Inputs {
			if j, ok := m.producer[in]; ok && !needed[j] {
				stack = append(stack, j)
			}
		}
	}
	return needed
}

// compile prepares the model for inference.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	m.initializers = make(map[string]*tensor.RawTensor, len(graph.Initializers))
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.initializers[init.Name] = t
	}

	// Inputs are graph inputs minus initializers (older exporters list both).
	for i := range graph.Inputs {
		if _, isWeight := m.initializers[graph.Inputs[i].Name]; !isWeight {
			m.inputNames = append(m.inputNames, graph.Inputs[i].Name)
		}
	}
	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	for _, opset := range m.proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			m.opsetVersion = opset.Version
			break
		}
	}

	sorted, err := topologicalSort(graph.Nodes)
	if err != nil {
		return err
	}
	m.nodes = make([]*operators.Node, len(sorted))
	m.producer = make(map[string]int)
	for i := range sorted {
		node, err := toOperatorNode(&sorted[i])
		if err != nil {
			return err
		}
		if node.Name == "" {
			node.Name = node.OpType + "_" + strconv.Itoa(i)
		}
		m.nodes[i] = node
		for _, out := range node.Outputs {
			m.producer[out] = i
		}
	}

	return nil
}

// toOperatorNode converts NodeProto to operators.Node, decoding tensor
// attributes.
func toOperatorNode(proto *NodeProto) (*operators.Node, error) {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:   attr.Name,
			F:      attr.F,
			I:      attr.I,
			S:      attr.S,
			Floats: attr.Floats,
			Ints:   attr.Ints,
		}
		if attr.T != nil {
			t, err := tensorFromProto(attr.T)
			if err != nil {
				return nil, fmt.Errorf("node %s attribute %s: %w", proto.Name, attr.Name, err)
			}
			attrs[i].T = t
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
	}, nil
}

// topologicalSort sorts nodes in execution order.
// Ensures dependencies are executed before dependents and rejects cycles.
func topologicalSort(nodes []NodeProto) ([]NodeProto, error) {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("graph has a cycle through node %q", nodes[i].Name)
		}
		state[i] = visiting

		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				if err := visit(depIdx); err != nil {
					return err
				}
			}
		}

		state[i] = done
		result = append(result, nodes[i])
		return nil
	}

	for i := range nodes {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return result, nil
}
