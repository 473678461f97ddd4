// Package archviz renders a model graph as a Graphviz DOT diagram, the
// counterpart of Keras plot_model. Render the result with
// `dot -Tpng model.dot -o model.png`.
package archviz

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/born-ml/saliency/internal/onnx"
)

// Graph is the view of a model needed to draw it. *onnx.Model satisfies it.
type Graph interface {
	Name() string
	InputNames() []string
	OutputNames() []string
	Layers() []onnx.Layer
	Edges() []onnx.Edge
}

// Options controls the diagram.
type Options struct {
	// RankDir is the Graphviz layout direction, "TB" when empty.
	RankDir string
	// Highlight names a layer drawn filled, usually the explained layer.
	Highlight string
	// ShowTensors labels edges with tensor names.
	ShowTensors bool
}

const highlightColor = "#f4a582"

type attrs []encoding.Attribute

func (a attrs) Attributes() []encoding.Attribute { return a }

// node is a layer, graph input or graph output.
type node struct {
	id    int64
	name  string
	attrs attrs
}

func (n node) ID() int64                        { return n.id }
func (n node) DOTID() string                    { return n.name }
func (n node) Attributes() []encoding.Attribute { return n.attrs }

// edge carries the tensor flowing between two nodes.
type edge struct {
	from, to graph.Node
	tensor   string
	label    bool
}

func (e edge) From() graph.Node { return e.from }
func (e edge) To() graph.Node   { return e.to }
func (e edge) ReversedEdge() graph.Edge {
	return edge{from: e.to, to: e.from, tensor: e.tensor, label: e.label}
}

func (e edge) Attributes() []encoding.Attribute {
	if !e.label {
		return nil
	}
	return []encoding.Attribute{{Key: "label", Value: e.tensor}}
}

// diagram is a directed graph with global DOT attributes.
type diagram struct {
	*simple.DirectedGraph
	graphAttrs, nodeAttrs attrs
}

func (d diagram) DOTAttributers() (g, n, e encoding.Attributer) {
	return d.graphAttrs, d.nodeAttrs, attrs(nil)
}

// Build converts g into a gonum graph ready for dot.Marshal.
func Build(g Graph, opts Options) graph.Directed {
	rankdir := opts.RankDir
	if rankdir == "" {
		rankdir = "TB"
	}
	d := diagram{
		DirectedGraph: simple.NewDirectedGraph(),
		graphAttrs:    attrs{{Key: "rankdir", Value: rankdir}},
		nodeAttrs:     attrs{{Key: "shape", Value: "box"}, {Key: "fontname", Value: "Helvetica"}},
	}

	byName := make(map[string]graph.Node)
	add := func(name string, a attrs) graph.Node {
		if n, ok := byName[name]; ok {
			return n
		}
		n := node{id: int64(len(byName)), name: name, attrs: a}
		d.AddNode(n)
		byName[name] = n
		return n
	}
	connect := func(from, to graph.Node, tensor string) {
		if from.ID() == to.ID() {
			return
		}
		d.SetEdge(edge{from: from, to: to, tensor: tensor, label: opts.ShowTensors})
	}

	for _, in := range g.InputNames() {
		add(in, attrs{{Key: "shape", Value: "ellipse"}, {Key: "label", Value: "input: " + in}})
	}

	outputs := make(map[string]bool)
	for _, out := range g.OutputNames() {
		outputs[out] = true
	}
	for _, l := range g.Layers() {
		a := attrs{{Key: "label", Value: l.Name + "\n" + l.OpType}}
		if l.Name == opts.Highlight {
			a = append(a, encoding.Attribute{Key: "style", Value: "filled"},
				encoding.Attribute{Key: "fillcolor", Value: highlightColor})
		}
		n := add(l.Name, a)
		if outputs[l.Output] {
			out := add("output:"+l.Output, attrs{{Key: "shape", Value: "ellipse"}, {Key: "label", Value: "output: " + l.Output}})
			connect(n, out, l.Output)
		}
	}

	for _, e := range g.Edges() {
		from, ok1 := byName[e.From]
		to, ok2 := byName[e.To]
		if ok1 && ok2 {
			connect(from, to, e.Tensor)
		}
	}
	return d
}

// Write emits g as a DOT digraph.
func Write(w io.Writer, g Graph, opts Options) error {
	name := g.Name()
	if name == "" {
		name = "model"
	}
	b, err := dot.Marshal(Build(g, opts), name, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diagram: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// WriteFile writes the diagram to path, creating parent directories.
func WriteFile(path string, g Graph, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create diagram dir: %w", err)
	}
	f, err := os.Create(path) //nolint:gosec // G304: output path from config
	if err != nil {
		return fmt.Errorf("create diagram: %w", err)
	}
	if err := Write(f, g, opts); err != nil {
		_ = f.Close()
		return fmt.Errorf("write diagram: %w", err)
	}
	return f.Close()
}
