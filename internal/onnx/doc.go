// Package onnx loads pretrained ONNX classifiers and executes them on a
// tensor.Backend.
//
// Models are decoded straight from the protobuf wire format with
// google.golang.org/protobuf/encoding/protowire; no generated code is
// involved. Execution walks the topologically sorted graph and dispatches
// every node to the operators registry, so running on an autodiff backend
// records the whole network on its tape.
//
// Key components:
//   - ModelProto, GraphProto, NodeProto, TensorProto: decoded model structure
//   - Model: a compiled graph with named, addressable layers
//   - Run / RunOptions / Trace: forward pass with captured layer outputs
//
// Example usage:
//
//	model, err := onnx.Load("vgg19.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trace, err := model.Run(backend, map[string]*tensor.RawTensor{
//	    model.InputName(): image,
//	}, onnx.RunOptions{Capture: []string{"block5_conv4"}})
package onnx
