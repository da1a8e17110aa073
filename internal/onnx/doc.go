// Package onnx imports ONNX models as a runtime generation.
//
// Models are decoded directly from the protobuf wire format with
// google.golang.org/protobuf/encoding/protowire; no generated code is
// needed because only a handful of messages are read.
//
// Import lowers each supported operator onto a layer of an
// internal/graph Graph:
//
//	Gemm, MatMul          -> Dense (kernel and bias from initializers)
//	Add                   -> BiasAdd with an initializer, Add otherwise
//	Relu, Sigmoid, Tanh   -> Activation
//	Softmax               -> Activation over the last axis
//	Concat, Flatten, Reshape, Identity, Cast, Split
//	GlobalAveragePool     -> GlobalAveragePooling, channels first
//
// Graph inputs and outputs keep their declaration order and become the
// signature of the imported model. Initializers may be FLOAT, DOUBLE,
// INT64, INT32, INT8, UINT8, BOOL, FLOAT16 or BFLOAT16; the half
// precision types are widened to float32.
//
// Example:
//
//	m, err := onnx.Load("classifier.onnx")
//	if err != nil {
//	    return err
//	}
//	for name, t := range m.Inputs.All() {
//	    fmt.Println(name, t.Type())
//	}
package onnx
