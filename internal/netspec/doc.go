// Package netspec describes the tensors of a network as the host sees them.
//
// A NetworkSpec lists input, hidden and output TensorSpecs. Each TensorSpec
// carries a stable identifier, a display name, the batch size, the
// non-batch shape, the element type and the dimension order:
//
//	input_0            declared input, zero-based declaration order
//	output_1           declared output
//	hidden/dense_0:0   output 0 of node instance 0 of layer "dense"
//
// Specs are immutable. Accessors hand out copies of slices.
package netspec
