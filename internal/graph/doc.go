// Package graph is the layered computation graph that dlnet models run on.
//
// A Graph holds named layers. Calling a layer on tensors creates a node
// instance; a layer called twice owns two nodes, each with its own output
// tensors. Values are github.com/pdevine/tensor dense arrays.
//
//	g := graph.New("mlp")
//	x, _ := g.Input("x", tensor.Float32, -1, 4)
//	dense, _ := g.AddLayer("dense", graph.NewDense(kernel, bias, "relu"))
//	y, _ := dense.Apply(x)
//
// Execution goes through a Function, which fixes the fed and fetched
// tensors, and a Session, which owns the execution context:
//
//	fn, _ := g.Function([]*graph.Tensor{x}, []*graph.Tensor{y})
//	sess := g.NewSession()
//	defer sess.Close()
//	out, _ := sess.Run(fn, map[*graph.Tensor]*tensor.Dense{x: batch})
//
// Layer kinds are resolved through an explicit Registry so exports can be
// rebuilt from their descriptors.
package graph
