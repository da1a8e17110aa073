// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package network provides the public API for loading, inspecting,
// executing and saving neural networks.
//
// A Reader turns a path into a Handle, picking the runtime generation that
// recognizes it (native exports or ONNX files). A Facade wraps the handle
// for the host:
//
//	f, err := network.Open("models/mlp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	spec, _ := f.Spec()
//	x, _ := buffer.New([]float32{1, 2}, 2)
//	out, err := f.Execute(map[string]buffer.Buffer{"input_0": x}, 1, nil)
//
// Tensors are addressed by stable identifiers: input_<n>, output_<n> and
// hidden/<layer>_<node>:<tensor>.
package network

import (
	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/network"
	"github.com/born-ml/dlnet/internal/netspec"
	"github.com/born-ml/dlnet/internal/orderedmap"
)

// Core types.
type (
	Handle       = network.Handle
	Option       = network.Option
	Facade       = network.Facade
	FacadeOption = network.FacadeOption
	State        = network.State
	Network      = network.Network
	Reader       = network.Reader
	Registry     = network.Registry
	Generation   = network.Generation
)

// Spec types.
type (
	NetworkSpec    = netspec.NetworkSpec
	TensorSpec     = netspec.TensorSpec
	ElementType    = netspec.ElementType
	DimensionOrder = netspec.DimensionOrder
	TrainingConfig = netspec.TrainingConfig
)

// Error types.
type (
	ValidationError      = network.ValidationError
	FormatError          = network.FormatError
	ConsistencyError     = network.ConsistencyError
	UnsupportedTypeError = network.UnsupportedTypeError
	InvocationError      = network.InvocationError
)

// Facade states.
const (
	StateLoaded       = network.StateLoaded
	StateSpecComputed = network.StateSpecComputed
	StateExecuted     = network.StateExecuted
	StateSaved        = network.StateSaved
	StateDiscarded    = network.StateDiscarded
)

// Dimension orders.
const (
	ChannelsFirst = netspec.ChannelsFirst
	ChannelsLast  = netspec.ChannelsLast
)

// Unknown marks a size fixed only at execution time.
const Unknown = netspec.Unknown

// Generation names.
const (
	GenerationLayers = network.GenerationLayers
	GenerationONNX   = network.GenerationONNX
)

// Sentinel errors.
var (
	ErrEmptyTensors       = network.ErrEmptyTensors
	ErrMissingContext     = network.ErrMissingContext
	ErrConflictingContext = network.ErrConflictingContext
	ErrUnknownTensor      = network.ErrUnknownTensor
	ErrShapeMismatch      = network.ErrShapeMismatch
	ErrElementType        = network.ErrElementType
	ErrBatchSize          = network.ErrBatchSize
	ErrMixedLayout        = network.ErrMixedLayout
	ErrReleased           = network.ErrReleased
	ErrUnknownGeneration  = network.ErrUnknownGeneration
)

// Constructors and options.
var (
	NewHandle       = network.NewHandle
	NewFacade       = network.NewFacade
	NewReader       = network.NewReader
	NewRegistry     = network.NewRegistry
	DefaultRegistry = network.DefaultRegistry
	Extract         = network.Extract

	LayersGeneration = network.LayersGeneration
	ONNXGeneration   = network.ONNXGeneration

	WithTags           = network.WithTags
	WithMethodName     = network.WithMethodName
	WithSignatureKey   = network.WithSignatureKey
	WithTrainingConfig = network.WithTrainingConfig
	WithSession        = network.WithSession
	WithMaxBatchSize   = network.WithMaxBatchSize
)

// Bindings maps signature names to graph tensors in declaration order.
type Bindings = orderedmap.Map[string, *graph.Tensor]

// NewBindings returns an empty Bindings for NewHandle.
func NewBindings() *Bindings { return orderedmap.New[string, *graph.Tensor]() }

// Open reads path with the default generations and wraps it in a Facade.
func Open(path string, opts ...FacadeOption) (*Facade, error) {
	return network.NewReader(nil).Open(path, opts...)
}
