// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides the public API of the layered graph runtime that
// networks execute on.
//
// Example:
//
//	g := graph.New("mlp")
//	x, _ := g.Input("x", tensor.Float32, -1, 2)
//	dense, _ := g.AddLayer("dense", graph.NewDense(kernel, bias, "relu"))
//	y, _ := dense.Apply(x)
package graph

import (
	"github.com/born-ml/dlnet/internal/graph"
)

// Core types.
type (
	Graph      = graph.Graph
	Layer      = graph.Layer
	Node       = graph.Node
	Tensor     = graph.Tensor
	TensorType = graph.TensorType
	Op         = graph.Op
	Attrs      = graph.Attrs
	Weight     = graph.Weight
	Builder    = graph.Builder
	Registry   = graph.Registry
	Function   = graph.Function
	Session    = graph.Session
)

// Builtin layer kinds.
const (
	KindInput                = graph.KindInput
	KindDense                = graph.KindDense
	KindBiasAdd              = graph.KindBiasAdd
	KindActivation           = graph.KindActivation
	KindAdd                  = graph.KindAdd
	KindConcatenate          = graph.KindConcatenate
	KindFlatten              = graph.KindFlatten
	KindReshape              = graph.KindReshape
	KindGlobalAveragePooling = graph.KindGlobalAveragePooling
	KindCast                 = graph.KindCast
	KindIdentity             = graph.KindIdentity
	KindSplit                = graph.KindSplit
)

// Data formats.
const (
	ChannelsLast  = graph.ChannelsLast
	ChannelsFirst = graph.ChannelsFirst
)

var (
	ErrInvalidName    = graph.ErrInvalidName
	ErrDuplicateLayer = graph.ErrDuplicateLayer
	ErrForeignTensor  = graph.ErrForeignTensor
	ErrUnknownKind    = graph.ErrUnknownKind
	ErrSessionClosed  = graph.ErrSessionClosed
	ErrRuntime        = graph.ErrRuntime
)

var (
	New         = graph.New
	NewRegistry = graph.NewRegistry
	ParseDType  = graph.ParseDType
	DTypeName   = graph.DTypeName

	NewInputLayer           = graph.NewInputLayer
	NewDense                = graph.NewDense
	NewBiasAdd              = graph.NewBiasAdd
	NewActivation           = graph.NewActivation
	NewAdd                  = graph.NewAdd
	NewConcatenate          = graph.NewConcatenate
	NewFlatten              = graph.NewFlatten
	NewReshape              = graph.NewReshape
	NewGlobalAveragePooling = graph.NewGlobalAveragePooling
	NewCast                 = graph.NewCast
	NewIdentity             = graph.NewIdentity
	NewSplit                = graph.NewSplit
)
