// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package buffer provides the typed host buffers a network consumes and
// produces: a flat slice of one element type plus the shape of one row.
package buffer

import (
	"github.com/pdevine/tensor"

	"github.com/born-ml/dlnet/internal/buffer"
)

// Buffer is a batch of rows of one element type.
type Buffer = buffer.Buffer

// Element is the set of Go types a buffer can hold.
type Element = buffer.Element

// Typed is the buffer kind for element type T.
type Typed[T Element] = buffer.Typed[T]

// Wire is the JSON form of a buffer.
type Wire = buffer.Wire

var (
	ErrUnsupportedType = buffer.ErrUnsupportedType
	ErrShape           = buffer.ErrShape
)

// New creates a buffer from flat data and a row shape.
func New[T Element](data []T, shape ...int) (*Typed[T], error) {
	return buffer.New(data, shape...)
}

// FromArray converts a runtime array; its leading axis becomes the rows.
func FromArray(a *tensor.Dense) (Buffer, error) { return buffer.FromArray(a) }

// ToArray reshapes b into a runtime array of the given shape.
func ToArray(b Buffer, shape ...int) (*tensor.Dense, error) { return buffer.ToArray(b, shape...) }

// Decode parses the JSON form of a buffer.
func Decode(data []byte) (Buffer, error) { return buffer.Decode(data) }
