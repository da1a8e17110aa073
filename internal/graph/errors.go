package graph

import "errors"

// Common errors.
var (
	ErrInvalidName    = errors.New("invalid layer name")
	ErrDuplicateLayer = errors.New("duplicate layer name")
	ErrForeignTensor  = errors.New("tensor belongs to another graph")
	ErrUnknownKind    = errors.New("unknown layer kind")
	ErrInputReused    = errors.New("input layer already has a node")
	ErrSessionClosed  = errors.New("session is closed")
	ErrUnfedInput     = errors.New("fetch depends on an input that is not fed")
	ErrMissingFeed    = errors.New("missing feed value")
	ErrFeedMismatch   = errors.New("feed does not match placeholder")
	ErrShape          = errors.New("incompatible shape")
	ErrDType          = errors.New("unsupported dtype")
	ErrRuntime        = errors.New("runtime failure")
)
