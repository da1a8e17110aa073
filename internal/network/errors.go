package network

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors wrapped by the typed errors below.
var (
	ErrEmptyTensors       = errors.New("no tensors bound")
	ErrMissingContext     = errors.New("no runtime context")
	ErrConflictingContext = errors.New("conflicting runtime contexts")
	ErrUnknownTensor      = errors.New("unknown tensor identifier")
	ErrShapeMismatch      = errors.New("buffer does not match tensor shape")
	ErrElementType        = errors.New("buffer element type does not match tensor")
	ErrBatchSize          = errors.New("invalid batch size")
	ErrMixedLayout        = errors.New("layers declare conflicting data layouts")
	ErrReleased           = errors.New("network has been released")
	ErrUnknownGeneration  = errors.New("unknown runtime generation")
)

// ValidationError reports malformed arguments to a constructor or call.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(op string, err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
	}
	return &ValidationError{Op: op, Err: err}
}

// FormatError reports an export that cannot be read. Path is the export
// directory or file.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ConsistencyError reports layers that disagree on a graph-wide attribute.
type ConsistencyError struct {
	Layers []string
	Err    error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Layers, ", "))
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// UnsupportedTypeError reports a tensor whose element type has no host
// buffer kind.
type UnsupportedTypeError struct {
	Tensor string
	DType  string
	Err    error
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("tensor %s: unsupported element type %s", e.Tensor, e.DType)
}

func (e *UnsupportedTypeError) Unwrap() error { return e.Err }

// InvocationError wraps a failure of the runtime during execution.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
