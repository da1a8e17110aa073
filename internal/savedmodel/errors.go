package savedmodel

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrExists              = errors.New("export path already exists")
	ErrNoDescriptor        = errors.New("export has no model descriptor")
	ErrMalformedDescriptor = errors.New("model descriptor is not parseable")
	ErrUnknownFormat       = errors.New("unknown export format")
	ErrUnsupportedVersion  = errors.New("unsupported format version")
	ErrNoGraph             = errors.New("descriptor declares no graph")
	ErrMultipleGraphs      = errors.New("descriptor declares more than one graph")
	ErrNoSignature         = errors.New("descriptor declares no signature")
	ErrMultipleSignatures  = errors.New("descriptor declares more than one signature")
	ErrMissingVariables    = errors.New("export has no variables file")
	ErrChecksumMismatch    = errors.New("checksum mismatch: variables may be corrupted")
	ErrHeaderTooLarge      = errors.New("variables header exceeds maximum size")
	ErrUnsupportedDType    = errors.New("unsupported variable dtype")
)

// ValidationError describes a malformed variables file.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "out_of_bounds"
	Tensor  string
	Tensor2 string // second tensor of an overlap
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
