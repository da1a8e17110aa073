package savedmodel

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pdevine/tensor"
)

// Export is a parsed export directory.
type Export struct {
	Path         string
	Descriptor   *Descriptor
	SignatureKey string
	Signature    SignatureDef
	Variables    map[string]*tensor.Dense
}

// MetaGraph returns the export's single meta graph.
func (e *Export) MetaGraph() *MetaGraph { return &e.Descriptor.MetaGraphs[0] }

// Write creates the export directory at path. The export is staged in a
// sibling directory and renamed into place; on any failure the staging
// directory is removed and path is left untouched. An existing path is
// never overwritten.
func Write(path string, d *Descriptor, vars map[string]*tensor.Dense) (err error) {
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := d.Validate(); err != nil {
		return err
	}

	parent, base := filepath.Split(filepath.Clean(path))
	if parent == "" {
		parent = "."
	}
	staging := filepath.Join(parent, "."+base+".tmp-"+uuid.NewString())
	if err := os.MkdirAll(filepath.Join(staging, VariablesDir), 0o755); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(staging); rmErr != nil {
				slog.Warn("failed to remove staging directory", "path", staging, "error", rmErr)
			}
		}
	}()

	varsPath := filepath.Join(staging, VariablesDir, VariablesFile)
	if err := writeFile(varsPath, func(w *bufio.Writer) error {
		return WriteVariables(w, vars, map[string]string{"format": Format})
	}); err != nil {
		return err
	}

	sum, err := ChecksumFile(varsPath)
	if err != nil {
		return err
	}
	desc := *d
	desc.VariablesSHA256 = sum

	if err := writeFile(filepath.Join(staging, DescriptorFile), func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(&desc)
	}); err != nil {
		return err
	}

	if err := os.Rename(staging, path); err != nil {
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	d.VariablesSHA256 = sum
	slog.Debug("wrote export", "path", path, "variables", len(vars))
	return nil
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	//nolint:gosec // G304: path is inside the staging directory
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := fill(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadDescriptor parses and validates the descriptor of the export at path.
func ReadDescriptor(path string) (*Descriptor, error) {
	//nolint:gosec // G304: reading a user supplied export is the purpose here
	data, err := os.ReadFile(filepath.Join(path, DescriptorFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoDescriptor
	} else if err != nil {
		return nil, err
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDescriptor, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ReadFormat returns the format tag an export declares without validating
// the rest of the descriptor.
func ReadFormat(path string) (string, error) {
	//nolint:gosec // G304: reading a user supplied export is the purpose here
	data, err := os.ReadFile(filepath.Join(path, DescriptorFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoDescriptor
	} else if err != nil {
		return "", err
	}
	var head struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedDescriptor, err)
	}
	return head.Format, nil
}

// Read parses the export at path, verifying the variables checksum.
func Read(path string) (*Export, error) {
	d, err := ReadDescriptor(path)
	if err != nil {
		return nil, err
	}

	varsPath := filepath.Join(path, VariablesDir, VariablesFile)
	if _, err := os.Stat(varsPath); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMissingVariables
	}
	if err := ValidateChecksum(varsPath, d.VariablesSHA256); err != nil {
		return nil, err
	}
	vars, err := ReadVariables(varsPath)
	if err != nil {
		return nil, err
	}

	key, sig := d.Signature()
	return &Export{
		Path:         path,
		Descriptor:   d,
		SignatureKey: key,
		Signature:    sig,
		Variables:    vars,
	}, nil
}
