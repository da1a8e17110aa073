package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/dlnet/internal/buffer"
)

// parseInputs reads ID=FILE pairs, each file holding one JSON buffer.
func parseInputs(specs []string) (map[string]buffer.Buffer, error) {
	inputs := make(map[string]buffer.Buffer, len(specs))
	for _, s := range specs {
		id, file, ok := strings.Cut(s, "=")
		if !ok || id == "" || file == "" {
			return nil, fmt.Errorf("input %q: want ID=FILE", s)
		}
		if _, dup := inputs[id]; dup {
			return nil, fmt.Errorf("input %s given twice", id)
		}
		//nolint:gosec // G304: reading user named input files is the purpose here
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		b, err := buffer.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", id, err)
		}
		inputs[id] = b
	}
	return inputs, nil
}

func RunHandler(cmd *cobra.Command, args []string) error {
	specs, _ := cmd.Flags().GetStringArray("input")
	outputs, _ := cmd.Flags().GetStringArray("output")
	batch, _ := cmd.Flags().GetInt("batch")

	inputs, err := parseInputs(specs)
	if err != nil {
		return err
	}

	f, err := openNetwork(cmd, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	results, err := f.Execute(inputs, batch, outputs)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
