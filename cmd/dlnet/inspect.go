package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/pdevine/tensor"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/dlnet/internal/graph"
	"github.com/born-ml/dlnet/internal/netspec"
)

func InspectHandler(cmd *cobra.Command, args []string) error {
	f, err := openNetwork(cmd, args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	spec, err := f.Spec()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(spec)
	}

	h := f.Handle()
	fmt.Fprintf(w, "  graph         %s\n", h.Graph().Name())
	fmt.Fprintf(w, "  generation    %s\n", h.Generation())
	fmt.Fprintf(w, "  signature     %s (%s)\n", h.SignatureKey(), h.MethodName())
	fmt.Fprintf(w, "  tags          %s\n", strings.Join(h.Tags(), ", "))
	if tc := spec.TrainingConfig(); tc != nil {
		fmt.Fprintf(w, "  optimizer     %s\n", tc.Optimizer)
		fmt.Fprintf(w, "  loss          %s\n", tc.Loss)
	}
	fmt.Fprintln(w)

	tensors := append(spec.Inputs(), spec.Outputs()...)
	if hidden, _ := cmd.Flags().GetBool("hidden"); hidden {
		tensors = spec.Tensors()
	}
	var data [][]string
	for _, s := range tensors {
		data = append(data, []string{s.ID(), s.Name(), dim(s.BatchSize()), dims(s.Shape()), string(s.ElementType()), s.DimensionOrder().String()})
	}
	renderTable(w, []string{"ID", "NAME", "BATCH", "SHAPE", "TYPE", "ORDER"}, data)

	if weights, _ := cmd.Flags().GetBool("weights"); weights {
		sess, err := h.Session()
		if err != nil {
			return err
		}
		vars, err := sess.Variables()
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		return weightTable(w, vars)
	}
	return nil
}

func dim(d int) string {
	if d == netspec.Unknown {
		return "?"
	}
	return strconv.Itoa(d)
}

func dims(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = dim(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// weightTable prints summary statistics of every numeric weight.
func weightTable(w io.Writer, vars map[string]*tensor.Dense) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	var data [][]string
	for _, name := range names {
		v := vars[name]
		row := []string{name, graph.DTypeName(v.Dtype()), fmt.Sprint([]int(v.Shape()))}
		xs, ok := float64s(v)
		if !ok || len(xs) == 0 {
			data = append(data, append(row, "", "", "", ""))
			continue
		}
		mean, std := stat.MeanStdDev(xs, nil)
		data = append(data, append(row,
			strconv.FormatFloat(mean, 'g', 4, 64),
			strconv.FormatFloat(std, 'g', 4, 64),
			strconv.FormatFloat(floats.Min(xs), 'g', 4, 64),
			strconv.FormatFloat(floats.Max(xs), 'g', 4, 64),
		))
	}
	renderTable(w, []string{"WEIGHT", "TYPE", "SHAPE", "MEAN", "STD", "MIN", "MAX"}, data)
	return nil
}

func float64s(d *tensor.Dense) ([]float64, bool) {
	switch data := d.Data().(type) {
	case []float64:
		return data, true
	case []float32:
		return widen(data), true
	case []int64:
		return widen(data), true
	case []int32:
		return widen(data), true
	case []int8:
		return widen(data), true
	case []uint8:
		return widen(data), true
	}
	return nil, false
}

func widen[T float32 | int64 | int32 | int8 | uint8](xs []T) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}
