package graph

import (
	"fmt"
	"math"
	"slices"

	"github.com/pdevine/tensor"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/dlnet/internal/parallel"
)

// Builtin layer kinds.
const (
	KindInput                = "InputLayer"
	KindDense                = "Dense"
	KindBiasAdd              = "BiasAdd"
	KindActivation           = "Activation"
	KindAdd                  = "Add"
	KindConcatenate          = "Concatenate"
	KindFlatten              = "Flatten"
	KindReshape              = "Reshape"
	KindGlobalAveragePooling = "GlobalAveragePooling"
	KindCast                 = "Cast"
	KindIdentity             = "Identity"
	KindSplit                = "Split"
)

// Data formats understood by layout-aware layers.
const (
	ChannelsLast  = "channels_last"
	ChannelsFirst = "channels_first"
)

var activations = []string{"linear", "relu", "sigmoid", "tanh", "softmax"}

func checkActivation(fn string) error {
	if fn == "" || slices.Contains(activations, fn) {
		return nil
	}
	return fmt.Errorf("unknown activation %q", fn)
}

func normAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 1 || axis >= rank {
		return 0, fmt.Errorf("%w: axis %d out of range for rank %d (batch axis excluded)", ErrShape, axis, rank)
	}
	return axis, nil
}

func mergeDim(a, b int) (int, bool) {
	switch {
	case a < 0:
		return b, true
	case b < 0:
		return a, true
	}
	return a, a == b
}

func expectInputs(in []TensorType, n int) error {
	if len(in) != n {
		return fmt.Errorf("expected %d inputs, got %d", n, len(in))
	}
	return nil
}

func expectFloat(t TensorType) error {
	if !isFloat(t.DType) {
		return fmt.Errorf("%w: %s needs a float input", ErrDType, DTypeName(t.DType))
	}
	return nil
}

// InputLayer

type inputLayer struct {
	dtype tensor.Dtype
	shape []int
}

// NewInputLayer declares a placeholder of the given dtype and shape
// (batch first).
func NewInputLayer(dtype tensor.Dtype, shape ...int) Op {
	return &inputLayer{dtype: dtype, shape: slices.Clone(shape)}
}

func buildInputLayer(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	dt, err := ParseDType(attrs.String("dtype", ""))
	if err != nil {
		return nil, err
	}
	shape, ok := attrs.Ints("shape")
	if !ok {
		return nil, fmt.Errorf("%s: missing shape", KindInput)
	}
	return NewInputLayer(dt, shape...), nil
}

func (l *inputLayer) Kind() string      { return KindInput }
func (l *inputLayer) Weights() []Weight { return nil }

func (l *inputLayer) Attrs() Attrs {
	return Attrs{"dtype": DTypeName(l.dtype), "shape": slices.Clone(l.shape)}
}

func (l *inputLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 0); err != nil {
		return nil, err
	}
	return []TensorType{{DType: l.dtype, Shape: slices.Clone(l.shape)}}, nil
}

func (l *inputLayer) Forward([]*tensor.Dense) ([]*tensor.Dense, error) {
	return nil, fmt.Errorf("%s is fed, not computed", KindInput)
}

// Dense

type denseLayer struct {
	kernel     *tensor.Dense
	bias       *tensor.Dense
	activation string
}

// NewDense creates a fully connected layer. kernel is [in, units]; bias is
// [units] or nil.
func NewDense(kernel, bias *tensor.Dense, activation string) Op {
	return &denseLayer{kernel: kernel, bias: bias, activation: activation}
}

func buildDense(attrs Attrs, weights map[string]*tensor.Dense) (Op, error) {
	kernel, ok := weights["kernel"]
	if !ok {
		return nil, fmt.Errorf("%s: missing kernel", KindDense)
	}
	var bias *tensor.Dense
	if attrs.Bool("use_bias", true) {
		if bias, ok = weights["bias"]; !ok {
			return nil, fmt.Errorf("%s: missing bias", KindDense)
		}
	}
	fn := attrs.String("activation", "linear")
	if err := checkActivation(fn); err != nil {
		return nil, err
	}
	return NewDense(kernel, bias, fn), nil
}

func (l *denseLayer) Kind() string { return KindDense }

func (l *denseLayer) units() int { return l.kernel.Shape()[1] }

func (l *denseLayer) Attrs() Attrs {
	fn := l.activation
	if fn == "" {
		fn = "linear"
	}
	return Attrs{"units": l.units(), "use_bias": l.bias != nil, "activation": fn}
}

func (l *denseLayer) Weights() []Weight {
	w := []Weight{{Name: "kernel", Value: l.kernel}}
	if l.bias != nil {
		w = append(w, Weight{Name: "bias", Value: l.bias})
	}
	return w
}

func (l *denseLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	if err := checkActivation(l.activation); err != nil {
		return nil, err
	}
	x := in[0]
	if err := expectFloat(x); err != nil {
		return nil, err
	}
	if l.kernel.Dims() != 2 || l.kernel.Dtype() != x.DType {
		return nil, fmt.Errorf("%w: kernel %s%v for input %s", ErrShape, DTypeName(l.kernel.Dtype()), l.kernel.Shape(), x)
	}
	if l.bias != nil && (l.bias.Dims() != 1 || l.bias.Shape()[0] != l.units() || l.bias.Dtype() != x.DType) {
		return nil, fmt.Errorf("%w: bias %v for %d units", ErrShape, l.bias.Shape(), l.units())
	}
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("%w: input rank %d, need at least 2", ErrShape, len(x.Shape))
	}
	last := x.Shape[len(x.Shape)-1]
	if _, ok := mergeDim(last, l.kernel.Shape()[0]); !ok {
		return nil, fmt.Errorf("%w: input features %d, kernel expects %d", ErrShape, last, l.kernel.Shape()[0])
	}
	out := slices.Clone(x.Shape)
	out[len(out)-1] = l.units()
	return []TensorType{{DType: x.DType, Shape: out}}, nil
}

func (l *denseLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	x := in[0]
	shape := shapeOf(x)
	features := l.kernel.Shape()[0]
	x2, err := reshaped(x, x.Shape().TotalSize()/features, features)
	if err != nil {
		return nil, err
	}
	y, err := x2.MatMul(l.kernel)
	if err != nil {
		return nil, err
	}
	if l.bias != nil {
		if err := addRows(y, l.bias); err != nil {
			return nil, err
		}
	}
	if err := activate(l.activation, y, l.units()); err != nil {
		return nil, err
	}
	shape[len(shape)-1] = l.units()
	if err := y.Reshape(shape...); err != nil {
		return nil, err
	}
	return []*tensor.Dense{y}, nil
}

// BiasAdd

type biasAddLayer struct {
	bias *tensor.Dense
}

// NewBiasAdd adds bias along the last axis.
func NewBiasAdd(bias *tensor.Dense) Op {
	return &biasAddLayer{bias: bias}
}

func buildBiasAdd(_ Attrs, weights map[string]*tensor.Dense) (Op, error) {
	bias, ok := weights["bias"]
	if !ok {
		return nil, fmt.Errorf("%s: missing bias", KindBiasAdd)
	}
	return NewBiasAdd(bias), nil
}

func (l *biasAddLayer) Kind() string      { return KindBiasAdd }
func (l *biasAddLayer) Attrs() Attrs      { return Attrs{} }
func (l *biasAddLayer) Weights() []Weight { return []Weight{{Name: "bias", Value: l.bias}} }

func (l *biasAddLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if err := expectFloat(x); err != nil {
		return nil, err
	}
	if len(x.Shape) < 2 || l.bias.Dims() != 1 || l.bias.Dtype() != x.DType {
		return nil, fmt.Errorf("%w: bias %v for input %s", ErrShape, l.bias.Shape(), x)
	}
	if _, ok := mergeDim(x.Shape[len(x.Shape)-1], l.bias.Shape()[0]); !ok {
		return nil, fmt.Errorf("%w: bias %v for input %s", ErrShape, l.bias.Shape(), x)
	}
	return []TensorType{x}, nil
}

func (l *biasAddLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	y := cloneDense(in[0])
	if err := addRows(y, l.bias); err != nil {
		return nil, err
	}
	return []*tensor.Dense{y}, nil
}

// Activation

type activationLayer struct {
	fn string
}

// NewActivation applies fn elementwise (softmax over the last axis).
func NewActivation(fn string) Op {
	return &activationLayer{fn: fn}
}

func buildActivation(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	fn := attrs.String("activation", "linear")
	if err := checkActivation(fn); err != nil {
		return nil, err
	}
	return NewActivation(fn), nil
}

func (l *activationLayer) Kind() string      { return KindActivation }
func (l *activationLayer) Attrs() Attrs      { return Attrs{"activation": l.fn} }
func (l *activationLayer) Weights() []Weight { return nil }

func (l *activationLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	if err := checkActivation(l.fn); err != nil {
		return nil, err
	}
	if err := expectFloat(in[0]); err != nil {
		return nil, err
	}
	return []TensorType{in[0]}, nil
}

func (l *activationLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	y := cloneDense(in[0])
	shape := y.Shape()
	width := 1
	if len(shape) > 0 {
		width = shape[len(shape)-1]
	}
	if err := activate(l.fn, y, width); err != nil {
		return nil, err
	}
	return []*tensor.Dense{y}, nil
}

// Add

type addLayer struct{}

// NewAdd sums two or more inputs of identical shape.
func NewAdd() Op { return addLayer{} }

func buildAdd(Attrs, map[string]*tensor.Dense) (Op, error) { return NewAdd(), nil }

func (addLayer) Kind() string      { return KindAdd }
func (addLayer) Attrs() Attrs      { return Attrs{} }
func (addLayer) Weights() []Weight { return nil }

func (addLayer) Infer(in []TensorType) ([]TensorType, error) {
	if len(in) < 2 {
		return nil, fmt.Errorf("%s needs at least 2 inputs, got %d", KindAdd, len(in))
	}
	out := TensorType{DType: in[0].DType, Shape: slices.Clone(in[0].Shape)}
	if !isNumeric(out.DType) {
		return nil, fmt.Errorf("%w: %s", ErrDType, DTypeName(out.DType))
	}
	for _, t := range in[1:] {
		if t.DType != out.DType || len(t.Shape) != len(out.Shape) {
			return nil, fmt.Errorf("%w: cannot add %s and %s", ErrShape, out, t)
		}
		for i := range out.Shape {
			d, ok := mergeDim(out.Shape[i], t.Shape[i])
			if !ok {
				return nil, fmt.Errorf("%w: cannot add %s and %s", ErrShape, out, t)
			}
			out.Shape[i] = d
		}
	}
	return []TensorType{out}, nil
}

func (addLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	acc := in[0]
	for _, x := range in[1:] {
		sum, err := acc.Add(x)
		if err != nil {
			return nil, err
		}
		acc = sum
	}
	return []*tensor.Dense{acc}, nil
}

// Concatenate

type concatLayer struct {
	axis int
}

// NewConcatenate joins inputs along axis. Negative axes count from the end.
func NewConcatenate(axis int) Op {
	return &concatLayer{axis: axis}
}

func buildConcatenate(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	return NewConcatenate(attrs.Int("axis", -1)), nil
}

func (l *concatLayer) Kind() string      { return KindConcatenate }
func (l *concatLayer) Attrs() Attrs      { return Attrs{"axis": l.axis} }
func (l *concatLayer) Weights() []Weight { return nil }

func (l *concatLayer) Infer(in []TensorType) ([]TensorType, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%s needs inputs", KindConcatenate)
	}
	rank := len(in[0].Shape)
	axis, err := normAxis(l.axis, rank)
	if err != nil {
		return nil, err
	}
	out := TensorType{DType: in[0].DType, Shape: slices.Clone(in[0].Shape)}
	for _, t := range in[1:] {
		if t.DType != out.DType || len(t.Shape) != rank {
			return nil, fmt.Errorf("%w: cannot concatenate %s and %s", ErrShape, out, t)
		}
		for i := range out.Shape {
			if i == axis {
				if out.Shape[i] < 0 || t.Shape[i] < 0 {
					out.Shape[i] = -1
				} else {
					out.Shape[i] += t.Shape[i]
				}
				continue
			}
			d, ok := mergeDim(out.Shape[i], t.Shape[i])
			if !ok {
				return nil, fmt.Errorf("%w: cannot concatenate %s and %s on axis %d", ErrShape, out, t, axis)
			}
			out.Shape[i] = d
		}
	}
	return []TensorType{out}, nil
}

func (l *concatLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	if len(in) == 1 {
		return []*tensor.Dense{cloneDense(in[0])}, nil
	}
	axis, err := normAxis(l.axis, in[0].Dims())
	if err != nil {
		return nil, err
	}
	rest := make([]tensor.Tensor, len(in)-1)
	for i, x := range in[1:] {
		rest[i] = x
	}
	out, err := tensor.Concat(axis, in[0], rest...)
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{tensor.Materialize(out).(*tensor.Dense)}, nil
}

// Flatten

type flattenLayer struct{}

// NewFlatten collapses all non-batch axes into one.
func NewFlatten() Op { return flattenLayer{} }

func buildFlatten(Attrs, map[string]*tensor.Dense) (Op, error) { return NewFlatten(), nil }

func (flattenLayer) Kind() string      { return KindFlatten }
func (flattenLayer) Attrs() Attrs      { return Attrs{} }
func (flattenLayer) Weights() []Weight { return nil }

func (flattenLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("%w: cannot flatten a scalar", ErrShape)
	}
	features := 1
	for _, d := range x.Shape[1:] {
		if d < 0 {
			features = -1
			break
		}
		features *= d
	}
	return []TensorType{{DType: x.DType, Shape: []int{x.Shape[0], features}}}, nil
}

func (flattenLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	y := cloneDense(in[0])
	batch := y.Shape()[0]
	features := 0
	if batch > 0 {
		features = y.Shape().TotalSize() / batch
	}
	if err := y.Reshape(batch, features); err != nil {
		return nil, err
	}
	return []*tensor.Dense{y}, nil
}

// Reshape

type reshapeLayer struct {
	target []int
}

// NewReshape reshapes the non-batch axes to target. One entry may be -1.
func NewReshape(target ...int) Op {
	return &reshapeLayer{target: slices.Clone(target)}
}

func buildReshape(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	target, ok := attrs.Ints("target_shape")
	if !ok {
		return nil, fmt.Errorf("%s: missing target_shape", KindReshape)
	}
	return NewReshape(target...), nil
}

func (l *reshapeLayer) Kind() string      { return KindReshape }
func (l *reshapeLayer) Attrs() Attrs      { return Attrs{"target_shape": slices.Clone(l.target)} }
func (l *reshapeLayer) Weights() []Weight { return nil }

// resolve fills the single -1 entry of target given the element count per row.
func (l *reshapeLayer) resolve(features int) ([]int, error) {
	out := slices.Clone(l.target)
	unknown, known := -1, 1
	for i, d := range out {
		switch {
		case d == -1 && unknown < 0:
			unknown = i
		case d < 1:
			return nil, fmt.Errorf("%w: bad target shape %v", ErrShape, l.target)
		default:
			known *= d
		}
	}
	if features < 0 {
		return out, nil
	}
	if unknown >= 0 {
		if features%known != 0 {
			return nil, fmt.Errorf("%w: cannot reshape %d elements to %v", ErrShape, features, l.target)
		}
		out[unknown] = features / known
		return out, nil
	}
	if known != features {
		return nil, fmt.Errorf("%w: cannot reshape %d elements to %v", ErrShape, features, l.target)
	}
	return out, nil
}

func (l *reshapeLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("%w: cannot reshape a scalar", ErrShape)
	}
	features := 1
	for _, d := range x.Shape[1:] {
		if d < 0 {
			features = -1
			break
		}
		features *= d
	}
	target, err := l.resolve(features)
	if err != nil {
		return nil, err
	}
	return []TensorType{{DType: x.DType, Shape: append([]int{x.Shape[0]}, target...)}}, nil
}

func (l *reshapeLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	y := cloneDense(in[0])
	batch := y.Shape()[0]
	features := 0
	if batch > 0 {
		features = y.Shape().TotalSize() / batch
	}
	target, err := l.resolve(features)
	if err != nil {
		return nil, err
	}
	if err := y.Reshape(append([]int{batch}, target...)...); err != nil {
		return nil, err
	}
	return []*tensor.Dense{y}, nil
}

// GlobalAveragePooling

type poolingLayer struct {
	dataFormat string
	keepDims   bool
}

// NewGlobalAveragePooling averages over all spatial axes. dataFormat is
// ChannelsLast or ChannelsFirst; keepDims leaves the pooled axes as size 1.
func NewGlobalAveragePooling(dataFormat string, keepDims bool) Op {
	return &poolingLayer{dataFormat: dataFormat, keepDims: keepDims}
}

func buildGlobalAveragePooling(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	df := attrs.String("data_format", ChannelsLast)
	if df != ChannelsLast && df != ChannelsFirst {
		return nil, fmt.Errorf("%s: unknown data_format %q", KindGlobalAveragePooling, df)
	}
	return NewGlobalAveragePooling(df, attrs.Bool("keepdims", false)), nil
}

func (l *poolingLayer) Kind() string      { return KindGlobalAveragePooling }
func (l *poolingLayer) Weights() []Weight { return nil }

func (l *poolingLayer) Attrs() Attrs {
	return Attrs{"data_format": l.dataFormat, "keepdims": l.keepDims}
}

func (l *poolingLayer) channelsFirst() bool { return l.dataFormat == ChannelsFirst }

func (l *poolingLayer) outShape(shape []int) []int {
	rank := len(shape)
	channels := shape[rank-1]
	if l.channelsFirst() {
		channels = shape[1]
	}
	if !l.keepDims {
		return []int{shape[0], channels}
	}
	out := make([]int, rank)
	for i := range out {
		out[i] = 1
	}
	out[0] = shape[0]
	if l.channelsFirst() {
		out[1] = channels
	} else {
		out[rank-1] = channels
	}
	return out
}

func (l *poolingLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	x := in[0]
	if err := expectFloat(x); err != nil {
		return nil, err
	}
	if len(x.Shape) < 3 {
		return nil, fmt.Errorf("%w: pooling needs rank >= 3, got %s", ErrShape, x)
	}
	return []TensorType{{DType: x.DType, Shape: l.outShape(x.Shape)}}, nil
}

func (l *poolingLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	x := in[0]
	shape := shapeOf(x)
	batch := shape[0]
	channels := shape[len(shape)-1]
	if l.channelsFirst() {
		channels = shape[1]
	}
	spatial := 0
	if batch*channels > 0 {
		spatial = x.Shape().TotalSize() / (batch * channels)
	}

	var backing any
	switch data := x.Data().(type) {
	case []float32:
		backing = poolSlice(data, batch, spatial, channels, l.channelsFirst())
	case []float64:
		backing = poolSlice(data, batch, spatial, channels, l.channelsFirst())
	default:
		return nil, fmt.Errorf("%w: pooling %s", ErrDType, x.Dtype())
	}
	return []*tensor.Dense{tensor.New(tensor.WithShape(l.outShape(shape)...), tensor.WithBacking(backing))}, nil
}

func poolSlice[T float](xs []T, batch, spatial, channels int, channelsFirst bool) []T {
	out := make([]T, batch*channels)
	if spatial == 0 {
		return out
	}
	parallel.Grid(batch, channels, parallel.DefaultConfig(), func(b, c int) {
		var sum float64
		for s := 0; s < spatial; s++ {
			idx := b*spatial*channels + s*channels + c
			if channelsFirst {
				idx = b*channels*spatial + c*spatial + s
			}
			sum += float64(xs[idx])
		}
		out[b*channels+c] = T(sum / float64(spatial))
	})
	return out
}

// Cast

type castLayer struct {
	to tensor.Dtype
}

// NewCast converts elements to dtype.
func NewCast(to tensor.Dtype) Op {
	return &castLayer{to: to}
}

func buildCast(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	dt, err := ParseDType(attrs.String("dtype", ""))
	if err != nil {
		return nil, err
	}
	return NewCast(dt), nil
}

func (l *castLayer) Kind() string      { return KindCast }
func (l *castLayer) Attrs() Attrs      { return Attrs{"dtype": DTypeName(l.to)} }
func (l *castLayer) Weights() []Weight { return nil }

func (l *castLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	if in[0].DType == tensor.String || l.to == tensor.String {
		return nil, fmt.Errorf("%w: cannot cast %s to %s", ErrDType, DTypeName(in[0].DType), DTypeName(l.to))
	}
	return []TensorType{{DType: l.to, Shape: slices.Clone(in[0].Shape)}}, nil
}

func (l *castLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	y, err := castDense(in[0], l.to)
	if err != nil {
		return nil, err
	}
	return []*tensor.Dense{y}, nil
}

// Identity

type identityLayer struct{}

// NewIdentity passes its input through as a copy.
func NewIdentity() Op { return identityLayer{} }

func buildIdentity(Attrs, map[string]*tensor.Dense) (Op, error) { return NewIdentity(), nil }

func (identityLayer) Kind() string      { return KindIdentity }
func (identityLayer) Attrs() Attrs      { return Attrs{} }
func (identityLayer) Weights() []Weight { return nil }

func (identityLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	return []TensorType{in[0]}, nil
}

func (identityLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	return []*tensor.Dense{cloneDense(in[0])}, nil
}

// Split

type splitLayer struct {
	axis int
	num  int
}

// NewSplit cuts its input into num equal parts along axis.
func NewSplit(axis, num int) Op {
	return &splitLayer{axis: axis, num: num}
}

func buildSplit(attrs Attrs, _ map[string]*tensor.Dense) (Op, error) {
	num := attrs.Int("num", 0)
	if num < 1 {
		return nil, fmt.Errorf("%s: num must be positive", KindSplit)
	}
	return NewSplit(attrs.Int("axis", -1), num), nil
}

func (l *splitLayer) Kind() string      { return KindSplit }
func (l *splitLayer) Attrs() Attrs      { return Attrs{"axis": l.axis, "num": l.num} }
func (l *splitLayer) Weights() []Weight { return nil }

func (l *splitLayer) Infer(in []TensorType) ([]TensorType, error) {
	if err := expectInputs(in, 1); err != nil {
		return nil, err
	}
	if l.num < 1 {
		return nil, fmt.Errorf("%s: num must be positive", KindSplit)
	}
	x := in[0]
	axis, err := normAxis(l.axis, len(x.Shape))
	if err != nil {
		return nil, err
	}
	part := -1
	if d := x.Shape[axis]; d >= 0 {
		if d%l.num != 0 {
			return nil, fmt.Errorf("%w: cannot split %d into %d parts", ErrShape, d, l.num)
		}
		part = d / l.num
	}
	out := make([]TensorType, l.num)
	for i := range out {
		shape := slices.Clone(x.Shape)
		shape[axis] = part
		out[i] = TensorType{DType: x.DType, Shape: shape}
	}
	return out, nil
}

func (l *splitLayer) Forward(in []*tensor.Dense) ([]*tensor.Dense, error) {
	x := in[0]
	shape := shapeOf(x)
	axis, err := normAxis(l.axis, len(shape))
	if err != nil {
		return nil, err
	}
	if shape[axis]%l.num != 0 {
		return nil, fmt.Errorf("%w: cannot split %d into %d parts", ErrShape, shape[axis], l.num)
	}
	size := shape[axis] / l.num
	partShape := slices.Clone(shape)
	partShape[axis] = size

	outs := make([]*tensor.Dense, l.num)
	for i := range outs {
		spec := make([]tensor.Slice, len(shape))
		spec[axis] = tensor.S(i*size, (i+1)*size)
		v, err := x.Slice(spec...)
		if err != nil {
			return nil, err
		}
		part := tensor.Materialize(v).(*tensor.Dense)
		// size-1 slices drop their axis; restore it.
		if err := part.Reshape(partShape...); err != nil {
			return nil, err
		}
		outs[i] = part
	}
	return outs, nil
}

// numeric kernels

func addRows(d, bias *tensor.Dense) error {
	switch data := d.Data().(type) {
	case []float32:
		b, ok := bias.Data().([]float32)
		if !ok {
			return fmt.Errorf("%w: bias %s for float32", ErrDType, bias.Dtype())
		}
		addRowsSlice(data, b)
	case []float64:
		b, ok := bias.Data().([]float64)
		if !ok {
			return fmt.Errorf("%w: bias %s for float64", ErrDType, bias.Dtype())
		}
		addRowsSlice(data, b)
	default:
		return fmt.Errorf("%w: bias add on %s", ErrDType, d.Dtype())
	}
	return nil
}

func addRowsSlice[T number](xs, b []T) {
	w := len(b)
	for i := range xs {
		xs[i] += b[i%w]
	}
}

// activate applies fn in place; width is the softmax axis length.
func activate(fn string, d *tensor.Dense, width int) error {
	if fn == "" || fn == "linear" {
		return nil
	}
	switch data := d.Data().(type) {
	case []float32:
		return activateSlice(fn, data, width)
	case []float64:
		return activateSlice(fn, data, width)
	}
	return fmt.Errorf("%w: activation %s on %s", ErrDType, fn, d.Dtype())
}

func activateSlice[T float](fn string, xs []T, width int) error {
	switch fn {
	case "relu":
		for i, x := range xs {
			if x < 0 {
				xs[i] = 0
			}
		}
	case "sigmoid":
		for i, x := range xs {
			xs[i] = T(1 / (1 + math.Exp(-float64(x))))
		}
	case "tanh":
		for i, x := range xs {
			xs[i] = T(math.Tanh(float64(x)))
		}
	case "softmax":
		if width < 1 {
			return nil
		}
		parallel.Range(len(xs)/width, parallel.DefaultConfig(), func(first, last int) {
			row := make([]float64, width)
			for r := first; r < last; r++ {
				start := r * width
				for i := range row {
					row[i] = float64(xs[start+i])
				}
				lse := floats.LogSumExp(row)
				for i := range row {
					xs[start+i] = T(math.Exp(row[i] - lse))
				}
			}
		})
	default:
		return fmt.Errorf("unknown activation %q", fn)
	}
	return nil
}
