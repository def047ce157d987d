// Package ml provides the tensor form samples are handed to models in.
package ml

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Tensors are a named set of tensors.
type Tensors map[string]*tensor.Dense

// Names returns the tensor names in sorted order.
func (t Tensors) Names() []string {
	return tensorNames(t)
}

// Float64s returns the flattened values of the named tensor.
func (t Tensors) Float64s(name string) ([]float64, error) {
	data, ok := t[name]
	if !ok {
		return nil, errors.Errorf("no tensor named %q among [%v]", name, tensorNames(t))
	}
	values, ok := data.Data().([]float64)
	if !ok {
		return nil, errors.Errorf("tensor %q holds %v, not float64", name, data.Dtype())
	}
	return values, nil
}

// NewTensorFromMatrix copies m in row major order into a float64 tensor. The tensor takes the given shape, or the
// matrix dimensions when no shape is given.
func NewTensorFromMatrix(m mat.Matrix, shape ...int) (*tensor.Dense, error) {
	r, c := m.Dims()
	if len(shape) == 0 {
		shape = []int{r, c}
	}
	size := 1
	for _, s := range shape {
		size *= s
	}
	if size != r*c {
		return nil, errors.Errorf("cannot shape a %dx%d matrix as %v", r, c, shape)
	}
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

// tensorNames returns all the names of the tensors.
func tensorNames(t Tensors) []string {
	names := maps.Keys(t)
	sort.Strings(names)
	return names
}
