package ml

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

func TestNewTensorFromMatrix(t *testing.T) {
	m := mat.NewDense(2, 9, nil)
	for i := 0; i < 18; i++ {
		m.Set(i/9, i%9, float64(i))
	}

	flat, err := NewTensorFromMatrix(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []int(flat.Shape()), test.ShouldResemble, []int{2, 9})

	stacked, err := NewTensorFromMatrix(m, 2, 3, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, []int(stacked.Shape()), test.ShouldResemble, []int{2, 3, 3})
	v, err := stacked.At(1, 2, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 15.0)

	// the tensor owns its data
	m.Set(0, 0, 100)
	v, err = flat.At(0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 0.0)

	_, err = NewTensorFromMatrix(m, 4, 4)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestTensorsFloat64s(t *testing.T) {
	tensors := Tensors{
		"b": tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{1.5, 2})),
		"a": tensor.New(tensor.WithShape(3), tensor.WithBacking([]float64{1, 2, 3})),
		"c": tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, 2})),
	}
	test.That(t, tensors.Names(), test.ShouldResemble, []string{"a", "b", "c"})

	values, err := tensors.Float64s("b")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values, test.ShouldResemble, []float64{1.5, 2})

	_, err = tensors.Float64s("c")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "float32")

	_, err = tensors.Float64s("d")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "a b c")
}
