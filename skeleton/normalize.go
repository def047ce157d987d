package skeleton

import (
	"gonum.org/v1/gonum/mat"
)

// MetricScale converts capture millimeters to meters.
const MetricScale = 0.001

// Center subtracts joint root from every joint, the root included. It panics if root is not a row of s.
func Center(s mat.Matrix, root int) *mat.Dense {
	rows, dims := s.Dims()
	if root < 0 || root >= rows {
		panic(mat.ErrRowAccess)
	}
	out := mat.NewDense(rows, dims, nil)
	for i := 0; i < rows; i++ {
		for d := 0; d < dims; d++ {
			out.Set(i, d, s.At(i, d)-s.At(root, d))
		}
	}
	return out
}

// Scale multiplies every coordinate by factor.
func Scale(s mat.Matrix, factor float64) *mat.Dense {
	var out mat.Dense
	out.Scale(factor, s)
	return &out
}
