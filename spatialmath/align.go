package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	// parallelTolerance is the cross product norm below which two unit vectors are treated as parallel.
	parallelTolerance = 1e-9
	// minVectorNorm is the shortest vector that can still be given a direction.
	minVectorNorm = 1e-12
)

// GeometryError is returned when a rotation cannot be derived from the given vectors.
type GeometryError struct {
	From, To r3.Vector
	Reason   string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("cannot align %v to %v: %s", e.From, e.To, e.Reason)
}

// RotationBetween returns the minimal-angle rotation R such that R * from/|from| == to/|to|.
//
// Degenerate cases are resolved explicitly:
//   - parallel vectors give the identity.
//   - antiparallel vectors give a half turn about PerpendicularAxis(from).
//   - zero length or non-finite vectors give a *GeometryError.
func RotationBetween(from, to r3.Vector) (*RotationMatrix, error) {
	fromNorm, toNorm := from.Norm(), to.Norm()
	if !(fromNorm >= minVectorNorm) || !(toNorm >= minVectorNorm) || math.IsInf(fromNorm, 0) || math.IsInf(toNorm, 0) {
		return nil, &GeometryError{From: from, To: to, Reason: "vector has no direction"}
	}
	a := from.Mul(1 / fromNorm)
	b := to.Mul(1 / toNorm)

	axis := a.Cross(b)
	c := a.Dot(b)
	s := axis.Norm()

	if s < parallelTolerance {
		if c > 0 {
			return NewIdentityRotationMatrix(), nil
		}
		return HalfTurn(PerpendicularAxis(a)), nil
	}

	// (1-c)/s^2 == 1/(1+c) for unit vectors; use whichever denominator is far from zero.
	var scale float64
	if c > 0 {
		scale = 1 / (1 + c)
	} else {
		scale = (1 - c) / (s * s)
	}

	k := crossProductMatrix(axis)
	var k2 mat.Dense
	k2.Mul(k, k)
	k2.Scale(scale, &k2)

	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	r.Add(r, k)
	r.Add(r, &k2)
	return NewRotationMatrixFromDense(r)
}

// PerpendicularAxis returns a deterministic unit vector perpendicular to v: the normalized cross product of v with
// the standard basis vector along v's smallest absolute component (lowest index on ties).
func PerpendicularAxis(v r3.Vector) r3.Vector {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	var basis r3.Vector
	switch {
	case ax <= ay && ax <= az:
		basis = r3.Vector{X: 1}
	case ay <= az:
		basis = r3.Vector{Y: 1}
	default:
		basis = r3.Vector{Z: 1}
	}
	return v.Cross(basis).Normalize()
}

// HalfTurn returns the 180 degree rotation about the given axis, 2*u*u^T - I.
func HalfTurn(axis r3.Vector) *RotationMatrix {
	u := axis.Normalize()
	return &RotationMatrix{mat: [9]float64{
		2*u.X*u.X - 1, 2 * u.X * u.Y, 2 * u.X * u.Z,
		2 * u.Y * u.X, 2*u.Y*u.Y - 1, 2 * u.Y * u.Z,
		2 * u.Z * u.X, 2 * u.Z * u.Y, 2*u.Z*u.Z - 1,
	}}
}

// crossProductMatrix returns the skew-symmetric matrix K with K*x == p.Cross(x).
func crossProductMatrix(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}
