package skeleton

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/spatialmath"
)

// Rotations returns, per bone, the minimal rotation taking the reference bone direction onto the observed one.
// observed holds one 3D bone vector per row in topology order.
func Rotations(ref *Reference, observed mat.Matrix) ([]*spatialmath.RotationMatrix, error) {
	rows, dims := observed.Dims()
	bones := len(ref.Topology.Bones)
	if rows != bones || dims != 3 {
		return nil, errors.Errorf("need %dx3 observed bones, have %dx%d", bones, rows, dims)
	}
	out := make([]*spatialmath.RotationMatrix, bones)
	for k := 0; k < bones; k++ {
		obs := r3.Vector{X: observed.At(k, 0), Y: observed.At(k, 1), Z: observed.At(k, 2)}
		rm, err := spatialmath.RotationBetween(ref.Bone(k), obs)
		if err != nil {
			b := ref.Topology.Bones[k]
			return nil, errors.Wrapf(err, "bone %d (%d->%d)", k, b.Parent, b.Child)
		}
		out[k] = rm
	}
	return out, nil
}

// AlignBones stacks Rotations into a matrix with one row per bone holding its row major 3x3 rotation.
func AlignBones(ref *Reference, observed mat.Matrix) (*mat.Dense, error) {
	rotations, err := Rotations(ref, observed)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(len(rotations), 9, nil)
	for k, rm := range rotations {
		data := rm.Data()
		out.SetRow(k, data[:])
	}
	return out, nil
}
