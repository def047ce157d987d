package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/spatialmath"
)

// CamPose stores the 3x4 pose matrix as well as the 3D Rotation and Translation matrices.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPose creates a camera pose from a 3x3 rotation and a 3 element translation.
func NewCamPose(rotation mat.Matrix, translation mat.Vector) (*CamPose, error) {
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("rotation is %dx%d, need 3x3", r, c)
	}
	if translation.Len() != 3 {
		return nil, errors.Errorf("translation has %d elements, need 3", translation.Len())
	}
	pose := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			pose.Set(i, j, rotation.At(i, j))
		}
		pose.Set(i, 3, translation.AtVec(i))
	}
	return NewCamPoseFromMat(pose), nil
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 pose dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	U3 := pose.ColView(3)
	t := mat.NewDense(3, 1, []float64{U3.AtVec(0), U3.AtVec(1), U3.AtVec(2)})
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// RotationMatrix returns the rotation part of the pose.
func (cp *CamPose) RotationMatrix() (*spatialmath.RotationMatrix, error) {
	return spatialmath.NewRotationMatrixFromDense(cp.Rotation)
}

// TranslationVector returns the translation part of the pose.
func (cp *CamPose) TranslationVector() r3.Vector {
	return r3.Vector{X: cp.Translation.At(0, 0), Y: cp.Translation.At(1, 0), Z: cp.Translation.At(2, 0)}
}

// Apply moves a single world point into the camera frame.
func (cp *CamPose) Apply(pt r3.Vector) r3.Vector {
	return r3.Vector{
		X: cp.PoseMat.At(0, 0)*pt.X + cp.PoseMat.At(0, 1)*pt.Y + cp.PoseMat.At(0, 2)*pt.Z + cp.PoseMat.At(0, 3),
		Y: cp.PoseMat.At(1, 0)*pt.X + cp.PoseMat.At(1, 1)*pt.Y + cp.PoseMat.At(1, 2)*pt.Z + cp.PoseMat.At(1, 3),
		Z: cp.PoseMat.At(2, 0)*pt.X + cp.PoseMat.At(2, 1)*pt.Y + cp.PoseMat.At(2, 2)*pt.Z + cp.PoseMat.At(2, 3),
	}
}

// ToCameraSpace moves an Nx3 matrix of world points into the camera frame.
func (cp *CamPose) ToCameraSpace(points mat.Matrix) (*mat.Dense, error) {
	return transformHomogeneous(points, cp.PoseMat)
}

// ToCameraSpace moves an Nx3 matrix of world points into the camera frame described by rotation and translation:
// the points are lifted to homogeneous coordinates and multiplied by [R|t]. The result is Nx3.
func ToCameraSpace(points, rotation mat.Matrix, translation mat.Vector) (*mat.Dense, error) {
	pose, err := NewCamPose(rotation, translation)
	if err != nil {
		return nil, err
	}
	return pose.ToCameraSpace(points)
}

func transformHomogeneous(points mat.Matrix, pose *mat.Dense) (*mat.Dense, error) {
	n, d := points.Dims()
	if d != 3 {
		return nil, errors.Errorf("points have %d columns, need 3", d)
	}
	if n == 0 {
		return nil, errors.New("no points to transform")
	}
	// homogeneous points are stored column-wise, 4xN
	homogeneous := mat.NewDense(4, n, nil)
	for i := 0; i < n; i++ {
		homogeneous.Set(0, i, points.At(i, 0))
		homogeneous.Set(1, i, points.At(i, 1))
		homogeneous.Set(2, i, points.At(i, 2))
		homogeneous.Set(3, i, 1)
	}
	var camera mat.Dense
	camera.Mul(pose, homogeneous)
	out := mat.NewDense(n, 3, nil)
	out.Copy(camera.T())
	return out, nil
}
