// Package transform holds the camera models used to move annotated joints between world, camera and pixel space:
// pinhole intrinsics read from rig calibration files, extrinsics recovered with EPnP, and the [R|t] transform.
package transform

import (
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/utils"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Fx   float64 `json:"fx"`
	Fy   float64 `json:"fy"`
	Ppx  float64 `json:"ppx"`
	Ppy  float64 `json:"ppy"`
	Skew float64 `json:"skew"`
}

// NewPinholeCameraIntrinsicsFromMatrix reads the focal lengths, principal point and skew from the top-left 3x3
// block of a camera matrix.
func NewPinholeCameraIntrinsicsFromMatrix(k mat.Matrix) (*PinholeCameraIntrinsics, error) {
	r, c := k.Dims()
	if r < 3 || c < 3 {
		return nil, errors.Errorf("camera matrix is %dx%d, need at least 3x3", r, c)
	}
	params := &PinholeCameraIntrinsics{
		Fx:   k.At(0, 0),
		Fy:   k.At(1, 1),
		Ppx:  k.At(0, 2),
		Ppy:  k.At(1, 2),
		Skew: k.At(0, 1),
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if !utils.IsFinite(params.Fx, params.Fy, params.Ppx, params.Ppy, params.Skew) {
		return NewNoIntrinsicsError(fmt.Sprintf("Non-finite parameter in %#v", *params))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	return nil
}

// CameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx skew ppx],
//
//	[0  fy   ppy],
//	[0  0    1]]
func (params *PinholeCameraIntrinsics) CameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(0, 1, params.Skew)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	n := params.normalize(r2.Point{X: x, Y: y})
	return n.X * z, n.Y * z, z
}

// PointToPixel projects a 3D point in the camera frame to sub-pixel image coordinates.
// Points with zero depth project to (-1, -1).
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0. {
		xPx := (x/z)*params.Fx + (y/z)*params.Skew + params.Ppx
		yPx := (y/z)*params.Fy + params.Ppy
		return xPx, yPx
	}
	return -1.0, -1.0
}

// normalize applies the inverse camera matrix to a pixel, giving the point on the z=1 plane.
func (params *PinholeCameraIntrinsics) normalize(px r2.Point) r2.Point {
	y := (px.Y - params.Ppy) / params.Fy
	x := (px.X - params.Ppx - params.Skew*y) / params.Fx
	return r2.Point{X: x, Y: y}
}

// ProjectPoints moves world points into the camera frame with pose and projects them onto the image plane.
func (params *PinholeCameraIntrinsics) ProjectPoints(points []r3.Vector, pose *CamPose) ([]r2.Point, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	if pose == nil {
		return nil, errors.New("cannot project points without a camera pose")
	}
	pixels := make([]r2.Point, len(points))
	for i, pt := range points {
		c := pose.Apply(pt)
		pixels[i].X, pixels[i].Y = params.PointToPixel(c.X, c.Y, c.Z)
	}
	return pixels, nil
}

// ReprojectionError is the mean pixel distance between the observed image points and the projections of the
// matching world points under pose.
func (params *PinholeCameraIntrinsics) ReprojectionError(object []r3.Vector, image []r2.Point, pose *CamPose) (float64, error) {
	if len(object) != len(image) {
		return 0, errors.Errorf("have %d world points but %d image points", len(object), len(image))
	}
	if len(object) == 0 {
		return 0, errors.New("no points to reproject")
	}
	projected, err := params.ProjectPoints(object, pose)
	if err != nil {
		return 0, err
	}
	dists := make([]float64, len(projected))
	for i := range projected {
		dists[i] = projected[i].Sub(image[i]).Norm()
	}
	return floats.Sum(dists) / float64(len(dists)), nil
}
