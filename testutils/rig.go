// Package testutils provides synthetic rigs, camera poses and calibration files shared by package tests.
package testutils

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/spatialmath"
)

// CameraMatrix is the row major intrinsic matrix of the synthetic camera.
var CameraMatrix = [9]float64{
	1497.693, 0, 1024.704,
	0, 1497.103, 1051.394,
	0, 0, 1,
}

// mpiRig is a standing subject in the 28 joint layout of the capture rig, world millimeters with y up.
var mpiRig = []r3.Vector{
	{0, 1250, 20},     // spine3
	{0, 1380, 30},     // spine4
	{0, 1100, 10},     // spine2
	{0, 1000, 0},      // spine
	{0, 920, 0},       // pelvis
	{0, 1480, 20},     // neck
	{0, 1580, 40},     // head
	{0, 1700, 30},     // head top
	{80, 1420, 20},    // left clavicle
	{180, 1400, 0},    // left shoulder
	{200, 1120, 60},   // left elbow
	{220, 880, 160},   // left wrist
	{225, 800, 190},   // left hand
	{-80, 1420, 20},   // right clavicle
	{-180, 1400, 0},   // right shoulder
	{-230, 1130, -40}, // right elbow
	{-300, 900, 20},   // right wrist
	{-320, 820, 30},   // right hand
	{100, 900, 0},     // left hip
	{110, 500, 60},    // left knee
	{115, 90, -20},    // left ankle
	{120, 30, 80},     // left foot
	{125, 10, 150},    // left toe
	{-100, 900, 0},    // right hip
	{-120, 510, 20},   // right knee
	{-130, 95, -30},   // right ankle
	{-135, 30, 70},    // right foot
	{-140, 10, 140},   // right toe
}

// MPIRig returns a copy of the synthetic 28 joint subject.
func MPIRig() []r3.Vector {
	out := make([]r3.Vector, len(mpiRig))
	copy(out, mpiRig)
	return out
}

// VectorsToDense stacks points into an Nx3 matrix.
func VectorsToDense(points []r3.Vector) *mat.Dense {
	out := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		out.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	return out
}

// PointsToDense stacks pixels into an Nx2 matrix.
func PointsToDense(points []r2.Point) *mat.Dense {
	out := mat.NewDense(len(points), 2, nil)
	for i, p := range points {
		out.SetRow(i, []float64{p.X, p.Y})
	}
	return out
}

// CameraPose returns a world to camera pose looking at the synthetic subject from 4.5m, turned by yaw radians about
// the vertical axis. The camera frame has y down and z forward.
func CameraPose(yaw float64) (*spatialmath.RotationMatrix, r3.Vector) {
	flip := spatialmath.R3ToR4(r3.Vector{X: math.Pi}).RotationMatrix()
	turn := spatialmath.R3ToR4(r3.Vector{Y: yaw}).RotationMatrix()
	return flip.MatMul(turn), r3.Vector{X: 50, Y: 900, Z: 4500}
}

// Project moves world points into the camera frame and projects them with the row major camera matrix k.
func Project(points []r3.Vector, k [9]float64, rotation *spatialmath.RotationMatrix, translation r3.Vector) []r2.Point {
	out := make([]r2.Point, len(points))
	for i, p := range points {
		c := rotation.Mul(p).Add(translation)
		out[i] = r2.Point{
			X: (k[0]*c.X+k[1]*c.Y)/c.Z + k[2],
			Y: k[4]*c.Y/c.Z + k[5],
		}
	}
	return out
}
