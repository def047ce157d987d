package dataset

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/logging"
	"github.com/posegt/posegt/rimage/transform"
	"github.com/posegt/posegt/skeleton"
	"github.com/posegt/posegt/spatialmath"
	"github.com/posegt/posegt/testutils"
)

func newTestAssembler(t *testing.T, cameras int, modify func(*Options)) *Assembler {
	t.Helper()
	logger := logging.NewTestLogger(t)
	path := testutils.WriteCalibrationFile(t, t.TempDir(), testutils.UniformCalibration(cameras))
	opts := DefaultOptions()
	opts.Workers = 3
	if modify != nil {
		modify(&opts)
	}
	a, err := NewAssembler(transform.NewCalibrationStore(path, logger), opts, logger)
	test.That(t, err, test.ShouldBeNil)
	return a
}

// expectedKeypoints3D moves the rig into the camera frame with the true pose, then reduces, centers and scales it.
func expectedKeypoints3D(t *testing.T, yaw float64) *mat.Dense {
	t.Helper()
	rotation, translation := testutils.CameraPose(yaw)
	var camera []r3.Vector
	for _, p := range testutils.MPIRig() {
		camera = append(camera, rotation.Mul(p).Add(translation))
	}
	reduced, err := skeleton.MPIINF3DHPJointMap.Reduce(testutils.VectorsToDense(camera))
	test.That(t, err, test.ShouldBeNil)
	return skeleton.Scale(skeleton.Center(reduced, 2), skeleton.MetricScale)
}

func TestAssemble(t *testing.T) {
	a := newTestAssembler(t, 2, func(opts *Options) { opts.ImageRoot = "/data" })
	yaws := []float64{0, 0.6, -0.9, 2.2, 1.4}
	var anns []Annotation
	for i, yaw := range yaws {
		anns = append(anns, frameAnnotation(i%2, 100+i, yaw))
	}

	results, err := a.Assemble(context.Background(), anns)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, results, test.ShouldHaveLength, len(anns))
	test.That(t, Samples(results), test.ShouldHaveLength, len(anns))

	ref := a.Reference()
	for i, r := range results {
		test.That(t, r.Skip, test.ShouldBeNil)
		test.That(t, r.Index, test.ShouldEqual, i)
		s := r.Sample
		test.That(t, s.Camera, test.ShouldEqual, i%2)
		test.That(t, s.Frame, test.ShouldEqual, 100+i)
		test.That(t, s.ImagePath, test.ShouldEqual, filepath.Join("/data", "images", "frame.jpg"))
		test.That(t, s.Extrinsics.ReprojectionError, test.ShouldBeLessThan, 1e-3)
		test.That(t, s.Crop.Dx(), test.ShouldEqual, s.Crop.Dy())

		test.That(t, s.Keypoints3D.RawRowView(2), test.ShouldResemble, []float64{0, 0, 0})
		test.That(t, mat.EqualApprox(s.Keypoints3D, expectedKeypoints3D(t, yaws[i]), 1e-6), test.ShouldBeTrue)

		rows, cols := s.Keypoints2D.Dims()
		test.That(t, rows, test.ShouldEqual, skeleton.NumJoints)
		test.That(t, cols, test.ShouldEqual, 2)
		test.That(t, s.Keypoints2D.RawRowView(2), test.ShouldResemble, []float64{0, 0})

		bones, err := ref.Topology.Vectorize(s.Keypoints3D)
		test.That(t, err, test.ShouldBeNil)
		for k := 0; k < len(ref.Topology.Bones); k++ {
			rm, err := spatialmath.NewRotationMatrix(s.Rotations.RawRowView(k))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, rm.IsRotation(1e-9), test.ShouldBeTrue)
			obs := r3.Vector{X: bones.At(k, 0), Y: bones.At(k, 1), Z: bones.At(k, 2)}.Normalize()
			test.That(t, rm.Mul(ref.Bone(k).Normalize()).Sub(obs).Norm(), test.ShouldBeLessThan, 1e-9)
		}
	}
}

func TestAssembleRefined(t *testing.T) {
	a := newTestAssembler(t, 1, func(opts *Options) { opts.RefineExtrinsics = true })
	ann := frameAnnotation(0, 0, 0.3)
	ann.Points2D[7][0] += 3
	ann.Points2D[20][1] -= 2

	plain := newTestAssembler(t, 1, nil)
	unrefined, err := plain.Assemble(context.Background(), []Annotation{ann})
	test.That(t, err, test.ShouldBeNil)
	refined, err := a.Assemble(context.Background(), []Annotation{ann})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, refined[0].Sample, test.ShouldNotBeNil)
	test.That(t, refined[0].Sample.Extrinsics.ReprojectionError,
		test.ShouldBeLessThanOrEqualTo, unrefined[0].Sample.Extrinsics.ReprojectionError)
}

func TestAssembleH36M(t *testing.T) {
	a := newTestAssembler(t, 1, func(opts *Options) {
		opts.Joints = skeleton.MPIINF3DHPToH36MJointMap
		opts.Topology = skeleton.H36MTopology
	})
	results, err := a.Assemble(context.Background(), []Annotation{frameAnnotation(0, 0, 0.6)})
	test.That(t, err, test.ShouldBeNil)
	s := results[0].Sample
	test.That(t, s, test.ShouldNotBeNil)

	// the pelvis is the root in both layouts
	expected := expectedKeypoints3D(t, 0.6)
	test.That(t, s.Keypoints3D.RawRowView(0), test.ShouldResemble, []float64{0, 0, 0})
	test.That(t, s.Keypoints2D.RawRowView(0), test.ShouldResemble, []float64{0, 0})
	for h36m, mpi := range map[int]int{8: 0, 9: 3, 13: 7, 16: 10, 3: 16} {
		test.That(t, floats.EqualApprox(s.Keypoints3D.RawRowView(h36m), expected.RawRowView(mpi), 1e-6),
			test.ShouldBeTrue)
	}

	ref := a.Reference()
	bones, err := ref.Topology.Vectorize(s.Keypoints3D)
	test.That(t, err, test.ShouldBeNil)
	for k := range ref.Topology.Bones {
		rm, err := spatialmath.NewRotationMatrix(s.Rotations.RawRowView(k))
		test.That(t, err, test.ShouldBeNil)
		obs := r3.Vector{X: bones.At(k, 0), Y: bones.At(k, 1), Z: bones.At(k, 2)}.Normalize()
		test.That(t, rm.Mul(ref.Bone(k).Normalize()).Sub(obs).Norm(), test.ShouldBeLessThan, 1e-9)
	}
}

func TestAssembleSkips(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.jpg")
	test.That(t, os.WriteFile(present, []byte{0xff, 0xd8}, 0o600), test.ShouldBeNil)

	a := newTestAssembler(t, 2, func(opts *Options) {
		opts.MaxReprojectionError = 1
		opts.CheckImages = true
		opts.ImageRoot = dir
	})

	good := frameAnnotation(0, 0, 0.2)
	good.Directory = "present.jpg"

	short := frameAnnotation(1, 1, 0.2)
	short.Points3D = short.Points3D[:27]

	planar := frameAnnotation(0, 2, 0.2)
	for _, p := range planar.Points3D {
		p[2] = 0
	}

	noisy := frameAnnotation(1, 3, 0.2)
	noisy.Directory = "present.jpg"
	for i, p := range noisy.Points2D {
		p[0] += 15 * math.Sin(float64(i))
		p[1] += 15 * math.Cos(float64(3*i))
	}

	// raw joint 2 on top of the pelvis collapses the first spine bone
	collapsed := frameAnnotation(0, 4, 0.2)
	copy(collapsed.Points3D[2], collapsed.Points3D[4])
	copy(collapsed.Points2D[2], collapsed.Points2D[4])
	collapsed.Directory = "present.jpg"

	missing := frameAnnotation(1, 5, 0.2)
	missing.Directory = "missing.jpg"

	logger, logs := logging.NewObservedTestLogger(t)
	a.logger = logger
	results, err := a.Assemble(context.Background(), []Annotation{good, short, planar, noisy, collapsed, missing})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, results, test.ShouldHaveLength, 6)

	test.That(t, results[0].Sample, test.ShouldNotBeNil)
	test.That(t, results[0].Sample.ImagePath, test.ShouldEqual, present)

	expected := []SkipReason{SkipMalformedAnnotation, SkipExtrinsics, SkipReprojection, SkipGeometry, SkipUnreadableImage}
	for i, reason := range expected {
		r := results[i+1]
		test.That(t, r.Sample, test.ShouldBeNil)
		test.That(t, r.Skip, test.ShouldNotBeNil)
		test.That(t, r.Skip.Reason, test.ShouldEqual, reason)
		test.That(t, r.Skip.Frame, test.ShouldEqual, i+1)
	}

	var calibErr *transform.CalibrationError
	test.That(t, errors.As(results[2].Skip, &calibErr), test.ShouldBeTrue)
	test.That(t, calibErr.Camera, test.ShouldEqual, 0)
	var geomErr *spatialmath.GeometryError
	test.That(t, errors.As(results[4].Skip, &geomErr), test.ShouldBeTrue)

	test.That(t, Samples(results), test.ShouldHaveLength, 1)
	test.That(t, logs.FilterMessage("skipping frame").Len(), test.ShouldEqual, 5)
}

func TestAssembleCalibrationFailureIsFatal(t *testing.T) {
	a := newTestAssembler(t, 2, nil)
	anns := []Annotation{frameAnnotation(0, 0, 0), frameAnnotation(4, 1, 0)}

	results, err := a.Assemble(context.Background(), anns)
	test.That(t, results, test.ShouldBeNil)
	test.That(t, err, test.ShouldNotBeNil)
	var parseErr *transform.ParseError
	test.That(t, errors.As(err, &parseErr), test.ShouldBeTrue)
	test.That(t, parseErr.Camera, test.ShouldEqual, 4)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera.calibration")

	// a malformed record for an unknown camera is only skipped
	bad := frameAnnotation(4, 1, 0)
	bad.Points2D = nil
	results, err = a.Assemble(context.Background(), []Annotation{anns[0], bad})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, results[1].Skip.Reason, test.ShouldEqual, SkipMalformedAnnotation)
}

func TestAssembleCancelled(t *testing.T) {
	a := newTestAssembler(t, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Assemble(ctx, []Annotation{frameAnnotation(0, 0, 0)})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestAssembleManyFramesKeepsOrder(t *testing.T) {
	a := newTestAssembler(t, 8, nil)
	var anns []Annotation
	for i := 0; i < 40; i++ {
		anns = append(anns, frameAnnotation(i%8, i, 0.05*float64(i)))
	}
	results, err := a.Assemble(context.Background(), anns)
	test.That(t, err, test.ShouldBeNil)
	for i, r := range results {
		test.That(t, r.Index, test.ShouldEqual, i)
		test.That(t, r.Sample.Frame, test.ShouldEqual, i)
		test.That(t, r.Sample.Camera, test.ShouldEqual, i%8)
	}
}

func TestNewAssemblerErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	path := testutils.WriteCalibrationFile(t, t.TempDir(), testutils.UniformCalibration(1))
	store := transform.NewCalibrationStore(path, logger)

	_, err := NewAssembler(nil, DefaultOptions(), logger)
	test.That(t, err, test.ShouldNotBeNil)

	opts := DefaultOptions()
	opts.Topology.Layout = "unknown"
	_, err = NewAssembler(store, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)

	opts = DefaultOptions()
	opts.MaxReprojectionError = -1
	_, err = NewAssembler(store, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)

	opts = DefaultOptions()
	opts.Joints.RawJoints = 0
	_, err = NewAssembler(store, opts, logger)
	test.That(t, err, test.ShouldNotBeNil)

	// joints reduced in one layout cannot be vectorized with the other
	_, err = NewAssembler(store, Options{Joints: skeleton.MPIINF3DHPJointMap, Topology: skeleton.H36MTopology}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "layout")

	// the alternative layout is accepted and defaults are filled in
	a, err := NewAssembler(store, Options{Joints: skeleton.MPIINF3DHPToH36MJointMap, Topology: skeleton.H36MTopology}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Reference().Topology.Name, test.ShouldEqual, skeleton.H36MTopology.Name)
	test.That(t, a.opts.MetricScale, test.ShouldEqual, skeleton.MetricScale)
	test.That(t, a.opts.Workers, test.ShouldBeGreaterThan, 0)
}
