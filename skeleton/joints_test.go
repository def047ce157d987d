package skeleton

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/testutils"
)

func TestReduce3D(t *testing.T) {
	raw := testutils.MPIRig()
	reduced, err := MPIINF3DHPJointMap.Reduce(testutils.VectorsToDense(raw))
	test.That(t, err, test.ShouldBeNil)
	rows, cols := reduced.Dims()
	test.That(t, rows, test.ShouldEqual, NumJoints)
	test.That(t, cols, test.ShouldEqual, 3)

	for slot, src := range MPIINF3DHPJointMap.Sources {
		if src == Computed {
			continue
		}
		test.That(t, reduced.RawRowView(slot), test.ShouldResemble, []float64{raw[src].X, raw[src].Y, raw[src].Z})
	}
	// pelvis lands in the root slot
	test.That(t, reduced.At(2, 1), test.ShouldEqual, raw[4].Y)
	for d := 0; d < 3; d++ {
		test.That(t, reduced.At(0, d), test.ShouldAlmostEqual, (reduced.At(5, d)+reduced.At(8, d))/2)
	}
}

func TestReduceH36M(t *testing.T) {
	raw := testutils.VectorsToDense(testutils.MPIRig())
	mpi, err := MPIINF3DHPJointMap.Reduce(raw)
	test.That(t, err, test.ShouldBeNil)
	h36m, err := MPIINF3DHPToH36MJointMap.Reduce(raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, MPIINF3DHPToH36MJointMap.Validate(), test.ShouldBeNil)

	// h36m slot -> mpi slot
	slots := [NumJoints]int{2, 14, 15, 16, 11, 12, 13, 1, 0, 3, 4, 5, 6, 7, 8, 9, 10}
	for h, m := range slots {
		test.That(t, h36m.RawRowView(h), test.ShouldResemble, mpi.RawRowView(m))
	}
	test.That(t, MPIINF3DHPToH36MJointMap.CheckTopology(&H36MTopology), test.ShouldBeNil)
	test.That(t, MPIINF3DHPJointMap.CheckTopology(&MPIINF3DHPTopology), test.ShouldBeNil)
	test.That(t, MPIINF3DHPJointMap.CheckTopology(&H36MTopology), test.ShouldNotBeNil)
	test.That(t, MPIINF3DHPToH36MJointMap.CheckTopology(&MPIINF3DHPTopology), test.ShouldNotBeNil)
}

func TestReduce2D(t *testing.T) {
	rotation, translation := testutils.CameraPose(0.2)
	pixels := testutils.Project(testutils.MPIRig(), testutils.CameraMatrix, rotation, translation)
	reduced, err := MPIINF3DHPJointMap.Reduce(testutils.PointsToDense(pixels))
	test.That(t, err, test.ShouldBeNil)
	rows, cols := reduced.Dims()
	test.That(t, rows, test.ShouldEqual, NumJoints)
	test.That(t, cols, test.ShouldEqual, 2)
	test.That(t, reduced.At(16, 0), test.ShouldEqual, pixels[25].X)
	test.That(t, reduced.At(0, 0), test.ShouldAlmostEqual, (pixels[9].X+pixels[14].X)/2)
	test.That(t, reduced.At(0, 1), test.ShouldAlmostEqual, (pixels[9].Y+pixels[14].Y)/2)
}

func TestReduceErrors(t *testing.T) {
	_, err := MPIINF3DHPJointMap.Reduce(mat.NewDense(27, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "28 raw joints")
	_, err = MPIINF3DHPJointMap.Reduce(mat.NewDense(28, 4, nil))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = MPIINF3DHPJointMap.Reduce(mat.NewDense(28, 1, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestJointMapValidate(t *testing.T) {
	test.That(t, MPIINF3DHPJointMap.Validate(), test.ShouldBeNil)

	bad := MPIINF3DHPJointMap
	bad.Sources[3] = 28
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = MPIINF3DHPJointMap
	bad.Sources[0] = 4
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = MPIINF3DHPJointMap
	bad.Midpoint.A = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	bad = MPIINF3DHPJointMap
	bad.RawJoints = 0
	test.That(t, bad.Validate(), test.ShouldNotBeNil)

	// arrays are values, the exported table is untouched
	test.That(t, MPIINF3DHPJointMap.Sources[3], test.ShouldEqual, 5)
}
