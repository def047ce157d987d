package skeleton

import (
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/testutils"
)

func TestTopologiesAreValid(t *testing.T) {
	for _, topology := range []Topology{MPIINF3DHPTopology, H36MTopology} {
		test.That(t, topology.Validate(), test.ShouldBeNil)
		test.That(t, topology.Bones, test.ShouldHaveLength, NumJoints-1)
	}
}

func TestTopologyValidateRejects(t *testing.T) {
	withBones := func(bones ...Bone) Topology {
		topology := MPIINF3DHPTopology
		topology.Bones = append([]Bone{}, MPIINF3DHPTopology.Bones...)
		for i, b := range bones {
			topology.Bones[i] = b
		}
		return topology
	}

	// root as a child
	topology := withBones(Bone{Child: 2, Parent: 1})
	test.That(t, topology.Validate(), test.ShouldNotBeNil)

	// joint 1 is already a child of the spine bone
	topology = withBones(Bone{Child: 1, Parent: 2}, Bone{Child: 1, Parent: 0})
	test.That(t, topology.Validate(), test.ShouldNotBeNil)

	// 0 and 1 parent each other
	topology = withBones(Bone{Child: 1, Parent: 0})
	test.That(t, topology.Validate(), test.ShouldNotBeNil)

	topology = withBones(Bone{Child: 17, Parent: 2})
	test.That(t, topology.Validate(), test.ShouldNotBeNil)

	topology = MPIINF3DHPTopology
	topology.Bones = topology.Bones[:15]
	test.That(t, topology.Validate(), test.ShouldNotBeNil)

	topology = MPIINF3DHPTopology
	topology.Root = 17
	test.That(t, topology.Validate(), test.ShouldNotBeNil)
}

func TestVectorize(t *testing.T) {
	skeleton, err := MPIINF3DHPJointMap.Reduce(testutils.VectorsToDense(testutils.MPIRig()))
	test.That(t, err, test.ShouldBeNil)

	bones, err := MPIINF3DHPTopology.Vectorize(skeleton)
	test.That(t, err, test.ShouldBeNil)
	rows, cols := bones.Dims()
	test.That(t, rows, test.ShouldEqual, 16)
	test.That(t, cols, test.ShouldEqual, 3)
	for k, b := range MPIINF3DHPTopology.Bones {
		for d := 0; d < 3; d++ {
			test.That(t, bones.At(k, d), test.ShouldEqual, skeleton.At(b.Child, d)-skeleton.At(b.Parent, d))
		}
	}
	// first bone runs from the pelvis up the spine
	test.That(t, bones.At(0, 1), test.ShouldEqual, 1100.0-920.0)

	// centering does not change bone vectors
	centered, err := MPIINF3DHPTopology.Vectorize(Center(skeleton, 2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(centered, bones, 1e-9), test.ShouldBeTrue)

	// works for 2D skeletons too
	flat, err := MPIINF3DHPTopology.Vectorize(mat.NewDense(NumJoints, 2, nil))
	test.That(t, err, test.ShouldBeNil)
	_, cols = flat.Dims()
	test.That(t, cols, test.ShouldEqual, 2)

	_, err = MPIINF3DHPTopology.Vectorize(mat.NewDense(16, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCenter(t *testing.T) {
	skeleton, err := MPIINF3DHPJointMap.Reduce(testutils.VectorsToDense(testutils.MPIRig()))
	test.That(t, err, test.ShouldBeNil)
	before := mat.DenseCopyOf(skeleton)

	centered := Center(skeleton, 2)
	test.That(t, centered.RawRowView(2), test.ShouldResemble, []float64{0, 0, 0})
	test.That(t, centered.At(4, 1), test.ShouldEqual, skeleton.At(4, 1)-skeleton.At(2, 1))
	test.That(t, mat.Equal(skeleton, before), test.ShouldBeTrue)

	rotation, translation := testutils.CameraPose(0)
	pixels, err := MPIINF3DHPJointMap.Reduce(testutils.PointsToDense(
		testutils.Project(testutils.MPIRig(), testutils.CameraMatrix, rotation, translation)))
	test.That(t, err, test.ShouldBeNil)
	centered2D := Center(pixels, 2)
	test.That(t, centered2D.RawRowView(2), test.ShouldResemble, []float64{0, 0})

	test.That(t, func() { Center(pixels, 17) }, test.ShouldPanic)
}

func TestScale(t *testing.T) {
	s := mat.NewDense(2, 3, []float64{1000, -2000, 500, 0, 10, 20})
	scaled := Scale(s, MetricScale)
	test.That(t, scaled.At(0, 0), test.ShouldAlmostEqual, 1.0)
	test.That(t, scaled.At(0, 1), test.ShouldAlmostEqual, -2.0)
	test.That(t, scaled.At(0, 2), test.ShouldAlmostEqual, 0.5)
	test.That(t, scaled.At(1, 2), test.ShouldAlmostEqual, 0.02)
	test.That(t, s.At(0, 0), test.ShouldEqual, 1000.0)
}
