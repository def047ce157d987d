package skeleton

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DefaultHeight is the subject height of the reference T-pose, in meters.
const DefaultHeight = 1.8

// Anthropometric ratios of segment heights and lengths to body height (Drillis and Contini).
const (
	pelvisHeight   = 0.530
	spineHeight    = 0.630
	shoulderHeight = 0.818
	neckHeight     = 0.870
	headHeight     = 0.936
	halfShoulders  = 0.1295
	upperArm       = 0.186
	forearm        = 0.146
	halfHips       = 0.052
	kneeHeight     = 0.285
	ankleHeight    = 0.039
)

// tposeJoint places a joint of a subject of the given height in the camera-like reference frame: the pelvis is at
// the origin, x points to the subject's left, y points down, and the subject faces the camera along -z. lateral
// and up are fractions of the height.
func tposeJoint(height, lateral, up float64) r3.Vector {
	return r3.Vector{X: lateral * height, Y: -(up - pelvisHeight) * height}
}

// tposeJoints are the named T-pose positions shared by every layout.
type tposeJoints struct {
	pelvis, spine, thorax, neck, head                    r3.Vector
	lShoulder, lElbow, lWrist, rShoulder, rElbow, rWrist r3.Vector
	lHip, lKnee, lAnkle, rHip, rKnee, rAnkle             r3.Vector
}

func newTPoseJoints(height float64) tposeJoints {
	elbow := halfShoulders + upperArm
	wrist := elbow + forearm
	return tposeJoints{
		pelvis:    tposeJoint(height, 0, pelvisHeight),
		spine:     tposeJoint(height, 0, spineHeight),
		thorax:    tposeJoint(height, 0, shoulderHeight),
		neck:      tposeJoint(height, 0, neckHeight),
		head:      tposeJoint(height, 0, headHeight),
		lShoulder: tposeJoint(height, halfShoulders, shoulderHeight),
		lElbow:    tposeJoint(height, elbow, shoulderHeight),
		lWrist:    tposeJoint(height, wrist, shoulderHeight),
		rShoulder: tposeJoint(height, -halfShoulders, shoulderHeight),
		rElbow:    tposeJoint(height, -elbow, shoulderHeight),
		rWrist:    tposeJoint(height, -wrist, shoulderHeight),
		lHip:      tposeJoint(height, halfHips, pelvisHeight),
		lKnee:     tposeJoint(height, halfHips, kneeHeight),
		lAnkle:    tposeJoint(height, halfHips, ankleHeight),
		rHip:      tposeJoint(height, -halfHips, pelvisHeight),
		rKnee:     tposeJoint(height, -halfHips, kneeHeight),
		rAnkle:    tposeJoint(height, -halfHips, ankleHeight),
	}
}

func stack(joints ...r3.Vector) *mat.Dense {
	out := mat.NewDense(len(joints), 3, nil)
	for i, j := range joints {
		out.SetRow(i, []float64{j.X, j.Y, j.Z})
	}
	return out
}

// TPose returns the canonical MPI-INF-3DHP skeleton of a subject of the given height standing with arms
// stretched sideways, root-centered. All joints lie in the z=0 plane.
func TPose(height float64) *mat.Dense {
	j := newTPoseJoints(height)
	return stack(
		j.thorax, j.spine, j.pelvis, j.neck, j.head,
		j.lShoulder, j.lElbow, j.lWrist,
		j.rShoulder, j.rElbow, j.rWrist,
		j.lHip, j.lKnee, j.lAnkle,
		j.rHip, j.rKnee, j.rAnkle,
	)
}

// H36MTPose is TPose in the Human3.6M joint order.
func H36MTPose(height float64) *mat.Dense {
	j := newTPoseJoints(height)
	return stack(
		j.pelvis,
		j.rHip, j.rKnee, j.rAnkle,
		j.lHip, j.lKnee, j.lAnkle,
		j.spine, j.thorax, j.neck, j.head,
		j.lShoulder, j.lElbow, j.lWrist,
		j.rShoulder, j.rElbow, j.rWrist,
	)
}

var tposes = map[string]func(float64) *mat.Dense{
	LayoutMPIINF3DHP: TPose,
	LayoutH36M:       H36MTPose,
}

// Reference is the T-pose every observed pose is compared against. It is built once and shared read-only.
type Reference struct {
	Topology Topology
	// Pose is the root-centered T-pose, one row per joint.
	Pose *mat.Dense
	// Bones are the T-pose bone vectors in topology order.
	Bones *mat.Dense
}

// NewReference builds the T-pose reference of a subject of the given height for topology.
func NewReference(topology Topology, height float64) (*Reference, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if !(height > 0) {
		return nil, errors.Errorf("T-pose height must be positive, got %v", height)
	}
	build, ok := tposes[topology.Layout]
	if !ok {
		return nil, errors.Errorf("no T-pose for joint layout %q of topology %q", topology.Layout, topology.Name)
	}
	pose := Center(build(height), topology.Root)
	bones, err := topology.Vectorize(pose)
	if err != nil {
		return nil, err
	}
	return &Reference{Topology: topology, Pose: pose, Bones: bones}, nil
}

// Bone returns the reference vector of bone k.
func (ref *Reference) Bone(k int) r3.Vector {
	return r3.Vector{X: ref.Bones.At(k, 0), Y: ref.Bones.At(k, 1), Z: ref.Bones.At(k, 2)}
}
