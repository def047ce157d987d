package skeleton

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Bone connects a parent joint to a child joint. Its vector points from the parent to the child.
type Bone struct {
	Child  int `json:"child"`
	Parent int `json:"parent"`
}

// Joint layouts with a known T-pose.
const (
	LayoutMPIINF3DHP = "mpi_inf_3dhp"
	LayoutH36M       = "h36m"
)

// Topology is an ordered bone list over a joint layout. The root joint is never a child and every other joint is
// the child of exactly one bone, so a topology over n joints has n-1 bones.
type Topology struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	// Layout names the joint order the indices refer to.
	Layout string `json:"layout"`
	Joints int    `json:"joints"`
	Root   int    `json:"root"`
	Bones  []Bone `json:"bones"`
}

// MPIINF3DHPTopology is the bone list over the canonical skeleton produced by MPIINF3DHPJointMap, rooted at the
// pelvis.
var MPIINF3DHPTopology = Topology{
	Name:    "mpi_inf_3dhp",
	Version: 1,
	Layout:  LayoutMPIINF3DHP,
	Joints:  NumJoints,
	Root:    2,
	Bones: []Bone{
		{1, 2}, {0, 1}, {3, 0}, {4, 3},
		{5, 0}, {6, 5}, {7, 6},
		{8, 0}, {9, 8}, {10, 9},
		{14, 2}, {12, 11}, {13, 12}, {11, 2}, {15, 14}, {16, 15},
	},
}

// H36MTopology is the Human3.6M 17 joint bone list, rooted at the hip.
var H36MTopology = Topology{
	Name:    "h36m",
	Version: 1,
	Layout:  LayoutH36M,
	Joints:  NumJoints,
	Root:    0,
	Bones: []Bone{
		{7, 0}, {8, 7}, {9, 8}, {10, 9},
		{14, 8}, {15, 14}, {16, 15},
		{11, 8}, {12, 11}, {13, 12},
		{1, 0}, {2, 1}, {3, 2},
		{4, 0}, {5, 4}, {6, 5},
	},
}

// Validate checks that the bones form a tree over every joint hanging from the root.
func (t *Topology) Validate() error {
	if t.Joints <= 0 {
		return errors.Errorf("topology %q has %d joints", t.Name, t.Joints)
	}
	if t.Root < 0 || t.Root >= t.Joints {
		return errors.Errorf("topology %q root %d out of range", t.Name, t.Root)
	}
	if len(t.Bones) != t.Joints-1 {
		return errors.Errorf("topology %q has %d bones, need %d", t.Name, len(t.Bones), t.Joints-1)
	}
	parent := make([]int, t.Joints)
	for i := range parent {
		parent[i] = -1
	}
	for k, b := range t.Bones {
		if b.Child < 0 || b.Child >= t.Joints || b.Parent < 0 || b.Parent >= t.Joints {
			return errors.Errorf("topology %q bone %d (%d, %d) out of range", t.Name, k, b.Child, b.Parent)
		}
		if b.Child == t.Root {
			return errors.Errorf("topology %q bone %d has the root %d as its child", t.Name, k, t.Root)
		}
		if parent[b.Child] != -1 {
			return errors.Errorf("topology %q joint %d is the child of more than one bone", t.Name, b.Child)
		}
		parent[b.Child] = b.Parent
	}
	// every joint must reach the root within Joints steps
	for j := 0; j < t.Joints; j++ {
		cur := j
		for steps := 0; cur != t.Root; steps++ {
			if steps >= t.Joints {
				return errors.Errorf("topology %q joint %d is part of a cycle", t.Name, j)
			}
			cur = parent[cur]
		}
	}
	return nil
}

// Vectorize returns one row per bone, in topology order, holding joint[child] - joint[parent]. s has one row per
// joint and any number of coordinates.
func (t *Topology) Vectorize(s mat.Matrix) (*mat.Dense, error) {
	rows, dims := s.Dims()
	if rows != t.Joints {
		return nil, errors.Errorf("topology %q needs %d joints, have %d", t.Name, t.Joints, rows)
	}
	out := mat.NewDense(len(t.Bones), dims, nil)
	for k, b := range t.Bones {
		for d := 0; d < dims; d++ {
			out.Set(k, d, s.At(b.Child, d)-s.At(b.Parent, d))
		}
	}
	return out, nil
}
