// Package skeleton reduces raw capture joints to the canonical 17 joint skeleton, normalizes poses, splits them
// into bones, and derives per-bone rotations against a T-pose reference.
package skeleton

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// NumJoints is the size of the canonical skeleton.
const NumJoints = 17

// Computed marks a canonical slot that is not copied from a raw joint.
const Computed = -1

// Midpoint fills Slot with the mean of canonical slots A and B.
type Midpoint struct {
	Slot int `json:"slot"`
	A    int `json:"a"`
	B    int `json:"b"`
}

// JointMap selects the canonical joints out of a raw capture layout. Sources[s] is the raw joint copied into
// canonical slot s, or Computed for the midpoint slot. Layout names the slot order the map produces and must match
// the layout of the topology the skeleton is vectorized with.
type JointMap struct {
	Name      string         `json:"name"`
	Version   int            `json:"version"`
	Layout    string         `json:"layout"`
	RawJoints int            `json:"raw_joints"`
	Sources   [NumJoints]int `json:"sources"`
	Midpoint  Midpoint       `json:"midpoint"`
}

// MPIINF3DHPJointMap reduces the 28 joint MPI-INF-3DHP layout. The thorax is the midpoint of the shoulders.
var MPIINF3DHPJointMap = JointMap{
	Name:      "mpi_inf_3dhp",
	Version:   1,
	Layout:    LayoutMPIINF3DHP,
	RawJoints: 28,
	Sources: [NumJoints]int{
		Computed,
		2, 4, 5, 6,
		9, 10, 11,
		14, 15, 16,
		18, 19, 20,
		23, 24, 25,
	},
	Midpoint: Midpoint{Slot: 0, A: 5, B: 8},
}

// MPIINF3DHPToH36MJointMap reduces the 28 joint MPI-INF-3DHP layout into the Human3.6M slot order: pelvis first,
// then the right and left legs, spine, thorax, neck, head, left and right arms. The thorax is the midpoint of the
// shoulders.
var MPIINF3DHPToH36MJointMap = JointMap{
	Name:      "mpi_inf_3dhp_h36m",
	Version:   1,
	Layout:    LayoutH36M,
	RawJoints: 28,
	Sources: [NumJoints]int{
		4,
		23, 24, 25,
		18, 19, 20,
		2, Computed, 5, 6,
		9, 10, 11,
		14, 15, 16,
	},
	Midpoint: Midpoint{Slot: 8, A: 11, B: 14},
}

// CheckTopology checks that skeletons reduced by jm can be vectorized with t.
func (jm *JointMap) CheckTopology(t *Topology) error {
	if t.Joints != NumJoints {
		return errors.Errorf("topology %q has %d joints, joint map %q produces %d", t.Name, t.Joints, jm.Name, NumJoints)
	}
	if jm.Layout != t.Layout {
		return errors.Errorf("joint map %q produces layout %q, topology %q needs %q", jm.Name, jm.Layout, t.Name, t.Layout)
	}
	return nil
}

// Validate checks that every slot is either copied from an existing raw joint or is the midpoint slot.
func (jm *JointMap) Validate() error {
	if jm.RawJoints <= 0 {
		return errors.Errorf("joint map %q has %d raw joints", jm.Name, jm.RawJoints)
	}
	mp := jm.Midpoint
	for _, slot := range []int{mp.Slot, mp.A, mp.B} {
		if slot < 0 || slot >= NumJoints {
			return errors.Errorf("joint map %q midpoint slot %d out of range", jm.Name, slot)
		}
	}
	if mp.A == mp.Slot || mp.B == mp.Slot {
		return errors.Errorf("joint map %q midpoint of slot %d depends on itself", jm.Name, mp.Slot)
	}
	for slot, src := range jm.Sources {
		if slot == mp.Slot {
			if src != Computed {
				return errors.Errorf("joint map %q midpoint slot %d also has raw source %d", jm.Name, slot, src)
			}
			continue
		}
		if src < 0 || src >= jm.RawJoints {
			return errors.Errorf("joint map %q slot %d has raw source %d, need [0, %d)", jm.Name, slot, src, jm.RawJoints)
		}
	}
	return nil
}

// Reduce selects the canonical skeleton out of a raw joint matrix with one row per raw joint and 2 (pixels) or
// 3 (world) columns. The result always has NumJoints rows.
func (jm *JointMap) Reduce(raw mat.Matrix) (*mat.Dense, error) {
	rows, dims := raw.Dims()
	if rows != jm.RawJoints {
		return nil, errors.Errorf("joint map %q needs %d raw joints, have %d", jm.Name, jm.RawJoints, rows)
	}
	if dims != 2 && dims != 3 {
		return nil, errors.Errorf("joints must have 2 or 3 coordinates, have %d", dims)
	}
	out := mat.NewDense(NumJoints, dims, nil)
	for slot, src := range jm.Sources {
		if src == Computed {
			continue
		}
		for d := 0; d < dims; d++ {
			out.Set(slot, d, raw.At(src, d))
		}
	}
	// sources are filled first so the midpoint reads reduced slots
	mp := jm.Midpoint
	for d := 0; d < dims; d++ {
		out.Set(mp.Slot, d, (out.At(mp.A, d)+out.At(mp.B, d))/2)
	}
	return out, nil
}
