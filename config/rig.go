package config

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/posegt/posegt/skeleton"
)

// Rig presets.
const (
	// RigMPIINF3DHP is the default preset.
	RigMPIINF3DHP = "mpi_inf_3dhp"
	// RigMPIINF3DHPH36M reduces MPI-INF-3DHP joints into the Human3.6M joint order and bone list.
	RigMPIINF3DHPH36M = "mpi_inf_3dhp_h36m"
)

// RigPresets lists every rig preset.
var RigPresets = []string{RigMPIINF3DHP, RigMPIINF3DHPH36M}

// Rig is the capture rig's joint map and the bone topology it is labelled with.
type Rig struct {
	Preset   string            `json:"preset"`
	Joints   skeleton.JointMap `json:"joints"`
	Topology skeleton.Topology `json:"topology"`
}

func rigPreset(name string) (Rig, error) {
	rig := Rig{Preset: name}
	switch name {
	case "", RigMPIINF3DHP:
		rig.Preset = RigMPIINF3DHP
		rig.Joints = skeleton.MPIINF3DHPJointMap
		rig.Topology = skeleton.MPIINF3DHPTopology
	case RigMPIINF3DHPH36M:
		rig.Joints = skeleton.MPIINF3DHPToH36MJointMap
		rig.Topology = skeleton.H36MTopology
	default:
		return Rig{}, errors.Errorf("unknown rig preset %q", name)
	}
	rig.Topology.Bones = append([]skeleton.Bone(nil), rig.Topology.Bones...)
	return rig, nil
}

// DecodeRig builds a rig from config attributes. The "preset" attribute picks the starting tables and "joints" and
// "topology" override their fields; a given "bones" list replaces the preset's bones entirely.
func DecodeRig(attributes map[string]interface{}) (Rig, error) {
	preset, _ := attributes["preset"].(string)
	if raw, ok := attributes["preset"]; ok && preset == "" {
		return Rig{}, errors.Errorf("rig preset must be a string, got %T", raw)
	}
	rig, err := rigPreset(preset)
	if err != nil {
		return Rig{}, err
	}
	if topology, ok := attributes["topology"].(map[string]interface{}); ok {
		if _, ok := topology["bones"]; ok {
			rig.Topology.Bones = nil
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &rig,
		ErrorUnused: true,
	})
	if err != nil {
		return Rig{}, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return Rig{}, errors.Wrap(err, "cannot decode rig")
	}
	if err := rig.Joints.Validate(); err != nil {
		return Rig{}, err
	}
	if err := rig.Joints.CheckTopology(&rig.Topology); err != nil {
		return Rig{}, err
	}
	if err := rig.Topology.Validate(); err != nil {
		return Rig{}, err
	}
	return rig, nil
}
