// Package dataset assembles rotation labelled training samples from multi-camera joint annotations.
package dataset

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/posegt/posegt/utils"
)

// Annotation is one camera's view of one captured frame. Points are in the capture rig's raw joint order; 2D points
// are pixels in the full camera image and 3D points are world millimeters.
type Annotation struct {
	Camera    int         `json:"camera"`
	Frame     int         `json:"frame"`
	BBoxStart [2]float64  `json:"bbox_start"`
	Points2D  [][]float64 `json:"pts_2d"`
	Points3D  [][]float64 `json:"pts_3d"`
	Directory string      `json:"directory"`
}

// ReadAnnotations decodes a stream of JSON annotation objects, one per frame.
func ReadAnnotations(r io.Reader) ([]Annotation, error) {
	dec := json.NewDecoder(r)
	var anns []Annotation
	for {
		var ann Annotation
		if err := dec.Decode(&ann); err != nil {
			if errors.Is(err, io.EOF) {
				return anns, nil
			}
			return nil, errors.Wrapf(err, "cannot decode annotation %d", len(anns))
		}
		anns = append(anns, ann)
	}
}

// LoadAnnotations reads and concatenates the annotation files at paths.
func LoadAnnotations(paths ...string) ([]Annotation, error) {
	var all []Annotation
	for _, path := range paths {
		anns, err := loadAnnotationFile(path)
		if err != nil {
			return nil, err
		}
		all = append(all, anns...)
	}
	return all, nil
}

func loadAnnotationFile(path string) (anns []Annotation, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	anns, err = ReadAnnotations(f)
	if err != nil {
		return nil, errors.Wrapf(err, "in %q", path)
	}
	return anns, nil
}

// FilterCameras returns the annotations taken by one of cameras, in input order.
func FilterCameras(anns []Annotation, cameras []int) []Annotation {
	keep := make(map[int]bool, len(cameras))
	for _, c := range cameras {
		keep[c] = true
	}
	var out []Annotation
	for _, ann := range anns {
		if keep[ann.Camera] {
			out = append(out, ann)
		}
	}
	return out
}

// Cameras returns the distinct camera indices of anns in ascending order.
func Cameras(anns []Annotation) []int {
	seen := map[int]bool{}
	var cameras []int
	for _, ann := range anns {
		if !seen[ann.Camera] {
			seen[ann.Camera] = true
			cameras = append(cameras, ann.Camera)
		}
	}
	sort.Ints(cameras)
	return cameras
}

// Validate checks that the annotation carries rawJoints finite 2D and 3D points.
func (ann *Annotation) Validate(rawJoints int) error {
	if ann.Camera < 0 {
		return errors.Errorf("camera index %d is negative", ann.Camera)
	}
	if len(ann.Points2D) != rawJoints {
		return errors.Errorf("have %d 2D joints, need %d", len(ann.Points2D), rawJoints)
	}
	if len(ann.Points3D) != rawJoints {
		return errors.Errorf("have %d 3D joints, need %d", len(ann.Points3D), rawJoints)
	}
	for i, p := range ann.Points2D {
		if len(p) != 2 || !utils.IsFinite(p...) {
			return errors.Errorf("2D joint %d is malformed: %v", i, p)
		}
	}
	for i, p := range ann.Points3D {
		if len(p) != 3 || !utils.IsFinite(p...) {
			return errors.Errorf("3D joint %d is malformed: %v", i, p)
		}
	}
	if !utils.IsFinite(ann.BBoxStart[:]...) {
		return errors.Errorf("bounding box origin %v is not finite", ann.BBoxStart)
	}
	return nil
}

// Pixels returns the 2D joints in full image coordinates.
func (ann *Annotation) Pixels() []r2.Point {
	pts := make([]r2.Point, len(ann.Points2D))
	for i, p := range ann.Points2D {
		pts[i] = r2.Point{X: p[0], Y: p[1]}
	}
	return pts
}

// CropPixels returns the 2D joints relative to the bounding box origin.
func (ann *Annotation) CropPixels() []r2.Point {
	origin := r2.Point{X: ann.BBoxStart[0], Y: ann.BBoxStart[1]}
	pts := ann.Pixels()
	for i := range pts {
		pts[i] = pts[i].Sub(origin)
	}
	return pts
}

// World returns the 3D joints in world millimeters.
func (ann *Annotation) World() []r3.Vector {
	pts := make([]r3.Vector, len(ann.Points3D))
	for i, p := range ann.Points3D {
		pts[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
	}
	return pts
}
