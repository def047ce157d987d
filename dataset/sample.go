package dataset

import (
	"image"

	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/ml"
	"github.com/posegt/posegt/rimage/transform"
)

// Tensor names of a sample.
const (
	Keypoints2DTensor = "keypoints_2d"
	Keypoints3DTensor = "keypoints_3d"
	RotationsTensor   = "rotations"
)

// Sample is one labelled frame. Keypoints are root centered canonical joints: 2D in pixels relative to the bounding
// box origin, 3D in camera space scaled to meters. Rotations holds one row major rotation per bone, in topology order.
type Sample struct {
	Camera      int
	Frame       int
	ImagePath   string
	Crop        image.Rectangle
	Keypoints2D *mat.Dense
	Keypoints3D *mat.Dense
	Rotations   *mat.Dense
	Extrinsics  *transform.Extrinsics
}

// Tensors returns the sample's numeric arrays as model tensors. Rotations are shaped bones x 3 x 3.
func (s *Sample) Tensors() (ml.Tensors, error) {
	kp2D, err := ml.NewTensorFromMatrix(s.Keypoints2D)
	if err != nil {
		return nil, err
	}
	kp3D, err := ml.NewTensorFromMatrix(s.Keypoints3D)
	if err != nil {
		return nil, err
	}
	bones, _ := s.Rotations.Dims()
	rotations, err := ml.NewTensorFromMatrix(s.Rotations, bones, 3, 3)
	if err != nil {
		return nil, err
	}
	return ml.Tensors{
		Keypoints2DTensor: kp2D,
		Keypoints3DTensor: kp3D,
		RotationsTensor:   rotations,
	}, nil
}

// Result is the outcome of one annotation: exactly one of Sample and Skip is set. Index is the annotation's position
// in the assembled batch.
type Result struct {
	Index  int
	Sample *Sample
	Skip   *SkipError
}

// Samples drops skipped results and returns the samples in input order.
func Samples(results []Result) []*Sample {
	samples := make([]*Sample, 0, len(results))
	for _, r := range results {
		if r.Sample != nil {
			samples = append(samples, r.Sample)
		}
	}
	return samples
}
