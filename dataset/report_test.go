package dataset

import (
	"errors"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/logging"
	"github.com/posegt/posegt/rimage/transform"
	"github.com/posegt/posegt/skeleton"
)

func sampleWithError(frame int, px float64) Result {
	return Result{Index: frame, Sample: &Sample{
		Frame:       frame,
		Keypoints2D: mat.NewDense(skeleton.NumJoints, 2, nil),
		Keypoints3D: mat.NewDense(skeleton.NumJoints, 3, nil),
		Rotations:   mat.NewDense(skeleton.NumJoints-1, 9, nil),
		Extrinsics:  &transform.Extrinsics{ReprojectionError: px},
	}}
}

func skipped(frame int, reason SkipReason) Result {
	return Result{Index: frame, Skip: &SkipError{Frame: frame, Reason: reason, Err: errors.New("no")}}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		sampleWithError(0, 3),
		skipped(1, SkipGeometry),
		sampleWithError(2, 1),
		sampleWithError(3, 4),
		skipped(4, SkipGeometry),
		skipped(5, SkipUnreadableImage),
		sampleWithError(6, 2),
	}
	report, err := Summarize(results)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Total, test.ShouldEqual, 7)
	test.That(t, report.Emitted, test.ShouldEqual, 4)
	test.That(t, report.SkippedTotal(), test.ShouldEqual, 3)
	test.That(t, report.Skipped, test.ShouldResemble, map[SkipReason]int{SkipGeometry: 2, SkipUnreadableImage: 1})
	test.That(t, report.Reprojection.Mean, test.ShouldAlmostEqual, 2.5)
	test.That(t, report.Reprojection.Median, test.ShouldAlmostEqual, 2.5)
	test.That(t, report.Reprojection.P95, test.ShouldAlmostEqual, 3.5)
	test.That(t, report.Reprojection.Max, test.ShouldEqual, 4.0)

	logger, logs := logging.NewObservedTestLogger(t)
	report.Log(logger)
	test.That(t, logs.FilterMessage("assembled dataset").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("skipped frames").Len(), test.ShouldEqual, 2)
}

func TestSummarizeNothingEmitted(t *testing.T) {
	report, err := Summarize([]Result{skipped(0, SkipExtrinsics)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Emitted, test.ShouldEqual, 0)
	test.That(t, report.Reprojection, test.ShouldResemble, ReprojectionStats{})

	_, err = Summarize([]Result{{Index: 3}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSampleTensors(t *testing.T) {
	r := sampleWithError(0, 1)
	r.Sample.Rotations.Set(2, 4, 1)
	r.Sample.Keypoints3D.Set(16, 2, -0.25)

	tensors, err := r.Sample.Tensors()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tensors.Names(), test.ShouldResemble, []string{Keypoints2DTensor, Keypoints3DTensor, RotationsTensor})
	test.That(t, []int(tensors[Keypoints2DTensor].Shape()), test.ShouldResemble, []int{17, 2})
	test.That(t, []int(tensors[Keypoints3DTensor].Shape()), test.ShouldResemble, []int{17, 3})
	test.That(t, []int(tensors[RotationsTensor].Shape()), test.ShouldResemble, []int{16, 3, 3})

	v, err := tensors[RotationsTensor].At(2, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.0)
	flat, err := tensors.Float64s(Keypoints3DTensor)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, flat[len(flat)-1], test.ShouldEqual, -0.25)
}

func TestSamplesFilter(t *testing.T) {
	results := []Result{sampleWithError(0, 1), skipped(1, SkipExtrinsics), sampleWithError(2, 1)}
	samples := Samples(results)
	test.That(t, samples, test.ShouldHaveLength, 2)
	test.That(t, samples[0].Frame, test.ShouldEqual, 0)
	test.That(t, samples[1].Frame, test.ShouldEqual, 2)
	test.That(t, Samples(nil), test.ShouldBeEmpty)
}
