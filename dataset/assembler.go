package dataset

import (
	"context"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/logging"
	"github.com/posegt/posegt/rimage/transform"
	"github.com/posegt/posegt/skeleton"
	"github.com/posegt/posegt/utils"
)

// Options configure an Assembler. The zero value of every field but the rig tables means "use the default".
type Options struct {
	Joints   skeleton.JointMap
	Topology skeleton.Topology
	// TPoseHeight is the reference subject height in meters.
	TPoseHeight float64
	// MetricScale converts 3D keypoints from annotation units to meters.
	MetricScale float64
	// MaxReprojectionError skips frames whose recovered pose reprojects worse than this many pixels. Zero disables it.
	MaxReprojectionError float64
	// RefineExtrinsics polishes every EPnP pose by minimizing its reprojection error.
	RefineExtrinsics bool
	// CheckImages skips frames whose image cannot be found.
	CheckImages bool
	// ImageRoot is prepended to relative image directories.
	ImageRoot  string
	CropMargin float64
	Workers    int
}

// DefaultOptions returns the options for the MPI-INF-3DHP rig.
func DefaultOptions() Options {
	return Options{
		Joints:      skeleton.MPIINF3DHPJointMap,
		Topology:    skeleton.MPIINF3DHPTopology,
		TPoseHeight: skeleton.DefaultHeight,
		MetricScale: skeleton.MetricScale,
		CropMargin:  CropMargin,
		Workers:     utils.ParallelFactor,
	}
}

// An Assembler turns annotations into samples. It is safe for concurrent use.
type Assembler struct {
	calibration *transform.CalibrationStore
	reference   *skeleton.Reference
	opts        Options
	logger      logging.Logger
}

// NewAssembler returns an Assembler reading intrinsics from calibration. The T-pose reference is built here, once,
// from the same topology observed poses are vectorized with.
func NewAssembler(calibration *transform.CalibrationStore, opts Options, logger logging.Logger) (*Assembler, error) {
	if calibration == nil {
		return nil, errors.New("assembler needs a calibration store")
	}
	if err := opts.Joints.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Joints.CheckTopology(&opts.Topology); err != nil {
		return nil, err
	}
	defaults := DefaultOptions()
	if opts.TPoseHeight == 0 {
		opts.TPoseHeight = defaults.TPoseHeight
	}
	if opts.MetricScale == 0 {
		opts.MetricScale = defaults.MetricScale
	}
	if opts.CropMargin == 0 {
		opts.CropMargin = defaults.CropMargin
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.MaxReprojectionError < 0 {
		return nil, errors.Errorf("max reprojection error cannot be negative, got %v", opts.MaxReprojectionError)
	}
	reference, err := skeleton.NewReference(opts.Topology, opts.TPoseHeight)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		calibration: calibration,
		reference:   reference,
		opts:        opts,
		logger:      logger,
	}, nil
}

// Reference returns the T-pose reference rotations are measured against.
func (a *Assembler) Reference() *skeleton.Reference {
	return a.reference
}

// Assemble builds one Result per annotation, in input order. Intrinsics for every camera in the batch are loaded
// before any frame is processed; a calibration failure aborts the batch. Every other failure only skips its frame.
func (a *Assembler) Assemble(ctx context.Context, anns []Annotation) ([]Result, error) {
	results := make([]Result, len(anns))
	valid := make([]Annotation, 0, len(anns))
	for i := range anns {
		if err := anns[i].Validate(a.opts.Joints.RawJoints); err != nil {
			results[i] = a.skip(i, &anns[i], SkipMalformedAnnotation, err)
			continue
		}
		valid = append(valid, anns[i])
	}

	intrinsics, err := a.loadIntrinsics(ctx, Cameras(valid))
	if err != nil {
		return nil, err
	}

	err = utils.GroupWorkParallelN(ctx, a.opts.Workers, len(anns), nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				if results[workNum].Skip != nil {
					return
				}
				ann := &anns[workNum]
				results[workNum] = a.assembleFrame(workNum, ann, intrinsics[ann.Camera])
			}, nil
		})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Assembler) loadIntrinsics(ctx context.Context, cameras []int) (map[int]*transform.PinholeCameraIntrinsics, error) {
	loaded := make([]*transform.PinholeCameraIntrinsics, len(cameras))
	fs := make([]utils.SimpleFunc, len(cameras))
	for i, c := range cameras {
		i, c := i, c
		fs[i] = func(ctx context.Context) error {
			params, err := a.calibration.Intrinsics(c)
			if err != nil {
				return err
			}
			loaded[i] = params
			return nil
		}
	}
	if _, err := utils.RunInParallel(ctx, fs); err != nil {
		return nil, errors.Wrap(err, "cannot load camera intrinsics")
	}
	out := make(map[int]*transform.PinholeCameraIntrinsics, len(cameras))
	for i, c := range cameras {
		out[c] = loaded[i]
	}
	return out, nil
}

func (a *Assembler) skip(index int, ann *Annotation, reason SkipReason, err error) Result {
	skipErr := &SkipError{Camera: ann.Camera, Frame: ann.Frame, Reason: reason, Err: err}
	a.logger.Debugw("skipping frame", "camera", ann.Camera, "frame", ann.Frame, "reason", reason, "error", err)
	return Result{Index: index, Skip: skipErr}
}

func (a *Assembler) assembleFrame(index int, ann *Annotation, intrinsics *transform.PinholeCameraIntrinsics) Result {
	world := ann.World()
	pixels := ann.Pixels()

	extrinsics, err := transform.SolvePnP(world, pixels, intrinsics)
	if err != nil {
		var calibErr *transform.CalibrationError
		if errors.As(err, &calibErr) {
			err = calibErr.WithCamera(ann.Camera)
		}
		return a.skip(index, ann, SkipExtrinsics, err)
	}
	if a.opts.RefineExtrinsics {
		refined, err := transform.RefinePnP(world, pixels, intrinsics, extrinsics)
		if err != nil {
			a.logger.Debugw("keeping unrefined pose", "camera", ann.Camera, "frame", ann.Frame, "error", err)
		} else {
			extrinsics = refined
		}
	}
	if a.opts.MaxReprojectionError > 0 && extrinsics.ReprojectionError > a.opts.MaxReprojectionError {
		return a.skip(index, ann, SkipReprojection, errors.Errorf(
			"reprojection error %.3fpx exceeds %.3fpx", extrinsics.ReprojectionError, a.opts.MaxReprojectionError))
	}

	root := a.reference.Topology.Root
	reduced3D, err := a.opts.Joints.Reduce(vectorsToDense(world))
	if err != nil {
		return a.skip(index, ann, SkipMalformedAnnotation, err)
	}
	camera3D, err := extrinsics.CamPose().ToCameraSpace(reduced3D)
	if err != nil {
		return a.skip(index, ann, SkipExtrinsics, err)
	}
	keypoints3D := skeleton.Scale(skeleton.Center(camera3D, root), a.opts.MetricScale)

	reduced2D, err := a.opts.Joints.Reduce(pointsToDense(ann.CropPixels()))
	if err != nil {
		return a.skip(index, ann, SkipMalformedAnnotation, err)
	}
	keypoints2D := skeleton.Center(reduced2D, root)

	bones, err := a.reference.Topology.Vectorize(keypoints3D)
	if err != nil {
		return a.skip(index, ann, SkipGeometry, err)
	}
	rotations, err := skeleton.AlignBones(a.reference, bones)
	if err != nil {
		return a.skip(index, ann, SkipGeometry, err)
	}

	imagePath := a.imagePath(ann.Directory)
	if a.opts.CheckImages {
		if err := checkImage(imagePath); err != nil {
			return a.skip(index, ann, SkipUnreadableImage, err)
		}
	}

	a.logger.Debugw("assembled frame",
		"camera", ann.Camera, "frame", ann.Frame, "reprojection_error_px", extrinsics.ReprojectionError)
	return Result{
		Index: index,
		Sample: &Sample{
			Camera:      ann.Camera,
			Frame:       ann.Frame,
			ImagePath:   imagePath,
			Crop:        SquareCrop(pixels, a.opts.CropMargin),
			Keypoints2D: keypoints2D,
			Keypoints3D: keypoints3D,
			Rotations:   rotations,
			Extrinsics:  extrinsics,
		},
	}
}

func (a *Assembler) imagePath(directory string) string {
	if a.opts.ImageRoot == "" || filepath.IsAbs(directory) {
		return directory
	}
	return filepath.Join(a.opts.ImageRoot, directory)
}

func checkImage(path string) error {
	if path == "" {
		return errors.New("annotation has no image reference")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.Errorf("%q is a directory", path)
	}
	return nil
}

func vectorsToDense(points []r3.Vector) *mat.Dense {
	out := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		out.SetRow(i, []float64{p.X, p.Y, p.Z})
	}
	return out
}

func pointsToDense(points []r2.Point) *mat.Dense {
	out := mat.NewDense(len(points), 2, nil)
	for i, p := range points {
		out.SetRow(i, []float64{p.X, p.Y})
	}
	return out
}
