package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/logging"
)

const (
	// linesPerCamera is the size of one camera block in a rig calibration file.
	linesPerCamera = 7
	// intrinsicLineOffset is the line of the intrinsic matrix within a camera block, counting the file header.
	intrinsicLineOffset = 5
	// intrinsicSkipTokens is the number of tokens before the first matrix value. The label is followed by three
	// spaces, so splitting on single spaces yields the label and two empty tokens.
	intrinsicSkipTokens = 3
	intrinsicRows       = 4
)

// ParseError is returned when a camera's intrinsic matrix cannot be read from a calibration file.
type ParseError struct {
	Path   string
	Camera int
	// Line is the zero-based line the intrinsics were expected on, or -1 if the file could not be read.
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	path := e.Path
	if path == "" {
		path = "<reader>"
	}
	if e.Line < 0 {
		return fmt.Sprintf("cannot read intrinsics for camera %d from %s: %v", e.Camera, path, e.Err)
	}
	return fmt.Sprintf("cannot parse intrinsics for camera %d from %s line %d: %v", e.Camera, path, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IntrinsicLine is the zero-based line holding camera's intrinsic matrix.
func IntrinsicLine(camera int) int {
	return linesPerCamera*camera + intrinsicLineOffset
}

// ParseIntrinsics reads the intrinsic matrix of camera from a rig calibration file. Every line is trimmed, the
// camera's line is split on single spaces, and the values after the label are parsed at single precision and laid
// out row major in four rows. The top-left 3x3 block is the camera matrix.
func ParseIntrinsics(r io.Reader, camera int) (*PinholeCameraIntrinsics, error) {
	if camera < 0 {
		return nil, &ParseError{Camera: camera, Line: -1, Err: errors.New("camera index is negative")}
	}
	target := IntrinsicLine(camera)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var line string
	found := false
	for i := 0; scanner.Scan(); i++ {
		if i == target {
			line = strings.TrimSpace(scanner.Text())
			found = true
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Camera: camera, Line: -1, Err: err}
	}
	if !found {
		return nil, &ParseError{Camera: camera, Line: target, Err: errors.New("file has no such line")}
	}

	k, err := parseIntrinsicLine(line)
	if err != nil {
		return nil, &ParseError{Camera: camera, Line: target, Err: err}
	}
	params, err := NewPinholeCameraIntrinsicsFromMatrix(k)
	if err != nil {
		return nil, &ParseError{Camera: camera, Line: target, Err: err}
	}
	return params, nil
}

func parseIntrinsicLine(line string) (*mat.Dense, error) {
	tokens := strings.Split(line, " ")
	if len(tokens) < intrinsicSkipTokens {
		return nil, errors.Errorf("line %q has no intrinsic values", line)
	}
	tokens = tokens[intrinsicSkipTokens:]
	if len(tokens)%intrinsicRows != 0 || len(tokens) < 3*intrinsicRows {
		return nil, errors.Errorf("have %d intrinsic values, need a multiple of %d and at least %d",
			len(tokens), intrinsicRows, 3*intrinsicRows)
	}
	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "intrinsic value %d", i)
		}
		values[i] = v
	}
	full := mat.NewDense(intrinsicRows, len(values)/intrinsicRows, values)
	return mat.DenseCopyOf(full.Slice(0, 3, 0, 3)), nil
}

// CalibrationStore resolves camera intrinsics from a rig calibration file. Each camera is parsed at most once;
// concurrent first requests for the same camera share one parse. Failures are not cached.
type CalibrationStore struct {
	path   string
	logger logging.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[int]*PinholeCameraIntrinsics
}

// NewCalibrationStore returns a store reading from the calibration file at path.
func NewCalibrationStore(path string, logger logging.Logger) *CalibrationStore {
	return &CalibrationStore{
		path:   path,
		logger: logger,
		cache:  map[int]*PinholeCameraIntrinsics{},
	}
}

// Path returns the calibration file the store reads from.
func (cs *CalibrationStore) Path() string {
	return cs.path
}

// Intrinsics returns the intrinsics of camera. The returned value is shared and must not be modified.
func (cs *CalibrationStore) Intrinsics(camera int) (*PinholeCameraIntrinsics, error) {
	if params, ok := cs.cached(camera); ok {
		return params, nil
	}
	v, err, shared := cs.group.Do(strconv.Itoa(camera), func() (interface{}, error) {
		if params, ok := cs.cached(camera); ok {
			return params, nil
		}
		params, err := cs.load(camera)
		if err != nil {
			return nil, err
		}
		cs.mu.Lock()
		cs.cache[camera] = params
		cs.mu.Unlock()
		cs.logger.Debugw("parsed camera intrinsics", "camera", camera, "fx", params.Fx, "fy", params.Fy,
			"ppx", params.Ppx, "ppy", params.Ppy)
		return params, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		cs.logger.Debugw("shared intrinsics parse", "camera", camera)
	}
	return v.(*PinholeCameraIntrinsics), nil
}

// Cameras returns the cameras parsed so far.
func (cs *CalibrationStore) Cameras() []int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	cameras := make([]int, 0, len(cs.cache))
	for c := range cs.cache {
		cameras = append(cameras, c)
	}
	return cameras
}

func (cs *CalibrationStore) cached(camera int) (*PinholeCameraIntrinsics, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	params, ok := cs.cache[camera]
	return params, ok
}

func (cs *CalibrationStore) load(camera int) (params *PinholeCameraIntrinsics, err error) {
	//nolint:gosec
	f, err := os.Open(cs.path)
	if err != nil {
		return nil, &ParseError{Path: cs.path, Camera: camera, Line: -1, Err: err}
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = multierr.Combine(err, errors.Wrapf(closeErr, "closing %s", cs.path))
		}
	}()
	params, err = ParseIntrinsics(f, camera)
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		parseErr.Path = cs.path
	}
	return params, err
}
