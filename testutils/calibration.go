package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

// CalibrationFile renders a rig calibration file with one camera block per intrinsic matrix. Each 3x3 row major
// matrix is written as the 4x4 homogeneous intrinsic the rig software emits.
func CalibrationFile(intrinsics [][9]float64) string {
	var sb strings.Builder
	sb.WriteString("Skeletool Camera Calibration File V1.0\n")
	for c, k := range intrinsics {
		full := []float64{
			k[0], k[1], k[2], 0,
			k[3], k[4], k[5], 0,
			k[6], k[7], k[8], 0,
			0, 0, 0, 1,
		}
		values := make([]string, len(full))
		for i, v := range full {
			values[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		fmt.Fprintf(&sb, "name          %d\n", c)
		sb.WriteString("  sensor      10 10\n")
		sb.WriteString("  size        2048 2048\n")
		sb.WriteString("  animated    0\n")
		fmt.Fprintf(&sb, "  intrinsic   %s \n", strings.Join(values, " "))
		sb.WriteString("  extrinsic   1 0 0 0 0 1 0 0 0 0 1 0 0 0 0 1\n")
		sb.WriteString("  radial      0\n")
	}
	return sb.String()
}

// WriteCalibrationFile writes CalibrationFile(intrinsics) into dir and returns its path.
func WriteCalibrationFile(tb testing.TB, dir string, intrinsics [][9]float64) string {
	tb.Helper()
	path := filepath.Join(dir, "camera.calibration")
	test.That(tb, os.WriteFile(path, []byte(CalibrationFile(intrinsics)), 0o600), test.ShouldBeNil)
	return path
}

// UniformCalibration returns n copies of CameraMatrix.
func UniformCalibration(n int) [][9]float64 {
	out := make([][9]float64, n)
	for i := range out {
		out[i] = CameraMatrix
	}
	return out
}
