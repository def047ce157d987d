package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/posegt/posegt/spatialmath"
	"github.com/posegt/posegt/utils"
)

const (
	// gaussNewtonIterations is the number of refinement steps applied to each beta approximation.
	gaussNewtonIterations = 4
	// coplanarTolerance is the smallest ratio of the weakest to the strongest principal variance of the world
	// points for which EPnP control points are still well defined.
	coplanarTolerance = 1e-10
	// svdRcond is the relative singular value threshold used to rank the least squares systems.
	svdRcond = 1e-12
)

// UnknownCamera is the camera index of a CalibrationError raised without camera context.
const UnknownCamera = -1

// CalibrationError is returned when a camera pose cannot be recovered from point correspondences.
type CalibrationError struct {
	Camera int
	Reason string
	Err    error
}

func newCalibrationError(format string, args ...interface{}) *CalibrationError {
	return &CalibrationError{Camera: UnknownCamera, Reason: fmt.Sprintf(format, args...)}
}

func (e *CalibrationError) Error() string {
	msg := "cannot estimate camera pose"
	if e.Camera != UnknownCamera {
		msg = fmt.Sprintf("cannot estimate pose of camera %d", e.Camera)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CalibrationError) Unwrap() error {
	return e.Err
}

// WithCamera returns a copy of the error attributed to camera.
func (e *CalibrationError) WithCamera(camera int) *CalibrationError {
	out := *e
	out.Camera = camera
	return &out
}

// Extrinsics is a world to camera pose. Rotation is an axis angle (Rodrigues) vector whose length is the angle in
// radians. ReprojectionError is the mean pixel distance of the correspondences the pose was estimated from.
type Extrinsics struct {
	Rotation          r3.Vector `json:"rotation"`
	Translation       r3.Vector `json:"translation"`
	ReprojectionError float64   `json:"reprojection_error_px"`
}

// RotationMatrix exponentiates the rotation vector.
func (e *Extrinsics) RotationMatrix() *spatialmath.RotationMatrix {
	return spatialmath.R3ToR4(e.Rotation).RotationMatrix()
}

// CamPose returns the pose as a 3x4 [R|t] camera pose.
func (e *Extrinsics) CamPose() *CamPose {
	pose, err := NewCamPose(e.RotationMatrix().Dense(), mat.NewVecDense(3, []float64{
		e.Translation.X, e.Translation.Y, e.Translation.Z,
	}))
	if err != nil {
		// dimensions are fixed above
		panic(err)
	}
	return pose
}

func (e *Extrinsics) isFinite() bool {
	return utils.IsFinite(
		e.Rotation.X, e.Rotation.Y, e.Rotation.Z,
		e.Translation.X, e.Translation.Y, e.Translation.Z,
		e.ReprojectionError,
	)
}

// SolvePnP estimates the pose of a distortion free camera from at least four non-coplanar world points and their
// pixel observations with EPnP (Lepetit, Moreno-Noguer and Fua, 2009). The world points are expressed through four
// control points; the control points in the camera frame span the null space of a 2Nx12 system and are recovered
// from the null space through three approximations of the kernel weights, each refined with Gauss-Newton. The
// candidate pose with the lowest reprojection error is returned. With exactly four correspondences the P3P
// solutions of the first three points are also scored, the fourth point selecting among them.
func SolvePnP(object []r3.Vector, image []r2.Point, intrinsics *PinholeCameraIntrinsics) (*Extrinsics, error) {
	if len(object) != len(image) {
		return nil, newCalibrationError("have %d world points but %d image points", len(object), len(image))
	}
	if len(object) < 4 {
		return nil, newCalibrationError("need at least 4 correspondences, have %d", len(object))
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, &CalibrationError{Camera: UnknownCamera, Reason: "invalid intrinsics", Err: err}
	}
	for i := range object {
		if !utils.IsFinite(object[i].X, object[i].Y, object[i].Z, image[i].X, image[i].Y) {
			return nil, newCalibrationError("correspondence %d is not finite", i)
		}
	}

	pnp := &epnp{
		intrinsics: intrinsics,
		pws:        object,
		pixels:     image,
		us:         make([]r2.Point, len(image)),
	}
	for i, px := range image {
		pnp.us[i] = intrinsics.normalize(px)
	}
	return pnp.solve()
}

type epnp struct {
	intrinsics *PinholeCameraIntrinsics
	pws        []r3.Vector
	pixels     []r2.Point
	// us are the pixels on the normalized image plane.
	us []r2.Point

	cws    [4]r3.Vector
	alphas [][4]float64
}

type poseCandidate struct {
	rotation    *mat.Dense
	translation r3.Vector
	err         float64
}

func (pnp *epnp) solve() (*Extrinsics, error) {
	if err := pnp.chooseControlPoints(); err != nil {
		return nil, err
	}
	if err := pnp.computeBarycentricCoordinates(); err != nil {
		return nil, err
	}

	m := pnp.fillM()
	var mtm mat.SymDense
	mtm.SymOuterK(1, m.T())
	var eig mat.EigenSym
	if ok := eig.Factorize(&mtm, true); !ok {
		return nil, newCalibrationError("failed to factorize M^T M")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// eigenvalues are ascending, so the first four eigenvectors span the approximate null space
	var kernel [4][12]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 12; j++ {
			kernel[i][j] = vecs.At(j, i)
		}
	}

	l := computeL6x10(&kernel)
	rho := pnp.computeRho()

	var best *poseCandidate
	for _, approx := range []func(*mat.Dense, []float64) ([4]float64, error){
		findBetasApprox1, findBetasApprox2, findBetasApprox3,
	} {
		betas, err := approx(l, rho)
		if err != nil {
			continue
		}
		betas = gaussNewton(l, rho, betas)
		candidate, err := pnp.computeRAndT(&kernel, betas)
		if err != nil || math.IsNaN(candidate.err) || math.IsInf(candidate.err, 0) {
			continue
		}
		if best == nil || candidate.err < best.err {
			best = candidate
		}
	}
	// four points pin the kernel down too loosely for the approximations above
	if len(pnp.pws) == 4 {
		for _, candidate := range pnp.p3pCandidates() {
			if best == nil || candidate.err < best.err {
				best = candidate
			}
		}
	}
	if best == nil {
		return nil, newCalibrationError("no candidate pose could be recovered")
	}

	rm, err := spatialmath.NewRotationMatrixFromDense(best.rotation)
	if err != nil {
		return nil, &CalibrationError{Camera: UnknownCamera, Reason: "bad rotation", Err: err}
	}
	ext := &Extrinsics{
		Rotation:          rm.AxisAngles().ToR3(),
		Translation:       best.translation,
		ReprojectionError: best.err,
	}
	if !ext.isFinite() {
		return nil, newCalibrationError("solution is not finite")
	}
	return ext, nil
}

// chooseControlPoints places the first control point at the centroid of the world points and the others along
// their principal directions, scaled by the standard deviation along each.
func (pnp *epnp) chooseControlPoints() error {
	n := float64(len(pnp.pws))
	var c0 r3.Vector
	for _, p := range pnp.pws {
		c0 = c0.Add(p)
	}
	c0 = c0.Mul(1 / n)

	cov := mat.NewSymDense(3, nil)
	for _, p := range pnp.pws {
		d := p.Sub(c0)
		cov.SymRankOne(cov, 1, mat.NewVecDense(3, []float64{d.X, d.Y, d.Z}))
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return newCalibrationError("failed to factorize world point covariance")
	}
	values := eig.Values(nil)
	if values[2] <= 0 || values[0]/values[2] < coplanarTolerance {
		return newCalibrationError("world points are coplanar or collinear")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	pnp.cws[0] = c0
	for i := 1; i < 4; i++ {
		col := 3 - i
		k := math.Sqrt(values[col] / n)
		dir := r3.Vector{X: vecs.At(0, col), Y: vecs.At(1, col), Z: vecs.At(2, col)}
		pnp.cws[i] = c0.Add(dir.Mul(k))
	}
	return nil
}

// computeBarycentricCoordinates expresses every world point as a weighted sum of the control points.
func (pnp *epnp) computeBarycentricCoordinates() error {
	cc := mat.NewDense(3, 3, nil)
	for j := 1; j < 4; j++ {
		d := pnp.cws[j].Sub(pnp.cws[0])
		cc.Set(0, j-1, d.X)
		cc.Set(1, j-1, d.Y)
		cc.Set(2, j-1, d.Z)
	}
	var ccInv mat.Dense
	if err := ccInv.Inverse(cc); err != nil {
		return &CalibrationError{Camera: UnknownCamera, Reason: "control points are degenerate", Err: err}
	}

	pnp.alphas = make([][4]float64, len(pnp.pws))
	for i, p := range pnp.pws {
		d := p.Sub(pnp.cws[0])
		a := &pnp.alphas[i]
		for j := 0; j < 3; j++ {
			a[j+1] = ccInv.At(j, 0)*d.X + ccInv.At(j, 1)*d.Y + ccInv.At(j, 2)*d.Z
		}
		a[0] = 1 - a[1] - a[2] - a[3]
	}
	return nil
}

// fillM builds the 2Nx12 system whose null space holds the camera frame control points.
func (pnp *epnp) fillM() *mat.Dense {
	m := mat.NewDense(2*len(pnp.pws), 12, nil)
	for i, u := range pnp.us {
		for j, a := range pnp.alphas[i] {
			m.Set(2*i, 3*j, a)
			m.Set(2*i, 3*j+2, -a*u.X)
			m.Set(2*i+1, 3*j+1, a)
			m.Set(2*i+1, 3*j+2, -a*u.Y)
		}
	}
	return m
}

// controlPointPairs are the six pairs of control points whose distances constrain the kernel weights.
var controlPointPairs = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

// computeRho returns the squared distances between the world control points.
func (pnp *epnp) computeRho() []float64 {
	rho := make([]float64, len(controlPointPairs))
	for k, pair := range controlPointPairs {
		d := pnp.cws[pair[0]].Sub(pnp.cws[pair[1]])
		rho[k] = d.Norm2()
	}
	return rho
}

// computeL6x10 returns the coefficients of the squared control point distances as quadratic forms in the four
// kernel weights, ordered b00 b01 b11 b02 b12 b22 b03 b13 b23 b33.
func computeL6x10(kernel *[4][12]float64) *mat.Dense {
	l := mat.NewDense(6, 10, nil)
	var dv [4][6]r3.Vector
	for i := 0; i < 4; i++ {
		for k, pair := range controlPointPairs {
			a, b := 3*pair[0], 3*pair[1]
			dv[i][k] = r3.Vector{
				X: kernel[i][a] - kernel[i][b],
				Y: kernel[i][a+1] - kernel[i][b+1],
				Z: kernel[i][a+2] - kernel[i][b+2],
			}
		}
	}
	for k := 0; k < 6; k++ {
		l.SetRow(k, []float64{
			dv[0][k].Dot(dv[0][k]),
			2 * dv[0][k].Dot(dv[1][k]),
			dv[1][k].Dot(dv[1][k]),
			2 * dv[0][k].Dot(dv[2][k]),
			2 * dv[1][k].Dot(dv[2][k]),
			dv[2][k].Dot(dv[2][k]),
			2 * dv[0][k].Dot(dv[3][k]),
			2 * dv[1][k].Dot(dv[3][k]),
			2 * dv[2][k].Dot(dv[3][k]),
			dv[3][k].Dot(dv[3][k]),
		})
	}
	return l
}

// leastSquares returns the minimum norm solution of a*x = b.
func leastSquares(a mat.Matrix, b []float64) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("failed to factorize least squares system")
	}
	rank := svd.Rank(svdRcond)
	if rank == 0 {
		return nil, errors.New("zero rank system")
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(len(b), b), rank)
	return x.RawVector().Data, nil
}

func selectColumns(l *mat.Dense, cols ...int) *mat.Dense {
	rows, _ := l.Dims()
	out := mat.NewDense(rows, len(cols), nil)
	for i := 0; i < rows; i++ {
		for j, c := range cols {
			out.Set(i, j, l.At(i, c))
		}
	}
	return out
}

// findBetasApprox1 assumes a one dimensional kernel and solves for [b00 b01 b02 b03].
func findBetasApprox1(l *mat.Dense, rho []float64) ([4]float64, error) {
	var betas [4]float64
	b4, err := leastSquares(selectColumns(l, 0, 1, 3, 6), rho)
	if err != nil {
		return betas, err
	}
	sign := 1.0
	if b4[0] < 0 {
		sign = -1
	}
	betas[0] = math.Sqrt(sign * b4[0])
	if betas[0] == 0 {
		return betas, errors.New("zero leading kernel weight")
	}
	for i := 1; i < 4; i++ {
		betas[i] = sign * b4[i] / betas[0]
	}
	return betas, nil
}

// findBetasApprox2 assumes a two dimensional kernel and solves for [b00 b01 b11].
func findBetasApprox2(l *mat.Dense, rho []float64) ([4]float64, error) {
	var betas [4]float64
	b3, err := leastSquares(selectColumns(l, 0, 1, 2), rho)
	if err != nil {
		return betas, err
	}
	if b3[0] < 0 {
		betas[0] = math.Sqrt(-b3[0])
		if b3[2] < 0 {
			betas[1] = math.Sqrt(-b3[2])
		}
	} else {
		betas[0] = math.Sqrt(b3[0])
		if b3[2] > 0 {
			betas[1] = math.Sqrt(b3[2])
		}
	}
	if b3[1] < 0 {
		betas[0] = -betas[0]
	}
	return betas, nil
}

// findBetasApprox3 assumes a three dimensional kernel and solves for [b00 b01 b11 b02 b12].
func findBetasApprox3(l *mat.Dense, rho []float64) ([4]float64, error) {
	var betas [4]float64
	b5, err := leastSquares(selectColumns(l, 0, 1, 2, 3, 4), rho)
	if err != nil {
		return betas, err
	}
	if b5[0] < 0 {
		betas[0] = math.Sqrt(-b5[0])
		if b5[2] < 0 {
			betas[1] = math.Sqrt(-b5[2])
		}
	} else {
		betas[0] = math.Sqrt(b5[0])
		if b5[2] > 0 {
			betas[1] = math.Sqrt(b5[2])
		}
	}
	if b5[1] < 0 {
		betas[0] = -betas[0]
	}
	if betas[0] != 0 {
		betas[2] = b5[3] / betas[0]
	}
	return betas, nil
}

// gaussNewton refines the kernel weights so the camera frame control point distances match rho.
func gaussNewton(l *mat.Dense, rho []float64, betas [4]float64) [4]float64 {
	a := mat.NewDense(6, 4, nil)
	b := mat.NewVecDense(6, nil)
	for iter := 0; iter < gaussNewtonIterations; iter++ {
		b0, b1, b2, b3 := betas[0], betas[1], betas[2], betas[3]
		for i := 0; i < 6; i++ {
			r := l.RawRowView(i)
			a.SetRow(i, []float64{
				2*r[0]*b0 + r[1]*b1 + r[3]*b2 + r[6]*b3,
				r[1]*b0 + 2*r[2]*b1 + r[4]*b2 + r[7]*b3,
				r[3]*b0 + r[4]*b1 + 2*r[5]*b2 + r[8]*b3,
				r[6]*b0 + r[7]*b1 + r[8]*b2 + 2*r[9]*b3,
			})
			current := r[0]*b0*b0 + r[1]*b0*b1 + r[2]*b1*b1 + r[3]*b0*b2 + r[4]*b1*b2 +
				r[5]*b2*b2 + r[6]*b0*b3 + r[7]*b1*b3 + r[8]*b2*b3 + r[9]*b3*b3
			b.SetVec(i, rho[i]-current)
		}
		step, err := leastSquares(a, b.RawVector().Data)
		if err != nil || !utils.IsFinite(step...) {
			break
		}
		for i := range betas {
			betas[i] += step[i]
		}
	}
	return betas
}

// computeRAndT recovers the camera frame points from the weighted kernel and aligns them with the world points.
func (pnp *epnp) computeRAndT(kernel *[4][12]float64, betas [4]float64) (*poseCandidate, error) {
	var ccs [4]r3.Vector
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			ccs[j] = ccs[j].Add(r3.Vector{
				X: kernel[i][3*j],
				Y: kernel[i][3*j+1],
				Z: kernel[i][3*j+2],
			}.Mul(betas[i]))
		}
	}

	pcs := make([]r3.Vector, len(pnp.pws))
	for i, a := range pnp.alphas {
		for j := 0; j < 4; j++ {
			pcs[i] = pcs[i].Add(ccs[j].Mul(a[j]))
		}
	}
	// the kernel is only defined up to sign; points must lie in front of the camera
	if pcs[0].Z < 0 {
		for i := range pcs {
			pcs[i] = pcs[i].Mul(-1)
		}
	}

	rotation, translation, err := estimateRAndT(pcs, pnp.pws)
	if err != nil {
		return nil, err
	}
	return pnp.score(rotation, translation)
}

// score measures the reprojection error of a pose over every correspondence.
func (pnp *epnp) score(rotation *mat.Dense, translation r3.Vector) (*poseCandidate, error) {
	pose, err := NewCamPose(rotation, mat.NewVecDense(3, []float64{translation.X, translation.Y, translation.Z}))
	if err != nil {
		return nil, err
	}
	reproj, err := pnp.intrinsics.ReprojectionError(pnp.pws, pnp.pixels, pose)
	if err != nil {
		return nil, err
	}
	return &poseCandidate{rotation: rotation, translation: translation, err: reproj}, nil
}

// estimateRAndT finds the rigid transform taking world points onto camera points with the SVD of their cross
// covariance (Kabsch).
func estimateRAndT(pcs, pws []r3.Vector) (*mat.Dense, r3.Vector, error) {
	n := float64(len(pcs))
	var pc0, pw0 r3.Vector
	for i := range pcs {
		pc0 = pc0.Add(pcs[i])
		pw0 = pw0.Add(pws[i])
	}
	pc0 = pc0.Mul(1 / n)
	pw0 = pw0.Mul(1 / n)

	abt := mat.NewDense(3, 3, nil)
	for i := range pcs {
		c := pcs[i].Sub(pc0)
		w := pws[i].Sub(pw0)
		abt.RankOne(abt, 1, mat.NewVecDense(3, []float64{c.X, c.Y, c.Z}), mat.NewVecDense(3, []float64{w.X, w.Y, w.Z}))
	}

	var svd mat.SVD
	if ok := svd.Factorize(abt, mat.SVDFull); !ok {
		return nil, r3.Vector{}, errors.New("failed to factorize cross covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvt mat.Dense
	uvt.Mul(&u, v.T())
	reflect := 1.0
	if mat.Det(&uvt) < 0 {
		reflect = -1
	}
	d := mat.NewDiagDense(3, []float64{1, 1, reflect})
	var ud, rotation mat.Dense
	ud.Mul(&u, d)
	rotation.Mul(&ud, v.T())

	translation := r3.Vector{
		X: pc0.X - (rotation.At(0, 0)*pw0.X + rotation.At(0, 1)*pw0.Y + rotation.At(0, 2)*pw0.Z),
		Y: pc0.Y - (rotation.At(1, 0)*pw0.X + rotation.At(1, 1)*pw0.Y + rotation.At(1, 2)*pw0.Z),
		Z: pc0.Z - (rotation.At(2, 0)*pw0.X + rotation.At(2, 1)*pw0.Y + rotation.At(2, 2)*pw0.Z),
	}
	return &rotation, translation, nil
}

// RefinePnP minimizes the mean squared reprojection error of initial with Nelder-Mead over the rotation vector
// and translation. The returned pose is never worse than initial.
func RefinePnP(
	object []r3.Vector, image []r2.Point, intrinsics *PinholeCameraIntrinsics, initial *Extrinsics,
) (*Extrinsics, error) {
	if initial == nil {
		return nil, errors.New("cannot refine a missing pose")
	}
	if len(object) != len(image) || len(object) == 0 {
		return nil, newCalibrationError("have %d world points but %d image points", len(object), len(image))
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, &CalibrationError{Camera: UnknownCamera, Reason: "invalid intrinsics", Err: err}
	}
	start := *initial

	x0 := []float64{
		initial.Rotation.X, initial.Rotation.Y, initial.Rotation.Z,
		initial.Translation.X, initial.Translation.Y, initial.Translation.Z,
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return squaredReprojectionError(object, image, intrinsics, extrinsicsFromParams(x))
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 20000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 200,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return &start, errors.Wrap(err, "refinement failed")
	}

	refined := extrinsicsFromParams(result.X)
	refined.ReprojectionError, err = intrinsics.ReprojectionError(object, image, refined.CamPose())
	if err != nil || !refined.isFinite() || refined.ReprojectionError >= start.ReprojectionError {
		return &start, nil
	}
	return refined, nil
}

func extrinsicsFromParams(x []float64) *Extrinsics {
	return &Extrinsics{
		Rotation:    r3.Vector{X: x[0], Y: x[1], Z: x[2]},
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

func squaredReprojectionError(
	object []r3.Vector, image []r2.Point, intrinsics *PinholeCameraIntrinsics, ext *Extrinsics,
) float64 {
	pose := ext.CamPose()
	var sum float64
	for i, pt := range object {
		c := pose.Apply(pt)
		u, v := intrinsics.PointToPixel(c.X, c.Y, c.Z)
		d := r2.Point{X: u, Y: v}.Sub(image[i])
		sum += d.Dot(d)
	}
	return sum / float64(len(object))
}
