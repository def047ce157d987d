package transform

import (
	"math"

	"github.com/golang/geo/r3"
)

const (
	// p3pSamples is the number of intervals the first depth is scanned over to bracket solutions.
	p3pSamples = 4096
	// p3pBisections bounds the bisection of each bracketed solution.
	p3pBisections = 200
)

// p3pCandidates solves the perspective-three-point problem on the first three correspondences and scores every
// solution on all of them.
//
// The camera frame points are depths along the unit bearings f1, f2, f3. Given the first depth s, the law of
// cosines fixes the other two up to a sign each; the remaining world distance |P2-P3| then leaves a residual in s
// whose roots are the P3P solutions. Each sign branch is scanned for sign changes and bisected.
func (pnp *epnp) p3pCandidates() []*poseCandidate {
	var f [3]r3.Vector
	for i := range f {
		f[i] = r3.Vector{X: pnp.us[i].X, Y: pnp.us[i].Y, Z: 1}.Normalize()
	}
	d12 := pnp.pws[0].Sub(pnp.pws[1]).Norm2()
	d13 := pnp.pws[0].Sub(pnp.pws[2]).Norm2()
	d23 := pnp.pws[1].Sub(pnp.pws[2]).Norm2()
	c12, c13, c23 := f[0].Dot(f[1]), f[0].Dot(f[2]), f[1].Dot(f[2])
	if d12 == 0 || d13 == 0 || d23 == 0 || c12 >= 1 || c13 >= 1 {
		return nil
	}
	limit := math.Min(math.Sqrt(d12/(1-c12*c12)), math.Sqrt(d13/(1-c13*c13)))
	if !(limit > 0) || math.IsInf(limit, 0) {
		return nil
	}

	depths := func(s, sign2, sign3 float64) (float64, float64) {
		disc2 := math.Max(0, d12-s*s*(1-c12*c12))
		disc3 := math.Max(0, d13-s*s*(1-c13*c13))
		return s*c12 + sign2*math.Sqrt(disc2), s*c13 + sign3*math.Sqrt(disc3)
	}
	residual := func(s, sign2, sign3 float64) float64 {
		t2, t3 := depths(s, sign2, sign3)
		return t2*t2 + t3*t3 - 2*t2*t3*c23 - d23
	}

	var candidates []*poseCandidate
	for _, signs := range [4][2]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}} {
		g := func(s float64) float64 { return residual(s, signs[0], signs[1]) }
		lo := limit / p3pSamples
		glo := g(lo)
		for k := 2; k <= p3pSamples; k++ {
			hi := limit * float64(k) / p3pSamples
			ghi := g(hi)
			if glo == 0 || (glo < 0) != (ghi < 0) {
				s := bisect(g, lo, hi, glo)
				t2, t3 := depths(s, signs[0], signs[1])
				if candidate := pnp.p3pCandidate(f, [3]float64{s, t2, t3}); candidate != nil {
					candidates = append(candidates, candidate)
				}
			}
			lo, glo = hi, ghi
		}
	}
	return candidates
}

// bisect narrows a sign change of g in [lo, hi], where glo is g(lo).
func bisect(g func(float64) float64, lo, hi, glo float64) float64 {
	if glo == 0 {
		return lo
	}
	for i := 0; i < p3pBisections && hi-lo > 1e-15*hi; i++ {
		mid := (lo + hi) / 2
		gmid := g(mid)
		if gmid == 0 {
			return mid
		}
		if (gmid < 0) == (glo < 0) {
			lo, glo = mid, gmid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func (pnp *epnp) p3pCandidate(f [3]r3.Vector, depth [3]float64) *poseCandidate {
	pcs := make([]r3.Vector, 3)
	for i := range pcs {
		if !(depth[i] > 0) {
			return nil
		}
		pcs[i] = f[i].Mul(depth[i])
	}
	rotation, translation, err := estimateRAndT(pcs, pnp.pws[:3])
	if err != nil {
		return nil
	}
	candidate, err := pnp.score(rotation, translation)
	if err != nil || math.IsNaN(candidate.err) || math.IsInf(candidate.err, 0) {
		return nil
	}
	return candidate
}
