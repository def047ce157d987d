package dataset

import (
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/posegt/posegt/logging"
)

// ReprojectionStats summarize the pixel reprojection error of the emitted samples' camera poses.
type ReprojectionStats struct {
	Mean   float64 `json:"mean_px"`
	Median float64 `json:"median_px"`
	P95    float64 `json:"p95_px"`
	Max    float64 `json:"max_px"`
}

// Report summarizes one assembled batch.
type Report struct {
	Total        int                `json:"total"`
	Emitted      int                `json:"emitted"`
	Skipped      map[SkipReason]int `json:"skipped"`
	Reprojection ReprojectionStats  `json:"reprojection"`
}

// Summarize counts emitted and skipped results. Reprojection statistics are left zero when nothing was emitted.
func Summarize(results []Result) (*Report, error) {
	report := &Report{Total: len(results), Skipped: map[SkipReason]int{}}
	var errs []float64
	for _, r := range results {
		switch {
		case r.Sample != nil:
			report.Emitted++
			if r.Sample.Extrinsics != nil {
				errs = append(errs, r.Sample.Extrinsics.ReprojectionError)
			}
		case r.Skip != nil:
			report.Skipped[r.Skip.Reason]++
		default:
			return nil, errors.Errorf("result %d has neither a sample nor a skip", r.Index)
		}
	}
	if len(errs) == 0 {
		return report, nil
	}

	mean, err := stats.Mean(errs)
	median, err2 := stats.Median(errs)
	p95, err3 := stats.Percentile(errs, 95)
	maximum, err4 := stats.Max(errs)
	if err := multierr.Combine(err, err2, err3, err4); err != nil {
		return nil, errors.Wrap(err, "cannot summarize reprojection errors")
	}
	report.Reprojection = ReprojectionStats{Mean: mean, Median: median, P95: p95, Max: maximum}
	return report, nil
}

// SkippedTotal returns the number of skipped results.
func (r *Report) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// Log writes the report to logger.
func (r *Report) Log(logger logging.Logger) {
	logger.Infow("assembled dataset",
		"total", r.Total,
		"emitted", r.Emitted,
		"skipped", r.SkippedTotal(),
		"reprojection_mean_px", r.Reprojection.Mean,
		"reprojection_median_px", r.Reprojection.Median,
		"reprojection_p95_px", r.Reprojection.P95,
		"reprojection_max_px", r.Reprojection.Max,
	)
	for _, reason := range SkipReasons {
		if n := r.Skipped[reason]; n > 0 {
			logger.Infow("skipped frames", "reason", reason, "count", n)
		}
	}
}
