// Package store persists assembled dataset runs in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	// registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/posegt/posegt/dataset"
	"github.com/posegt/posegt/logging"
	"github.com/posegt/posegt/rimage/transform"
)

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Run describes one stored assembly run.
type Run struct {
	ID          string
	Split       string
	Calibration string
	Topology    string
	Report      *dataset.Report
	CreatedAt   time.Time
}

// Skip is a stored skipped frame.
type Skip struct {
	Index   int
	Camera  int
	Frame   int
	Reason  dataset.SkipReason
	Message string
}

// Store is a SQLite database of runs.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, multierr.Combine(errors.Wrapf(err, "cannot apply %q", pragma), db.Close())
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot create schema"), db.Close())
	}
	logger.Debugw("opened dataset store", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteRun stores a run and all of its results in one transaction. A run ID is generated when run.ID is empty; the
// stored ID is returned.
func (s *Store) WriteRun(ctx context.Context, run Run, results []dataset.Result) (id string, err error) {
	if run.Report == nil {
		return "", errors.New("run has no report")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	report, err := json.Marshal(run.Report)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = multierr.Combine(err, rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, split, calibration, topology, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Split, run.Calibration, run.Topology, string(report), run.CreatedAt.UnixNano(),
	); err != nil {
		return "", errors.Wrap(err, "cannot insert run")
	}

	insertSample, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (
			run_id, idx, camera, frame, image_path, crop_json,
			keypoints_2d_json, keypoints_3d_json, rotations_json, extrinsics_json, reprojection_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, insertSample.Close())
	}()
	insertSkip, err := tx.PrepareContext(ctx, `
		INSERT INTO skips (run_id, idx, camera, frame, reason, message) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Combine(err, insertSkip.Close())
	}()

	for _, r := range results {
		switch {
		case r.Sample != nil:
			row, err := encodeSample(r.Sample)
			if err != nil {
				return "", errors.Wrapf(err, "cannot encode result %d", r.Index)
			}
			if _, err := insertSample.ExecContext(ctx,
				run.ID, r.Index, r.Sample.Camera, r.Sample.Frame, r.Sample.ImagePath, row.crop,
				row.keypoints2D, row.keypoints3D, row.rotations, row.extrinsics, r.Sample.Extrinsics.ReprojectionError,
			); err != nil {
				return "", errors.Wrapf(err, "cannot insert result %d", r.Index)
			}
		case r.Skip != nil:
			if _, err := insertSkip.ExecContext(ctx,
				run.ID, r.Index, r.Skip.Camera, r.Skip.Frame, string(r.Skip.Reason), r.Skip.Error(),
			); err != nil {
				return "", errors.Wrapf(err, "cannot insert result %d", r.Index)
			}
		default:
			return "", errors.Errorf("result %d has neither a sample nor a skip", r.Index)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	s.logger.Infow("stored run", "run_id", run.ID, "split", run.Split, "samples", run.Report.Emitted)
	return run.ID, nil
}

// Runs returns every stored run, oldest first.
func (s *Store) Runs(ctx context.Context) (runs []*Run, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, split, calibration, topology, report_json, created_at FROM runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var (
			run       Run
			report    string
			createdAt int64
		)
		if err := rows.Scan(&run.ID, &run.Split, &run.Calibration, &run.Topology, &report, &createdAt); err != nil {
			return nil, err
		}
		run.Report = &dataset.Report{}
		if err := json.Unmarshal([]byte(report), run.Report); err != nil {
			return nil, errors.Wrapf(err, "run %s report", run.ID)
		}
		run.CreatedAt = time.Unix(0, createdAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// Samples returns the samples of a run in their original batch order.
func (s *Store) Samples(ctx context.Context, runID string) (samples []*dataset.Sample, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT camera, frame, image_path, crop_json, keypoints_2d_json, keypoints_3d_json, rotations_json,
			extrinsics_json
		FROM samples WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var (
			sample dataset.Sample
			row    sampleRow
		)
		if err := rows.Scan(
			&sample.Camera, &sample.Frame, &sample.ImagePath, &row.crop,
			&row.keypoints2D, &row.keypoints3D, &row.rotations, &row.extrinsics,
		); err != nil {
			return nil, err
		}
		if err := row.decode(&sample); err != nil {
			return nil, errors.Wrapf(err, "run %s frame %d of camera %d", runID, sample.Frame, sample.Camera)
		}
		samples = append(samples, &sample)
	}
	return samples, rows.Err()
}

// Skips returns the skipped frames of a run in their original batch order.
func (s *Store) Skips(ctx context.Context, runID string) (skips []Skip, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, camera, frame, reason, message FROM skips WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, rows.Close())
	}()
	for rows.Next() {
		var skip Skip
		if err := rows.Scan(&skip.Index, &skip.Camera, &skip.Frame, &skip.Reason, &skip.Message); err != nil {
			return nil, err
		}
		skips = append(skips, skip)
	}
	return skips, rows.Err()
}

type sampleRow struct {
	crop        string
	keypoints2D string
	keypoints3D string
	rotations   string
	extrinsics  string
}

func encodeSample(sample *dataset.Sample) (*sampleRow, error) {
	if sample.Extrinsics == nil {
		return nil, errors.New("sample has no extrinsics")
	}
	var row sampleRow
	var err error
	crop := [4]int{sample.Crop.Min.X, sample.Crop.Min.Y, sample.Crop.Max.X, sample.Crop.Max.Y}
	if row.crop, err = marshalString(crop); err != nil {
		return nil, err
	}
	if row.keypoints2D, err = marshalString(matrixRows(sample.Keypoints2D)); err != nil {
		return nil, err
	}
	if row.keypoints3D, err = marshalString(matrixRows(sample.Keypoints3D)); err != nil {
		return nil, err
	}
	if row.rotations, err = marshalString(matrixRows(sample.Rotations)); err != nil {
		return nil, err
	}
	if row.extrinsics, err = marshalString(sample.Extrinsics); err != nil {
		return nil, err
	}
	return &row, nil
}

func (row *sampleRow) decode(sample *dataset.Sample) error {
	var crop [4]int
	if err := json.Unmarshal([]byte(row.crop), &crop); err != nil {
		return errors.Wrap(err, "crop")
	}
	sample.Crop = image.Rect(crop[0], crop[1], crop[2], crop[3])

	var err error
	if sample.Keypoints2D, err = unmarshalMatrix(row.keypoints2D); err != nil {
		return errors.Wrap(err, "2D keypoints")
	}
	if sample.Keypoints3D, err = unmarshalMatrix(row.keypoints3D); err != nil {
		return errors.Wrap(err, "3D keypoints")
	}
	if sample.Rotations, err = unmarshalMatrix(row.rotations); err != nil {
		return errors.Wrap(err, "rotations")
	}
	sample.Extrinsics = &transform.Extrinsics{}
	if err := json.Unmarshal([]byte(row.extrinsics), sample.Extrinsics); err != nil {
		return errors.Wrap(err, "extrinsics")
	}
	return nil
}

func marshalString(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func matrixRows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

func unmarshalMatrix(data string) (*mat.Dense, error) {
	var rows [][]float64
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("matrix is empty")
	}
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		if len(row) != len(rows[0]) {
			return nil, errors.Errorf("row %d has %d values, need %d", i, len(row), len(rows[0]))
		}
		out.SetRow(i, row)
	}
	return out, nil
}
