package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"

	"github.com/posegt/posegt/config"
	"github.com/posegt/posegt/dataset"
	"github.com/posegt/posegt/dataset/store"
	"github.com/posegt/posegt/rimage/transform"
	"github.com/posegt/posegt/skeleton"
)

// BuildAction assembles the samples of one split and stores the run.
func BuildAction(c *cli.Context) (err error) {
	cfg, err := readConfig(c)
	if err != nil {
		return err
	}
	logger, closeLogger := newLogger(c, cfg)
	defer func() {
		err = multierr.Combine(err, closeLogger())
	}()

	split := c.String(splitFlag)
	cameras, err := cfg.SplitCameras(split)
	if err != nil {
		return err
	}
	anns, err := dataset.LoadAnnotations(cfg.Annotations...)
	if err != nil {
		return err
	}
	anns = dataset.FilterCameras(anns, cameras)
	if len(anns) == 0 {
		warningf(c.App.ErrWriter, "no annotations for the cameras %v of split %q", cameras, split)
	}

	opts, err := cfg.AssemblerOptions()
	if err != nil {
		return err
	}
	calibration := transform.NewCalibrationStore(cfg.Calibration, logger.Sublogger("calibration"))
	assembler, err := dataset.NewAssembler(calibration, opts, logger.Sublogger("assembler"))
	if err != nil {
		return err
	}
	results, err := assembler.Assemble(c.Context, anns)
	if err != nil {
		return err
	}
	report, err := dataset.Summarize(results)
	if err != nil {
		return err
	}
	report.Log(logger)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", out)

	output := c.String(outputFlag)
	if output == "" {
		output = cfg.Output.SQLite
	}
	if output == "" {
		warningf(c.App.ErrWriter, "no output database configured, run not stored")
		return nil
	}
	db, err := store.Open(c.Context, output, logger.Sublogger("store"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, db.Close())
	}()
	id, err := db.WriteRun(c.Context, store.Run{
		Split:       split,
		Calibration: cfg.Calibration,
		Topology:    opts.Topology.Name,
		Report:      report,
	}, results)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "stored run %s in %s", id, output)
	return nil
}

// IntrinsicsAction prints the intrinsic matrix of one camera.
func IntrinsicsAction(c *cli.Context) (err error) {
	path := c.String(calibrationFlag)
	var cfg *config.Config
	if path == "" {
		if cfg, err = readConfig(c); err != nil {
			return errors.Wrapf(err, "need --%s or a config", calibrationFlag)
		}
		path = cfg.Calibration
	}
	logger, closeLogger := newLogger(c, cfg)
	defer func() {
		err = multierr.Combine(err, closeLogger())
	}()

	calibration := transform.NewCalibrationStore(path, logger)
	params, err := calibration.Intrinsics(c.Int(cameraFlag))
	if err != nil {
		return err
	}
	printf(c.App.Writer, "camera %d of %s", c.Int(cameraFlag), path)
	printf(c.App.Writer, "%v", mat.Formatted(params.CameraMatrix(), mat.Squeeze()))
	return nil
}

// TPoseAction prints the reference bone vectors of a rig preset.
func TPoseAction(c *cli.Context) error {
	rig, err := config.DecodeRig(map[string]interface{}{"preset": c.String(rigFlag)})
	if err != nil {
		return err
	}
	ref, err := skeleton.NewReference(rig.Topology, c.Float64(heightFlag))
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s T-pose, %.2fm", ref.Topology.Name, c.Float64(heightFlag)))
	t.AppendHeader(table.Row{"#", "Bone", "X", "Y", "Z", "Length"})
	for k, bone := range ref.Topology.Bones {
		v := ref.Bone(k)
		t.AppendRow(table.Row{
			k,
			fmt.Sprintf("%d -> %d", bone.Parent, bone.Child),
			fmt.Sprintf("%.4f", v.X),
			fmt.Sprintf("%.4f", v.Y),
			fmt.Sprintf("%.4f", v.Z),
			fmt.Sprintf("%.4f", v.Norm()),
		})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// RunsAction lists the runs of a dataset database.
func RunsAction(c *cli.Context) (err error) {
	output := c.String(outputFlag)
	var cfg *config.Config
	if output == "" {
		if cfg, err = readConfig(c); err != nil {
			return errors.Wrapf(err, "need --%s or a config", outputFlag)
		}
		output = cfg.Output.SQLite
	}
	if output == "" {
		return errors.New("no output database configured")
	}
	logger, closeLogger := newLogger(c, cfg)
	defer func() {
		err = multierr.Combine(err, closeLogger())
	}()

	db, err := store.Open(c.Context, output, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, db.Close())
	}()
	runs, err := db.Runs(c.Context)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		printf(c.App.Writer, "no runs in %s", output)
		return nil
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Run", "Created", "Split", "Topology", "Samples", "Mean reprojection (px)"})
	for _, run := range runs {
		summary, reprojection := "", ""
		if run.Report != nil {
			summary = fmt.Sprintf("%d/%d emitted", run.Report.Emitted, run.Report.Total)
			reprojection = fmt.Sprintf("%.3f", run.Report.Reprojection.Mean)
		}
		t.AppendRow(table.Row{run.ID, run.CreatedAt.Format(time.RFC3339), run.Split, run.Topology, summary, reprojection})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
