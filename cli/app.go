// Package cli contains the posegt command line interface.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"github.com/posegt/posegt/config"
	"github.com/posegt/posegt/skeleton"
)

const (
	configFlag      = "config"
	debugFlag       = "debug"
	logFileFlag     = "log-file"
	splitFlag       = "split"
	outputFlag      = "output"
	calibrationFlag = "calibration"
	cameraFlag      = "camera"
	heightFlag      = "height"
	rigFlag         = "rig"
)

var app = &cli.App{
	Name:            "posegt",
	Usage:           "build rotation labelled 3D pose datasets from multi-camera annotations",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  logFileFlag,
			Usage: "also write logs to a rotated `FILE`",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "build",
			Usage:     "assemble the samples of one split and store them",
			UsageText: "posegt --config <file> build [--split <name>] [--output <sqlite file>]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  splitFlag,
					Usage: "split to assemble",
					Value: config.SplitTrain,
				},
				&cli.StringFlag{
					Name:  outputFlag,
					Usage: "SQLite `FILE` to store the run in, overriding output.sqlite",
				},
			},
			Action: BuildAction,
		},
		{
			Name:  "intrinsics",
			Usage: "print a camera's intrinsic matrix",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  calibrationFlag,
					Usage: "calibration `FILE`, overriding the config",
				},
				&cli.IntFlag{
					Name:     cameraFlag,
					Usage:    "camera index",
					Required: true,
				},
			},
			Action: IntrinsicsAction,
		},
		{
			Name:  "tpose",
			Usage: "print the T-pose reference bone vectors",
			Flags: []cli.Flag{
				&cli.Float64Flag{
					Name:  heightFlag,
					Usage: "subject height in meters",
					Value: skeleton.DefaultHeight,
				},
				&cli.StringFlag{
					Name:  rigFlag,
					Usage: "rig preset, one of " + config.RigMPIINF3DHP + " or " + config.RigMPIINF3DHPH36M,
					Value: config.RigMPIINF3DHP,
				},
			},
			Action: TPoseAction,
		},
		{
			Name:  "runs",
			Usage: "list the runs stored in a dataset database",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  outputFlag,
					Usage: "SQLite `FILE`, overriding output.sqlite",
				},
			},
			Action: RunsAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
