package main

import (
	"fmt"
	"os"

	"github.com/DavidPeicho/loupiote/cmd"
	"github.com/urfave/cli"
)

// Flags shared by all commands that render frames.
func renderFlags(out string, frames int, movingScale float64, movingDepth int) []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{
			Name:   "width",
			Value:  512,
			Usage:  "frame width",
			EnvVar: "LOUPIOTE_WIDTH",
		},
		cli.IntFlag{
			Name:   "height",
			Value:  512,
			Usage:  "frame height",
			EnvVar: "LOUPIOTE_HEIGHT",
		},
		cli.IntFlag{
			Name:   "frames, f",
			Value:  frames,
			Usage:  "number of progressive frames to render",
			EnvVar: "LOUPIOTE_FRAMES",
		},
		cli.Float64Flag{
			Name:   "exposure",
			Value:  1.0,
			Usage:  "camera exposure for tone-mapping",
			EnvVar: "LOUPIOTE_EXPOSURE",
		},
		cli.IntFlag{
			Name:   "max-depth",
			Value:  8,
			Usage:  "max path length in bounces",
			EnvVar: "LOUPIOTE_MAX_BOUNCE_DEPTH",
		},
		cli.IntFlag{
			Name:   "rr-depth",
			Value:  3,
			Usage:  "bounces before russian roulette applies",
			EnvVar: "LOUPIOTE_RR_MIN_DEPTH",
		},
		cli.Float64Flag{
			Name:   "epsilon",
			Value:  1e-4,
			Usage:  "self-intersection bias",
			EnvVar: "LOUPIOTE_INTERSECTION_EPSILON",
		},
		cli.IntFlag{
			Name:   "leaf-size",
			Value:  4,
			Usage:  "bvh leaf primitive threshold",
			EnvVar: "LOUPIOTE_LEAF_PRIMITIVE_THRESHOLD",
		},
		cli.Float64Flag{
			Name:   "svgf-alpha",
			Value:  0.2,
			Usage:  "svgf temporal blend factor",
			EnvVar: "LOUPIOTE_SVGF_ALPHA",
		},
		cli.IntFlag{
			Name:   "svgf-passes",
			Value:  5,
			Usage:  "svgf a-trous passes",
			EnvVar: "LOUPIOTE_SVGF_SPATIAL_PASSES",
		},
		cli.StringFlag{
			Name:   "display",
			Value:  "denoised",
			Usage:  "presented buffer: denoised, accumulated, temporal, normals, depth or motion",
			EnvVar: "LOUPIOTE_DISPLAY",
		},
		cli.BoolFlag{
			Name:   "no-accumulate",
			Usage:  "do not average samples across frames",
			EnvVar: "LOUPIOTE_NO_ACCUMULATE",
		},
		cli.Float64Flag{
			Name:   "moving-scale",
			Value:  movingScale,
			Usage:  "resolution scale for frames rendered while the camera moves",
			EnvVar: "LOUPIOTE_MOVING_SCALE",
		},
		cli.IntFlag{
			Name:   "moving-depth",
			Value:  movingDepth,
			Usage:  "max bounces for frames rendered while the camera moves; 0 keeps max-depth",
			EnvVar: "LOUPIOTE_MOVING_BOUNCE_DEPTH",
		},
		cli.IntFlag{
			Name:   "lanes",
			Value:  0,
			Usage:  "cpu lanes; 0 uses one lane per logical cpu",
			EnvVar: "LOUPIOTE_LANES",
		},
		cli.StringFlag{
			Name:   "device, d",
			Value:  "auto",
			Usage:  "intersector device: cpu, gpu or auto",
			EnvVar: "LOUPIOTE_DEVICE",
		},
		cli.StringFlag{
			Name:   "metrics-addr",
			Value:  "",
			Usage:  "serve prometheus metrics on this address while rendering",
			EnvVar: "LOUPIOTE_METRICS_ADDR",
		},
		cli.StringFlag{
			Name:   "out, o",
			Value:  out,
			Usage:  "image filename (.png or .webp) for the rendered frame",
			EnvVar: "LOUPIOTE_OUT",
		},
	}
}

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "loupiote"
	app.Usage = "render scenes using progressive path tracing and svgf denoising"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
		cli.StringFlag{
			Name:   "log-level",
			Usage:  "log level: debug, info, notice, warning or error",
			EnvVar: "LOUPIOTE_LOG_LEVEL",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "compile",
			Usage: "build the bvh of one or more scenes and display its statistics",
			Description: `
Parse a scene definition from a wavefront obj file, flatten its instances and
build a SAH BVH to optimize ray intersection tests. When no scene file is
specified, the built-in Cornell box is compiled.`,
			ArgsUsage: "[scene_file1.obj scene_file2.obj ...]",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:   "leaf-size",
					Value:  4,
					Usage:  "bvh leaf primitive threshold",
					EnvVar: "LOUPIOTE_LEAF_PRIMITIVE_THRESHOLD",
				},
				cli.IntFlag{
					Name:  "bins",
					Value: 16,
					Usage: "SAH centroid bins per axis",
				},
			},
			Action: cmd.CompileScene,
		},
		{
			Name:   "list-devices",
			Usage:  "list the host cpu and available gpu adapters",
			Action: cmd.ListDevices,
		},
		{
			Name:  "render",
			Usage: "render scene",
			Subcommands: []cli.Command{
				{
					Name:        "frame",
					Usage:       "render single frame",
					Description: `Render a still frame by accumulating and denoising a number of progressive frames.`,
					ArgsUsage:   "[scene_file.obj]",
					Flags:       renderFlags("frame.png", 16, 0.25, 2),
					Action:      cmd.RenderFrame,
				},
				{
					Name:        "orbit",
					Usage:       "render an animated orbit around the scene",
					Description: `Render one image per frame while orbiting the camera around its look-at point.`,
					ArgsUsage:   "[scene_file.obj]",
					Flags: append(renderFlags("orbit-%04d.png", 60, 1, 0),
						cli.Float64Flag{
							Name:  "degrees",
							Value: 360,
							Usage: "orbit arc in degrees",
						},
					),
					Action: cmd.RenderOrbit,
				},
			},
		},
		{
			Name:      "debug",
			Usage:     "render g-buffer and intermediate buffers to images",
			ArgsUsage: "[scene_file.obj]",
			Flags:     renderFlags("debug.png", 2, 1, 0),
			Action:    cmd.Debug,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
