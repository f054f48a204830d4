package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/DavidPeicho/loupiote/renderer"
	"github.com/urfave/cli"
)

var debugModes = []renderer.DisplayMode{
	renderer.DisplayNormals,
	renderer.DisplayDepth,
	renderer.DisplayMotion,
	renderer.DisplayAccumulated,
	renderer.DisplayTemporal,
}

// Render the scene once per debug display mode. Two frames are rendered per
// mode with a slightly rotated camera so motion vectors and the temporal
// filter have a previous frame to work with.
func Debug(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	opts, err := optionsFromFlags(ctx)
	if err != nil {
		return err
	}
	opts.MovingScale = 1
	opts.MovingBounceDepth = 0

	r, cleanup, err := setupRenderer(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	cam := r.Scene().Camera
	out := ctx.String("out")
	base := strings.TrimSuffix(out, filepath.Ext(out))
	for index, mode := range debugModes {
		if err = r.SetDisplayMode(mode); err != nil {
			return err
		}
		r.Invalidate()

		var frame *renderer.Frame
		for step := 0; step < 2; step++ {
			transform := orbitTransform(cam.Position, cam.LookAt, cam.Up, float32(step)*0.02)
			if frame, err = r.Render(context.Background(), transform, uint32(2*index+step)); err != nil {
				return err
			}
		}
		if err = saveFrame(frame, fmt.Sprintf("%s-%s%s", base, mode, filepath.Ext(out))); err != nil {
			return err
		}
	}
	return nil
}
