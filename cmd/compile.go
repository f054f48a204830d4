package cmd

import (
	"context"
	"time"

	"github.com/DavidPeicho/loupiote/scene/compiler"
	"github.com/DavidPeicho/loupiote/scene/reader"
	"github.com/urfave/cli"
)

// Build the BVH of each scene and display its statistics.
func CompileScene(ctx *cli.Context) error {
	if err := setupLogging(ctx); err != nil {
		return err
	}

	opts := compiler.DefaultBuildOptions()
	opts.LeafPrimitiveThreshold = ctx.Int("leaf-size")
	opts.Bins = ctx.Int("bins")
	opts.MaxLeafPrimitives = max(opts.MaxLeafPrimitives, opts.LeafPrimitiveThreshold)
	if err := opts.Validate(); err != nil {
		return err
	}

	sceneFiles := []string(ctx.Args())
	if len(sceneFiles) == 0 {
		sceneFiles = []string{""}
	}

	var compiled []compiledScene
	for _, sceneFile := range sceneFiles {
		name := sceneFile
		if sceneFile == "" {
			name = builtinSceneName
		}

		logger.Noticef("parsing and compiling scene: %s", name)
		store, err := reader.LoadStore(sceneFile)
		if err != nil {
			return err
		}

		start := time.Now()
		sc, err := compiler.Compile(context.Background(), store, opts)
		if err != nil {
			return err
		}
		compiled = append(compiled, compiledScene{name: name, store: store, sc: sc, buildTime: time.Since(start)})
		logger.Debugf("scene information:\n%s", sc.Stats())
	}

	displaySceneStats(compiled)
	return nil
}
