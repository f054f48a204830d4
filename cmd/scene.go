package cmd

import (
	"bytes"
	"fmt"
	"time"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/scene/reader"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

const builtinSceneName = "cornell-box (built-in)"

// Load the scene passed as the first argument or the built-in Cornell box.
func loadStore(ctx *cli.Context) (*scene.GeometryStore, string, error) {
	sceneFile := ctx.Args().First()
	name := sceneFile
	if sceneFile == "" {
		name = builtinSceneName
	}

	logger.Noticef("loading scene: %s", name)
	store, err := reader.LoadStore(sceneFile)
	if err != nil {
		return nil, "", err
	}
	if store.Dropped > 0 {
		logger.Warningf("dropped %d degenerate triangles from %s", store.Dropped, name)
	}
	return store, name, nil
}

// A compiled scene and how long it took to build.
type compiledScene struct {
	name      string
	store     *scene.GeometryStore
	sc        *scene.Scene
	buildTime time.Duration
}

func displaySceneStats(scenes []compiledScene) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Scene", "Triangles", "Dropped", "Instances", "Emissive", "BVH nodes", "BVH leafs", "BVH depth", "Build time"})
	for _, cs := range scenes {
		table.Append([]string{
			cs.name,
			fmt.Sprintf("%d", len(cs.sc.Triangles)),
			fmt.Sprintf("%d", cs.store.Dropped),
			fmt.Sprintf("%d", len(cs.store.Instances)),
			fmt.Sprintf("%d", len(cs.sc.Emissive)),
			fmt.Sprintf("%d", len(cs.sc.BVH.Nodes)),
			fmt.Sprintf("%d", cs.sc.BVH.Leafs),
			fmt.Sprintf("%d", cs.sc.BVH.Depth),
			cs.buildTime.String(),
		})
	}

	table.Render()
	logger.Noticef("scene information\n%s", buf.String())
}
