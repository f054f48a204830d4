package reader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/DavidPeicho/loupiote/scene"
)

// Read a scene from a local file or an http(s) URL and return it as
// ingestion data. Only wavefront (.obj) scenes are supported.
func ReadScene(pathToScene string) (*scene.Input, error) {
	if ext := strings.ToLower(filepath.Ext(pathToScene)); ext != ".obj" {
		return nil, fmt.Errorf("reader: unsupported scene format '%s'", ext)
	}

	res, err := newResource(pathToScene, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	return newWavefrontReader().Read(res)
}

// Read a scene and validate it into a GeometryStore. An empty path selects
// the built-in Cornell box.
func LoadStore(pathToScene string) (*scene.GeometryStore, error) {
	var in *scene.Input
	if pathToScene == "" {
		in = CornellBox()
	} else {
		var err error
		if in, err = ReadScene(pathToScene); err != nil {
			return nil, err
		}
	}
	return scene.NewGeometryStore(in)
}
