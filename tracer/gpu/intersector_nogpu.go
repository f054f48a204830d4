//go:build nogpu

package gpu

import (
	"context"

	"github.com/DavidPeicho/loupiote/scene"
	"github.com/DavidPeicho/loupiote/tracer"
)

// Intersector is unavailable in builds without GPU support.
type Intersector struct{}

func NewIntersector() (*Intersector, error) {
	if _, err := CompileIntersectShader(); err != nil {
		return nil, err
	}
	return nil, ErrNoAdapter
}

func (in *Intersector) Id() string { return "gpu" }
func (in *Intersector) SetScene(sc *scene.Scene) error { return ErrNoAdapter }
func (in *Intersector) Close() {}
func (in *Intersector) Intersect(ctx context.Context, rays []tracer.Ray, hits []tracer.HitRecord) error {
	return ErrNoAdapter
}

func ListAdapters() ([]AdapterInfo, error) {
	return nil, nil
}
