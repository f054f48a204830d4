package scene

import (
	"fmt"

	"github.com/DavidPeicho/loupiote/types"
)

const (
	cameraNear = 0.01
	cameraFar  = 1000
)

// Stores the ray directions at the four corners of our camera frustrum. It is
// used as a shortcut for generating per pixel rays via interpolation of the
// corner rays.
type Frustrum [4]types.Vec3

func (fr Frustrum) String() string {
	return fmt.Sprintf(
		"Frustrum Rays:\nTL : (%3.3f, %3.3f, %3.3f)\nTR : (%3.3f, %3.3f, %3.3f)\nBL : (%3.3f, %3.3f, %3.3f)\nBR : (%3.3f, %3.3f, %3.3f)",
		fr[0][0], fr[0][1], fr[0][2],
		fr[1][0], fr[1][1], fr[1][2],
		fr[2][0], fr[2][1], fr[2][2],
		fr[3][0], fr[3][1], fr[3][2],
	)
}

// The camera type controls the scene camera.
type Camera struct {
	Position types.Vec3
	LookAt   types.Vec3
	Up       types.Vec3

	ViewMat  types.Mat4
	ProjMat  types.Mat4
	Frustrum Frustrum

	// Vertical field of view in degrees.
	FOV float32

	Aspect float32
}

func NewCamera(fov float32) *Camera {
	c := &Camera{
		ViewMat:  types.Ident4(),
		ProjMat:  types.Ident4(),
		Position: types.Vec3{0, 0, 0},
		LookAt:   types.Vec3{0, 0, -1},
		Up:       types.Vec3{0, 1, 0},
		FOV:      fov,
		Aspect:   1,
	}
	c.SetupProjection(1)
	return c
}

// Get a copy of the camera.
func (c *Camera) Clone() *Camera {
	clone := *c
	return &clone
}

// Setup camera projection matrix.
func (c *Camera) SetupProjection(aspect float32) {
	c.Aspect = aspect
	c.ProjMat = types.Perspective4(c.FOV, aspect, cameraNear, cameraFar)
	c.Update()
}

// Place the camera using a camera-to-world transform. The camera looks down
// the transform's -Z axis with +Y up.
func (c *Camera) SetTransform(m types.Mat4) {
	c.Position = m.TransformPoint(types.Vec3{0, 0, 0})
	c.LookAt = c.Position.Add(m.TransformVector(types.Vec3{0, 0, -1}).Normalize())
	c.Up = m.TransformVector(types.Vec3{0, 1, 0}).Normalize()
	c.Update()
}

// Get the camera-to-world transform.
func (c *Camera) Transform() types.Mat4 {
	return c.ViewMat.Inv()
}

// Update view matrix and frustrum after changing the camera placement.
func (c *Camera) Update() {
	c.ViewMat = types.LookAtV(c.Position, c.LookAt, c.Up)
	c.updateFrustrum()
}

func (c *Camera) ViewProjMat() types.Mat4 {
	return c.ProjMat.Mul4(c.ViewMat)
}

func (c *Camera) InvViewProjMat() types.Mat4 {
	return c.ViewProjMat().Inv()
}

// Get the (unnormalized) direction of a ray passing through the normalized
// image coordinates (u, v); (0, 0) is the top-left corner of the image.
func (c *Camera) RayDir(u, v float32) types.Vec3 {
	top := c.Frustrum[0].Lerp(c.Frustrum[1], u)
	bottom := c.Frustrum[2].Lerp(c.Frustrum[3], u)
	return top.Lerp(bottom, v)
}

// Project a world-space point using the supplied view-projection matrix and
// return its continuous pixel coordinates for a frame of the given size.
func ProjectToPixel(viewProj types.Mat4, p types.Vec3, frameW, frameH uint32) (x, y float32, ok bool) {
	clip := viewProj.Mul4x1(p.Vec4(1))
	if clip[3] <= 0 {
		return 0, 0, false
	}
	ndc := clip.Homogenize()
	x = (ndc[0]*0.5 + 0.5) * float32(frameW)
	y = (0.5 - ndc[1]*0.5) * float32(frameH)
	return x, y, true
}

// Generate a ray vector for each corner of the camera frustrum by
// multiplying clip space vectors for each corner with the inv proj/view
// matrix, applying perspective and subtracting the camera eye position.
func (c *Camera) updateFrustrum() {
	invProjViewMat := c.InvViewProjMat()

	corners := [4][2]float32{{-1, 1}, {1, 1}, {-1, -1}, {1, -1}}
	for idx, corner := range corners {
		v := invProjViewMat.Mul4x1(types.XYZW(corner[0], corner[1], -1, 1))
		c.Frustrum[idx] = v.Homogenize().Sub(c.Position)
	}
}
