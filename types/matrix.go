package types

import (
	"github.com/go-gl/mathgl/mgl32"
)

// A column-major 4x4 matrix.
type Mat4 mgl32.Mat4

// Get the identity matrix.
func Ident4() Mat4 {
	return Mat4(mgl32.Ident4())
}

// Build a perspective projection matrix. The fovy argument is in degrees.
func Perspective4(fovy, aspect, near, far float32) Mat4 {
	return Mat4(mgl32.Perspective(mgl32.DegToRad(fovy), aspect, near, far))
}

// Build a view matrix for an eye looking at center.
func LookAtV(eye, center, up Vec3) Mat4 {
	return Mat4(mgl32.LookAtV(mgl32.Vec3(eye), mgl32.Vec3(center), mgl32.Vec3(up)))
}

// Build a translation matrix.
func Translate4(t Vec3) Mat4 {
	return Mat4(mgl32.Translate3D(t[0], t[1], t[2]))
}

// Build a scale matrix.
func Scale4(s Vec3) Mat4 {
	return Mat4(mgl32.Scale3D(s[0], s[1], s[2]))
}

// Build a rotation matrix around the Y axis. The angle is in radians.
func RotateY4(angle float32) Mat4 {
	return Mat4(mgl32.HomogRotate3DY(angle))
}

// Build a rotation matrix from per-axis angles in radians. Rotations are
// applied in X, Y, Z order.
func RotateXYZ4(angles Vec3) Mat4 {
	rx := mgl32.HomogRotate3DX(angles[0])
	ry := mgl32.HomogRotate3DY(angles[1])
	rz := mgl32.HomogRotate3DZ(angles[2])
	return Mat4(rz.Mul4(ry.Mul4(rx)))
}

// Multiply with another 4x4 matrix.
func (m Mat4) Mul4(m2 Mat4) Mat4 {
	return Mat4(mgl32.Mat4(m).Mul4(mgl32.Mat4(m2)))
}

// Multiply with a 4 component column vector.
func (m Mat4) Mul4x1(v Vec4) Vec4 {
	return Vec4(mgl32.Mat4(m).Mul4x1(mgl32.Vec4(v)))
}

// Get the inverse matrix. Singular matrices invert to the zero matrix.
func (m Mat4) Inv() Mat4 {
	return Mat4(mgl32.Mat4(m).Inv())
}

// Get the transposed matrix.
func (m Mat4) Transpose() Mat4 {
	return Mat4(mgl32.Mat4(m).Transpose())
}

// Get the inverse transpose used for transforming normals.
func (m Mat4) NormalMat() Mat4 {
	return m.Inv().Transpose()
}

// Transform a point (w = 1).
func (m Mat4) TransformPoint(p Vec3) Vec3 {
	return m.Mul4x1(p.Vec4(1)).Homogenize()
}

// Transform a direction (w = 0).
func (m Mat4) TransformVector(v Vec3) Vec3 {
	return m.Mul4x1(v.Vec4(0)).Vec3()
}

// Get the translation column.
func (m Mat4) Translation() Vec3 {
	return Vec3{m[12], m[13], m[14]}
}

// Check whether all elements are equal within eps.
func (m Mat4) ApproxEqual(m2 Mat4, eps float32) bool {
	return mgl32.Mat4(m).ApproxEqualThreshold(mgl32.Mat4(m2), eps)
}
