// Package cull implements bounding-sphere frustum tests against a camera's
// combined projection and view transform.
package cull

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Camera is the renderer-side view of a camera. View is the inverse of the
// camera's world transform.
type Camera interface {
	ProjectionMatrix() mgl32.Mat4
	ViewMatrix() mgl32.Mat4
}

// StaticCamera is a Camera with fixed matrices.
type StaticCamera struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
}

var _ Camera = StaticCamera{}

func (c StaticCamera) ProjectionMatrix() mgl32.Mat4 { return c.Projection }
func (c StaticCamera) ViewMatrix() mgl32.Mat4       { return c.View }

// NewPerspectiveCamera returns a camera at eye looking at center.
// fovY is in degrees.
func NewPerspectiveCamera(fovY, aspect, near, far float32, eye, center, up mgl32.Vec3) StaticCamera {
	return StaticCamera{
		Projection: mgl32.Perspective(mgl32.DegToRad(fovY), aspect, near, far),
		View:       mgl32.LookAtV(eye, center, up),
	}
}

type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Plane is the half space Normal·p + Constant >= 0.
type Plane struct {
	Normal   mgl32.Vec3
	Constant float32
}

func (p Plane) DistanceToPoint(v mgl32.Vec3) float32 {
	return p.Normal.Dot(v) + p.Constant
}

func (p Plane) normalize() Plane {
	l := p.Normal.Len()
	if l == 0 {
		return p
	}
	inv := 1 / l
	return Plane{Normal: p.Normal.Mul(inv), Constant: p.Constant * inv}
}

// Frustum holds the six clip planes: right, left, bottom, top, far, near.
type Frustum [6]Plane

// FromMatrix extracts the clip planes of a projection×view matrix.
func FromMatrix(m mgl32.Mat4) Frustum {
	// mgl32 matrices are column-major: m[col*4+row].
	plane := func(x, y, z, w float32) Plane {
		return Plane{Normal: mgl32.Vec3{x, y, z}, Constant: w}.normalize()
	}
	return Frustum{
		plane(m[3]-m[0], m[7]-m[4], m[11]-m[8], m[15]-m[12]),
		plane(m[3]+m[0], m[7]+m[4], m[11]+m[8], m[15]+m[12]),
		plane(m[3]+m[1], m[7]+m[5], m[11]+m[9], m[15]+m[13]),
		plane(m[3]-m[1], m[7]-m[5], m[11]-m[9], m[15]-m[13]),
		plane(m[3]-m[2], m[7]-m[6], m[11]-m[10], m[15]-m[14]),
		plane(m[3]+m[2], m[7]+m[6], m[11]+m[10], m[15]+m[14]),
	}
}

// FromCamera extracts the frustum of projection × view.
func FromCamera(c Camera) Frustum {
	return FromMatrix(c.ProjectionMatrix().Mul4(c.ViewMatrix()))
}

// IntersectsSphere reports whether s is at least partly inside every plane.
func (f *Frustum) IntersectsSphere(s Sphere) bool {
	for _, p := range f {
		if p.DistanceToPoint(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
