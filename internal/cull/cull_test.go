package cull

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func testCamera() StaticCamera {
	// 90 degree fov looking down -Z: the side planes are x = ±z and y = ±z.
	return NewPerspectiveCamera(90, 1, 0.1, 100, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
}

func TestFrustum_IntersectsSphere(t *testing.T) {
	f := FromCamera(testCamera())

	testCases := []struct {
		name   string
		sphere Sphere
		want   bool
	}{
		{name: "inside", sphere: Sphere{Center: mgl32.Vec3{0, 0, -10}, Radius: 1}, want: true},
		{name: "behind camera", sphere: Sphere{Center: mgl32.Vec3{0, 0, 10}, Radius: 1}, want: false},
		{name: "beyond far plane", sphere: Sphere{Center: mgl32.Vec3{0, 0, -200}, Radius: 1}, want: false},
		{name: "straddles far plane", sphere: Sphere{Center: mgl32.Vec3{0, 0, -100.5}, Radius: 1}, want: true},
		{name: "outside right plane", sphere: Sphere{Center: mgl32.Vec3{20, 0, -10}, Radius: 1}, want: false},
		{name: "straddles right plane", sphere: Sphere{Center: mgl32.Vec3{10.5, 0, -10}, Radius: 1}, want: true},
		{name: "outside top plane", sphere: Sphere{Center: mgl32.Vec3{0, 20, -10}, Radius: 1}, want: false},
		{name: "large sphere around camera", sphere: Sphere{Center: mgl32.Vec3{0, 0, 0}, Radius: 1000}, want: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.IntersectsSphere(tc.sphere))
		})
	}
}

func TestFrustum_PlanesAreNormalized(t *testing.T) {
	f := FromCamera(testCamera())
	for i, p := range f {
		assert.InDelta(t, 1, p.Normal.Len(), 1e-5, "plane %d", i)
	}
}

func TestFrustum_TranslatedCamera(t *testing.T) {
	cam := NewPerspectiveCamera(90, 1, 0.1, 100, mgl32.Vec3{100, 0, 0}, mgl32.Vec3{100, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := FromCamera(cam)
	assert.True(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{100, 0, -10}, Radius: 1}))
	assert.False(t, f.IntersectsSphere(Sphere{Center: mgl32.Vec3{0, 0, -10}, Radius: 1}))
}
