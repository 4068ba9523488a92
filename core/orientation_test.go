package core

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/solar-placement/model"
)

const quatTol = 1e-12

func TestRoofNormal_FlatSouthFacingIsUp(t *testing.T) {
	got := RoofNormal(180, 0)
	if got.X != 0 || got.Y != 0 || got.Z != 1 {
		t.Fatalf("RoofNormal(180, 0) = %+v, want (0,0,1)", got)
	}
}

func TestRoofNormal_EastFacingThirtyDegrees(t *testing.T) {
	got := RoofNormal(90, 30)
	want := r3.Vec{X: -0.5, Y: 0, Z: math.Sqrt(3) / 2}
	if !vecNear(got, want, 1e-12) {
		t.Fatalf("RoofNormal(90, 30) = %+v, want %+v", got, want)
	}
}

func TestRoofNormal_VerticalWall(t *testing.T) {
	got := RoofNormal(0, 90)
	if math.Abs(got.Z) > 1e-15 || math.Abs(got.Y+1) > 1e-15 {
		t.Fatalf("RoofNormal(0, 90) = %+v, want (0,-1,0)", got)
	}
	f := NewRoofFrame(0, 90)
	if math.Abs(r3.Norm(f.AlongSlope)-1) > vecTol || math.Abs(r3.Norm(f.AcrossSlope)-1) > vecTol {
		t.Fatalf("vertical wall produced a degenerate frame: %+v", f)
	}
}

func TestNewRoofFrame_OrthonormalRightHanded(t *testing.T) {
	for az := 0.0; az < 360; az += 7.5 {
		for pitch := 0.5; pitch < 90; pitch += 4.5 {
			f := NewRoofFrame(az, pitch)
			axes := []r3.Vec{f.AcrossSlope, f.AlongSlope, f.Normal}
			for i, a := range axes {
				if n := r3.Norm(a); math.Abs(n-1) > vecTol {
					t.Fatalf("az=%v pitch=%v axis %d norm = %v", az, pitch, i, n)
				}
			}
			if d := r3.Dot(f.AcrossSlope, f.AlongSlope); math.Abs(d) > vecTol {
				t.Fatalf("az=%v pitch=%v X·Y = %v", az, pitch, d)
			}
			if d := r3.Dot(f.AcrossSlope, f.Normal); math.Abs(d) > vecTol {
				t.Fatalf("az=%v pitch=%v X·N = %v", az, pitch, d)
			}
			if d := r3.Dot(f.AlongSlope, f.Normal); math.Abs(d) > vecTol {
				t.Fatalf("az=%v pitch=%v Y·N = %v", az, pitch, d)
			}
			if !vecNear(r3.Cross(f.AcrossSlope, f.AlongSlope), f.Normal, vecTol) {
				t.Fatalf("az=%v pitch=%v frame is not right-handed", az, pitch)
			}
		}
	}
}

func TestNewRoofFrame_FlatRoofKeepsAzimuthAxis(t *testing.T) {
	f := NewRoofFrame(0, 0)
	if !vecNear(f.AlongSlope, r3.Vec{Y: 1}, vecTol) || !vecNear(f.AcrossSlope, r3.Vec{X: 1}, vecTol) {
		t.Fatalf("flat north frame = %+v, want X=east Y=north", f)
	}
	if q := LocalToENU(model.RoofSegment{}); !SameRotation(q, quat.Number{Real: 1}, quatTol) {
		t.Fatalf("flat north local rotation = %+v, want identity", q)
	}
}

func TestMatrixToQuaternion_ReproducesColumns(t *testing.T) {
	for _, seg := range []model.RoofSegment{
		{AzimuthDegrees: 0, PitchDegrees: 10},
		{AzimuthDegrees: 95, PitchDegrees: 35},
		{AzimuthDegrees: 180, PitchDegrees: 0},
		{AzimuthDegrees: 181, PitchDegrees: 60},
		{AzimuthDegrees: 270, PitchDegrees: 89.9},
		{AzimuthDegrees: 315, PitchDegrees: 90},
	} {
		f := NewRoofFrame(seg.AzimuthDegrees, seg.PitchDegrees)
		q := LocalToENU(seg)
		if !vecNear(RotateVector(q, r3.Vec{X: 1}), f.AcrossSlope, 1e-12) ||
			!vecNear(RotateVector(q, r3.Vec{Y: 1}), f.AlongSlope, 1e-12) ||
			!vecNear(RotateVector(q, r3.Vec{Z: 1}), f.Normal, 1e-12) {
			t.Fatalf("segment %+v: quaternion %+v does not reproduce frame %+v", seg, q, f)
		}
	}
}

func TestComposeOrientation_UnitNorm(t *testing.T) {
	positions := []model.GeodeticPosition{
		{LatitudeDeg: 37.4220, LongitudeDeg: -122.0841},
		{LatitudeDeg: -33.8688, LongitudeDeg: 151.2093, HeightMeters: 40},
		{LatitudeDeg: 59.3293, LongitudeDeg: 18.0686, HeightMeters: 15},
		{LatitudeDeg: 0.0001, LongitudeDeg: 179.999},
	}
	for _, g := range positions {
		p := GeodeticToECEF(g)
		for az := 0.0; az < 360; az += 30 {
			for pitch := 0.0; pitch <= 90; pitch += 15 {
				q := PanelOrientation(model.RoofSegment{AzimuthDegrees: az, PitchDegrees: pitch}, p)
				if n := quat.Abs(q); math.Abs(n-1) > 1e-12 {
					t.Fatalf("|q| = %v for az=%v pitch=%v at %+v", n, az, pitch, g)
				}
			}
		}
	}
}

func TestComposeOrientation_FlatRoofSpinsAboutUp(t *testing.T) {
	p := GeodeticToECEF(model.GeodeticPosition{LatitudeDeg: 33.4484, LongitudeDeg: -112.0740})

	// Azimuth 0 keeps the panel axes on ENU; azimuth 180 turns them half
	// way round up, so a flat due-south roof is not the identity.
	for _, tc := range []struct {
		azimuth float64
		local   quat.Number
	}{
		{azimuth: 0, local: quat.Number{Real: 1}},
		{azimuth: 90, local: quat.Number{Real: math.Sqrt2 / 2, Kmag: -math.Sqrt2 / 2}},
		{azimuth: 180, local: quat.Number{Kmag: 1}},
	} {
		seg := model.RoofSegment{AzimuthDegrees: tc.azimuth, PitchDegrees: 0}
		local := LocalToENU(seg)
		if !SameRotation(local, tc.local, quatTol) {
			t.Fatalf("az=%v local rotation = %+v, want %+v", tc.azimuth, local, tc.local)
		}

		q := PanelOrientation(seg, p)
		if !vecNear(RotateVector(q, r3.Vec{Z: 1}), SurfaceNormal(p), 1e-12) {
			t.Fatalf("az=%v flat roof panel normal does not point along geodetic up", tc.azimuth)
		}
		if want := quat.Mul(ENUToGlobal(p), tc.local); !SameRotation(q, want, quatTol) {
			t.Fatalf("az=%v orientation = %+v, want %+v", tc.azimuth, q, want)
		}
	}
}

func TestComposeOrientation_LocalAppliedBeforeENU(t *testing.T) {
	seg := model.RoofSegment{AzimuthDegrees: 90, PitchDegrees: 30}
	p := GeodeticToECEF(model.GeodeticPosition{LatitudeDeg: 48.8566, LongitudeDeg: 2.3522})

	q := PanelOrientation(seg, p)
	enu := ENUToECEFRotation(p)
	wantNormal := enu.MulVec(RoofNormal(90, 30))

	if got := RotateVector(q, r3.Vec{Z: 1}); !vecNear(got, wantNormal, 1e-12) {
		t.Fatalf("global panel normal = %+v, want %+v", got, wantNormal)
	}
}

func TestNewRoofFrame_AlongSlopeIsProjectedAzimuth(t *testing.T) {
	for az := 0.0; az < 360; az += 22.5 {
		for pitch := 0.0; pitch < 85; pitch += 10 {
			n := RoofNormal(az, pitch)
			h := r3.Vec{X: math.Sin(az * degToRad), Y: math.Cos(az * degToRad)}
			want := r3.Unit(r3.Sub(h, r3.Scale(r3.Dot(h, n), n)))
			if got := NewRoofFrame(az, pitch).AlongSlope; !vecNear(got, want, 1e-12) {
				t.Fatalf("az=%v pitch=%v along = %+v, want %+v", az, pitch, got, want)
			}
		}
	}
}
