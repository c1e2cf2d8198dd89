package geo

import (
	"math/rand"
	"testing"
)

func TestToFixedRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		deg  float64
		want int64
	}{
		{name: "zero", deg: 0, want: 0},
		{name: "positive", deg: 10.0000001, want: 100000001},
		{name: "negative", deg: -0.1278, want: -1278000},
		{name: "max longitude", deg: 180, want: 1800000000},
		{name: "min latitude", deg: -90, want: -900000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToFixed(tt.deg)
			if got != tt.want {
				t.Errorf("ToFixed(%v) = %d, want %d", tt.deg, got, tt.want)
			}
		})
	}
}

func TestValidateCoords(t *testing.T) {
	if err := ValidateCoords(515074000, -1278000); err != nil {
		t.Errorf("valid coords rejected: %v", err)
	}
	if err := ValidateCoords(MaxLat+1, 0); err == nil {
		t.Error("latitude above 90 accepted")
	}
	if err := ValidateCoords(0, MinLon-1); err == nil {
		t.Error("longitude below -180 accepted")
	}
}

func TestBBoxExtendPoint(t *testing.T) {
	var b BBox
	if b.Set {
		t.Fatal("zero box must be empty")
	}

	b.ExtendPoint(100000000, 200000000)
	want := FromPoint(100000000, 200000000)
	if !b.Equal(want) {
		t.Errorf("single point box = %v, want %v", b, want)
	}

	b.ExtendPoint(100000001, 200000000)
	if b.MaxLat != 100000001 || b.MinLat != 100000000 {
		t.Errorf("box did not grow north: %+v", b)
	}
	if b.MinLon != 200000000 || b.MaxLon != 200000000 {
		t.Errorf("longitude should be unchanged: %+v", b)
	}
}

func TestBBoxExtendEmptyIdentity(t *testing.T) {
	a := FromPoint(10, 20)
	var empty BBox

	got := Union(a, empty)
	if !got.Equal(a) {
		t.Errorf("union with empty box changed: %v", got)
	}
	got = Union(empty, a)
	if !got.Equal(a) {
		t.Errorf("empty box is not a left identity: %v", got)
	}
}

// Folding a point set into a box must not depend on the order of the fold.
func TestBBoxUnionOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	type pt struct{ lat, lon int64 }
	pts := make([]pt, 50)
	for i := range pts {
		pts[i] = pt{
			lat: rng.Int63n(MaxLat-MinLat) + MinLat,
			lon: rng.Int63n(MaxLon-MinLon) + MinLon,
		}
	}

	var forward BBox
	for _, p := range pts {
		forward.ExtendPoint(p.lat, p.lon)
	}

	var backward BBox
	for i := len(pts) - 1; i >= 0; i-- {
		backward.ExtendPoint(pts[i].lat, pts[i].lon)
	}

	if !forward.Equal(backward) {
		t.Errorf("fold order changed result: %v vs %v", forward, backward)
	}

	// Union of two halves equals the whole.
	var left, right BBox
	for _, p := range pts[:25] {
		left.ExtendPoint(p.lat, p.lon)
	}
	for _, p := range pts[25:] {
		right.ExtendPoint(p.lat, p.lon)
	}
	if !Union(left, right).Equal(forward) {
		t.Errorf("union of halves != whole: %v vs %v", Union(left, right), forward)
	}
}

func TestInterleaveBitOrder(t *testing.T) {
	// y occupies the even bit positions, x the odd ones.
	if got := interleave(1, 0); got != 2 {
		t.Errorf("interleave(1, 0) = %d, want 2", got)
	}
	if got := interleave(0, 1); got != 1 {
		t.Errorf("interleave(0, 1) = %d, want 1", got)
	}
	if got := interleave(0xffff, 0); got != 0xaaaaaaaa {
		t.Errorf("interleave(0xffff, 0) = %#x, want 0xaaaaaaaa", got)
	}
	if got := interleave(0, 0xffff); got != 0x55555555 {
		t.Errorf("interleave(0, 0xffff) = %#x, want 0x55555555", got)
	}
}

func TestQuadTile(t *testing.T) {
	// Nearby points land in the same grid cell, far points do not.
	a := QuadTile(515074000, -1278000)
	b := QuadTile(515074100, -1278100)
	if a != b {
		t.Errorf("points 10 micro-degrees apart got different tiles: %d vs %d", a, b)
	}

	c := QuadTile(-515074000, 1278000)
	if a == c {
		t.Error("antipodal points share a tile")
	}

	// Corners of the planet are valid and distinct.
	corners := map[uint64]bool{}
	corners[QuadTile(MinLat, MinLon)] = true
	corners[QuadTile(MinLat, MaxLon)] = true
	corners[QuadTile(MaxLat, MinLon)] = true
	corners[QuadTile(MaxLat, MaxLon)] = true
	if len(corners) != 4 {
		t.Errorf("planet corners collide: %d distinct tiles", len(corners))
	}
}
