package geo

import "fmt"

// CoordScale is the fixed-point scale for coordinates: degrees are stored
// as integer nano-degrees / 100 (degrees * 10^7), so a full longitude range
// is [-1800000000, 1800000000].
const CoordScale = 10000000

// Coordinate bounds in fixed-point units
const (
	MinLon = -180 * CoordScale
	MaxLon = 180 * CoordScale
	MinLat = -90 * CoordScale
	MaxLat = 90 * CoordScale
)

// ToFixed converts decimal degrees to fixed-point units
func ToFixed(deg float64) int64 {
	if deg >= 0 {
		return int64(deg*CoordScale + 0.5)
	}
	return int64(deg*CoordScale - 0.5)
}

// ToDegrees converts fixed-point units back to decimal degrees
func ToDegrees(v int64) float64 {
	return float64(v) / CoordScale
}

// ValidateCoords checks that a fixed-point position is on the planet
func ValidateCoords(lat, lon int64) error {
	if lat < MinLat || lat > MaxLat {
		return fmt.Errorf("latitude %d out of range [%d, %d]", lat, int64(MinLat), int64(MaxLat))
	}
	if lon < MinLon || lon > MaxLon {
		return fmt.Errorf("longitude %d out of range [%d, %d]", lon, int64(MinLon), int64(MaxLon))
	}
	return nil
}

// BBox is a geographic bounding box in fixed-point coordinates.
// The zero value is the empty box, which is the identity for Extend
// and Union.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat int64
	Set                            bool
}

// FromPoint returns a box covering a single point
func FromPoint(lat, lon int64) BBox {
	return BBox{MinLon: lon, MinLat: lat, MaxLon: lon, MaxLat: lat, Set: true}
}

// ExtendPoint grows the box to include a point
func (b *BBox) ExtendPoint(lat, lon int64) {
	if !b.Set {
		*b = FromPoint(lat, lon)
		return
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
}

// Extend grows the box to include another box
func (b *BBox) Extend(other BBox) {
	if !other.Set {
		return
	}
	b.ExtendPoint(other.MinLat, other.MinLon)
	b.ExtendPoint(other.MaxLat, other.MaxLon)
}

// Union returns the smallest box containing both boxes
func Union(a, b BBox) BBox {
	out := a
	out.Extend(b)
	return out
}

// Equal reports whether two boxes cover the same area
func (b BBox) Equal(other BBox) bool {
	if !b.Set || !other.Set {
		return b.Set == other.Set
	}
	return b.MinLon == other.MinLon && b.MinLat == other.MinLat &&
		b.MaxLon == other.MaxLon && b.MaxLat == other.MaxLat
}

// String renders the box as "minlon,minlat,maxlon,maxlat" in degrees
func (b BBox) String() string {
	if !b.Set {
		return "empty"
	}
	return fmt.Sprintf("%g,%g,%g,%g",
		ToDegrees(b.MinLon), ToDegrees(b.MinLat),
		ToDegrees(b.MaxLon), ToDegrees(b.MaxLat))
}
