package geo

import "fmt"

// Position is a point in session world space with view angles.
type Position struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Pitch float32 `json:"pitch"`
	Yaw   float32 `json:"yaw"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", p.X, p.Y, p.Z)
}

// Region is an axis-aligned bounding box. Min and Max are inclusive corners;
// callers must supply them already normalized (Min <= Max per axis).
type Region struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// ContainsXZ reports whether p lies within the region on the horizontal
// plane. Vertical position is not constrained.
func (r Region) ContainsXZ(p Position) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Z >= r.Min.Z && p.Z <= r.Max.Z
}

// Contains reports whether p lies within the region on all three axes.
func (r Region) Contains(p Position) bool {
	return r.ContainsXZ(p) && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}
