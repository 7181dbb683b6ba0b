package locator

import (
	"fmt"

	"github.com/paulmach/orb"
)

// CoordinateMapper converts engine-space meters to floor plan percentages and back.
// It is immutable once created and safe for concurrent use.
type CoordinateMapper struct {
	bounds  orb.Bound
	flipY   bool
	forward AffineMatrix
	inverse AffineMatrix
}

// NewCoordinateMapper creates a mapper for the given floor plan rectangle.
// When targetAspect is positive the rectangle is grown symmetrically along one
// axis until width/height matches it, so the plan is letterboxed rather than stretched.
// With flipY the top edge of the plan (0%) corresponds to the largest y.
func NewCoordinateMapper(bounds orb.Bound, targetAspect float64, flipY bool) (*CoordinateMapper, error) {
	w := bounds.Max[0] - bounds.Min[0]
	h := bounds.Max[1] - bounds.Min[1]
	if !isFinite(w) || !isFinite(h) || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: mapper bounds must have positive width and height, got %.3fx%.3f", ErrInvalidConfig, w, h)
	}
	if !isFinite(targetAspect) || targetAspect < 0 {
		return nil, fmt.Errorf("%w: targetAspect must be >= 0", ErrInvalidConfig)
	}

	if targetAspect > 0 {
		if aspect := w / h; aspect < targetAspect {
			grow := (h*targetAspect - w) / 2
			bounds.Min[0] -= grow
			bounds.Max[0] += grow
			w = h * targetAspect
		} else if aspect > targetAspect {
			grow := (w/targetAspect - h) / 2
			bounds.Min[1] -= grow
			bounds.Max[1] += grow
			h = w / targetAspect
		}
	}

	// meters -> [0,1] -> percent
	var forward AffineMatrix
	if flipY {
		forward = MultiplyMatrices(Scale(100/w, -100/h), Translation(-bounds.Min[0], -bounds.Max[1]))
	} else {
		forward = MultiplyMatrices(Scale(100/w, 100/h), Translation(-bounds.Min[0], -bounds.Min[1]))
	}

	inverse, ok := InvertMatrix(forward)
	if !ok {
		return nil, fmt.Errorf("%w: mapper transform is singular", ErrInvalidConfig)
	}

	return &CoordinateMapper{
		bounds:  bounds,
		flipY:   flipY,
		forward: forward,
		inverse: inverse,
	}, nil
}

// Bounds returns the effective rectangle after letterboxing
func (m *CoordinateMapper) Bounds() orb.Bound {
	return m.bounds
}

// ToPercent maps meters to percentages, clamping out-of-bounds points to [0,100]
func (m *CoordinateMapper) ToPercent(p Point) Point {
	out := TransformPoint(p, m.forward)
	return Point{X: clamp(out.X, 0, 100), Y: clamp(out.Y, 0, 100)}
}

// FromPercent maps percentages back to meters; inputs are clamped to [0,100] first
func (m *CoordinateMapper) FromPercent(p Point) Point {
	p = Point{X: clamp(p.X, 0, 100), Y: clamp(p.Y, 0, 100)}
	return TransformPoint(p, m.inverse)
}

// MapToPercent is the stateless form of ToPercent
func MapToPercent(p Point, bounds orb.Bound, targetAspect float64) (Point, error) {
	m, err := NewCoordinateMapper(bounds, targetAspect, false)
	if err != nil {
		return Point{}, err
	}
	return m.ToPercent(p), nil
}

// MapFromPercent is the stateless form of FromPercent
func MapFromPercent(p Point, bounds orb.Bound, targetAspect float64) (Point, error) {
	m, err := NewCoordinateMapper(bounds, targetAspect, false)
	if err != nil {
		return Point{}, err
	}
	return m.FromPercent(p), nil
}

// FloorPlanBounds returns the configured floor plan rectangle, or the beacon
// layout grown by the configured padding when no rectangle is set
func FloorPlanBounds(fp FloorPlanConfig, registry *Registry) orb.Bound {
	if fp.HasBounds() {
		return orb.Bound{Min: orb.Point{fp.MinX, fp.MinY}, Max: orb.Point{fp.MaxX, fp.MaxY}}
	}
	b := registry.Bound()
	pad := fp.Padding
	if pad <= 0 {
		pad = 1
	}
	return b.Pad(pad)
}
