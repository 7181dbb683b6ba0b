package locator

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func bound(minX, minY, maxX, maxY float64) orb.Bound {
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

func TestCoordinateMapper_ToPercent(t *testing.T) {
	m, err := NewCoordinateMapper(bound(0, 0, 10, 5), 0, false)
	if err != nil {
		t.Fatalf("NewCoordinateMapper() error: %v", err)
	}

	tests := []struct {
		name string
		in   Point
		want Point
	}{
		{"origin", Point{X: 0, Y: 0}, Point{X: 0, Y: 0}},
		{"center", Point{X: 5, Y: 2.5}, Point{X: 50, Y: 50}},
		{"far corner", Point{X: 10, Y: 5}, Point{X: 100, Y: 100}},
		{"quarter", Point{X: 2.5, Y: 1.25}, Point{X: 25, Y: 25}},
		{"clamped low", Point{X: -3, Y: -1}, Point{X: 0, Y: 0}},
		{"clamped high", Point{X: 42, Y: 20}, Point{X: 100, Y: 100}},
		{"clamped mixed", Point{X: -3, Y: 20}, Point{X: 0, Y: 100}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.ToPercent(tt.in); !pointsEqual(got, tt.want) {
				t.Errorf("ToPercent(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCoordinateMapper_RoundTrip(t *testing.T) {
	m, err := NewCoordinateMapper(bound(-2.5, 1, 9.5, 9), 0, false)
	if err != nil {
		t.Fatalf("NewCoordinateMapper() error: %v", err)
	}

	for px := 0.0; px <= 100; px += 12.5 {
		for py := 0.0; py <= 100; py += 12.5 {
			p := Point{X: px, Y: py}
			if got := m.ToPercent(m.FromPercent(p)); !pointsEqual(got, p) {
				t.Errorf("ToPercent(FromPercent(%v)) = %v", p, got)
			}
		}
	}

	for x := -2.5; x <= 9.5; x += 1.5 {
		for y := 1.0; y <= 9; y += 2 {
			p := Point{X: x, Y: y}
			if got := m.FromPercent(m.ToPercent(p)); !pointsEqual(got, p) {
				t.Errorf("FromPercent(ToPercent(%v)) = %v", p, got)
			}
		}
	}
}

func TestCoordinateMapper_FromPercentClamps(t *testing.T) {
	m, _ := NewCoordinateMapper(bound(0, 0, 10, 10), 0, false)

	if got := m.FromPercent(Point{X: -20, Y: 150}); !pointsEqual(got, Point{X: 0, Y: 10}) {
		t.Errorf("FromPercent() = %v, want (0, 10)", got)
	}
}

func TestCoordinateMapper_FlipY(t *testing.T) {
	m, err := NewCoordinateMapper(bound(0, 0, 10, 5), 0, true)
	if err != nil {
		t.Fatalf("NewCoordinateMapper() error: %v", err)
	}

	tests := []struct {
		in   Point
		want Point
	}{
		{Point{X: 0, Y: 5}, Point{X: 0, Y: 0}},
		{Point{X: 0, Y: 0}, Point{X: 0, Y: 100}},
		{Point{X: 10, Y: 1.25}, Point{X: 100, Y: 75}},
	}
	for _, tt := range tests {
		if got := m.ToPercent(tt.in); !pointsEqual(got, tt.want) {
			t.Errorf("ToPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := m.FromPercent(tt.want); !pointsEqual(got, tt.in) {
			t.Errorf("FromPercent(%v) = %v, want %v", tt.want, got, tt.in)
		}
	}
}

func TestCoordinateMapper_Letterbox(t *testing.T) {
	tests := []struct {
		name   string
		b      orb.Bound
		aspect float64
		want   orb.Bound
	}{
		{"too wide grows height", bound(0, 0, 10, 5), 1, bound(0, -2.5, 10, 7.5)},
		{"too tall grows width", bound(0, 0, 4, 8), 2, bound(-6, 0, 10, 8)},
		{"already matching", bound(0, 0, 16, 9), 16.0 / 9, bound(0, 0, 16, 9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewCoordinateMapper(tt.b, tt.aspect, false)
			if err != nil {
				t.Fatalf("NewCoordinateMapper() error: %v", err)
			}
			got := m.Bounds()
			if !almostEqual(got.Min[0], tt.want.Min[0]) || !almostEqual(got.Min[1], tt.want.Min[1]) ||
				!almostEqual(got.Max[0], tt.want.Max[0]) || !almostEqual(got.Max[1], tt.want.Max[1]) {
				t.Errorf("Bounds() = %v, want %v", got, tt.want)
			}

			// the original center stays centered
			c := tt.b.Center()
			if pct := m.ToPercent(Point{X: c[0], Y: c[1]}); !pointsEqual(pct, Point{X: 50, Y: 50}) {
				t.Errorf("center maps to %v, want (50, 50)", pct)
			}
		})
	}

	m, _ := NewCoordinateMapper(bound(0, 0, 10, 5), 1, false)
	if got := m.ToPercent(Point{X: 0, Y: 0}); !pointsEqual(got, Point{X: 0, Y: 25}) {
		t.Errorf("letterboxed origin = %v, want (0, 25)", got)
	}
}

func TestNewCoordinateMapper_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		b      orb.Bound
		aspect float64
	}{
		{"zero width", bound(1, 0, 1, 5), 0},
		{"zero height", bound(0, 2, 5, 2), 0},
		{"inverted", bound(5, 5, 0, 0), 0},
		{"infinite", bound(0, 0, math.Inf(1), 5), 0},
		{"negative aspect", bound(0, 0, 5, 5), -1},
		{"NaN aspect", bound(0, 0, 5, 5), math.NaN()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewCoordinateMapper(tt.b, tt.aspect, false); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewCoordinateMapper() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestMapToPercent_Stateless(t *testing.T) {
	b := bound(0, 0, 20, 10)

	pct, err := MapToPercent(Point{X: 5, Y: 5}, b, 0)
	if err != nil {
		t.Fatalf("MapToPercent() error: %v", err)
	}
	if !pointsEqual(pct, Point{X: 25, Y: 50}) {
		t.Errorf("MapToPercent() = %v, want (25, 50)", pct)
	}

	back, err := MapFromPercent(pct, b, 0)
	if err != nil {
		t.Fatalf("MapFromPercent() error: %v", err)
	}
	if !pointsEqual(back, Point{X: 5, Y: 5}) {
		t.Errorf("MapFromPercent() = %v, want (5, 5)", back)
	}

	if _, err := MapToPercent(Point{}, bound(0, 0, 0, 0), 0); err == nil {
		t.Error("MapToPercent() with empty bounds should fail")
	}
}

func TestFloorPlanBounds(t *testing.T) {
	r, err := NewRegistry([]Beacon{
		{ID: "a", Position: Point{X: 0, Y: 0}, ReferenceRSSIAt1m: -59, PathLossExponent: 2},
		{ID: "b", Position: Point{X: 8, Y: 6}, ReferenceRSSIAt1m: -59, PathLossExponent: 2},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	explicit := FloorPlanBounds(FloorPlanConfig{MinX: -1, MinY: -2, MaxX: 11, MaxY: 9}, r)
	if explicit != bound(-1, -2, 11, 9) {
		t.Errorf("explicit bounds = %v", explicit)
	}

	derived := FloorPlanBounds(FloorPlanConfig{Padding: 2}, r)
	if derived != bound(-2, -2, 10, 8) {
		t.Errorf("derived bounds = %v, want beacon layout padded by 2", derived)
	}

	defaulted := FloorPlanBounds(FloorPlanConfig{}, r)
	if defaulted != bound(-1, -1, 9, 7) {
		t.Errorf("defaulted bounds = %v, want padding of 1", defaulted)
	}
}
