package locator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZone(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ZoneConfig
		inside  []Point
		outside []Point
	}{
		{
			name:    "circle",
			cfg:     ZoneConfig{ID: "bed", Shape: ShapeCircle, Center: &Point{X: 2, Y: 2}, Radius: 1},
			inside:  []Point{{X: 2, Y: 2}, {X: 2.9, Y: 2}, {X: 2, Y: 3}},
			outside: []Point{{X: 3.1, Y: 2}, {X: 2.8, Y: 2.8}},
		},
		{
			name:    "rectangle",
			cfg:     ZoneConfig{ID: "sofa", Shape: ShapeRectangle, Center: &Point{X: 5, Y: 5}, Width: 4, Height: 2},
			inside:  []Point{{X: 5, Y: 5}, {X: 3.5, Y: 4.5}, {X: 6.9, Y: 5.9}},
			outside: []Point{{X: 7.5, Y: 5}, {X: 5, Y: 6.5}},
		},
		{
			name: "L-shaped polygon",
			cfg: ZoneConfig{ID: "kitchen", Shape: ShapePolygon, Points: [][2]float64{
				{0, 0}, {4, 0}, {4, 1}, {1, 1}, {1, 4}, {0, 4},
			}},
			inside:  []Point{{X: 0.5, Y: 0.5}, {X: 3, Y: 0.5}, {X: 0.5, Y: 3}},
			outside: []Point{{X: 2, Y: 2}, {X: 3, Y: 3}, {X: -1, Y: 0.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, err := NewZone(tt.cfg)
			require.NoError(t, err)
			for _, p := range tt.inside {
				assert.True(t, z.Contains(p), "%v should be inside", p)
			}
			for _, p := range tt.outside {
				assert.False(t, z.Contains(p), "%v should be outside", p)
			}
			require.NotEmpty(t, z.Polygon())
			assert.True(t, z.Polygon()[0].Closed())
		})
	}
}

func TestNewZone_Defaults(t *testing.T) {
	z, err := NewZone(ZoneConfig{ID: "yard", Shape: ShapeCircle, Center: &Point{}, Radius: 3})
	require.NoError(t, err)
	assert.Equal(t, "yard", z.Name)
	assert.Equal(t, "safe", z.Type)
	assert.Len(t, z.Polygon()[0], circleSegments+1)
}

func TestNewZone_PolygonSimplified(t *testing.T) {
	// the midpoints of every edge add nothing to the outline
	z, err := NewZone(ZoneConfig{ID: "room", Shape: ShapePolygon, Points: [][2]float64{
		{0, 0}, {2, 0}, {4, 0}, {4, 2}, {4, 4}, {2, 4}, {0, 4}, {0, 2},
	}})
	require.NoError(t, err)

	assert.Less(t, len(z.Polygon()[0]), 9)
	assert.InDelta(t, 2.0, z.Center.X, 1e-9)
	assert.InDelta(t, 2.0, z.Center.Y, 1e-9)
	assert.True(t, z.Contains(Point{X: 3.9, Y: 3.9}))
}

func TestNewZone_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  ZoneConfig
	}{
		{"circle without center", ZoneConfig{ID: "a", Shape: ShapeCircle, Radius: 2}},
		{"circle without radius", ZoneConfig{ID: "a", Shape: ShapeCircle, Center: &Point{}}},
		{"rectangle without size", ZoneConfig{ID: "a", Shape: ShapeRectangle, Center: &Point{}, Width: 2}},
		{"polygon with two points", ZoneConfig{ID: "a", Shape: ShapePolygon, Points: [][2]float64{{0, 0}, {1, 1}}}},
		{"unknown shape", ZoneConfig{ID: "a", Shape: "blob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewZone(tt.cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestNewZoneTracker_DuplicateID(t *testing.T) {
	_, err := NewZoneTracker([]ZoneConfig{
		{ID: "a", Shape: ShapeCircle, Center: &Point{}, Radius: 1},
		{ID: "a", Shape: ShapeCircle, Center: &Point{}, Radius: 2},
	})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestZoneTracker_Update(t *testing.T) {
	zt, err := NewZoneTracker([]ZoneConfig{
		{ID: "bed", Name: "Dog bed", Shape: ShapeCircle, Center: &Point{X: 1, Y: 1}, Radius: 1},
		{ID: "kitchen", Type: "restricted", Shape: ShapeRectangle, Center: &Point{X: 5, Y: 1}, Width: 4, Height: 2},
	})
	require.NoError(t, err)

	at := func(x, y float64, ts int64) SmoothedPosition {
		return SmoothedPosition{X: x, Y: y, Valid: true, Confidence: 80, TimestampMs: ts, TrackID: "t1"}
	}

	events := zt.Update("rex", at(1, 1, 1000))
	require.Len(t, events, 1)
	assert.Equal(t, ZoneEvent{
		CollarID: "rex", ZoneID: "bed", ZoneName: "Dog bed", ZoneType: "safe",
		Event: ZoneEntered, X: 1, Y: 1, TimestampMs: 1000,
	}, events[0])
	assert.Equal(t, []string{"bed"}, zt.Memberships("rex"))

	assert.Empty(t, zt.Update("rex", at(1.2, 1, 2000)), "no crossing, no event")

	events = zt.Update("rex", at(4, 1, 3000))
	require.Len(t, events, 2)
	assert.Equal(t, "bed", events[0].ZoneID)
	assert.Equal(t, ZoneExited, events[0].Event)
	assert.Equal(t, "kitchen", events[1].ZoneID)
	assert.Equal(t, ZoneEntered, events[1].Event)
	assert.Equal(t, "restricted", events[1].ZoneType)

	// invalid positions never change membership
	assert.Empty(t, zt.Update("rex", SmoothedPosition{X: 1, Y: 1, Valid: false}))
	assert.Equal(t, []string{"kitchen"}, zt.Memberships("rex"))

	// collars are tracked independently
	assert.Empty(t, zt.Memberships("fido"))
	assert.Len(t, zt.Update("fido", at(5, 1, 3000)), 1)
}

func TestZoneTracker_Locate(t *testing.T) {
	zt, err := NewZoneTracker([]ZoneConfig{
		{ID: "house", Shape: ShapeRectangle, Center: &Point{X: 5, Y: 5}, Width: 10, Height: 10},
		{ID: "bed", Shape: ShapeCircle, Center: &Point{X: 1, Y: 1}, Radius: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"house", "bed"}, zt.Locate(Point{X: 1, Y: 1}))
	assert.Equal(t, []string{"house"}, zt.Locate(Point{X: 8, Y: 8}))
	assert.Empty(t, zt.Locate(Point{X: 20, Y: 20}))
}

func TestZoneTracker_Empty(t *testing.T) {
	zt, err := NewZoneTracker(nil)
	require.NoError(t, err)
	assert.Empty(t, zt.Zones())
	assert.Nil(t, zt.Update("rex", SmoothedPosition{Valid: true}))
}
