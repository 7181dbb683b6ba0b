package locator

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultPixelsPerMeter is the drawing scale used by both renderers
const DefaultPixelsPerMeter = 50.0

var (
	beaconColor = color.RGBA{60, 60, 60, 255}
	gridColor   = color.RGBA{210, 210, 210, 255}
	lostColor   = color.RGBA{160, 160, 160, 255}
	textColor   = color.RGBA{0, 0, 0, 255}
)

// zoneColor returns the overlay color for a zone type
func zoneColor(zoneType string) color.NRGBA {
	switch zoneType {
	case "restricted":
		return color.NRGBA{220, 50, 50, 70}
	case "alert":
		return color.NRGBA{240, 160, 20, 70}
	default:
		return color.NRGBA{40, 170, 80, 60}
	}
}

// planProjector maps engine meters to drawing units with the origin at the
// top-left, going through the floor plan percentages so drawings match the UI
type planProjector struct {
	mapper        *CoordinateMapper
	width, height float64
	ppm           float64
}

func newPlanProjector(mapper *CoordinateMapper, pixelsPerMeter float64) planProjector {
	if pixelsPerMeter <= 0 {
		pixelsPerMeter = DefaultPixelsPerMeter
	}
	b := mapper.Bounds()
	return planProjector{
		mapper: mapper,
		width:  (b.Max[0] - b.Min[0]) * pixelsPerMeter,
		height: (b.Max[1] - b.Min[1]) * pixelsPerMeter,
		ppm:    pixelsPerMeter,
	}
}

func (p planProjector) project(pt Point) (float64, float64) {
	pct := p.mapper.ToPercent(pt)
	return pct.X / 100 * p.width, pct.Y / 100 * p.height
}

// unproject is the inverse of project
func (p planProjector) unproject(x, y float64) Point {
	return p.mapper.FromPercent(Point{X: x / p.width * 100, Y: y / p.height * 100})
}

// gridLines returns the grid positions along one axis, in meters
func gridLines(min, max, spacing float64) []float64 {
	if spacing <= 0 {
		return nil
	}
	var out []float64
	for v := math.Ceil(min/spacing) * spacing; v <= max+1e-9; v += spacing {
		out = append(out, v)
	}
	return out
}

// sortedPositionIDs returns the collar ids in a stable drawing order
func sortedPositionIDs(positions map[string]*LivePosition) []string {
	ids := make([]string, 0, len(positions))
	for id, p := range positions {
		if p != nil && p.TrackID != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RasterRenderer draws the floor plan with beacons, zones and live collar
// positions into an RGBA image
type RasterRenderer struct {
	Mapper         *CoordinateMapper
	Registry       *Registry
	Zones          *ZoneTracker
	PixelsPerMeter float64
	GridSpacing    float64 // meters; 0 disables the grid
	Labels         bool
}

// NewRasterRenderer creates a raster renderer with default settings
func NewRasterRenderer(mapper *CoordinateMapper, registry *Registry, zones *ZoneTracker) *RasterRenderer {
	return &RasterRenderer{
		Mapper:         mapper,
		Registry:       registry,
		Zones:          zones,
		PixelsPerMeter: DefaultPixelsPerMeter,
		GridSpacing:    1.0,
		Labels:         true,
	}
}

// RenderLive renders the floor plan with the given collar positions.
// Collars that never had a fix are skipped; lost collars are drawn grey.
func (r *RasterRenderer) RenderLive(positions map[string]*LivePosition) *image.RGBA {
	proj := newPlanProjector(r.Mapper, r.PixelsPerMeter)
	w := int(math.Ceil(proj.width))
	h := int(math.Ceil(proj.height))
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for i := range img.Pix {
		img.Pix[i] = 255
	}

	if r.Zones != nil && len(r.Zones.Zones()) > 0 {
		for py := 0; py < h; py++ {
			for px := 0; px < w; px++ {
				pt := proj.unproject(float64(px)+0.5, float64(py)+0.5)
				for _, z := range r.Zones.Zones() {
					if z.Contains(pt) {
						img.SetRGBA(px, py, blendColors(img.RGBAAt(px, py), zoneColor(z.Type)))
					}
				}
			}
		}
	}

	if r.GridSpacing > 0 {
		b := r.Mapper.Bounds()
		for _, x := range gridLines(b.Min[0], b.Max[0], r.GridSpacing) {
			px, _ := proj.project(Point{X: x, Y: b.Min[1]})
			for py := 0; py < h; py++ {
				setPixel(img, int(px), py, gridColor)
			}
		}
		for _, y := range gridLines(b.Min[1], b.Max[1], r.GridSpacing) {
			_, py := proj.project(Point{X: b.Min[0], Y: y})
			for px := 0; px < w; px++ {
				setPixel(img, px, int(py), gridColor)
			}
		}
	}

	if r.Registry != nil {
		for _, b := range r.Registry.Beacons() {
			x, y := proj.project(b.Position)
			drawSquare(img, int(x), int(y), 8, beaconColor)
			if r.Labels {
				label := b.ID
				if b.Name != "" {
					label = b.Name
				}
				drawText(img, int(x)+7, int(y)+4, label, beaconColor)
			}
		}
	}

	ids := sortedPositionIDs(positions)
	for _, id := range ids {
		p := positions[id]
		c := parseHexColor(p.Color)
		if !p.Valid {
			c = lostColor
		}
		x, y := proj.project(Point{X: p.X, Y: p.Y})
		drawCircle(img, int(x), int(y), 7, c)
		if r.Labels {
			drawText(img, int(x)+10, int(y)-6, fmt.Sprintf("%s %d%%", id, p.Confidence), textColor)
		}
	}

	if r.Labels {
		drawLiveLegend(img, positions, ids)
	}

	return img
}

// WritePNG renders and PNG-encodes the live view
func (r *RasterRenderer) WritePNG(w io.Writer, positions map[string]*LivePosition) error {
	if err := png.Encode(w, r.RenderLive(positions)); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}

// blendColors alpha-blends fg over an opaque bg
func blendColors(bg color.RGBA, fg color.NRGBA) color.RGBA {
	alpha := float64(fg.A) / 255
	inv := 1 - alpha
	return color.RGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*inv),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*inv),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*inv),
		A: 255,
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			setPixel(img, cx+dx, cy+dy, c)
		}
	}
}

// drawLiveLegend lists the collars with their colors in the top-left corner
func drawLiveLegend(img *image.RGBA, positions map[string]*LivePosition, ids []string) {
	y := 15
	for _, id := range ids {
		p := positions[id]
		c := parseHexColor(p.Color)
		drawSquare(img, 16, y-2, 12, c)

		state := "tracking"
		if !p.Valid {
			state = "lost"
		}
		drawText(img, 28, y+3, fmt.Sprintf("%s (%s)", id, state), textColor)
		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B"; invalid input yields red
func parseHexColor(hex string) color.RGBA {
	def := color.RGBA{255, 0, 0, 255}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return def
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return def
	}
	return color.RGBA{r, g, b, 255}
}
