package locator

import (
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// VectorRenderer draws the floor plan as vector graphics
type VectorRenderer struct {
	Mapper         *CoordinateMapper
	Registry       *Registry
	Zones          *ZoneTracker
	PixelsPerMeter float64
	GridSpacing    float64           // meters; 0 disables the grid
	Resolution     canvas.Resolution // PNG output only
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(mapper *CoordinateMapper, registry *Registry, zones *ZoneTracker) *VectorRenderer {
	return &VectorRenderer{
		Mapper:         mapper,
		Registry:       registry,
		Zones:          zones,
		PixelsPerMeter: DefaultPixelsPerMeter,
		GridSpacing:    1.0,
		Resolution:     canvas.DPI(96),
	}
}

// RenderToSVG writes the floor plan with the given collar positions as SVG.
// positions may be nil for a static plan.
func (r *VectorRenderer) RenderToSVG(w io.Writer, positions map[string]*LivePosition) error {
	proj := newPlanProjector(r.Mapper, r.PixelsPerMeter)
	s := svg.New(w, proj.width, proj.height, nil)
	r.renderToCanvas(s, proj, positions)
	return s.Close()
}

// RenderToPNG rasterizes the vector drawing to PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer, positions map[string]*LivePosition) error {
	proj := newPlanProjector(r.Mapper, r.PixelsPerMeter)
	rast := rasterizer.New(proj.width, proj.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, proj, positions)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, proj planProjector, positions map[string]*LivePosition) {
	// canvas y grows upwards, the projector's downwards
	toCanvas := func(p Point) (float64, float64) {
		x, y := proj.project(p)
		return x, proj.height - y
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(proj.width, proj.height), bgStyle, canvas.Identity)

	if r.Zones != nil {
		for _, z := range r.Zones.Zones() {
			zc := zoneColor(z.Type)
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(zc)}
			style.Stroke = canvas.Paint{Color: color.RGBA{zc.R, zc.G, zc.B, 255}}
			style.StrokeWidth = 2.0

			if z.Shape == ShapeCircle {
				cx, cy := toCanvas(z.Center)
				renderer.RenderPath(canvas.Circle(z.Radius*proj.ppm).Translate(cx, cy), style, canvas.Identity)
				continue
			}
			for _, ring := range z.Polygon() {
				path := &canvas.Path{}
				for i, pt := range ring {
					x, y := toCanvas(Point{X: pt[0], Y: pt[1]})
					if i == 0 {
						path.MoveTo(x, y)
					} else {
						path.LineTo(x, y)
					}
				}
				path.Close()
				renderer.RenderPath(path, style, canvas.Identity)
			}
		}
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 1.0
		gridStyle.Dashes = []float64{4.0, 4.0}

		b := r.Mapper.Bounds()
		for _, x := range gridLines(b.Min[0], b.Max[0], r.GridSpacing) {
			path := &canvas.Path{}
			path.MoveTo(toCanvas(Point{X: x, Y: b.Min[1]}))
			path.LineTo(toCanvas(Point{X: x, Y: b.Max[1]}))
			renderer.RenderPath(path, gridStyle, canvas.Identity)
		}
		for _, y := range gridLines(b.Min[1], b.Max[1], r.GridSpacing) {
			path := &canvas.Path{}
			path.MoveTo(toCanvas(Point{X: b.Min[0], Y: y}))
			path.LineTo(toCanvas(Point{X: b.Max[0], Y: y}))
			renderer.RenderPath(path, gridStyle, canvas.Identity)
		}
	}

	if r.Registry != nil {
		beaconStyle := canvas.DefaultStyle
		beaconStyle.Fill = canvas.Paint{Color: beaconColor}
		beaconStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		for _, b := range r.Registry.Beacons() {
			x, y := toCanvas(b.Position)
			renderer.RenderPath(canvas.Rectangle(8, 8).Translate(x-4, y-4), beaconStyle, canvas.Identity)
		}
	}

	for _, id := range sortedPositionIDs(positions) {
		p := positions[id]
		fill := parseHexColor(p.Color)
		if !p.Valid {
			fill = lostColor
		}
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: fill}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 1.5

		x, y := toCanvas(Point{X: p.X, Y: p.Y})
		renderer.RenderPath(canvas.Circle(7).Translate(x, y), style, canvas.Identity)
	}
}

// nrgbaToRGBA converts color.NRGBA to the premultiplied color.RGBA canvas expects
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}
