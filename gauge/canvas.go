// Package gauge draws the pressure dials and the duty pie.
//
// Geometry is derived from the pixel size passed to each Draw call, so the
// same gauge can be rendered at any size without extra state.
package gauge

import (
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Canvas is the subset of chart.Renderer the gauges paint with.
type Canvas interface {
	SetStrokeColor(c drawing.Color)
	SetFillColor(c drawing.Color)
	SetStrokeWidth(width float64)
	SetFontColor(c drawing.Color)
	SetFontSize(size float64)
	MoveTo(x, y int)
	LineTo(x, y int)
	ArcTo(cx, cy int, rx, ry, startAngle, delta float64)
	Close()
	Stroke()
	Fill()
	Circle(radius float64, x, y int)
	Text(body string, x, y int)
	MeasureText(body string) chart.Box
}

var _ Canvas = chart.Renderer(nil)

// Point is a position in pixels.
type Point struct {
	X, Y float64
}

// Segment is a straight stroke between two points.
type Segment struct {
	From, To Point
}

// Label is text centred on a point.
type Label struct {
	Text string
	At   Point
}

var (
	colourBlack  = drawing.Color{R: 0, G: 0, B: 0, A: 255}
	colourGreen  = drawing.Color{R: 0, G: 128, B: 0, A: 255}
	colourRed    = drawing.Color{R: 255, G: 0, B: 0, A: 255}
	colourOrange = drawing.Color{R: 255, G: 165, B: 0, A: 255}
	colourLabel  = drawing.ColorFromHex("536878")
)

// Font sizes are points at 96 DPI, so 0.75pt per pixel.
func pixels(px float64) float64 {
	return px * 0.75
}

func polar(c Point, angle, radius float64) Point {
	return Point{X: c.X + math.Cos(angle)*radius, Y: c.Y + math.Sin(angle)*radius}
}

func ipt(v float64) int {
	return int(math.Round(v))
}

func strokeSegments(c Canvas, segments []Segment) {
	for _, s := range segments {
		c.MoveTo(ipt(s.From.X), ipt(s.From.Y))
		c.LineTo(ipt(s.To.X), ipt(s.To.Y))
	}
	c.Stroke()
}

// textCentred draws body centred horizontally on at. With middle set the
// text is centred vertically too; otherwise at.Y is the top of the text.
func textCentred(c Canvas, body string, at Point, middle bool) {
	box := c.MeasureText(body)
	x := at.X - float64(box.Width())/2
	y := at.Y + float64(box.Height())
	if middle {
		y = at.Y + float64(box.Height())/2
	}
	c.Text(body, ipt(x), ipt(y))
}

// textBottom draws body centred horizontally with its baseline at at.Y.
func textBottom(c Canvas, body string, at Point) {
	box := c.MeasureText(body)
	c.Text(body, ipt(at.X-float64(box.Width())/2), ipt(at.Y))
}
