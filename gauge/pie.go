package gauge

import (
	"math"
	"strconv"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

const (
	PieBorderWidth  = 5
	PieCentreRadius = 0.7

	// value sector is filled in wedges no wider than this, in radians
	wedgeStep = math.Pi / 90
)

var (
	pieBackground = drawing.ColorFromHex("DDDDDD")
	pieSweep      = drawing.ColorFromHex("CCCCCC")
	pieAlertRange = drawing.ColorFromHex("AAAAAA")

	// DutyRamp runs green to red across the alert range.
	DutyRamp = []drawing.Color{
		drawing.ColorFromHex("209c05"),
		drawing.ColorFromHex("85e62c"),
		drawing.ColorFromHex("ebff0a"),
		drawing.ColorFromHex("f2ce02"),
		drawing.ColorFromHex("ff0a0a"),
	}
)

// Pie is the duty donut. Value and MaxValue are fractions in [0,1].
type Pie struct {
	Title      string
	Sweep      float64
	StartAngle float64
	Value      float64
	MaxValue   float64
}

func NewPie(title string) Pie {
	return Pie{
		Title:      title,
		Sweep:      1.5 * math.Pi,
		StartAngle: 0.75 * math.Pi,
		Value:      0,
		MaxValue:   0.6,
	}
}

func (p Pie) Angle(value float64) float64 {
	return p.Sweep*value + p.StartAngle
}

// GradientStops are the ramp stop offsets as fractions of a full turn
// measured from Angle(0). The last stop lands on MaxValue.
func (p Pie) GradientStops() []float64 {
	n := len(DutyRamp)
	scale := p.MaxValue / float64(n-1) * p.Sweep / (2 * math.Pi)
	stops := make([]float64, n)
	for i := range stops {
		stops[i] = float64(i) * scale
	}
	return stops
}

// ColourAt interpolates the ramp at value. Values past MaxValue take the
// last colour.
func (p Pie) ColourAt(value float64) drawing.Color {
	last := len(DutyRamp) - 1
	if p.MaxValue <= 0 || value >= p.MaxValue {
		return DutyRamp[last]
	}
	if value <= 0 {
		return DutyRamp[0]
	}
	pos := value * float64(last) / p.MaxValue
	i := int(pos)
	return lerp(DutyRamp[i], DutyRamp[i+1], pos-float64(i))
}

func lerp(a, b drawing.Color, t float64) drawing.Color {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return drawing.Color{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

// PieLayout is the geometry of one draw of a pie.
type PieLayout struct {
	Centre       Point
	OuterRadius  float64
	InnerRadius  float64
	CentreRadius float64
	ValueText    string
	TitleAt      Point
}

func (p Pie) Layout(width, height int) PieLayout {
	square := math.Min(float64(width), float64(height))
	outer := square/2 - ringMargin
	inner := outer - PieBorderWidth
	centre := Point{X: square / 2, Y: square / 2}
	return PieLayout{
		Centre:       centre,
		OuterRadius:  outer,
		InnerRadius:  inner,
		CentreRadius: inner * PieCentreRadius,
		ValueText:    strconv.Itoa(int(math.Round(p.Value*100))) + "%",
		TitleAt:      Point{X: centre.X, Y: centre.Y + inner - 4},
	}
}

// Draw paints the pie onto c, outer layers first.
func (p Pie) Draw(c Canvas, width, height int) {
	l := p.Layout(width, height)
	cx, cy := ipt(l.Centre.X), ipt(l.Centre.Y)

	c.SetStrokeWidth(0)
	c.SetFillColor(pieBackground)
	c.Circle(l.OuterRadius, cx, cy)
	c.Fill()

	sector(c, l, pieSweep, p.Angle(0), p.Angle(1))
	sector(c, l, pieAlertRange, p.Angle(0), p.Angle(p.MaxValue))

	value := math.Max(0, math.Min(1, p.Value))
	end := p.Angle(value)
	for a := p.Angle(0); a < end; a += wedgeStep {
		b := math.Min(a+wedgeStep, end)
		mid := ((a+b)/2 - p.StartAngle) / p.Sweep
		sector(c, l, p.ColourAt(mid), a, b)
	}

	c.SetFillColor(pieBackground)
	c.Circle(l.CentreRadius, cx, cy)
	c.Fill()

	c.SetFontColor(colourLabel)
	c.SetFontSize(pixels(20))
	textCentred(c, l.ValueText, l.Centre, true)

	if p.Title != "" {
		c.SetFontSize(pixels(13))
		textBottom(c, p.Title, l.TitleAt)
	}
}

func sector(c Canvas, l PieLayout, colour drawing.Color, from, to float64) {
	if to <= from {
		return
	}
	cx, cy := ipt(l.Centre.X), ipt(l.Centre.Y)
	c.SetFillColor(colour)
	c.MoveTo(cx, cy)
	c.ArcTo(cx, cy, l.InnerRadius, l.InnerRadius, from, to-from)
	c.Close()
	c.Fill()
}
