package gauge

import (
	"math"
	"strconv"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Dial layout constants, in pixels.
const (
	RingWidth           = 4
	MajorTickWidth      = 2
	MinorTickWidth      = 1
	MajorTickLength     = 14
	MinorTickLength     = 7
	MinorTickStride     = 2
	MajorTickStride     = 10
	TickLabelInset      = 15
	ValueYOffset        = 5
	SetPointLength      = 22
	SetPointWidth       = 8
	AlarmWidth          = 6
	NeedleBaseWidth     = 5
	NeedleTipWidth      = 2
	NeedleRingClearance = 3
	HubRadius           = 5

	ringMargin = 5
)

// Dial is a round pressure gauge with a needle and optional set points.
// A zero set point is not drawn.
type Dial struct {
	Title      string
	Min        float64
	Max        float64
	Sweep      float64
	StartAngle float64

	Value         float64
	StartPressure float64
	StopPressure  float64
	AlarmPressure float64
}

func NewDial(title string) Dial {
	return Dial{
		Title:      title,
		Min:        0,
		Max:        150,
		Sweep:      1.5 * math.Pi,
		StartAngle: 0.75 * math.Pi,
	}
}

// Angle maps a value onto the dial, in radians clockwise from 3 o'clock.
func (d Dial) Angle(value float64) float64 {
	return d.Sweep*(value-d.Min)/(d.Max-d.Min) + d.StartAngle
}

// SetPointKind names the set-point markers.
type SetPointKind string

const (
	SetPointAlarm SetPointKind = "alarm"
	SetPointStart SetPointKind = "start"
	SetPointStop  SetPointKind = "stop"
)

type SetPoint struct {
	Kind   SetPointKind
	Mark   Segment
	Width  float64
	Colour drawing.Color
}

// DialLayout is the geometry of one draw of a dial.
type DialLayout struct {
	Centre      Point
	OuterRadius float64
	InnerRadius float64
	MinorTicks  []Segment
	MajorTicks  []Segment
	TickLabels  []Label
	Readout     Label
	Needle      []Point // nil when the value is zero
	SetPoints   []SetPoint
}

// Layout computes the dial geometry for a canvas of the given size.
func (d Dial) Layout(width, height int) DialLayout {
	square := math.Min(float64(width), float64(height))
	outer := square/2 - ringMargin
	inner := outer - RingWidth/2.0
	centre := Point{X: square / 2, Y: square / 2}

	l := DialLayout{
		Centre:      centre,
		OuterRadius: outer,
		InnerRadius: inner,
		MinorTicks:  d.ticks(centre, MinorTickStride, inner-MinorTickLength, inner),
		MajorTicks:  d.ticks(centre, MajorTickStride, inner-MajorTickLength, inner),
		Readout: Label{
			Text: strconv.Itoa(int(math.Round(d.Value))) + " PSI",
			At:   Point{X: centre.X, Y: centre.Y + ValueYOffset},
		},
	}

	labelRadius := inner - MajorTickLength - TickLabelInset
	for v := d.Min; v <= d.Max; v += MajorTickStride {
		l.TickLabels = append(l.TickLabels, Label{
			Text: strconv.FormatFloat(v, 'f', -1, 64),
			At:   polar(centre, d.Angle(v), labelRadius),
		})
	}

	if d.Value != 0 {
		l.Needle = d.needle(centre, inner-NeedleRingClearance)
	}

	from, to := outer-SetPointLength, outer
	if d.AlarmPressure != 0 {
		l.SetPoints = append(l.SetPoints, SetPoint{Kind: SetPointAlarm, Mark: d.tick(centre, d.AlarmPressure, from, to), Width: AlarmWidth, Colour: colourOrange})
	}
	if d.StartPressure != 0 {
		l.SetPoints = append(l.SetPoints, SetPoint{Kind: SetPointStart, Mark: d.tick(centre, d.StartPressure, from, to), Width: SetPointWidth, Colour: colourGreen})
	}
	if d.StopPressure != 0 {
		l.SetPoints = append(l.SetPoints, SetPoint{Kind: SetPointStop, Mark: d.tick(centre, d.StopPressure, from, to), Width: SetPointWidth, Colour: colourRed})
	}

	return l
}

func (d Dial) tick(centre Point, value, from, to float64) Segment {
	a := d.Angle(value)
	return Segment{From: polar(centre, a, from), To: polar(centre, a, to)}
}

func (d Dial) ticks(centre Point, stride, from, to float64) []Segment {
	var out []Segment
	for v := d.Min; v <= d.Max; v += stride {
		out = append(out, d.tick(centre, v, from, to))
	}
	return out
}

// needle is a tapered quad from the hub towards the value, rotated so its
// length runs along Angle(Value).
func (d Dial) needle(centre Point, length float64) []Point {
	a := d.Angle(d.Value)
	sin, cos := math.Sin(a), math.Cos(a)
	rotate := func(x, y float64) Point {
		return Point{X: centre.X + x*sin + y*cos, Y: centre.Y - x*cos + y*sin}
	}
	return []Point{
		rotate(-NeedleBaseWidth/2.0, 0),
		rotate(NeedleBaseWidth/2.0, 0),
		rotate(NeedleTipWidth/2.0, length),
		rotate(-NeedleTipWidth/2.0, length),
	}
}

// Draw paints the dial onto c.
func (d Dial) Draw(c Canvas, width, height int) {
	l := d.Layout(width, height)
	cx, cy := ipt(l.Centre.X), ipt(l.Centre.Y)

	c.SetStrokeColor(colourBlack)
	c.SetStrokeWidth(RingWidth)
	c.Circle(l.OuterRadius, cx, cy)
	c.Stroke()

	c.SetStrokeColor(colourLabel)
	c.SetStrokeWidth(MinorTickWidth)
	strokeSegments(c, l.MinorTicks)
	c.SetStrokeWidth(MajorTickWidth)
	strokeSegments(c, l.MajorTicks)

	c.SetFontColor(colourLabel)
	c.SetFontSize(pixels(15))
	for _, label := range l.TickLabels {
		textCentred(c, label.Text, label.At, true)
	}

	c.SetFontSize(pixels(25))
	textCentred(c, l.Readout.Text, l.Readout.At, false)

	if l.Needle != nil {
		c.SetFillColor(colourBlack)
		c.SetStrokeWidth(0)
		c.MoveTo(ipt(l.Needle[0].X), ipt(l.Needle[0].Y))
		for _, p := range l.Needle[1:] {
			c.LineTo(ipt(p.X), ipt(p.Y))
		}
		c.Close()
		c.Fill()

		c.Circle(HubRadius, cx, cy)
		c.Fill()
	}

	for _, sp := range l.SetPoints {
		c.SetStrokeColor(sp.Colour)
		c.SetStrokeWidth(sp.Width)
		strokeSegments(c, []Segment{sp.Mark})
	}
}
