package gauge

import (
	"math"
	"testing"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// recorder is a Canvas that counts calls and remembers text.
type recorder struct {
	fills   int
	strokes int
	arcs    int
	texts   []string
	colours []drawing.Color
}

func (r *recorder) SetStrokeColor(c drawing.Color) {}
func (r *recorder) SetFillColor(c drawing.Color) { r.colours = append(r.colours, c) }
func (r *recorder) SetStrokeWidth(width float64) {}
func (r *recorder) SetFontColor(c drawing.Color) {}
func (r *recorder) SetFontSize(size float64) {}
func (r *recorder) MoveTo(x, y int) {}
func (r *recorder) LineTo(x, y int) {}
func (r *recorder) ArcTo(cx, cy int, rx, ry, startAngle, delta float64) {
	r.arcs++
}
func (r *recorder) Close() {}
func (r *recorder) Stroke() { r.strokes++ }
func (r *recorder) Fill() { r.fills++ }
func (r *recorder) Circle(radius float64, x, y int) {}
func (r *recorder) Text(body string, x, y int) { r.texts = append(r.texts, body) }
func (r *recorder) MeasureText(body string) chart.Box {
	return chart.Box{Right: 8 * len(body), Bottom: 10}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDialAngle(t *testing.T) {
	d := NewDial("Tank Pressure")

	if !near(d.Angle(d.Min), d.StartAngle) {
		t.Errorf("Expected angle(min) == start angle, got %v", d.Angle(d.Min))
	}
	if !near(d.Angle(d.Max), d.StartAngle+d.Sweep) {
		t.Errorf("Expected angle(max) == start+sweep, got %v", d.Angle(d.Max))
	}
	prev := d.Angle(d.Min)
	for v := d.Min + 1; v <= d.Max; v++ {
		a := d.Angle(v)
		if a <= prev {
			t.Fatalf("Expected angle to increase at %v", v)
		}
		prev = a
	}

	d.Min, d.Max = 50, 100
	if !near(d.Angle(75), d.StartAngle+d.Sweep/2) {
		t.Errorf("Expected mid-range angle to be half the sweep, got %v", d.Angle(75))
	}
}

func TestDialLayout(t *testing.T) {
	d := NewDial("Tank Pressure")
	d.Value = 101.6

	l := d.Layout(300, 200)

	if l.OuterRadius != 95 || l.InnerRadius != 93 {
		t.Errorf("Expected radii 95/93, got %v/%v", l.OuterRadius, l.InnerRadius)
	}
	if l.Centre != (Point{X: 100, Y: 100}) {
		t.Errorf("Expected centre at 100,100, got %+v", l.Centre)
	}
	if len(l.MinorTicks) != 76 {
		t.Errorf("Expected 76 minor ticks, got %d", len(l.MinorTicks))
	}
	if len(l.MajorTicks) != 16 || len(l.TickLabels) != 16 {
		t.Errorf("Expected 16 major ticks and labels, got %d/%d", len(l.MajorTicks), len(l.TickLabels))
	}
	if l.TickLabels[15].Text != "150" {
		t.Errorf("Expected last label 150, got %s", l.TickLabels[15].Text)
	}
	if l.Readout.Text != "102 PSI" {
		t.Errorf("Expected readout 102 PSI, got %s", l.Readout.Text)
	}
	if len(l.Needle) != 4 {
		t.Fatalf("Expected needle polygon, got %d points", len(l.Needle))
	}

	tip := Point{X: (l.Needle[2].X + l.Needle[3].X) / 2, Y: (l.Needle[2].Y + l.Needle[3].Y) / 2}
	got := math.Atan2(tip.Y-l.Centre.Y, tip.X-l.Centre.X)
	want := math.Remainder(d.Angle(d.Value), 2*math.Pi)
	if !near(got, want) {
		t.Errorf("Expected needle to point at %v, got %v", want, got)
	}
}

func TestDialZeroValueSuppressesNeedleOnly(t *testing.T) {
	d := NewDial("Line Pressure")
	d.AlarmPressure = 80

	l := d.Layout(200, 200)
	if l.Needle != nil {
		t.Error("Expected no needle for zero value")
	}
	if len(l.SetPoints) != 1 || l.SetPoints[0].Kind != SetPointAlarm {
		t.Errorf("Expected the alarm set point still drawn, got %+v", l.SetPoints)
	}
	if l.Readout.Text != "0 PSI" {
		t.Errorf("Expected readout 0 PSI, got %s", l.Readout.Text)
	}

	r := &recorder{}
	d.Draw(r, 200, 200)
	if r.fills != 0 {
		t.Errorf("Expected no fills without a needle, got %d", r.fills)
	}
	if len(r.texts) != 17 {
		t.Errorf("Expected 16 labels and a readout, got %d texts", len(r.texts))
	}
}

func TestDialSetPoints(t *testing.T) {
	d := NewDial("Tank Pressure")
	d.Value = 100
	d.StartPressure = 90
	d.StopPressure = 125
	d.AlarmPressure = 80

	l := d.Layout(200, 200)
	if len(l.SetPoints) != 3 {
		t.Fatalf("Expected 3 set points, got %d", len(l.SetPoints))
	}

	wantWidth := map[SetPointKind]float64{SetPointAlarm: 6, SetPointStart: 8, SetPointStop: 8}
	for _, sp := range l.SetPoints {
		if sp.Width != wantWidth[sp.Kind] {
			t.Errorf("Set point %s: expected width %v, got %v", sp.Kind, wantWidth[sp.Kind], sp.Width)
		}
		length := math.Hypot(sp.Mark.To.X-sp.Mark.From.X, sp.Mark.To.Y-sp.Mark.From.Y)
		if !near(length, SetPointLength) {
			t.Errorf("Set point %s: expected length %d, got %v", sp.Kind, SetPointLength, length)
		}
	}
	if l.SetPoints[1].Colour != colourGreen || l.SetPoints[2].Colour != colourRed {
		t.Error("Expected start green and stop red")
	}
}

func TestPieGradientStops(t *testing.T) {
	p := NewPie("Duty")
	p.MaxValue = 0.6

	stops := p.GradientStops()
	if len(stops) != 5 {
		t.Fatalf("Expected 5 stops, got %d", len(stops))
	}
	scale := 0.6 / 4 * (1.5 * math.Pi) / (2 * math.Pi)
	for i, s := range stops {
		if !near(s, float64(i)*scale) {
			t.Errorf("Stop %d: expected %v, got %v", i, float64(i)*scale, s)
		}
	}
	// the last stop spans the alert range: maxValue of the sweep as a fraction of a turn
	if !near(stops[4], (p.Angle(p.MaxValue)-p.Angle(0))/(2*math.Pi)) {
		t.Errorf("Expected last stop at the alert range end, got %v", stops[4])
	}
}

func TestPieColourAt(t *testing.T) {
	p := NewPie("Duty")

	if p.ColourAt(0) != DutyRamp[0] {
		t.Errorf("Expected first ramp colour at 0, got %v", p.ColourAt(0))
	}
	if p.ColourAt(0.3) != DutyRamp[2] {
		t.Errorf("Expected middle ramp colour at half the max, got %v", p.ColourAt(0.3))
	}
	if p.ColourAt(0.9) != DutyRamp[4] {
		t.Errorf("Expected last ramp colour past the max, got %v", p.ColourAt(0.9))
	}
}

func TestPieLayoutAndDraw(t *testing.T) {
	p := NewPie("Duty")
	p.Value = 0.456

	l := p.Layout(120, 160)
	if l.ValueText != "46%" {
		t.Errorf("Expected 46%%, got %s", l.ValueText)
	}
	if l.OuterRadius != 55 || l.InnerRadius != 50 || !near(l.CentreRadius, 35) {
		t.Errorf("Expected radii 55/50/35, got %v/%v/%v", l.OuterRadius, l.InnerRadius, l.CentreRadius)
	}

	r := &recorder{}
	p.Draw(r, 120, 160)
	if r.arcs < 3 {
		t.Errorf("Expected sweep, alert and value sectors, got %d arcs", r.arcs)
	}
	if len(r.texts) != 2 || r.texts[0] != "46%" || r.texts[1] != "Duty" {
		t.Errorf("Expected value and title text, got %v", r.texts)
	}
	if r.colours[len(r.colours)-1] != pieBackground {
		t.Error("Expected the centre hole drawn last")
	}
}
