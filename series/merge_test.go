package series

import (
	"math"
	"math/rand"
	"testing"

	"aircomp/models"
)

func entries(times ...float64) []models.StateLogEntry {
	out := make([]models.StateLogEntry, len(times))
	for i, t := range times {
		out[i] = models.StateLogEntry{Time: t, TankPressure: 100, LinePressure: 80, Duty: 0.5}
	}
	return out
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestMergeDropsOverlap(t *testing.T) {
	existing := []models.SeriesPoint{{Time: 900}, {Time: 1000}}
	// newest first; seconds 2.05 2.02 1.95 less a 1000 ms offset give 1050 1020 950
	incoming := entries(205, 202, 195)
	for i := range incoming {
		incoming[i].Time /= 100
	}

	appended := Merge(existing, incoming, 1000)

	if len(appended) != 2 {
		t.Fatalf("Expected 2 appended points, got %d", len(appended))
	}
	if !near(appended[0].Time, 1020) || !near(appended[1].Time, 1050) {
		t.Errorf("Expected [1020 1050], got [%v %v]", appended[0].Time, appended[1].Time)
	}
	if len(existing) != 2 || existing[1].Time != 1000 {
		t.Error("Expected existing series untouched")
	}
}

func TestMergeMapsTimeAndDuty(t *testing.T) {
	incoming := []models.StateLogEntry{{Time: 10, TankPressure: 120, LinePressure: 90, Duty: 0.25}}

	appended := Merge(nil, incoming, 4000)

	if len(appended) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(appended))
	}
	p := appended[0]
	if p.Time != 6000 {
		t.Errorf("Expected local time 6000, got %v", p.Time)
	}
	if p.Duty != 25 {
		t.Errorf("Expected duty 25, got %v", p.Duty)
	}
	if p.TankPressure != 120 || p.LinePressure != 90 {
		t.Errorf("Expected pressures copied, got %v %v", p.TankPressure, p.LinePressure)
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	if got := Merge([]models.SeriesPoint{{Time: 1}}, nil, 0); len(got) != 0 {
		t.Errorf("Expected no-op for empty incoming, got %d points", len(got))
	}
	if got := Merge(nil, entries(3, 2, 1), 0); len(got) != 3 {
		t.Errorf("Expected no trimming for empty existing, got %d points", len(got))
	}
}

func TestMergeDropsUnorderedAndDuplicates(t *testing.T) {
	// ascending after reversal: 1, 2, 2, 1.5, 3
	appended := Merge(nil, entries(3, 1.5, 2, 2, 1), 0)

	want := []float64{1000, 2000, 3000}
	if len(appended) != len(want) {
		t.Fatalf("Expected %d points, got %d", len(want), len(appended))
	}
	for i, w := range want {
		if appended[i].Time != w {
			t.Errorf("Expected point %d at %v, got %v", i, w, appended[i].Time)
		}
	}
}

func TestMergeKeepsSeriesAscending(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	store := NewStore()

	for batch := 0; batch < 200; batch++ {
		n := r.Intn(8)
		times := make([]float64, n)
		base := float64(batch) * 3
		for i := range times {
			// newest first with overlap into the previous batch window
			times[i] = base + 5 - float64(i) - r.Float64()
		}
		before, hadTail := store.Tail()

		appended := store.Append(entries(times...), 0)

		for _, p := range appended {
			if hadTail && p.Time <= before.Time {
				t.Fatalf("Batch %d: appended %v at or before tail %v", batch, p.Time, before.Time)
			}
		}
	}

	points := store.Points()
	for i := 1; i < len(points); i++ {
		if points[i].Time <= points[i-1].Time {
			t.Fatalf("Expected strictly ascending series, got %v then %v", points[i-1].Time, points[i].Time)
		}
	}
}
