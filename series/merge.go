package series

import (
	"aircomp/clock"
	"aircomp/models"
)

// Merge converts a newest-first state log batch into ascending chart points
// and returns only the points that belong after the existing series. Heads
// at or before the existing tail are dropped, as is any point that is not
// strictly after the point accepted before it. existing is not modified.
func Merge(existing []models.SeriesPoint, incoming []models.StateLogEntry, offsetMs float64) []models.SeriesPoint {
	if len(incoming) == 0 {
		return nil
	}

	appended := make([]models.SeriesPoint, 0, len(incoming))
	haveTail := len(existing) > 0
	var tail float64
	if haveTail {
		tail = existing[len(existing)-1].Time
	}

	for i := len(incoming) - 1; i >= 0; i-- {
		entry := incoming[i]
		p := models.SeriesPoint{
			Time:         clock.LocalMs(entry.Time, offsetMs),
			TankPressure: entry.TankPressure,
			LinePressure: entry.LinePressure,
			Duty:         entry.Duty * 100,
		}
		if haveTail && p.Time <= tail {
			continue
		}
		appended = append(appended, p)
		tail = p.Time
		haveTail = true
	}

	return appended
}
