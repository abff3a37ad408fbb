package series

import (
	"sort"
	"sync"

	"aircomp/models"
)

// Store owns the chart series. Points are only ever appended.
type Store struct {
	mu     sync.RWMutex
	points []models.SeriesPoint
}

func NewStore() *Store {
	return &Store{}
}

// Append merges a state log batch and returns the points that were added.
func (s *Store) Append(incoming []models.StateLogEntry, offsetMs float64) []models.SeriesPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	appended := Merge(s.points, incoming, offsetMs)
	s.points = append(s.points, appended...)
	return appended
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Tail returns the newest point.
func (s *Store) Tail() (models.SeriesPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.points) == 0 {
		return models.SeriesPoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// Points returns a copy of the whole series.
func (s *Store) Points() []models.SeriesPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SeriesPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Since returns a copy of the points strictly after afterMs.
func (s *Store) Since(afterMs float64) []models.SeriesPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Time > afterMs })
	out := make([]models.SeriesPoint, len(s.points)-i)
	copy(out, s.points[i:])
	return out
}

// Window returns a copy of the points with minMs <= time <= maxMs.
func (s *Store) Window(minMs, maxMs float64) []models.SeriesPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.points), func(i int) bool { return s.points[i].Time >= minMs })
	hi := sort.Search(len(s.points), func(i int) bool { return s.points[i].Time > maxMs })
	if hi < lo {
		hi = lo
	}
	out := make([]models.SeriesPoint, hi-lo)
	copy(out, s.points[lo:hi])
	return out
}
