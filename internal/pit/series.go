// Package pit provides point-in-time lookups over dated observations.
// Queries never see observations dated after the query date.
package pit

import (
	"sort"
	"time"
)

// Point is one dated observation.
type Point struct {
	Date  time.Time
	Value float64
}

// Series is a date-sorted list of observations for one instrument.
type Series struct {
	points []Point
}

// NewSeries sorts points by date and returns the series. The input slice is
// copied.
func NewSeries(points []Point) Series {
	ps := make([]Point, len(points))
	copy(ps, points)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Date.Before(ps[j].Date) })
	return Series{points: ps}
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.points) }

// AsOf returns the value of the latest observation dated on or before t.
func (s Series) AsOf(t time.Time) (float64, bool) {
	i := s.index(t)
	if i < 0 {
		return 0, false
	}
	return s.points[i].Value, true
}

// index returns the position of the latest point with Date <= t, or -1.
func (s Series) index(t time.Time) int {
	// First point strictly after t; everything before it is visible.
	n := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Date.After(t)
	})
	return n - 1
}
