package pit

import (
	"sort"
	"time"

	"spotter/internal/domain"
)

// Earnings is one quarterly report.
type Earnings struct {
	Date    time.Time
	EPS     float64
	Revenue float64
}

const (
	minReports     = 5
	lossStreak     = 4
	growthMinPct   = 10.0
	yearAgoReports = 4
)

// SortEarnings orders reports by date in place.
func SortEarnings(records []Earnings) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
}

// Classify buckets an instrument using only the reports dated on or before
// asOf. records must be sorted by date.
//
// Growth requires positive EPS and revenue both now and four quarters
// earlier with both growing at least 10% year over year. PersistentLoss
// requires the last four EPS to be negative. Anything else, including fewer
// than five visible reports, is Unclassified.
func Classify(records []Earnings, asOf time.Time) domain.FundamentalClass {
	n := sort.Search(len(records), func(i int) bool {
		return records[i].Date.After(asOf)
	})
	visible := records[:n]
	if len(visible) < minReports {
		return domain.Unclassified
	}

	losing := true
	for _, r := range visible[len(visible)-lossStreak:] {
		if r.EPS >= 0 {
			losing = false
			break
		}
	}
	if losing {
		return domain.PersistentLoss
	}

	latest := visible[len(visible)-1]
	prior := visible[len(visible)-1-yearAgoReports]
	if latest.EPS <= 0 || prior.EPS <= 0 || latest.Revenue <= 0 || prior.Revenue <= 0 {
		return domain.Unclassified
	}
	epsGrowth := (latest.EPS/prior.EPS - 1) * 100
	revGrowth := (latest.Revenue/prior.Revenue - 1) * 100
	if epsGrowth >= growthMinPct && revGrowth >= growthMinPct {
		return domain.Growth
	}
	return domain.Unclassified
}
