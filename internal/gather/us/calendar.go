package us

import (
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// A session's daily bar is final after settleHour:settleMinute ET.
const settleHour, settleMinute = 20, 5

// CalendarSource returns market sessions. *alpaca.Client satisfies it.
type CalendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewCalendarClient returns an Alpaca trading API client for calendar
// lookups.
func NewCalendarClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// LatestFinishedTradingDay returns the most recent trading day whose
// session, extended hours included, has ended as of now.
func LatestFinishedTradingDay(cal CalendarSource, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := cal.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -10),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), settleHour, settleMinute, 0, 0, et)
	for i := len(days) - 1; i >= 0; i-- {
		if days[i].Date > today || (days[i].Date == today && !now.After(cutoff)) {
			continue
		}
		d, err := time.Parse("2006-01-02", days[i].Date)
		if err != nil {
			continue
		}
		return d, nil
	}
	return time.Time{}, errors.New("no finished trading day in the last 10 days")
}
