package bafin

import "time"

// Window is a closed date range used to bound a crawl.
type Window struct {
	From time.Time
	To   time.Time
}

// YearWindows splits the years around pivot into one window per calendar
// year, newest first, going back yearsBack years. The pivot year's window
// ends at the pivot itself.
func YearWindows(pivot time.Time, yearsBack int) []Window {
	var windows []Window
	for y := pivot.Year(); y >= pivot.Year()-yearsBack; y-- {
		w := Window{
			From: time.Date(y, time.January, 1, 0, 0, 0, 0, pivot.Location()),
			To:   time.Date(y, time.December, 31, 0, 0, 0, 0, pivot.Location()),
		}
		if y == pivot.Year() {
			w.To = pivot
		}
		windows = append(windows, w)
	}
	return windows
}

// DaysBack yields the n days ending at pivot, newest first. Sources that
// only filter by a single day are crawled one such slice at a time.
func DaysBack(pivot time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	day := time.Date(pivot.Year(), pivot.Month(), pivot.Day(), 0, 0, 0, 0, pivot.Location())
	for i := 0; i < n; i++ {
		days = append(days, day.AddDate(0, 0, -i))
	}
	return days
}
