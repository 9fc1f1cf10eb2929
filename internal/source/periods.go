package source

import (
	"fmt"
	"time"
)

// PeriodCodes returns accounting period codes ("YYYY-MM") from January of
// startYear through the month of now, inclusive. An empty slice is returned
// when startYear is in the future.
func PeriodCodes(startYear int, now time.Time) []string {
	endYear, endMonth := now.Year(), int(now.Month())
	if startYear > endYear {
		return nil
	}

	var out []string
	for year := startYear; year <= endYear; year++ {
		last := 12
		if year == endYear {
			last = endMonth
		}
		for month := 1; month <= last; month++ {
			out = append(out, fmt.Sprintf("%d-%02d", year, month))
		}
	}
	return out
}

// FiscalYears returns the fiscal years ("YYYY") from startYear through the
// year of now, inclusive.
func FiscalYears(startYear int, now time.Time) []string {
	endYear := now.Year()
	if startYear > endYear {
		return nil
	}
	out := make([]string, 0, endYear-startYear+1)
	for year := startYear; year <= endYear; year++ {
		out = append(out, fmt.Sprintf("%d", year))
	}
	return out
}
