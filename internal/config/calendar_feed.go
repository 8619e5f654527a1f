package config

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

var feedDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01-02-06", // excelize default cell format for date cells
}

// LoadCalendarFeed reads the non-working-day sheet published by operations.
// The first column of the first sheet holds one date per row; a header row
// or blank rows are skipped. An empty path means no excluded dates beyond
// the weekly off days.
func LoadCalendarFeed(path string) ([]time.Time, error) {
	if path == "" {
		return nil, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calendar feed %s: %w", path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("calendar feed %s has no sheets", path)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar feed %s: %w", path, err)
	}

	var dates []time.Time
	for _, row := range rows {
		if len(row) == 0 || row[0] == "" {
			continue
		}
		date, ok := parseFeedDate(row[0])
		if !ok {
			// Header or annotation row.
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}

func parseFeedDate(cell string) (time.Time, bool) {
	for _, layout := range feedDateLayouts {
		if date, err := time.Parse(layout, cell); err == nil {
			return date, true
		}
	}
	return time.Time{}, false
}
