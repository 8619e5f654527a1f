package config

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFeed(t *testing.T, cells []string) string {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, cell := range cells {
		axis, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("failed to build cell name: %v", err)
		}
		if err := f.SetCellValue(sheet, axis, cell); err != nil {
			t.Fatalf("failed to set cell: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "holidays.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("failed to save feed: %v", err)
	}
	return path
}

func TestLoadCalendarFeed(t *testing.T) {
	path := writeFeed(t, []string{
		"Holiday",
		"2025-01-01",
		"",
		"2025-04-18",
		"not a date",
		"25/12/2025",
	})

	dates, err := LoadCalendarFeed(path)
	if err != nil {
		t.Fatalf("LoadCalendarFeed failed: %v", err)
	}

	want := []string{"2025-01-01", "2025-04-18", "2025-12-25"}
	if len(dates) != len(want) {
		t.Fatalf("got %d dates, want %d", len(dates), len(want))
	}
	for i, date := range dates {
		if got := date.Format("2006-01-02"); got != want[i] {
			t.Errorf("date %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestLoadCalendarFeed_EmptyPath(t *testing.T) {
	dates, err := LoadCalendarFeed("")
	if err != nil {
		t.Fatalf("LoadCalendarFeed failed: %v", err)
	}
	if dates != nil {
		t.Errorf("expected nil dates for empty path, got %v", dates)
	}
}

func TestLoadCalendarFeed_MissingFile(t *testing.T) {
	if _, err := LoadCalendarFeed(filepath.Join(t.TempDir(), "missing.xlsx")); err == nil {
		t.Error("expected error for missing file")
	}
}
