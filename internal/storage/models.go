package storage

import (
	"fmt"
	"time"
)

// TimeLayout is the text form of every created_at column. It sorts
// lexicographically in time order and is understood by SQLite's DATE().
const TimeLayout = "2006-01-02 15:04:05.000"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a created_at value written by FormatTime or by the
// column default.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// Since returns the lower bound of a window covering the last days days
// ending at now.
func Since(now time.Time, days int) string {
	return FormatTime(now.Add(-time.Duration(days) * 24 * time.Hour))
}

// Source is a provenance entry: the document and page a retrieved chunk
// came from. Page is nil when the document has no page structure.
type Source struct {
	Source string `json:"source"`
	Page   *int   `json:"page"`
}

// NewSource returns a Source for a paged document.
func NewSource(path string, page int) Source {
	return Source{Source: path, Page: &page}
}
