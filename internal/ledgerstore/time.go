package ledgerstore

import "time"

// sqliteTimeLayouts covers the formats mattn/go-sqlite3 uses for
// CURRENT_TIMESTAMP columns scanned back as strings.
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05Z",
}

func parseSQLiteTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
