package common

import "time"

// TimeFormat is the format of timestamps in query strings: ISO 8601 in UTC
// with milliseconds.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime formats t with TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
