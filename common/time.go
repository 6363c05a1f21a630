package common

import "time"

// ISOMillis is the timestamp layout used everywhere in the hub: RFC 3339
// UTC with millisecond precision and a literal Z suffix.
const ISOMillis = "2006-01-02T15:04:05.000Z"

// NowISO returns the current time in the hub timestamp layout.
func NowISO() string {
	return time.Now().UTC().Format(ISOMillis)
}

// FormatISO renders t in the hub timestamp layout.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOMillis)
}
