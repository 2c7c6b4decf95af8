package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}

// HourBucket maps a timestamp onto one of six 4-hour buckets (0-5).
// Incident signatures use the bucket so "3am batch-window failure" and
// "3pm peak-traffic failure" stay distinguishable without full timestamps.
func HourBucket(t time.Time) int {
	return t.Hour() / 4
}
