// Package timeutil provides timezone utilities for Nairobi timezone (UTC+3).
// This is essential for the content hub as uploaders and reviewers are located
// in Nairobi. Handles date formatting, review hours, and timezone-aware
// time operations. No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// NairobiTZ is the Nairobi timezone (UTC+3, no DST).
// Kenya has never observed DST, so this is constant year-round.
var NairobiTZ = time.FixedZone("Africa/Nairobi", 3*60*60)

// Now returns the current time in Nairobi timezone.
func Now() time.Time {
	return time.Now().In(NairobiTZ)
}

// ToNairobi converts a time to Nairobi timezone.
func ToNairobi(t time.Time) time.Time {
	return t.In(NairobiTZ)
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Date creates a time in Nairobi timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, NairobiTZ)
}

// DateTime creates a time in Nairobi timezone with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, NairobiTZ)
}

// StartOfDay returns the start of the day (00:00:00) in Nairobi timezone.
func StartOfDay(t time.Time) time.Time {
	nairobi := ToNairobi(t)
	return time.Date(nairobi.Year(), nairobi.Month(), nairobi.Day(), 0, 0, 0, 0, NairobiTZ)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in Nairobi timezone.
func EndOfDay(t time.Time) time.Time {
	nairobi := ToNairobi(t)
	return time.Date(nairobi.Year(), nairobi.Month(), nairobi.Day(), 23, 59, 59, 999999999, NairobiTZ)
}

// StartOfWeek returns the start of the week (Monday 00:00:00) in Nairobi timezone.
func StartOfWeek(t time.Time) time.Time {
	nairobi := ToNairobi(t)
	weekday := int(nairobi.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	daysToSubtract := weekday - 1 // Monday = 1
	return StartOfDay(nairobi.AddDate(0, 0, -daysToSubtract))
}

// EndOfWeek returns the end of the week (Sunday 23:59:59) in Nairobi timezone.
func EndOfWeek(t time.Time) time.Time {
	start := StartOfWeek(t)
	return EndOfDay(start.AddDate(0, 0, 6))
}

// StartOfMonth returns the start of the month in Nairobi timezone.
func StartOfMonth(t time.Time) time.Time {
	nairobi := ToNairobi(t)
	return time.Date(nairobi.Year(), nairobi.Month(), 1, 0, 0, 0, 0, NairobiTZ)
}

// EndOfMonth returns the end of the month in Nairobi timezone.
func EndOfMonth(t time.Time) time.Time {
	start := StartOfMonth(t)
	return EndOfDay(start.AddDate(0, 1, -1))
}

// IsToday checks if the given time is today in Nairobi timezone.
func IsToday(t time.Time) bool {
	now := Now()
	nairobi := ToNairobi(t)
	return nairobi.Year() == now.Year() &&
		nairobi.Month() == now.Month() &&
		nairobi.Day() == now.Day()
}

// IsYesterday checks if the given time is yesterday in Nairobi timezone.
func IsYesterday(t time.Time) bool {
	yesterday := Now().AddDate(0, 0, -1)
	nairobi := ToNairobi(t)
	return nairobi.Year() == yesterday.Year() &&
		nairobi.Month() == yesterday.Month() &&
		nairobi.Day() == yesterday.Day()
}

// IsThisWeek checks if the given time is in the current week.
func IsThisWeek(t time.Time) bool {
	now := Now()
	weekStart := StartOfWeek(now)
	weekEnd := EndOfWeek(now)
	nairobi := ToNairobi(t)
	return !nairobi.Before(weekStart) && !nairobi.After(weekEnd)
}

// DaysSince calculates the number of days since the given time.
func DaysSince(t time.Time) int {
	now := StartOfDay(Now())
	then := StartOfDay(t)
	duration := now.Sub(then)
	return int(duration.Hours() / 24)
}

// Review hours for the medical school.
const (
	// ReviewDayStart is when reviewers typically come online (8:00 AM,
	// after morning ward rounds).
	ReviewDayStart = 8
	// ReviewDayEnd is when the review day ends (10:00 PM).
	ReviewDayEnd = 22
)

// IsReviewHours checks if the given time is within review hours (8:00-22:00).
func IsReviewHours(t time.Time) bool {
	nairobi := ToNairobi(t)
	hour := nairobi.Hour()
	return hour >= ReviewDayStart && hour < ReviewDayEnd
}

// IsWeekend checks if the given time is on a weekend.
func IsWeekend(t time.Time) bool {
	nairobi := ToNairobi(t)
	weekday := nairobi.Weekday()
	return weekday == time.Saturday || weekday == time.Sunday
}

// IsWorkday checks if the given time is on a workday (Mon-Fri).
func IsWorkday(t time.Time) bool {
	return !IsWeekend(t)
}

// NextWorkday returns the next workday (skipping weekends).
func NextWorkday(t time.Time) time.Time {
	next := ToNairobi(t).AddDate(0, 0, 1)
	for IsWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}
	return StartOfDay(next)
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
	// FormatKenyanDate is the Kenyan date format (DD/MM/YYYY).
	FormatKenyanDate = "02/01/2006"
	// FormatKenyanDateTime is the Kenyan datetime format.
	FormatKenyanDateTime = "02/01/2006 15:04"
	// FormatHumanDate is a human-readable format.
	FormatHumanDate = "2 January 2006"
	// FormatShortDate is a short format (Jan 2).
	FormatShortDate = "Jan 2"
)

// FormatNairobi formats a time in Nairobi timezone with the given layout.
func FormatNairobi(t time.Time, layout string) string {
	return ToNairobi(t).Format(layout)
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in Nairobi timezone.
func FormatDateStr(t time.Time) string {
	return FormatNairobi(t, FormatDate)
}

// FormatTimeStr formats a time as a time string (HH:MM) in Nairobi timezone.
func FormatTimeStr(t time.Time) string {
	return FormatNairobi(t, FormatTime)
}

// FormatDateTimeStr formats a time as datetime string in Nairobi timezone.
func FormatDateTimeStr(t time.Time) string {
	return FormatNairobi(t, FormatDateTime)
}

// FormatKenyan formats a time in Kenyan format (DD/MM/YYYY).
func FormatKenyan(t time.Time) string {
	return FormatNairobi(t, FormatKenyanDate)
}

// FormatRelative returns a human-readable relative time string.
func FormatRelative(t time.Time) string {
	now := Now()
	nairobi := ToNairobi(t)
	duration := now.Sub(nairobi)

	if duration < 0 {
		duration = -duration
		return formatFutureDuration(duration)
	}

	return formatPastDuration(duration)
}

func formatPastDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		return fmt.Sprintf("%d min ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		return fmt.Sprintf("%d h ago", hours)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	case d < 30*24*time.Hour:
		weeks := int(d.Hours() / 24 / 7)
		return fmt.Sprintf("%d weeks ago", weeks)
	default:
		months := int(d.Hours() / 24 / 30)
		if months < 12 {
			return fmt.Sprintf("%d months ago", months)
		}
		years := months / 12
		return fmt.Sprintf("%d years ago", years)
	}
}

func formatFutureDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		mins := int(d.Minutes())
		return fmt.Sprintf("in %d min", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		return fmt.Sprintf("in %d h", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "tomorrow"
		}
		return fmt.Sprintf("in %d days", days)
	}
}

// FormatLeaseRemaining renders the time left on a review lease as "MM:SS".
// Negative durations render as "00:00".
func FormatLeaseRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

// ParseNairobi parses a time string in Nairobi timezone.
func ParseNairobi(layout, value string) (time.Time, error) {
	return time.ParseInLocation(layout, value, NairobiTZ)
}

// ParseDateNairobi parses a date string (YYYY-MM-DD) in Nairobi timezone.
func ParseDateNairobi(value string) (time.Time, error) {
	return ParseNairobi(FormatDate, value)
}

// ParseDateTimeNairobi parses a datetime string in Nairobi timezone.
func ParseDateTimeNairobi(value string) (time.Time, error) {
	return ParseNairobi(FormatDateTime, value)
}

// Day-bucketing utilities for contributor statistics.

// IsSameDay checks if two times are on the same day in Nairobi timezone.
func IsSameDay(t1, t2 time.Time) bool {
	n1, n2 := ToNairobi(t1), ToNairobi(t2)
	return n1.Year() == n2.Year() && n1.YearDay() == n2.YearDay()
}

// IsConsecutiveDay checks if t2 is the day after t1.
func IsConsecutiveDay(t1, t2 time.Time) bool {
	n1, n2 := ToNairobi(t1), ToNairobi(t2)
	nextDay := n1.AddDate(0, 0, 1)
	return IsSameDay(nextDay, n2)
}

// DaysBetween calculates the number of days between two times.
func DaysBetween(t1, t2 time.Time) int {
	n1 := StartOfDay(t1)
	n2 := StartOfDay(t2)
	duration := n2.Sub(n1)
	days := int(duration.Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// Notification timing helpers.

// IsSafeNotificationTime checks if it's appropriate to send notifications (9:00-22:00).
func IsSafeNotificationTime(t time.Time) bool {
	nairobi := ToNairobi(t)
	hour := nairobi.Hour()
	return hour >= 9 && hour < 22
}

// NextSafeNotificationTime returns the next time when notifications are appropriate.
func NextSafeNotificationTime(t time.Time) time.Time {
	nairobi := ToNairobi(t)
	hour := nairobi.Hour()

	if hour < 9 {
		// Before 9 AM - return 9 AM today
		return DateTime(nairobi.Year(), int(nairobi.Month()), nairobi.Day(), 9, 0, 0)
	} else if hour >= 22 {
		// After 10 PM - return 9 AM tomorrow
		tomorrow := nairobi.AddDate(0, 0, 1)
		return DateTime(tomorrow.Year(), int(tomorrow.Month()), tomorrow.Day(), 9, 0, 0)
	}

	// Already in safe time window
	return nairobi
}
