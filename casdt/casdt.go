// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package casdt converts between calendar values and the integer date/time
// encodings used by CAS.
//
// Both encodings count from the same epoch, 1960-01-01T00:00:00 UTC. They
// differ only in the unit used for sub-day values:
//
//	         date   time-of-day            datetime
//	CAS      days   microseconds           microseconds
//	SAS      days   seconds                seconds
//
// Conversions from CAS to SAS truncate toward zero, while calendar values
// convert to SAS seconds by flooring. All calendar values are interpreted in
// UTC.
package casdt

import (
	"time"
)

// Epoch is the zero point of both the CAS and SAS encodings.
var Epoch = time.Date(1960, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	microsPerSecond = int64(1_000_000)
	secondsPerDay   = int64(24 * 60 * 60)
	microsPerDay    = secondsPerDay * microsPerSecond
)

var epochUnix = Epoch.Unix()

// TimeOfDay is a time of day expressed as the duration since midnight.
type TimeOfDay time.Duration

// Clock builds a TimeOfDay from its components.
func Clock(hour, min, sec, micro int) TimeOfDay {
	d := time.Duration(hour)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(micro)*time.Microsecond
	return TimeOfDay(d)
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(time.Duration(t) / time.Hour) }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(time.Duration(t)%time.Hour) / int(time.Minute) }

// Second returns the second component.
func (t TimeOfDay) Second() int { return int(time.Duration(t)%time.Minute) / int(time.Second) }

// Microsecond returns the sub-second component in microseconds.
func (t TimeOfDay) Microsecond() int {
	return int(time.Duration(t)%time.Second) / int(time.Microsecond)
}

func (t TimeOfDay) String() string {
	return Epoch.Add(time.Duration(t)).Format("15:04:05.999999")
}

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// CASToDate converts a CAS date (days since the epoch) to a calendar date.
func CASToDate(days int64) time.Time {
	return Epoch.AddDate(0, 0, int(days))
}

// DateToCAS converts a calendar date to a CAS date. The calendar day is taken
// in t's own location and any time-of-day part is ignored.
func DateToCAS(t time.Time) int64 {
	day := Date(t.Year(), t.Month(), t.Day())
	return floorDiv(day.Unix()-epochUnix, secondsPerDay)
}

// CASToTime converts a CAS time (microseconds since midnight) to a time of
// day. Values outside a single day wrap.
func CASToTime(micros int64) TimeOfDay {
	return TimeOfDay(time.Duration(floorMod(micros, microsPerDay)) * time.Microsecond)
}

// TimeToCAS converts a time of day to a CAS time.
func TimeToCAS(t TimeOfDay) int64 {
	return floorMod(int64(time.Duration(t)/time.Microsecond), microsPerDay)
}

// CASToDateTime converts a CAS datetime (microseconds since the epoch) to a
// calendar timestamp.
func CASToDateTime(micros int64) time.Time {
	days := floorDiv(micros, microsPerDay)
	rem := floorMod(micros, microsPerDay)
	return CASToDate(days).Add(time.Duration(rem) * time.Microsecond)
}

// DateTimeToCAS converts a calendar timestamp to a CAS datetime. Precision
// below one microsecond is truncated.
func DateTimeToCAS(t time.Time) int64 {
	return (t.Unix()-epochUnix)*microsPerSecond + int64(t.Nanosecond()/1000)
}

// SASToDate converts a SAS date to a calendar date.
func SASToDate(days int64) time.Time { return CASToDate(days) }

// DateToSAS converts a calendar date to a SAS date.
func DateToSAS(t time.Time) int64 { return DateToCAS(t) }

// SASToTime converts a SAS time (seconds since midnight) to a time of day.
func SASToTime(seconds int64) TimeOfDay { return CASToTime(SASToCASTime(seconds)) }

// TimeToSAS converts a time of day to a SAS time, truncating sub-second
// precision.
func TimeToSAS(t TimeOfDay) int64 { return CASToSASTime(TimeToCAS(t)) }

// SASToDateTime converts a SAS datetime (seconds since the epoch) to a
// calendar timestamp.
func SASToDateTime(seconds int64) time.Time { return CASToDateTime(SASToCASDateTime(seconds)) }

// DateTimeToSAS converts a calendar timestamp to a SAS datetime. The
// sub-second part is dropped, so the result is the second that contains t,
// also before the epoch.
func DateTimeToSAS(t time.Time) int64 { return t.Unix() - epochUnix }

// CASToSASDate converts a CAS date to a SAS date. The two are identical.
func CASToSASDate(days int64) int64 { return days }

// SASToCASDate converts a SAS date to a CAS date.
func SASToCASDate(days int64) int64 { return days }

// CASToSASTime converts microseconds to seconds, truncating toward zero.
func CASToSASTime(micros int64) int64 { return micros / microsPerSecond }

// SASToCASTime converts seconds to microseconds.
func SASToCASTime(seconds int64) int64 { return seconds * microsPerSecond }

// CASToSASDateTime converts microseconds to seconds, truncating toward zero.
func CASToSASDateTime(micros int64) int64 { return micros / microsPerSecond }

// SASToCASDateTime converts seconds to microseconds.
func SASToCASDateTime(seconds int64) int64 { return seconds * microsPerSecond }
