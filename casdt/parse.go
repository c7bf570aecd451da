// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package casdt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrParse is a sentinel for use with errors.Is to check whether an error is
// a *ParseError.
var ErrParse = &ParseError{}

// ParseError reports a date/time string that could not be parsed.
type ParseError struct {
	Input string
	Kind  string // "date", "time" or "datetime"
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("casdt: cannot parse %q as a %s", e.Input, e.Kind)
}

// Is supports errors.Is by matching any *ParseError target.
func (e *ParseError) Is(target error) bool {
	_, ok := target.(*ParseError)
	return ok
}

var (
	dateLayouts = []string{
		"20060102",
		"2006-01-02",
		"2006/01/02",
		"02Jan2006",
	}
	clockLayouts = []string{
		"15:04",
		"15:04:05",
		"15:04:05.999999999",
	}
	dateTimeLayouts = []string{time.RFC3339Nano}
)

func init() {
	for _, d := range dateLayouts {
		for _, c := range clockLayouts {
			dateTimeLayouts = append(dateTimeLayouts, d+"T"+c, d+" "+c, d+":"+c)
		}
	}
}

// parse reads s as a datetime, a bare date or a bare time. The booleans
// report which parts were present.
func parse(s string) (t time.Time, hasDate, hasClock bool, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), true, true, nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, true, false, nil
		}
	}
	for _, layout := range clockLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, false, true, nil
		}
	}
	return time.Time{}, false, false, errors.New("no layout matched")
}

func timeOfDay(t time.Time) TimeOfDay {
	return Clock(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1000)
}

// ParseDate parses a date, or the date part of a datetime.
func ParseDate(s string) (time.Time, error) {
	t, hasDate, _, err := parse(s)
	if err != nil || !hasDate {
		return time.Time{}, &ParseError{Input: s, Kind: "date"}
	}
	return Date(t.Year(), t.Month(), t.Day()), nil
}

// ParseTime parses a time of day, or the time part of a datetime.
func ParseTime(s string) (TimeOfDay, error) {
	t, _, hasClock, err := parse(s)
	if err != nil || !hasClock {
		return 0, &ParseError{Input: s, Kind: "time"}
	}
	return timeOfDay(t), nil
}

// ParseDateTime parses a datetime. A bare date is read as midnight.
func ParseDateTime(s string) (time.Time, error) {
	t, hasDate, _, err := parse(s)
	if err != nil || !hasDate {
		return time.Time{}, &ParseError{Input: s, Kind: "datetime"}
	}
	return t, nil
}

// ParseCASDate parses s and returns it as a CAS date.
func ParseCASDate(s string) (int64, error) {
	t, err := ParseDate(s)
	if err != nil {
		return 0, err
	}
	return DateToCAS(t), nil
}

// ParseCASTime parses s and returns it as a CAS time.
func ParseCASTime(s string) (int64, error) {
	t, err := ParseTime(s)
	if err != nil {
		return 0, err
	}
	return TimeToCAS(t), nil
}

// ParseCASDateTime parses s and returns it as a CAS datetime.
func ParseCASDateTime(s string) (int64, error) {
	t, err := ParseDateTime(s)
	if err != nil {
		return 0, err
	}
	return DateTimeToCAS(t), nil
}

// ParseSASDate parses s and returns it as a SAS date.
func ParseSASDate(s string) (int64, error) {
	t, err := ParseDate(s)
	if err != nil {
		return 0, err
	}
	return DateToSAS(t), nil
}

// ParseSASTime parses s and returns it as a SAS time.
func ParseSASTime(s string) (int64, error) {
	t, err := ParseTime(s)
	if err != nil {
		return 0, err
	}
	return TimeToSAS(t), nil
}

// ParseSASDateTime parses s and returns it as a SAS datetime.
func ParseSASDateTime(s string) (int64, error) {
	t, err := ParseDateTime(s)
	if err != nil {
		return 0, err
	}
	return DateTimeToSAS(t), nil
}
