package ics

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// vevent is one VEVENT with its raw recurrence data.
type vevent struct {
	uid         string
	summary     string
	description string
	location    string
	cancelled   bool

	start  time.Time
	end    time.Time
	allDay bool

	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
}

func (v vevent) duration() time.Duration {
	return v.end.Sub(v.start)
}

// parseFeed parses an ICS document. A document that cannot be parsed as a
// whole is an error; a VEVENT without UID is skipped and logged because it
// cannot be matched across syncs.
func parseFeed(body []byte) ([]vevent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ics body")
	}
	// The parser accepts a document cut off before END:VCALENDAR, which would
	// look like mass deletion downstream.
	if !bytes.Contains(body, []byte("END:VCALENDAR")) {
		return nil, errors.New("ics body is truncated")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	var out []vevent
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			return nil, err
		}
		if ev.uid == "" {
			log.Printf("[WARN] ics: skipping VEVENT without UID (summary %q)", ev.summary)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var ev vevent
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		ev.uid = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		ev.cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return ev, fmt.Errorf("event %q has no DTSTART", ev.uid)
	}
	start, allDay, err := parseTimeProp(dtstart)
	if err != nil {
		return ev, fmt.Errorf("event %q DTSTART: %w", ev.uid, err)
	}
	ev.start, ev.allDay = start, allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := parseTimeProp(ve.GetProperty(ical.ComponentPropertyDtEnd))
		if err != nil {
			return ev, fmt.Errorf("event %q DTEND: %w", ev.uid, err)
		}
		ev.end = end
	case ve.GetProperty(ical.ComponentPropertyDuration) != nil:
		d, err := parseDuration(ve.GetProperty(ical.ComponentPropertyDuration).Value)
		if err != nil {
			return ev, fmt.Errorf("event %q DURATION: %w", ev.uid, err)
		}
		ev.end = start.Add(d)
	case allDay:
		ev.end = start.AddDate(0, 0, 1)
	default:
		ev.end = start
	}
	if ev.end.Before(ev.start) {
		ev.end = ev.start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.rrule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseTimeValue(part, p.ICalParameters)
			if err != nil {
				return ev, fmt.Errorf("event %q EXDATE: %w", ev.uid, err)
			}
			ev.exdates = append(ev.exdates, t)
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		rid, _, err := parseTimeProp(p)
		if err != nil {
			return ev, fmt.Errorf("event %q RECURRENCE-ID: %w", ev.uid, err)
		}
		ev.recurrenceID = &rid
	}
	return ev, nil
}

func parseTimeProp(p *ical.IANAProperty) (time.Time, bool, error) {
	return parseTimeValue(strings.TrimSpace(p.Value), p.ICalParameters)
}

// parseTimeValue handles DATE, UTC DATE-TIME, TZID DATE-TIME and floating
// DATE-TIME values. Dates come back at midnight UTC; floating times are read
// as UTC since the server has no meaningful local zone.
func parseTimeValue(v string, params map[string][]string) (time.Time, bool, error) {
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	isDate := !strings.Contains(v, "T")
	if vals := params[string(ical.ParameterValue)]; len(vals) > 0 && strings.EqualFold(vals[0], string(ical.ValueDataTypeDate)) {
		isDate = true
	}
	if isDate {
		if len(v) < 8 {
			return time.Time{}, false, fmt.Errorf("invalid date %q", v)
		}
		t, err := time.ParseInLocation("20060102", v[:8], time.UTC)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := time.UTC
	if tzids := params[string(ical.ParameterTzid)]; len(tzids) > 0 && tzids[0] != "" {
		tzid := strings.Trim(tzids[0], `"`)
		l, err := time.LoadLocation(tzid)
		if err != nil {
			log.Printf("[WARN] ics: unknown TZID %q, reading time as UTC", tzid)
		} else {
			loc = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

// parseDuration parses an RFC 5545 duration such as PT1H30M, P1D or -P1W.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, errors.New("empty duration")
	}
	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			inTime = true
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, err
			}
			num = ""
			unit, ok := durationUnit(r, inTime)
			if !ok {
				return 0, fmt.Errorf("invalid duration unit %q", r)
			}
			total += time.Duration(n) * unit
		}
	}
	if num != "" {
		return 0, fmt.Errorf("duration %q has a trailing number", s)
	}
	return sign * total, nil
}

func durationUnit(r rune, inTime bool) (time.Duration, bool) {
	if inTime {
		switch r {
		case 'H':
			return time.Hour, true
		case 'M':
			return time.Minute, true
		case 'S':
			return time.Second, true
		}
		return 0, false
	}
	switch r {
	case 'W':
		return 7 * 24 * time.Hour, true
	case 'D':
		return 24 * time.Hour, true
	}
	return 0, false
}
