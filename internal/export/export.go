// Package export renders merged events as an iCalendar document.
package export

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/jw6ventures/calsync/internal/store"
)

const productName = "calsync"

// Calendar builds a VCALENDAR holding events. stamp is written as DTSTAMP.
func Calendar(events []store.Event, name string, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendarFor(productName)
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	for _, ev := range events {
		addEvent(cal, ev, stamp)
	}
	return cal
}

// Write serializes events to w.
func Write(w io.Writer, events []store.Event, name string, stamp time.Time) error {
	return Calendar(events, name, stamp).SerializeTo(w)
}

func addEvent(cal *ical.Calendar, ev store.Event, stamp time.Time) {
	vevent := cal.AddEvent(ev.ID + "@" + productName)
	vevent.SetDtStampTime(stamp)
	if !ev.UpdatedAt.IsZero() {
		vevent.SetModifiedAt(ev.UpdatedAt)
	}
	vevent.SetSummary(ev.Title)
	if ev.Description != "" {
		vevent.SetDescription(ev.Description)
	}
	if ev.Location != "" {
		vevent.SetLocation(ev.Location)
	}
	vevent.AddProperty(ical.ComponentPropertyCategories, string(ev.Source))

	if ev.Start.AllDay {
		end := ev.End.Time
		// DTEND is exclusive for dates.
		if !end.After(ev.Start.Time) {
			end = ev.Start.Time.AddDate(0, 0, 1)
		}
		vevent.SetAllDayStartAt(ev.Start.Time)
		vevent.SetAllDayEndAt(end)
		return
	}
	end := ev.End.Time
	if end.Before(ev.Start.Time) {
		end = ev.Start.Time
	}
	vevent.SetStartAt(ev.Start.Time)
	vevent.SetEndAt(end)
}
