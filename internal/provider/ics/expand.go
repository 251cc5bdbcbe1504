package ics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/store"
)

const (
	defaultMaxOccurrences = 5000
	untitled              = "(No title)"

	// scanFactor bounds the occurrences walked per occurrence kept, so a
	// dense rule that started long before the window still terminates.
	scanFactor = 100
	// ctxCheckEvery is how many occurrences are walked between context checks.
	ctxCheckEvery = 1024
)

// expand materializes parsed VEVENTs into concrete events overlapping the
// window. Recurring events become one event per occurrence, keyed
// UID/<instance start>; RECURRENCE-ID overrides replace the matching
// occurrence and CANCELLED instances are dropped.
func expand(ctx context.Context, events []vevent, window provider.Window, maxOccurrences int) ([]store.Event, error) {
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}

	masters := make([]vevent, 0, len(events))
	overrides := make(map[string]map[string]vevent)
	for _, ev := range events {
		if ev.recurrenceID == nil {
			masters = append(masters, ev)
			continue
		}
		if overrides[ev.uid] == nil {
			overrides[ev.uid] = make(map[string]vevent)
		}
		overrides[ev.uid][instanceKey(*ev.recurrenceID, ev.allDay)] = ev
	}

	var out []store.Event
	emit := func(ev vevent, id string, start, end time.Time) {
		if ev.cancelled {
			return
		}
		e := toEvent(ev, id, start, end)
		if e.Overlaps(window.Start, window.End) {
			out = append(out, e)
		}
	}

	recurring := make(map[string]bool)
	for _, m := range masters {
		if m.rrule == "" {
			emit(m, m.uid, m.start, m.end)
			continue
		}
		recurring[m.uid] = true

		occurrences, err := occurrencesOf(ctx, m, window, maxOccurrences)
		if err != nil {
			return nil, err
		}
		byKey := overrides[m.uid]
		for _, occ := range occurrences {
			key := instanceKey(occ, m.allDay)
			id := m.uid + "/" + key
			if ov, ok := byKey[key]; ok {
				delete(byKey, key)
				emit(ov, id, ov.start, ov.end)
				continue
			}
			emit(m, id, occ, occ.Add(m.duration()))
		}
	}

	// Overrides whose original slot fell outside the expansion range may
	// still have been moved into the window.
	for uid, byKey := range overrides {
		for key, ov := range byKey {
			id := uid + "/" + key
			if !recurring[uid] {
				id = uid
			}
			emit(ov, id, ov.start, ov.end)
		}
	}
	return out, nil
}

// occurrencesOf walks the series in order and stops at the window end, after
// maxOccurrences kept instances, or once maxOccurrences*scanFactor instances
// have been generated.
func occurrencesOf(ctx context.Context, m vevent, window provider.Window, maxOccurrences int) ([]time.Time, error) {
	rule, err := rrule.StrToRRule(m.rrule)
	if err != nil {
		return nil, fmt.Errorf("event %q RRULE: %w", m.uid, err)
	}
	rule.DTStart(m.start)

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range m.exdates {
		set.ExDate(ex.In(m.start.Location()))
	}

	// Occurrences that began before the window but are still running count.
	from := window.Start.Add(-m.duration())
	scanLimit := maxOccurrences * scanFactor

	var times []time.Time
	next := set.Iterator()
	for scanned := 1; ; scanned++ {
		if scanned%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		occ, ok := next()
		if !ok || occ.After(window.End) {
			return times, nil
		}
		if scanned > scanLimit {
			log.Printf("[WARN] ics: event %q scanned %d occurrences before reaching the window end, truncating", m.uid, scanLimit)
			return times, nil
		}
		if occ.Before(from) {
			continue
		}
		if len(times) == maxOccurrences {
			log.Printf("[WARN] ics: event %q expands past %d occurrences in window, truncating", m.uid, maxOccurrences)
			return times, nil
		}
		times = append(times, occ)
	}
}

// instanceKey identifies an occurrence by its original start: a date for
// all-day series, a UTC timestamp otherwise.
func instanceKey(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("20060102")
	}
	return t.UTC().Format("20060102T150405Z")
}

func toEvent(ev vevent, id string, start, end time.Time) store.Event {
	title := ev.summary
	if title == "" {
		title = untitled
	}
	e := store.Event{
		Title:         title,
		Description:   ev.description,
		Location:      ev.location,
		Source:        store.SourceICloud,
		SourceEventID: id,
	}
	if ev.allDay {
		e.Start = store.Date(start.Year(), start.Month(), start.Day())
		e.End = store.Date(end.Year(), end.Month(), end.Day())
	} else {
		e.Start = store.At(start)
		e.End = store.At(end)
	}
	return e
}
