// Package calendar renders schedules as iCalendar (RFC 5545) documents.
package calendar

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
)

// ContentType is the media type of an encoded calendar.
const ContentType = "text/calendar; charset=utf-8"

const productID = "-//ehr//appointment-scheduler//EN"

// ErrNoEvents is returned by Encode when there is nothing to export.
var ErrNoEvents = errors.New("calendar has no events")

// Event is one VEVENT entry.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Encode writes events as a single VCALENDAR. All times are emitted in UTC;
// stamp is used as DTSTAMP for every event.
func Encode(w io.Writer, events []Event, stamp time.Time) error {
	if len(events) == 0 {
		return ErrNoEvents
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, e := range events {
		if e.UID == "" {
			return fmt.Errorf("event at %s has no uid", e.Start.Format(time.RFC3339))
		}
		ev := ical.NewEvent()
		ev.Props.SetText(ical.PropUID, e.UID)
		ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeStart, e.Start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, e.End.UTC())
		ev.Props.SetText(ical.PropSummary, e.Summary)
		if e.Description != "" {
			ev.Props.SetText(ical.PropDescription, e.Description)
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}
