package calendar

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
)

func TestEncode_RoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{UID: "a1", Summary: "Regular Checkup: Ada", Start: start, End: start.Add(15 * time.Minute)},
		{UID: "a2", Summary: "Urgent Care: Bob", Description: "Booked 25 min", Start: start.Add(20 * time.Minute), End: start.Add(45 * time.Minute)},
	}

	var buf bytes.Buffer
	if err := Encode(&buf, events, start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR") {
		t.Fatalf("expected VCALENDAR, got %q", buf.String())
	}

	cal, err := ical.NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cal.Children) != 2 {
		t.Fatalf("expected 2 events, got %d", len(cal.Children))
	}

	ev := cal.Children[1]
	if ev.Name != ical.CompEvent {
		t.Errorf("expected VEVENT, got %s", ev.Name)
	}
	if uid := ev.Props.Get(ical.PropUID); uid == nil || uid.Value != "a2" {
		t.Errorf("unexpected uid: %+v", uid)
	}
	dtstart, err := ev.Props.Get(ical.PropDateTimeStart).DateTime(time.UTC)
	if err != nil {
		t.Fatalf("parse DTSTART: %v", err)
	}
	if !dtstart.Equal(start.Add(20 * time.Minute)) {
		t.Errorf("DTSTART = %s, want %s", dtstart, start.Add(20*time.Minute))
	}
	if desc := ev.Props.Get(ical.PropDescription); desc == nil || desc.Value != "Booked 25 min" {
		t.Errorf("unexpected description: %+v", desc)
	}
}

func TestEncode_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	start := time.Date(2026, 3, 2, 11, 0, 0, 0, loc)

	var buf bytes.Buffer
	err := Encode(&buf, []Event{{UID: "x", Summary: "s", Start: start, End: start.Add(time.Hour)}}, start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "DTSTART:20260302T090000Z") {
		t.Errorf("expected UTC DTSTART, got:\n%s", buf.String())
	}
}

func TestEncode_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, nil, time.Now()); !errors.Is(err, ErrNoEvents) {
		t.Errorf("expected ErrNoEvents, got %v", err)
	}
}

func TestEncode_MissingUID(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	if err := Encode(&buf, []Event{{Start: now, End: now}}, now); err == nil {
		t.Error("expected error for missing uid")
	}
}
