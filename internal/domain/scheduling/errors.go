package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a missing or malformed input field. It is returned
// before any mutation takes place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// UnknownProcedureError is returned when a procedure id is not in the catalog.
type UnknownProcedureError struct {
	ProcedureID string
}

func (e *UnknownProcedureError) Error() string {
	return fmt.Sprintf("unknown procedure %q", e.ProcedureID)
}

// NotFoundError is returned when an operation references an appointment id
// that is not in the schedule.
type NotFoundError struct {
	AppointmentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("appointment %q not found", e.AppointmentID)
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ParseTimestamp parses an RFC 3339 timestamp and truncates it to the minute.
func ParseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &ValidationError{Field: field, Message: "is required"}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: fmt.Sprintf("%q is not an RFC 3339 timestamp", value)}
	}
	return t.Truncate(time.Minute), nil
}

// ParseDateAndTime combines a calendar date ("2006-01-02") and a wall clock
// time ("15:04") in loc.
func ParseDateAndTime(date, clock string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, &ValidationError{Field: "date", Message: "is required"}
	}
	if clock == "" {
		return time.Time{}, &ValidationError{Field: "time", Message: "is required"}
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return time.Time{}, &ValidationError{Field: "date", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", date)}
	}
	if _, err := time.Parse(timeLayout, clock); err != nil {
		return time.Time{}, &ValidationError{Field: "time", Message: fmt.Sprintf("%q is not an HH:MM time", clock)}
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+clock, loc)
}
