package scheduling

import (
	"time"
)

// DefaultStepMinutes is the extend/reduce increment used when a caller does
// not supply one.
const DefaultStepMinutes = 5

// Procedure is a read-only catalog entry.
type Procedure struct {
	ID              string `db:"id" json:"id"`
	Name            string `db:"name" json:"name"`
	DurationMinutes int    `db:"duration_minutes" json:"duration_minutes"`
}

// Appointment is a scheduled booking of a Procedure for a patient.
type Appointment struct {
	ID               string    `json:"id"`
	PatientName      string    `json:"patient_name"`
	PhoneNumber      *string   `json:"phone_number,omitempty"`
	ProcedureID      string    `json:"procedure_id"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	OriginalDuration int       `json:"original_duration"`
	AdditionalTime   int       `json:"additional_time"`
}

// TotalDuration returns the booked length including any extra time.
func (a *Appointment) TotalDuration() time.Duration {
	return time.Duration(a.OriginalDuration+a.AdditionalTime) * time.Minute
}

// syncEnd recomputes EndTime from StartTime and the booked length.
func (a *Appointment) syncEnd() {
	a.EndTime = a.StartTime.Add(a.TotalDuration())
}

// BreakSettings is the buffer policy applied between every adjacent pair of
// appointments.
type BreakSettings struct {
	DurationMinutes int  `json:"duration_minutes"`
	Enabled         bool `json:"enabled"`
}

// DefaultBreakSettings returns the policy a new schedule starts with.
func DefaultBreakSettings() BreakSettings {
	return BreakSettings{DurationMinutes: 5, Enabled: true}
}

// Gap returns the time inserted between consecutive appointments.
func (b BreakSettings) Gap() time.Duration {
	if !b.Enabled {
		return 0
	}
	return time.Duration(b.DurationMinutes) * time.Minute
}

// Validate rejects a negative break duration.
func (b BreakSettings) Validate() error {
	if b.DurationMinutes < 0 {
		return &ValidationError{Field: "duration_minutes", Message: "must not be negative"}
	}
	return nil
}

// BreakPolicyPatch carries a partial update to BreakSettings. Nil fields keep
// the current value.
type BreakPolicyPatch struct {
	DurationMinutes *int  `json:"duration_minutes,omitempty"`
	Enabled         *bool `json:"enabled,omitempty"`
}

// Apply merges the patch into b and returns the result.
func (p BreakPolicyPatch) Apply(b BreakSettings) BreakSettings {
	if p.DurationMinutes != nil {
		b.DurationMinutes = *p.DurationMinutes
	}
	if p.Enabled != nil {
		b.Enabled = *p.Enabled
	}
	return b
}

// Shift records an appointment whose slot moved during a recalculation.
type Shift struct {
	AppointmentID string    `json:"appointment_id"`
	PatientName   string    `json:"patient_name"`
	PhoneNumber   *string   `json:"phone_number,omitempty"`
	OldStart      time.Time `json:"old_start"`
	OldEnd        time.Time `json:"old_end"`
	NewStart      time.Time `json:"new_start"`
	NewEnd        time.Time `json:"new_end"`
}

// Outcome is the result of a Store operation.
type Outcome struct {
	// Found is false when the operation referenced an unknown appointment id.
	Found bool `json:"found"`
	// Applied is false when nothing changed, e.g. reduce at the zero floor.
	Applied     bool          `json:"applied"`
	Appointment *Appointment  `json:"appointment,omitempty"`
	Shifted     []Shift       `json:"shifted"`
	Schedule    []Appointment `json:"-"`
}

// Diff lists appointments present in both snapshots whose start or end
// changed. The appointment identified by exclude is left out.
func Diff(before, after []Appointment, exclude string) []Shift {
	prev := make(map[string]Appointment, len(before))
	for _, a := range before {
		prev[a.ID] = a
	}

	shifts := []Shift{}
	for _, a := range after {
		if a.ID == exclude {
			continue
		}
		old, ok := prev[a.ID]
		if !ok {
			continue
		}
		if old.StartTime.Equal(a.StartTime) && old.EndTime.Equal(a.EndTime) {
			continue
		}
		shifts = append(shifts, Shift{
			AppointmentID: a.ID,
			PatientName:   a.PatientName,
			PhoneNumber:   a.PhoneNumber,
			OldStart:      old.StartTime,
			OldEnd:        old.EndTime,
			NewStart:      a.StartTime,
			NewEnd:        a.EndTime,
		})
	}
	return shifts
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
