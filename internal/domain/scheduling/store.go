package scheduling

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AddInput holds the fields needed to book a new appointment.
type AddInput struct {
	PatientName string
	PhoneNumber *string
	ProcedureID string
	StartTime   time.Time
}

// Store owns the day's appointment collection and the break policy. Every
// mutation is followed by a full recalculation, and the stored slice is
// replaced wholesale so readers always see a consistent snapshot.
type Store struct {
	mu           sync.RWMutex
	catalog      Catalog
	policy       BreakSettings
	appointments []Appointment
	newID        func() string
}

// NewStore creates an empty Store that resolves procedures from catalog.
func NewStore(catalog Catalog, policy BreakSettings) *Store {
	return &Store{
		catalog:      catalog,
		policy:       policy,
		appointments: []Appointment{},
		newID:        uuid.NewString,
	}
}

// Catalog returns the procedure catalog the store books against.
func (s *Store) Catalog() Catalog { return s.catalog }

// Schedule returns a copy of the current ordered schedule.
func (s *Store) Schedule() []Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.appointments)
}

// Get returns the appointment with the given id.
func (s *Store) Get(id string) (Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Appointment{}, false
	}
	return s.appointments[i], true
}

// BreakPolicy returns the current break policy.
func (s *Store) BreakPolicy() BreakSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Add books a new appointment and recalculates the schedule.
func (s *Store) Add(in AddInput) (Outcome, error) {
	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		return Outcome{}, &ValidationError{Field: "patient_name", Message: "is required"}
	}
	procID := strings.TrimSpace(in.ProcedureID)
	if procID == "" {
		return Outcome{}, &ValidationError{Field: "procedure_id", Message: "is required"}
	}
	if in.StartTime.IsZero() {
		return Outcome{}, &ValidationError{Field: "start_time", Message: "is required"}
	}
	proc, ok := s.catalog.Lookup(procID)
	if !ok {
		return Outcome{}, &UnknownProcedureError{ProcedureID: procID}
	}

	var phone *string
	if in.PhoneNumber != nil {
		if p := strings.TrimSpace(*in.PhoneNumber); p != "" {
			phone = &p
		}
	}

	appt := Appointment{
		ID:               s.newID(),
		PatientName:      name,
		PhoneNumber:      phone,
		ProcedureID:      proc.ID,
		StartTime:        in.StartTime.Truncate(time.Minute),
		OriginalDuration: proc.DurationMinutes,
	}
	appt.syncEnd()

	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(slices.Clone(s.appointments), appt)
	return s.commit(next, appt.ID), nil
}

// ExtendTime adds step minutes of extra time to one appointment.
func (s *Store) ExtendTime(id string, step int) (Outcome, error) {
	if err := validateStep(step); err != nil {
		return Outcome{}, err
	}
	return s.adjust(id, func(a *Appointment) bool {
		a.AdditionalTime += step
		return true
	}), nil
}

// ReduceTime removes step minutes of extra time, never going below zero. It is
// a no-op once the appointment has no extra time left.
func (s *Store) ReduceTime(id string, step int) (Outcome, error) {
	if err := validateStep(step); err != nil {
		return Outcome{}, err
	}
	return s.adjust(id, func(a *Appointment) bool {
		if a.AdditionalTime <= 0 {
			return false
		}
		a.AdditionalTime = max(a.AdditionalTime-step, 0)
		return true
	}), nil
}

// SetAdditionalTime replaces an appointment's extra time with an absolute
// value, which must be a non-negative multiple of DefaultStepMinutes.
func (s *Store) SetAdditionalTime(id string, minutes int) (Outcome, error) {
	if minutes < 0 {
		return Outcome{}, &ValidationError{Field: "additional_time", Message: "must not be negative"}
	}
	if minutes%DefaultStepMinutes != 0 {
		return Outcome{}, &ValidationError{Field: "additional_time", Message: "must be a multiple of 5 minutes"}
	}
	return s.adjust(id, func(a *Appointment) bool {
		if a.AdditionalTime == minutes {
			return false
		}
		a.AdditionalTime = minutes
		return true
	}), nil
}

// Remove cancels one appointment and recalculates the remainder.
func (s *Store) Remove(id string) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return s.unchanged(false)
	}
	removed := s.appointments[i]
	next := slices.Delete(slices.Clone(s.appointments), i, i+1)
	out := s.commit(next, id)
	out.Appointment = &removed
	return out
}

// SetBreakPolicy merges patch into the current policy. A non-empty schedule is
// recalculated immediately.
func (s *Store) SetBreakPolicy(patch BreakPolicyPatch) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := patch.Apply(s.policy)
	if err := next.Validate(); err != nil {
		return Outcome{}, err
	}
	s.policy = next
	if len(s.appointments) == 0 {
		out := s.unchanged(true)
		out.Applied = true
		return out, nil
	}
	return s.commit(s.appointments, ""), nil
}

// Clear removes every appointment and returns how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.appointments)
	s.appointments = []Appointment{}
	return n
}

// adjust applies fn to the appointment with id, keeping its end time in step
// with its duration, then recalculates. fn reports whether it changed anything.
func (s *Store) adjust(id string, fn func(a *Appointment) bool) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return s.unchanged(false)
	}
	next := slices.Clone(s.appointments)
	if !fn(&next[i]) {
		out := s.unchanged(true)
		out.Appointment = &next[i]
		return out
	}
	next[i].syncEnd()
	return s.commit(next, id)
}

// commit recalculates next, installs it and reports what moved. The caller
// must hold the write lock.
func (s *Store) commit(next []Appointment, subject string) Outcome {
	before := s.appointments
	s.appointments = Recalculate(next, s.policy)

	out := Outcome{
		Found:    true,
		Applied:  true,
		Shifted:  Diff(before, s.appointments, subject),
		Schedule: slices.Clone(s.appointments),
	}
	if i := s.indexOf(subject); subject != "" && i >= 0 {
		a := s.appointments[i]
		out.Appointment = &a
	}
	return out
}

func (s *Store) unchanged(found bool) Outcome {
	return Outcome{
		Found:    found,
		Shifted:  []Shift{},
		Schedule: slices.Clone(s.appointments),
	}
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.appointments, func(a Appointment) bool { return a.ID == id })
}

func validateStep(step int) error {
	if step <= 0 {
		return &ValidationError{Field: "step_minutes", Message: "must be positive"}
	}
	if step%DefaultStepMinutes != 0 {
		return &ValidationError{Field: "step_minutes", Message: "must be a multiple of 5 minutes"}
	}
	return nil
}
