package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier receives schedule changes after they are committed. Delivery is
// best effort and must not block or fail the originating operation.
type Notifier interface {
	Rescheduled(ctx context.Context, shifts []Shift)
	Confirmed(ctx context.Context, appt Appointment)
}

type noopNotifier struct{}

func (noopNotifier) Rescheduled(context.Context, []Shift)   {}
func (noopNotifier) Confirmed(context.Context, Appointment) {}

type Service struct {
	store    *Store
	notifier Notifier
	step     int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService wraps store. A step of zero or less falls back to
// DefaultStepMinutes; a nil notifier disables notifications.
func NewService(store *Store, notifier Notifier, step int, logger zerolog.Logger) *Service {
	if step <= 0 {
		step = DefaultStepMinutes
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		step:     step,
		logger:   logger.With().Str("component", "scheduling").Logger(),
		now:      time.Now,
	}
}

// -- Reads --

func (s *Service) Procedures() []Procedure {
	return s.store.Catalog().List()
}

func (s *Service) Schedule() []Appointment {
	return s.store.Schedule()
}

func (s *Service) BreakPolicy() BreakSettings {
	return s.store.BreakPolicy()
}

func (s *Service) GetAppointment(id string) (Appointment, error) {
	a, ok := s.store.Get(id)
	if !ok {
		return Appointment{}, &NotFoundError{AppointmentID: id}
	}
	return a, nil
}

// AppointmentsForPhone lists a patient's appointments in schedule order. With
// upcomingOnly set, appointments starting at or before now are skipped.
func (s *Service) AppointmentsForPhone(phone string, upcomingOnly bool) []Appointment {
	now := s.now()
	out := []Appointment{}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return out
	}
	for _, a := range s.store.Schedule() {
		if strVal(a.PhoneNumber) != phone {
			continue
		}
		if upcomingOnly && !a.StartTime.After(now) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// -- Mutations --

func (s *Service) AddAppointment(ctx context.Context, in AddInput) (Outcome, error) {
	out, err := s.store.Add(in)
	if err != nil {
		return out, err
	}
	s.logger.Info().
		Str("appointment_id", out.Appointment.ID).
		Str("procedure_id", out.Appointment.ProcedureID).
		Time("start_time", out.Appointment.StartTime).
		Int("shifted", len(out.Shifted)).
		Msg("appointment added")
	s.notifier.Rescheduled(ctx, out.Shifted)
	s.notifier.Confirmed(ctx, *out.Appointment)
	return out, nil
}

// ExtendTime adds step minutes to an appointment. A step of zero uses the
// configured default.
func (s *Service) ExtendTime(ctx context.Context, id string, step int) (Outcome, error) {
	out, err := s.store.ExtendTime(id, s.stepOrDefault(step))
	return s.finish(ctx, "extend", id, out, err)
}

// ReduceTime removes step minutes from an appointment, floored at zero.
func (s *Service) ReduceTime(ctx context.Context, id string, step int) (Outcome, error) {
	out, err := s.store.ReduceTime(id, s.stepOrDefault(step))
	return s.finish(ctx, "reduce", id, out, err)
}

func (s *Service) SetAdditionalTime(ctx context.Context, id string, minutes int) (Outcome, error) {
	out, err := s.store.SetAdditionalTime(id, minutes)
	return s.finish(ctx, "set_additional_time", id, out, err)
}

func (s *Service) CancelAppointment(ctx context.Context, id string) (Outcome, error) {
	return s.finish(ctx, "cancel", id, s.store.Remove(id), nil)
}

func (s *Service) SetBreakPolicy(ctx context.Context, patch BreakPolicyPatch) (Outcome, error) {
	out, err := s.store.SetBreakPolicy(patch)
	if err != nil {
		return out, err
	}
	policy := s.store.BreakPolicy()
	s.logger.Info().
		Bool("enabled", policy.Enabled).
		Int("duration_minutes", policy.DurationMinutes).
		Int("shifted", len(out.Shifted)).
		Msg("break policy updated")
	s.notifier.Rescheduled(ctx, out.Shifted)
	return out, nil
}

func (s *Service) ClearSchedule(_ context.Context) int {
	n := s.store.Clear()
	s.logger.Info().Int("removed", n).Msg("schedule cleared")
	return n
}

func (s *Service) finish(ctx context.Context, op, id string, out Outcome, err error) (Outcome, error) {
	if err != nil {
		return out, err
	}
	if !out.Found {
		s.logger.Debug().Str("op", op).Str("appointment_id", id).Msg("unknown appointment, nothing changed")
		return out, &NotFoundError{AppointmentID: id}
	}
	if !out.Applied {
		s.logger.Debug().Str("op", op).Str("appointment_id", id).Msg("no change")
		return out, nil
	}
	s.logger.Info().
		Str("op", op).
		Str("appointment_id", id).
		Int("shifted", len(out.Shifted)).
		Msg("schedule recalculated")
	s.notifier.Rescheduled(ctx, out.Shifted)
	return out, nil
}

func (s *Service) stepOrDefault(step int) int {
	if step == 0 {
		return s.step
	}
	return step
}
