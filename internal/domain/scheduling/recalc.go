package scheduling

import (
	"slices"
)

// Recalculate re-derives every appointment's slot from chronological order,
// booked durations and the break policy.
//
// The earliest appointment is the anchor and is returned unchanged. Each
// following appointment starts where its predecessor ends, plus the break gap
// when the policy is enabled. Appointments with equal start times keep their
// input order. The input slice is not modified.
func Recalculate(appointments []Appointment, policy BreakSettings) []Appointment {
	if len(appointments) == 0 {
		return []Appointment{}
	}

	out := slices.Clone(appointments)
	slices.SortStableFunc(out, func(a, b Appointment) int {
		return a.StartTime.Compare(b.StartTime)
	})

	gap := policy.Gap()
	for i := 1; i < len(out); i++ {
		out[i].StartTime = out[i-1].EndTime.Add(gap)
		out[i].syncEnd()
	}
	return out
}
