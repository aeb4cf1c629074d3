package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/domain/scheduling"
	"github.com/ehr/scheduler/internal/platform/notification"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

const (
	smsDateLayout = "January 2, 2006"
	smsTimeLayout = "03:04 PM"

	metricSMSSent   = "sms_sent_total"
	metricSMSFailed = "sms_failed_total"
)

// smsNotifier adapts notification.Manager to scheduling.Notifier. Patients
// without a phone number are skipped and send failures are only logged.
type smsNotifier struct {
	mgr     *notification.Manager
	metrics *telemetry.Provider
	logger  zerolog.Logger
}

func newSMSNotifier(mgr *notification.Manager, metrics *telemetry.Provider, logger zerolog.Logger) *smsNotifier {
	return &smsNotifier{
		mgr:     mgr,
		metrics: metrics,
		logger:  logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *smsNotifier) Rescheduled(ctx context.Context, shifts []scheduling.Shift) {
	for _, s := range shifts {
		if s.PhoneNumber == nil || *s.PhoneNumber == "" {
			continue
		}
		n.send(ctx, notification.TemplateRescheduled, s.AppointmentID, *s.PhoneNumber, map[string]string{
			"patient_name": s.PatientName,
			"date":         s.NewStart.Format(smsDateLayout),
			"old_time":     s.OldStart.Format(smsTimeLayout),
			"new_time":     s.NewStart.Format(smsTimeLayout),
		})
	}
}

func (n *smsNotifier) Confirmed(ctx context.Context, appt scheduling.Appointment) {
	if appt.PhoneNumber == nil || *appt.PhoneNumber == "" {
		return
	}
	n.send(ctx, notification.TemplateConfirmed, appt.ID, *appt.PhoneNumber, map[string]string{
		"patient_name": appt.PatientName,
		"date":         appt.StartTime.Format(smsDateLayout),
		"time":         appt.StartTime.Format(smsTimeLayout),
	})
}

func (n *smsNotifier) send(ctx context.Context, templateID, apptID, phone string, data map[string]string) {
	if _, err := n.mgr.SendTemplate(ctx, templateID, phone, data); err != nil {
		n.metrics.Inc(metricSMSFailed, templateID)
		n.logger.Warn().Err(err).
			Str("template", templateID).
			Str("appointment_id", apptID).
			Msg("sms notification failed")
		return
	}
	n.metrics.Inc(metricSMSSent, templateID)
}
