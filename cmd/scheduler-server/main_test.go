package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/domain/scheduling"
	"github.com/ehr/scheduler/internal/platform/notification"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

func TestRunRecalc_ChainsAppointments(t *testing.T) {
	in := `{
		"break_policy": {"duration_minutes": 5, "enabled": true},
		"appointments": [
			{"id": "b", "patient_name": "Bob", "procedure_id": "urgent", "start_time": "2026-03-02T09:05:00Z", "original_duration": 25},
			{"id": "a", "patient_name": "Ada", "procedure_id": "checkup", "start_time": "2026-03-02T09:00:00Z", "original_duration": 15, "additional_time": 5}
		]
	}`

	var out bytes.Buffer
	if err := runRecalc(strings.NewReader(in), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []scheduling.Appointment
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
	wantEnd := time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC)
	if !got[0].EndTime.Equal(wantEnd) {
		t.Errorf("anchor end = %s, want %s", got[0].EndTime, wantEnd)
	}
	wantStart := time.Date(2026, 3, 2, 9, 25, 0, 0, time.UTC)
	if !got[1].StartTime.Equal(wantStart) || !got[1].EndTime.Equal(wantStart.Add(25*time.Minute)) {
		t.Errorf("second slot = %s-%s", got[1].StartTime, got[1].EndTime)
	}
}

func TestRunRecalc_DefaultPolicy(t *testing.T) {
	in := `{"appointments": [
		{"id": "a", "start_time": "2026-03-02T09:00:00Z", "original_duration": 15},
		{"id": "b", "start_time": "2026-03-02T09:00:00Z", "original_duration": 30}
	]}`

	var out bytes.Buffer
	if err := runRecalc(strings.NewReader(in), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []scheduling.Appointment
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	// Ties keep input order and the default 5 minute break applies.
	if got[1].ID != "b" || !got[1].StartTime.Equal(time.Date(2026, 3, 2, 9, 20, 0, 0, time.UTC)) {
		t.Errorf("unexpected second appointment: %+v", got[1])
	}
}

func TestRunRecalc_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"malformed json", `{"appointments": [`},
		{"negative break", `{"break_policy": {"duration_minutes": -1, "enabled": true}, "appointments": []}`},
		{"missing start", `{"appointments": [{"id": "a", "original_duration": 15}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verr *scheduling.ValidationError
			err := runRecalc(strings.NewReader(tt.in), &bytes.Buffer{})
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestRunRecalc_Empty(t *testing.T) {
	var out bytes.Buffer
	if err := runRecalc(strings.NewReader(`{"appointments": []}`), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "[]" {
		t.Errorf("expected empty array, got %q", out.String())
	}
}

func TestPrintProcedures(t *testing.T) {
	var out bytes.Buffer
	if err := printProcedures(&out, scheduling.DefaultProcedures()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected header plus 5 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[1], "15 min") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestSMSNotifier_SkipsMissingPhone(t *testing.T) {
	sms := &notification.MockSMSSender{}
	n := newSMSNotifier(notification.NewManager(sms, nil), telemetry.NewProvider(), zerolog.Nop())

	phone := "+15550001"
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n.Rescheduled(context.Background(), []scheduling.Shift{
		{AppointmentID: "a", PatientName: "Ada", PhoneNumber: &phone, OldStart: start, NewStart: start.Add(15 * time.Minute)},
		{AppointmentID: "b", PatientName: "Bob"},
	})

	calls := sms.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 sms, got %d", len(calls))
	}
	want := "Hello Ada, your appointment on March 2, 2026 has been rescheduled from 09:00 AM to 09:15 AM."
	if calls[0].To != phone || calls[0].Body != want {
		t.Errorf("unexpected sms: %+v", calls[0])
	}
}

func TestSMSNotifier_Confirmed(t *testing.T) {
	sms := &notification.MockSMSSender{}
	n := newSMSNotifier(notification.NewManager(sms, nil), telemetry.NewProvider(), zerolog.Nop())

	phone := "+15550002"
	n.Confirmed(context.Background(), scheduling.Appointment{
		ID:          "a",
		PatientName: "Ada",
		PhoneNumber: &phone,
		StartTime:   time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
	})
	n.Confirmed(context.Background(), scheduling.Appointment{ID: "b", PatientName: "Bob"})

	calls := sms.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 sms, got %d", len(calls))
	}
	if calls[0].Body != "Hello Ada, your appointment has been scheduled for March 2, 2026 at 02:30 PM." {
		t.Errorf("unexpected body: %q", calls[0].Body)
	}
}

func TestSMSNotifier_FailureDoesNotPanic(t *testing.T) {
	sms := &notification.MockSMSSender{ShouldFail: true, FailError: "down"}
	var buf bytes.Buffer
	metrics := telemetry.NewProvider()
	n := newSMSNotifier(notification.NewManager(sms, nil), metrics, zerolog.New(&buf))

	phone := "+1"
	n.Confirmed(context.Background(), scheduling.Appointment{ID: "a", PhoneNumber: &phone})

	if !strings.Contains(buf.String(), "sms notification failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
	if metrics.Counter(metricSMSFailed, notification.TemplateConfirmed) != 1 {
		t.Error("expected failure to be counted")
	}
}

func TestRegisterMetrics(t *testing.T) {
	store := scheduling.NewStore(scheduling.MustDefaultCatalog(), scheduling.DefaultBreakSettings())
	svc := scheduling.NewService(store, nil, 0, zerolog.Nop())
	mgr := notification.NewManager(&notification.MockSMSSender{}, nil)
	metrics := telemetry.NewProvider()
	registerMetrics(metrics, svc, mgr)

	svc.AddAppointment(context.Background(), scheduling.AddInput{
		PatientName: "Ada",
		ProcedureID: "checkup",
		StartTime:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	mgr.SendTemplate(context.Background(), notification.TemplateConfirmed, "+1", nil)

	e := echo.New()
	e.GET("/metrics", metrics.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"schedule_appointments 1",
		"schedule_break_minutes 5",
		`notifications_logged{status="sent"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in:\n%s", want, body)
		}
	}
}
