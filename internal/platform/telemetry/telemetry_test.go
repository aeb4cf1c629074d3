package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 3, 3, 7, 20} {
		h.Observe(v)
	}
	cum, count, sum := h.snapshot()
	want := []int64{1, 3, 4}
	for i := range want {
		if cum[i] != want[i] {
			t.Errorf("bucket %d: got %d, want %d", i, cum[i], want[i])
		}
	}
	if count != 5 || sum != 33.5 {
		t.Errorf("count=%d sum=%g", count, sum)
	}
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	p := NewProvider()
	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/api/v1/appointments/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})
	e.GET("/metrics", p.Handler())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/appointments/a1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	want := `http_server_request_duration_seconds_count{method="GET",route="/api/v1/appointments/:id",status_code="404"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in:\n%s", want, body)
	}
	if !strings.Contains(body, "# TYPE http_server_active_requests gauge") {
		t.Error("expected active requests gauge")
	}
}

func TestCountersAndGauges(t *testing.T) {
	p := NewProvider()
	p.DescribeCounter("sms_sent_total", "SMS messages sent.", "template")
	p.Inc("sms_sent_total", "appointment-confirmed")
	p.Inc("sms_sent_total", "appointment-confirmed")
	p.Inc("sms_sent_total", "appointment-rescheduled")
	p.GaugeFunc("schedule_appointments", "Appointments in the schedule.", "", func() map[string]int64 {
		return map[string]int64{"": 3}
	})

	if got := p.Counter("sms_sent_total", "appointment-confirmed"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}

	out := p.render()
	for _, want := range []string{
		"# HELP sms_sent_total SMS messages sent.",
		`sms_sent_total{template="appointment-confirmed"} 2`,
		`sms_sent_total{template="appointment-rescheduled"} 1`,
		"schedule_appointments 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestUndescribedCounterUsesDefaultLabel(t *testing.T) {
	p := NewProvider()
	p.Inc("events_total", "x")
	if out := p.render(); !strings.Contains(out, `events_total{kind="x"} 1`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestConcurrentInc(t *testing.T) {
	p := NewProvider()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Inc("c", "")
			p.histogramFor(LabelsKey("GET", "/", "200")).Observe(0.01)
		}()
	}
	wg.Wait()
	if got := p.Counter("c", ""); got != 50 {
		t.Errorf("expected 50, got %d", got)
	}
}
