// Package notification delivers patient SMS messages about schedule changes.
// Delivery is mocked: senders log or record messages instead of contacting a
// carrier. Sent messages are kept in memory and exposed over HTTP.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/pkg/pagination"
)

// Status values recorded on a Notification.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is a single outbound SMS.
type Notification struct {
	ID         string            `json:"id"`
	Recipient  string            `json:"recipient"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// SMSSender delivers one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LogSMSSender writes messages to the log instead of a carrier.
type LogSMSSender struct {
	From   string
	Logger zerolog.Logger
}

func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	if to == "" {
		return errors.New("recipient is required")
	}
	s.Logger.Info().Str("from", s.From).Str("to", to).Str("body", body).Msg("sms delivered (mock)")
	return nil
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender records calls for tests.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Built-in template ids.
const (
	TemplateRescheduled = "appointment-rescheduled"
	TemplateConfirmed   = "appointment-confirmed"
	TemplateCancelled   = "appointment-cancelled"
)

// TemplateEngine renders {{key}} placeholders in registered message bodies.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: map[string]string{
			TemplateRescheduled: "Hello {{patient_name}}, your appointment on {{date}} has been rescheduled from {{old_time}} to {{new_time}}.",
			TemplateConfirmed:   "Hello {{patient_name}}, your appointment has been scheduled for {{date}} at {{time}}.",
			TemplateCancelled:   "Hello {{patient_name}}, your appointment on {{date}} at {{time}} has been cancelled.",
		},
	}
}

// RegisterTemplate adds or replaces a template body.
func (e *TemplateEngine) RegisterTemplate(id, body string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[id] = body
}

// Render substitutes data into the template. Placeholders without a value are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	body, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Manager sends messages and keeps a log of every attempt.
type Manager struct {
	sender    SMSSender
	templates *TemplateEngine
	now       func() time.Time

	mu  sync.RWMutex
	log map[string]*Notification
}

func NewManager(sender SMSSender, tpl *TemplateEngine) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		sender:    sender,
		templates: tpl,
		now:       time.Now,
		log:       make(map[string]*Notification),
	}
}

// SendTemplate renders templateID and delivers it to recipient. The attempt is
// logged whether or not delivery succeeds.
func (m *Manager) SendTemplate(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error) {
	body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		ID:         uuid.New().String(),
		Recipient:  recipient,
		Body:       body,
		TemplateID: templateID,
		CreatedAt:  m.now().UTC(),
		Metadata:   data,
	}

	if sendErr := m.sender.SendSMS(ctx, recipient, body); sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
		err = fmt.Errorf("send sms to %s: %w", recipient, sendErr)
	} else {
		n.Status = StatusSent
		sentAt := m.now().UTC()
		n.SentAt = &sentAt
	}

	m.mu.Lock()
	m.log[n.ID] = n
	m.mu.Unlock()
	return n, err
}

func (m *Manager) Get(id string) (*Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.log[id]
	return n, ok
}

// List returns logged notifications, newest first. An empty recipient matches
// everyone.
func (m *Manager) List(recipient string, limit int) []*Notification {
	m.mu.RLock()
	out := make([]*Notification, 0, len(m.log))
	for _, n := range m.log {
		if recipient == "" || n.Recipient == recipient {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats counts notifications by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.log {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
}

// HandleList handles GET /notifications?recipient=&limit=&offset=.
func (h *Handler) HandleList(c echo.Context) error {
	all := h.manager.List(c.QueryParam("recipient"), 0)
	return c.JSON(http.StatusOK, pagination.Page(all, pagination.FromContext(c)))
}

// HandleGet handles GET /notifications/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	n, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

// HandleStats handles GET /notifications/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}
