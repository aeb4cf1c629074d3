package scheduling

import (
	"fmt"
	"strings"
)

// Catalog resolves procedure ids. Implementations are read-only once built.
type Catalog interface {
	Lookup(id string) (Procedure, bool)
	List() []Procedure
}

// DefaultProcedures is the built-in catalog.
func DefaultProcedures() []Procedure {
	return []Procedure{
		{ID: "checkup", Name: "Regular Checkup", DurationMinutes: 15},
		{ID: "consultation", Name: "Initial Consultation", DurationMinutes: 30},
		{ID: "followup", Name: "Follow-up Visit", DurationMinutes: 20},
		{ID: "physical", Name: "Complete Physical", DurationMinutes: 45},
		{ID: "urgent", Name: "Urgent Care", DurationMinutes: 25},
	}
}

// StaticCatalog is an immutable in-memory Catalog that preserves the order
// entries were supplied in.
type StaticCatalog struct {
	order []Procedure
	byID  map[string]Procedure
}

// NewStaticCatalog validates procs and builds a catalog from them. Ids must be
// unique and non-empty, and durations positive.
func NewStaticCatalog(procs []Procedure) (*StaticCatalog, error) {
	c := &StaticCatalog{
		order: make([]Procedure, 0, len(procs)),
		byID:  make(map[string]Procedure, len(procs)),
	}
	for _, p := range procs {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, &ValidationError{Field: "procedure.id", Message: "is required"}
		}
		if p.DurationMinutes <= 0 {
			return nil, &ValidationError{Field: "procedure.duration_minutes", Message: fmt.Sprintf("must be positive for %q", p.ID)}
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, &ValidationError{Field: "procedure.id", Message: fmt.Sprintf("duplicate id %q", p.ID)}
		}
		c.byID[p.ID] = p
		c.order = append(c.order, p)
	}
	return c, nil
}

// MustDefaultCatalog returns the built-in catalog.
func MustDefaultCatalog() *StaticCatalog {
	c, err := NewStaticCatalog(DefaultProcedures())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *StaticCatalog) Lookup(id string) (Procedure, bool) {
	p, ok := c.byID[id]
	return p, ok
}

func (c *StaticCatalog) List() []Procedure {
	out := make([]Procedure, len(c.order))
	copy(out, c.order)
	return out
}
