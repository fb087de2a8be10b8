package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSourceURL is the only supported default source kind.
const DefaultSourceURL = "url"

// Schedule is descriptive metadata about when a pipeline is expected to run.
// Nothing in this module executes schedules.
type Schedule struct {
	Cron        string `json:"cron"`
	Description string `json:"description,omitempty"`
}

// DefaultSource is substituted for a run's source when the caller supplies
// neither content nor a source.
type DefaultSource struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// Definition is a stored, reusable pipeline.
type Definition struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Steps         []Step         `json:"steps"`
	Schedule      *Schedule      `json:"schedule,omitempty"`
	DefaultSource *DefaultSource `json:"defaultSource,omitempty"`
	WebhookSecret string         `json:"webhookSecret"`
	LastRunAt     *time.Time     `json:"lastRunAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Summary is the list view of a Definition. It omits the webhook secret and
// step options.
type Summary struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	StepKinds     []Kind         `json:"stepKinds"`
	Schedule      *Schedule      `json:"schedule,omitempty"`
	DefaultSource *DefaultSource `json:"defaultSource,omitempty"`
	LastRunAt     *time.Time     `json:"lastRunAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CreateInput is a validated request to create a pipeline.
type CreateInput struct {
	Name          string
	Description   string
	Steps         []Step
	Schedule      *Schedule
	DefaultSource *DefaultSource
}

// Validate checks the invariants every stored definition must satisfy.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", "must not be empty")
	}
	if _, err := normalizeSteps(in.Steps); err != nil {
		return err
	}
	if in.Schedule != nil {
		if err := validateSchedule(*in.Schedule); err != nil {
			return err
		}
	}
	if in.DefaultSource != nil {
		if err := validateDefaultSource(*in.DefaultSource); err != nil {
			return err
		}
	}
	return nil
}

// NewDefinition builds a new Definition from in, assigning the pipeline ID,
// missing step IDs and a fresh webhook secret. Every repository backend
// creates definitions through this function.
func NewDefinition(in CreateInput, now time.Time) (*Definition, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	steps, err := normalizeSteps(in.Steps)
	if err != nil {
		return nil, err
	}
	secret, err := NewWebhookSecret()
	if err != nil {
		return nil, err
	}
	now = stamp(now)
	def := &Definition{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		Steps:         assignStepIDs(steps),
		Schedule:      cloneSchedule(in.Schedule),
		DefaultSource: cloneDefaultSource(in.DefaultSource),
		WebhookSecret: secret,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return def, nil
}

// Apply applies p to d in place. Absent fields are left untouched, cleared
// fields are removed and RotateSecret replaces the webhook secret. Apply
// validates p first and leaves d unchanged on error.
func (d *Definition) Apply(p Patch, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}

	next := d.Clone()
	if v, ok := p.Name.Value(); ok {
		next.Name = strings.TrimSpace(v)
	}
	switch {
	case p.Description.IsClear():
		next.Description = ""
	case p.Description.IsSet():
		v, _ := p.Description.Value()
		next.Description = strings.TrimSpace(v)
	}
	if v, ok := p.Steps.Value(); ok {
		steps, err := normalizeSteps(v)
		if err != nil {
			return err
		}
		next.Steps = assignStepIDs(steps)
	}
	switch {
	case p.Schedule.IsClear():
		next.Schedule = nil
	case p.Schedule.IsSet():
		v, _ := p.Schedule.Value()
		next.Schedule = &v
	}
	switch {
	case p.DefaultSource.IsClear():
		next.DefaultSource = nil
	case p.DefaultSource.IsSet():
		v, _ := p.DefaultSource.Value()
		next.DefaultSource = &v
	}
	if p.RotateSecret {
		secret, err := NewWebhookSecret()
		if err != nil {
			return err
		}
		next.WebhookSecret = secret
	}
	next.UpdatedAt = stamp(now)

	*d = *next
	return nil
}

// Clone returns a deep copy of d.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Steps = cloneSteps(d.Steps)
	cp.Schedule = cloneSchedule(d.Schedule)
	cp.DefaultSource = cloneDefaultSource(d.DefaultSource)
	if d.LastRunAt != nil {
		t := *d.LastRunAt
		cp.LastRunAt = &t
	}
	return &cp
}

// Summary returns the list view of d.
func (d *Definition) Summary() Summary {
	kinds := make([]Kind, 0, len(d.Steps))
	for _, s := range d.Steps {
		kinds = append(kinds, s.Kind())
	}
	var lastRun *time.Time
	if d.LastRunAt != nil {
		t := *d.LastRunAt
		lastRun = &t
	}
	return Summary{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		StepKinds:     kinds,
		Schedule:      cloneSchedule(d.Schedule),
		DefaultSource: cloneDefaultSource(d.DefaultSource),
		LastRunAt:     lastRun,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// MarkRun records a successful run completion time.
func (d *Definition) MarkRun(completedAt time.Time) {
	t := stamp(completedAt)
	d.LastRunAt = &t
}

// NewWebhookSecret returns 32 random bytes, hex encoded.
func NewWebhookSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// stamp normalises timestamps to UTC millisecond precision so they survive
// every storage backend unchanged.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func assignStepIDs(steps []Step) []Step {
	out := cloneSteps(steps)
	for i := range out {
		if strings.TrimSpace(out[i].ID) == "" {
			out[i].ID = uuid.NewString()
		}
	}
	return out
}

// normalizeSteps returns a copy of steps with kind defaults applied. It
// rejects empty lists, repeated step ids and steps whose options fail their
// kind's checks.
func normalizeSteps(steps []Step) ([]Step, error) {
	if len(steps) == 0 {
		return nil, invalid("steps", "at least one step is required")
	}
	if err := checkStepIDs(steps); err != nil {
		return nil, err
	}
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s.Options == nil {
			return nil, invalid(fmt.Sprintf("steps[%d].options", i), "options are required")
		}
		opts, err := s.Options.normalize()
		if err != nil {
			return nil, invalid(fmt.Sprintf("steps[%d].options", i), "%s", err.Error())
		}
		out[i] = Step{
			ID:      strings.TrimSpace(s.ID),
			Label:   strings.TrimSpace(s.Label),
			Options: opts,
		}
	}
	return out, nil
}

// checkStepIDs rejects caller-supplied step ids that repeat within one
// pipeline. Blank ids are assigned later and never collide.
func checkStepIDs(steps []Step) error {
	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		if first, dup := seen[id]; dup {
			return invalid(fmt.Sprintf("steps[%d].id", i), "duplicates the id of steps[%d]", first)
		}
		seen[id] = i
	}
	return nil
}

func validateSchedule(s Schedule) error {
	if strings.TrimSpace(s.Cron) == "" {
		return invalid("schedule.cron", "must not be empty")
	}
	return nil
}

func validateDefaultSource(s DefaultSource) error {
	if s.Kind != DefaultSourceURL {
		return invalid("defaultSource.kind", "unsupported kind %q", s.Kind)
	}
	if err := validateHTTPURL(s.Value); err != nil {
		return invalid("defaultSource.value", "%s", err.Error())
	}
	return nil
}

func cloneSchedule(s *Schedule) *Schedule {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func cloneDefaultSource(s *DefaultSource) *DefaultSource {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
