package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Kind identifies the transformation a Step performs.
type Kind string

const (
	KindClean     Kind = "clean"
	KindSummarise Kind = "summarise"
	KindTranslate Kind = "translate"
	KindTone      Kind = "tone"
	KindChunk     Kind = "chunk"
	KindQueue     Kind = "queue"
)

var kinds = []Kind{KindClean, KindSummarise, KindTranslate, KindTone, KindChunk, KindQueue}

// Kinds returns every supported step kind in declaration order.
func Kinds() []Kind { return slices.Clone(kinds) }

// Valid reports whether k is one of the supported step kinds.
func (k Kind) Valid() bool { return slices.Contains(kinds, k) }

// Step is one configured transformation unit within a pipeline.
// The step kind is carried by the concrete Options type.
type Step struct {
	ID      string
	Label   string
	Options Options
}

// Kind returns the step's kind, or "" when no options are attached.
func (s Step) Kind() Kind {
	if s.Options == nil {
		return ""
	}
	return s.Options.Kind()
}

// DisplayName returns the label when set, otherwise the kind.
func (s Step) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return string(s.Kind())
}

type stepJSON struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Label   string          `json:"label,omitempty"`
	Options json.RawMessage `json:"options"`
}

// MarshalJSON encodes the step with its options nested under "options".
func (s Step) MarshalJSON() ([]byte, error) {
	if s.Options == nil {
		return nil, fmt.Errorf("step %q: options are required", s.ID)
	}
	opts, err := json.Marshal(s.Options)
	if err != nil {
		return nil, fmt.Errorf("step %q: encode options: %w", s.ID, err)
	}
	return json.Marshal(stepJSON{
		ID:      s.ID,
		Kind:    s.Options.Kind(),
		Label:   s.Label,
		Options: opts,
	})
}

// UnmarshalJSON decodes a stored step, selecting the options type by kind.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	opts, err := decodeOptions(raw.Kind, raw.Options)
	if err != nil {
		return err
	}
	*s = Step{ID: raw.ID, Label: raw.Label, Options: opts}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// cloneSteps returns a copy of steps. Options are value types, so copying the
// slice is a deep clone.
func cloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
