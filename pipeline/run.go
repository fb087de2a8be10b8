package pipeline

import "time"

// SourceType names where run content comes from.
type SourceType string

const (
	SourceImport SourceType = "import"
	SourceURL    SourceType = "url"
	SourceManual SourceType = "manual"
)

// Source describes the origin of a run's content.
type Source struct {
	Type       SourceType `json:"type"`
	Identifier string     `json:"identifier"`
}

// RunInput is a validated request to execute a pipeline.
type RunInput struct {
	PipelineID string  `json:"pipelineId"`
	Content    string  `json:"content,omitempty"`
	Title      string  `json:"title,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	Source     *Source `json:"source,omitempty"`
}

// QueueInstruction routes an artifact to a downstream voice provider.
type QueueInstruction struct {
	Provider        string `json:"provider"`
	VoicePreference string `json:"voicePreference"`
	VoiceID         string `json:"voiceId,omitempty"`
}

// Artifact is the result of a successful run.
type Artifact struct {
	PipelineID  string            `json:"pipelineId"`
	Title       string            `json:"title,omitempty"`
	Segments    []string          `json:"segments"`
	Queue       *QueueInstruction `json:"queue,omitempty"`
	Warnings    []string          `json:"warnings"`
	CompletedAt time.Time         `json:"completedAt"`
}
