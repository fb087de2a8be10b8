package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultChunkCharacters is the chunk size used when a chunk step does
	// not specify maxCharacters.
	DefaultChunkCharacters = 1600
	// MaxChunkCharacters bounds maxCharacters for chunk steps.
	MaxChunkCharacters = 20000
	// DefaultSummarySentences is the sentence budget for summarise steps.
	DefaultSummarySentences = 3
	// DefaultVoicePreference is used by queue steps without a preference.
	DefaultVoicePreference = "default"
)

// Options is the kind-specific configuration of a Step. The interface is
// sealed: only the option types in this package implement it.
type Options interface {
	Kind() Kind
	normalize() (Options, error)
}

// CleanOptions configures a clean step.
type CleanOptions struct {
	StripHTML           bool `json:"stripHtml"`
	NormalizeWhitespace bool `json:"normalizeWhitespace"`
	RemoveBullets       bool `json:"removeBullets"`
}

func (CleanOptions) Kind() Kind { return KindClean }

func (o CleanOptions) normalize() (Options, error) { return o, nil }

// SummaryMode selects how a summarise step condenses text.
type SummaryMode string

const (
	SummaryExtractive  SummaryMode = "extractive"
	SummaryAbstractive SummaryMode = "abstractive"
)

// SummariseOptions configures a summarise step.
type SummariseOptions struct {
	MaxSentences int         `json:"maxSentences"`
	Mode         SummaryMode `json:"mode"`
}

func (SummariseOptions) Kind() Kind { return KindSummarise }

func (o SummariseOptions) normalize() (Options, error) {
	if o.MaxSentences < 0 {
		return nil, fmt.Errorf("maxSentences must not be negative")
	}
	if o.MaxSentences == 0 {
		o.MaxSentences = DefaultSummarySentences
	}
	switch o.Mode {
	case "":
		o.Mode = SummaryExtractive
	case SummaryExtractive, SummaryAbstractive:
	default:
		return nil, fmt.Errorf("unknown summary mode %q", o.Mode)
	}
	return o, nil
}

// TranslateOptions configures a translate step.
type TranslateOptions struct {
	TargetLanguage string `json:"targetLanguage"`
	SourceLanguage string `json:"sourceLanguage,omitempty"`
}

func (TranslateOptions) Kind() Kind { return KindTranslate }

func (o TranslateOptions) normalize() (Options, error) {
	o.TargetLanguage = strings.TrimSpace(o.TargetLanguage)
	o.SourceLanguage = strings.TrimSpace(o.SourceLanguage)
	if o.TargetLanguage == "" {
		return nil, fmt.Errorf("targetLanguage is required")
	}
	return o, nil
}

// ToneOptions configures a tone step.
type ToneOptions struct {
	Tone string `json:"tone"`
}

func (ToneOptions) Kind() Kind { return KindTone }

func (o ToneOptions) normalize() (Options, error) {
	o.Tone = strings.TrimSpace(o.Tone)
	if o.Tone == "" {
		return nil, fmt.Errorf("tone is required")
	}
	return o, nil
}

// ChunkStrategy selects the unit a chunk step packs into segments.
type ChunkStrategy string

const (
	ChunkBySentence   ChunkStrategy = "sentence"
	ChunkByParagraph  ChunkStrategy = "paragraph"
	ChunkByCharacters ChunkStrategy = "characters"
)

// ChunkOptions configures a chunk step.
type ChunkOptions struct {
	MaxCharacters int           `json:"maxCharacters"`
	Strategy      ChunkStrategy `json:"strategy"`
}

func (ChunkOptions) Kind() Kind { return KindChunk }

func (o ChunkOptions) normalize() (Options, error) {
	if o.MaxCharacters == 0 {
		o.MaxCharacters = DefaultChunkCharacters
	}
	if o.MaxCharacters < 0 || o.MaxCharacters > MaxChunkCharacters {
		return nil, fmt.Errorf("maxCharacters must be between 1 and %d", MaxChunkCharacters)
	}
	switch o.Strategy {
	case "":
		o.Strategy = ChunkBySentence
	case ChunkBySentence, ChunkByParagraph, ChunkByCharacters:
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", o.Strategy)
	}
	return o, nil
}

// QueueOptions configures a queue step. Its fields are copied onto the
// artifact's queue instruction.
type QueueOptions struct {
	Provider        string `json:"provider"`
	VoicePreference string `json:"voicePreference"`
	VoiceID         string `json:"voiceId,omitempty"`
}

func (QueueOptions) Kind() Kind { return KindQueue }

func (o QueueOptions) normalize() (Options, error) {
	o.Provider = strings.TrimSpace(o.Provider)
	o.VoicePreference = strings.TrimSpace(o.VoicePreference)
	o.VoiceID = strings.TrimSpace(o.VoiceID)
	if o.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if o.VoicePreference == "" {
		o.VoicePreference = DefaultVoicePreference
	}
	return o, nil
}

// decodeOptions decodes raw into the options type for kind and applies
// kind-specific defaults and checks.
func decodeOptions(kind Kind, raw json.RawMessage) (Options, error) {
	if len(raw) == 0 || isJSONNull(raw) {
		return nil, fmt.Errorf("options are required")
	}
	if !isJSONObject(raw) {
		return nil, fmt.Errorf("options must be an object")
	}

	var (
		opts Options
		err  error
	)
	switch kind {
	case KindClean:
		var o CleanOptions
		err = json.Unmarshal(raw, &o)
		opts = o
	case KindSummarise:
		var o SummariseOptions
		err = json.Unmarshal(raw, &o)
		opts = o
	case KindTranslate:
		var o TranslateOptions
		err = json.Unmarshal(raw, &o)
		opts = o
	case KindTone:
		var o ToneOptions
		err = json.Unmarshal(raw, &o)
		opts = o
	case KindChunk:
		var o ChunkOptions
		err = json.Unmarshal(raw, &o)
		opts = o
	case KindQueue:
		var o QueueOptions
		err = json.Unmarshal(raw, &o)
		opts = o
	default:
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s options: %w", kind, err)
	}
	return opts.normalize()
}
