// Package engine executes pipeline definitions against run input, producing
// artifacts of transformed text segments.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/contentflow/metrics"
	"github.com/GoCodeAlone/contentflow/observability/tracing"
	"github.com/GoCodeAlone/contentflow/pipeline"
)

// Engine runs pipeline steps in order. It holds no per-run state and is safe
// for concurrent use.
type Engine struct {
	text    TextService
	fetcher Fetcher
	tracer  *tracing.PipelineTracer
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTextService sets the backend used by translate, tone and abstractive
// summarise steps.
func WithTextService(s TextService) Option { return func(e *Engine) { e.text = s } }

// WithFetcher sets the fetcher used to resolve url sources.
func WithFetcher(f Fetcher) Option { return func(e *Engine) { e.fetcher = f } }

// WithTracer sets the span factory.
func WithTracer(t *tracing.PipelineTracer) Option { return func(e *Engine) { e.tracer = t } }

// WithMetrics sets the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option { return func(e *Engine) { e.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source used for CompletedAt.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracer == nil {
		e.tracer = tracing.NewPipelineTracer(nil)
	}
	return e
}

// Ready reports whether a text service and a fetcher are both configured.
func (e *Engine) Ready() bool { return e.text != nil && e.fetcher != nil }

// state is the working representation threaded through the steps. Before a
// chunk step the content lives in text; afterwards in segments.
type state struct {
	text     string
	segments []string
	chunked  bool
	summary  string
	queue    *pipeline.QueueInstruction
	warnings []string
}

func (s *state) warn(msg string) {
	for _, w := range s.warnings {
		if w == msg {
			return
		}
	}
	s.warnings = append(s.warnings, msg)
}

// mapText applies fn to the text, or to every segment once chunked.
func (s *state) mapText(fn func(string) (string, error)) error {
	if !s.chunked {
		out, err := fn(s.text)
		if err != nil {
			return err
		}
		s.text = out
		return nil
	}
	for i, seg := range s.segments {
		out, err := fn(seg)
		if err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
		s.segments[i] = out
	}
	return nil
}

// Run executes def's steps against in. It never returns a partial artifact:
// any step failure aborts the run with a *StepError.
func (e *Engine) Run(ctx context.Context, def *pipeline.Definition, in pipeline.RunInput) (*pipeline.Artifact, error) {
	if err := e.preflight(def, in); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.StartRun(ctx, def.ID, len(def.Steps))
	defer span.End()

	content, title, err := e.resolveContent(ctx, in)
	if err != nil {
		e.tracer.RecordError(span, err)
		return nil, err
	}

	st := &state{text: content, summary: in.Summary}
	for i, step := range def.Steps {
		if err := e.runStep(ctx, def.ID, i, step, st); err != nil {
			e.tracer.RecordError(span, err)
			return nil, err
		}
	}

	segments := st.segments
	if !st.chunked {
		segments = nil
		if strings.TrimSpace(st.text) != "" {
			segments = []string{st.text}
		}
	}
	segments = compact(segments)
	if len(segments) == 0 {
		st.warn("no content remained after processing")
	}

	e.tracer.SetSuccess(span)
	warnings := st.warnings
	if warnings == nil {
		warnings = []string{}
	}
	return &pipeline.Artifact{
		PipelineID:  def.ID,
		Title:       title,
		Segments:    segments,
		Queue:       st.queue,
		Warnings:    warnings,
		CompletedAt: e.now().UTC().Truncate(time.Millisecond),
	}, nil
}

// preflight fails fast when a step or the content source needs a
// collaborator this engine lacks.
func (e *Engine) preflight(def *pipeline.Definition, in pipeline.RunInput) error {
	for _, step := range def.Steps {
		switch step.Kind() {
		case pipeline.KindTranslate, pipeline.KindTone:
			if e.text == nil {
				return notConfigured(fmt.Sprintf("%s step requires a text service", step.Kind()))
			}
		}
	}
	if in.Content == "" && in.Source != nil && in.Source.Type == pipeline.SourceURL && e.fetcher == nil {
		return notConfigured("url source requires a fetcher")
	}
	return nil
}

func (e *Engine) resolveContent(ctx context.Context, in pipeline.RunInput) (string, string, error) {
	if in.Content != "" {
		return in.Content, in.Title, nil
	}
	if in.Source == nil {
		return "", "", pipeline.NewValidationError("content", "either content or source is required")
	}
	if in.Source.Type != pipeline.SourceURL {
		return "", "", pipeline.NewValidationError("content", "content is required for %s sources", in.Source.Type)
	}

	doc, err := e.fetcher.Fetch(ctx, in.Source.Identifier)
	if err != nil {
		e.logger.Warn("Source fetch failed", "url", in.Source.Identifier, "error", err)
		return "", "", fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	title := in.Title
	if title == "" {
		title = doc.Title
	}
	return doc.Text, title, nil
}

func (e *Engine) runStep(ctx context.Context, pipelineID string, index int, step pipeline.Step, st *state) error {
	kind := step.Kind()
	ctx, span := e.tracer.StartStep(ctx, index, string(kind), step.ID)
	defer span.End()

	log := e.logger.With("pipeline", pipelineID, "step", index, "kind", kind, "step_name", step.DisplayName())
	log.Debug("Step started", "step_id", step.ID)
	start := time.Now()

	err := e.apply(ctx, step, st)
	elapsed := time.Since(start)
	if err != nil {
		e.tracer.RecordError(span, err)
		e.metrics.RecordStep(string(kind), "failed", elapsed)
		log.Error("Step failed", "step_id", step.ID, "error", err)
		return &StepError{Index: index, StepID: step.ID, Kind: kind, Err: err}
	}
	e.tracer.SetSuccess(span)
	e.metrics.RecordStep(string(kind), "completed", elapsed)
	log.Debug("Step completed", "step_id", step.ID, "duration", elapsed)
	return nil
}

func (e *Engine) apply(ctx context.Context, step pipeline.Step, st *state) error {
	switch opts := step.Options.(type) {
	case pipeline.CleanOptions:
		return st.mapText(func(s string) (string, error) { return clean(s, opts), nil })
	case pipeline.SummariseOptions:
		return e.summarise(ctx, opts, st)
	case pipeline.TranslateOptions:
		return st.mapText(func(s string) (string, error) {
			return e.text.Translate(ctx, s, opts.TargetLanguage, opts.SourceLanguage)
		})
	case pipeline.ToneOptions:
		return st.mapText(func(s string) (string, error) {
			return e.text.AdjustTone(ctx, s, opts.Tone)
		})
	case pipeline.ChunkOptions:
		if !st.chunked {
			st.segments = chunk(st.text, opts)
			st.chunked = true
			st.text = ""
			return nil
		}
		var out []string
		for _, seg := range st.segments {
			out = append(out, chunk(seg, opts)...)
		}
		st.segments = out
		return nil
	case pipeline.QueueOptions:
		st.queue = &pipeline.QueueInstruction{
			Provider:        opts.Provider,
			VoicePreference: opts.VoicePreference,
			VoiceID:         opts.VoiceID,
		}
		return nil
	default:
		return fmt.Errorf("unsupported step kind %q", step.Kind())
	}
}

func compact(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
