package pipeline

import (
	"errors"
	"strings"
	"testing"
)

const validCreate = `{
	"name": "  Morning digest ",
	"description": "",
	"steps": [
		{"kind": "clean", "options": {"stripHtml": true, "normalizeWhitespace": true}},
		{"kind": "chunk", "label": "split", "options": {"maxCharacters": 1600}},
		{"kind": "queue", "options": {"provider": "acme"}}
	],
	"schedule": {"cron": "0 7 * * *", "description": "daily"},
	"defaultSource": {"kind": "url", "value": "https://example.com/feed"}
}`

func TestParseCreate(t *testing.T) {
	in, err := ParseCreate([]byte(validCreate))
	if err != nil {
		t.Fatalf("ParseCreate: %v", err)
	}
	if in.Name != "Morning digest" {
		t.Errorf("expected trimmed name, got %q", in.Name)
	}
	if in.Description != "" {
		t.Errorf("expected empty description, got %q", in.Description)
	}
	if len(in.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(in.Steps))
	}
	chunk, ok := in.Steps[1].Options.(ChunkOptions)
	if !ok {
		t.Fatalf("expected ChunkOptions, got %T", in.Steps[1].Options)
	}
	if chunk.Strategy != ChunkBySentence {
		t.Errorf("expected default sentence strategy, got %q", chunk.Strategy)
	}
	if in.Steps[1].Label != "split" {
		t.Errorf("expected label 'split', got %q", in.Steps[1].Label)
	}
	queue := in.Steps[2].Options.(QueueOptions)
	if queue.VoicePreference != DefaultVoicePreference {
		t.Errorf("expected default voice preference, got %q", queue.VoicePreference)
	}
	if in.Schedule == nil || in.Schedule.Cron != "0 7 * * *" {
		t.Errorf("unexpected schedule %+v", in.Schedule)
	}
	if in.DefaultSource == nil || in.DefaultSource.Value != "https://example.com/feed" {
		t.Errorf("unexpected default source %+v", in.DefaultSource)
	}
}

func TestParseCreateRejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"array body", `[]`, ""},
		{"null body", `null`, ""},
		{"malformed", `{"name":`, ""},
		{"missing name", `{"steps":[{"kind":"clean","options":{}}]}`, "name"},
		{"blank name", `{"name":"   ","steps":[{"kind":"clean","options":{}}]}`, "name"},
		{"missing steps", `{"name":"x"}`, "steps"},
		{"empty steps", `{"name":"x","steps":[]}`, "steps"},
		{"steps not array", `{"name":"x","steps":{}}`, "steps"},
		{"unknown kind", `{"name":"x","steps":[{"kind":"dance","options":{}}]}`, "steps[0].kind"},
		{"duplicate step id", `{"name":"x","steps":[{"id":"a","kind":"clean","options":{}},{"id":"b","kind":"clean","options":{}},{"id":"a","kind":"chunk","options":{}}]}`, "steps[2].id"},
		{"missing options", `{"name":"x","steps":[{"kind":"clean"}]}`, "steps[0].options"},
		{"options not object", `{"name":"x","steps":[{"kind":"clean","options":[1]}]}`, "steps[0].options"},
		{"translate without target", `{"name":"x","steps":[{"kind":"translate","options":{}}]}`, "steps[0].options"},
		{"tone without tone", `{"name":"x","steps":[{"kind":"tone","options":{"tone":" "}}]}`, "steps[0].options"},
		{"queue without provider", `{"name":"x","steps":[{"kind":"queue","options":{}}]}`, "steps[0].options"},
		{"chunk too large", `{"name":"x","steps":[{"kind":"chunk","options":{"maxCharacters":20001}}]}`, "steps[0].options"},
		{"bad strategy", `{"name":"x","steps":[{"kind":"chunk","options":{"strategy":"words"}}]}`, "steps[0].options"},
		{"schedule without cron", `{"name":"x","steps":[{"kind":"clean","options":{}}],"schedule":{}}`, "schedule.cron"},
		{"default source not url", `{"name":"x","steps":[{"kind":"clean","options":{}}],"defaultSource":{"kind":"import","value":"a"}}`, "defaultSource.kind"},
		{"default source bad url", `{"name":"x","steps":[{"kind":"clean","options":{}}],"defaultSource":{"value":"ftp://x"}}`, "defaultSource.value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCreate([]byte(tt.body))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %q, got %q (%v)", tt.field, ve.Field, ve)
			}
		})
	}
}

func TestParseUpdate(t *testing.T) {
	p, err := ParseUpdate([]byte(`{"description": null, "schedule": {"cron": "@hourly"}, "rotateSecret": true}`))
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if !p.Name.IsKeep() || !p.Steps.IsKeep() || !p.DefaultSource.IsKeep() {
		t.Errorf("absent fields must be kept: %+v", p)
	}
	if !p.Description.IsClear() {
		t.Error("null description must clear")
	}
	if s, ok := p.Schedule.Value(); !ok || s.Cron != "@hourly" {
		t.Errorf("expected schedule set, got %+v", p.Schedule)
	}
	if !p.RotateSecret {
		t.Error("expected rotateSecret")
	}

	p, err = ParseUpdate([]byte(`{"defaultSource": null}`))
	if err != nil {
		t.Fatalf("ParseUpdate: %v", err)
	}
	if !p.DefaultSource.IsClear() {
		t.Error("null defaultSource must clear")
	}
}

func TestParseUpdateRejects(t *testing.T) {
	bodies := map[string]string{
		"empty object":      `{}`,
		"only unknown keys": `{"colour":"blue"}`,
		"null name":         `{"name":null}`,
		"blank name":        `{"name":" "}`,
		"null steps":        `{"steps":null}`,
		"empty steps":       `{"steps":[]}`,
		"rotate not bool":   `{"rotateSecret":"yes"}`,
		"not object":        `"name"`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseUpdate([]byte(body)); !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseRun(t *testing.T) {
	in, err := ParseRun([]byte(`{"content":"  Hello world. ","title":" T ","summary":""}`), nil)
	if err != nil {
		t.Fatalf("ParseRun: %v", err)
	}
	if in.Content != "Hello world." || in.Title != "T" || in.Summary != "" {
		t.Errorf("unexpected normalisation: %+v", in)
	}

	in, err = ParseRun([]byte(`{"source":{"type":"url","url":"https://example.com/a"}}`), nil)
	if err != nil {
		t.Fatalf("ParseRun url alias: %v", err)
	}
	if in.Source == nil || in.Source.Identifier != "https://example.com/a" {
		t.Errorf("expected url folded into identifier, got %+v", in.Source)
	}
}

func TestParseRunDefaultSource(t *testing.T) {
	defaults := &DefaultSource{Kind: DefaultSourceURL, Value: "https://example.com/feed"}

	for _, body := range []string{``, `{}`, `{"title":"t"}`} {
		in, err := ParseRun([]byte(body), defaults)
		if err != nil {
			t.Fatalf("ParseRun(%q): %v", body, err)
		}
		if in.Source == nil || in.Source.Type != SourceURL || in.Source.Identifier != defaults.Value {
			t.Fatalf("ParseRun(%q): expected default source, got %+v", body, in.Source)
		}
	}

	in, err := ParseRun([]byte(`{"content":"x"}`), defaults)
	if err != nil {
		t.Fatalf("ParseRun: %v", err)
	}
	if in.Source != nil {
		t.Errorf("default source must not override content, got %+v", in.Source)
	}
}

func TestParseRunRejects(t *testing.T) {
	tests := map[string]string{
		"nothing":            `{}`,
		"blank content":      `{"content":"   "}`,
		"unknown type":       `{"source":{"type":"ftp","identifier":"x"}}`,
		"url missing":        `{"source":{"type":"url"}}`,
		"url not absolute":   `{"source":{"type":"url","identifier":"/relative"}}`,
		"import without id":  `{"source":{"type":"import"}}`,
		"content not string": `{"content":42}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRun([]byte(body), nil)
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if strings.TrimSpace(err.Error()) == "" {
				t.Error("validation error must carry a message")
			}
		})
	}
}
