package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

type object map[string]json.RawMessage

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }

// decodeObject parses body as a JSON object. An empty body decodes to an
// empty object.
func decodeObject(body []byte) (object, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return object{}, nil
	}
	if trimmed[0] != '{' {
		return nil, invalid("", "request body must be a JSON object")
	}
	var obj object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, invalid("", "request body is not valid JSON")
	}
	return obj, nil
}

func (o object) has(key string) bool {
	_, ok := o[key]
	return ok
}

// optionalString returns the trimmed string at key. Absent, null and blank
// values all yield "".
func (o object) optionalString(key string) (string, error) {
	raw, ok := o[key]
	if !ok || isJSONNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid(key, "must be a string")
	}
	return strings.TrimSpace(s), nil
}

func (o object) requiredString(key string) (string, error) {
	s, err := o.optionalString(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", invalid(key, "is required")
	}
	return s, nil
}

func (o object) object(key string) (object, error) {
	raw := o[key]
	if !isJSONObject(raw) {
		return nil, invalid(key, "must be an object")
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalid(key, "must be an object")
	}
	return obj, nil
}

func parseSteps(raw json.RawMessage) ([]Step, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, invalid("steps", "must be an array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, invalid("steps", "must be an array")
	}
	if len(items) == 0 {
		return nil, invalid("steps", "at least one step is required")
	}

	steps := make([]Step, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("steps[%d]", i)
		obj, err := decodeObject(item)
		if err != nil {
			return nil, invalid(field, "must be an object")
		}
		kind, err := obj.requiredString("kind")
		if err != nil {
			return nil, invalid(field+".kind", "is required")
		}
		if !Kind(kind).Valid() {
			return nil, invalid(field+".kind", "unknown step kind %q, expected one of %v", kind, Kinds())
		}
		id, err := obj.optionalString("id")
		if err != nil {
			return nil, invalid(field+".id", "must be a string")
		}
		label, err := obj.optionalString("label")
		if err != nil {
			return nil, invalid(field+".label", "must be a string")
		}
		opts, err := decodeOptions(Kind(kind), obj["options"])
		if err != nil {
			return nil, invalid(field+".options", "%s", err.Error())
		}
		steps = append(steps, Step{ID: id, Label: label, Options: opts})
	}
	if err := checkStepIDs(steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func parseSchedule(o object) (Schedule, error) {
	sched, err := o.object("schedule")
	if err != nil {
		return Schedule{}, err
	}
	cron, err := sched.requiredString("cron")
	if err != nil {
		return Schedule{}, invalid("schedule.cron", "is required")
	}
	desc, err := sched.optionalString("description")
	if err != nil {
		return Schedule{}, invalid("schedule.description", "must be a string")
	}
	return Schedule{Cron: cron, Description: desc}, nil
}

func parseDefaultSource(o object) (DefaultSource, error) {
	src, err := o.object("defaultSource")
	if err != nil {
		return DefaultSource{}, err
	}
	kind, err := src.optionalString("kind")
	if err != nil {
		return DefaultSource{}, invalid("defaultSource.kind", "must be a string")
	}
	if kind == "" {
		kind = DefaultSourceURL
	}
	value, err := src.requiredString("value")
	if err != nil {
		return DefaultSource{}, invalid("defaultSource.value", "is required")
	}
	ds := DefaultSource{Kind: kind, Value: value}
	if err := validateDefaultSource(ds); err != nil {
		return DefaultSource{}, err
	}
	return ds, nil
}

func parseSource(o object) (*Source, error) {
	src, err := o.object("source")
	if err != nil {
		return nil, err
	}
	typ, err := src.requiredString("type")
	if err != nil {
		return nil, invalid("source.type", "is required")
	}
	ident, err := src.optionalString("identifier")
	if err != nil {
		return nil, invalid("source.identifier", "must be a string")
	}

	switch SourceType(typ) {
	case SourceURL:
		if ident == "" {
			if ident, err = src.optionalString("url"); err != nil {
				return nil, invalid("source.url", "must be a string")
			}
		}
		if ident == "" {
			return nil, invalid("source.identifier", "a url is required")
		}
		if err := validateHTTPURL(ident); err != nil {
			return nil, invalid("source.identifier", "%s", err.Error())
		}
	case SourceImport:
		if ident == "" {
			return nil, invalid("source.identifier", "is required")
		}
	case SourceManual:
	default:
		return nil, invalid("source.type", "unknown source type %q", typ)
	}
	return &Source{Type: SourceType(typ), Identifier: ident}, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return nil
}
