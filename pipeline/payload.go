package pipeline

import "encoding/json"

// ParseCreate validates a create-pipeline request body.
func ParseCreate(body []byte) (CreateInput, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return CreateInput{}, err
	}

	var in CreateInput
	if in.Name, err = obj.requiredString("name"); err != nil {
		return CreateInput{}, err
	}
	if in.Description, err = obj.optionalString("description"); err != nil {
		return CreateInput{}, err
	}
	raw, ok := obj["steps"]
	if !ok || isJSONNull(raw) {
		return CreateInput{}, invalid("steps", "is required")
	}
	if in.Steps, err = parseSteps(raw); err != nil {
		return CreateInput{}, err
	}
	if obj.has("schedule") && !isJSONNull(obj["schedule"]) {
		s, err := parseSchedule(obj)
		if err != nil {
			return CreateInput{}, err
		}
		in.Schedule = &s
	}
	if obj.has("defaultSource") && !isJSONNull(obj["defaultSource"]) {
		ds, err := parseDefaultSource(obj)
		if err != nil {
			return CreateInput{}, err
		}
		in.DefaultSource = &ds
	}
	return in, nil
}

// ParseUpdate validates a partial-update request body. Keys that are absent
// keep their current value; null clears optional fields. A body without any
// recognized field is rejected.
func ParseUpdate(body []byte) (Patch, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return Patch{}, err
	}

	var (
		p          Patch
		recognized bool
	)
	if raw, ok := obj["name"]; ok {
		recognized = true
		if isJSONNull(raw) {
			return Patch{}, invalid("name", "cannot be cleared")
		}
		name, err := obj.requiredString("name")
		if err != nil {
			return Patch{}, err
		}
		p.Name = Set(name)
	}
	if raw, ok := obj["description"]; ok {
		recognized = true
		desc, err := obj.optionalString("description")
		if err != nil {
			return Patch{}, err
		}
		if isJSONNull(raw) || desc == "" {
			p.Description = Clear[string]()
		} else {
			p.Description = Set(desc)
		}
	}
	if raw, ok := obj["steps"]; ok {
		recognized = true
		if isJSONNull(raw) {
			return Patch{}, invalid("steps", "cannot be cleared")
		}
		steps, err := parseSteps(raw)
		if err != nil {
			return Patch{}, err
		}
		p.Steps = Set(steps)
	}
	if raw, ok := obj["schedule"]; ok {
		recognized = true
		if isJSONNull(raw) {
			p.Schedule = Clear[Schedule]()
		} else {
			s, err := parseSchedule(obj)
			if err != nil {
				return Patch{}, err
			}
			p.Schedule = Set(s)
		}
	}
	if raw, ok := obj["defaultSource"]; ok {
		recognized = true
		if isJSONNull(raw) {
			p.DefaultSource = Clear[DefaultSource]()
		} else {
			ds, err := parseDefaultSource(obj)
			if err != nil {
				return Patch{}, err
			}
			p.DefaultSource = Set(ds)
		}
	}
	if raw, ok := obj["rotateSecret"]; ok {
		recognized = true
		if !isJSONNull(raw) {
			var rotate bool
			if err := json.Unmarshal(raw, &rotate); err != nil {
				return Patch{}, invalid("rotateSecret", "must be a boolean")
			}
			p.RotateSecret = rotate
		}
	}
	if !recognized {
		return Patch{}, invalid("", "no updatable fields supplied")
	}
	return p, nil
}

// ParseRun validates a run request body. When the body carries neither
// content nor a source and defaults names a url source, that source is
// substituted before the content check.
func ParseRun(body []byte, defaults *DefaultSource) (RunInput, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return RunInput{}, err
	}

	var in RunInput
	if in.Content, err = obj.optionalString("content"); err != nil {
		return RunInput{}, err
	}
	if in.Title, err = obj.optionalString("title"); err != nil {
		return RunInput{}, err
	}
	if in.Summary, err = obj.optionalString("summary"); err != nil {
		return RunInput{}, err
	}
	if obj.has("source") && !isJSONNull(obj["source"]) {
		if in.Source, err = parseSource(obj); err != nil {
			return RunInput{}, err
		}
	}

	if in.Content == "" && in.Source == nil && defaults != nil && defaults.Kind == DefaultSourceURL {
		in.Source = &Source{Type: SourceURL, Identifier: defaults.Value}
	}
	if in.Content == "" && in.Source == nil {
		return RunInput{}, invalid("content", "either content or source is required")
	}
	return in, nil
}
