package pipeline

type fieldState uint8

const (
	fieldKeep fieldState = iota
	fieldSet
	fieldClear
)

// Field is a tri-state patch value: absent (keep the current value),
// explicitly cleared, or set to a new value. The zero value is absent.
type Field[T any] struct {
	state fieldState
	value T
}

// Set returns a field carrying v.
func Set[T any](v T) Field[T] { return Field[T]{state: fieldSet, value: v} }

// Clear returns an explicitly cleared field.
func Clear[T any]() Field[T] { return Field[T]{state: fieldClear} }

func (f Field[T]) IsKeep() bool  { return f.state == fieldKeep }
func (f Field[T]) IsSet() bool   { return f.state == fieldSet }
func (f Field[T]) IsClear() bool { return f.state == fieldClear }

// Value returns the carried value and whether the field is set.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.state == fieldSet
}

// Patch is a partial update of a Definition.
type Patch struct {
	Name          Field[string]
	Description   Field[string]
	Steps         Field[[]Step]
	Schedule      Field[Schedule]
	DefaultSource Field[DefaultSource]
	RotateSecret  bool
}

// Validate rejects clears of required fields and invalid replacement values.
func (p Patch) Validate() error {
	if p.Name.IsClear() {
		return invalid("name", "cannot be cleared")
	}
	if v, ok := p.Name.Value(); ok && isBlank(v) {
		return invalid("name", "must not be empty")
	}
	if p.Steps.IsClear() {
		return invalid("steps", "cannot be cleared")
	}
	if v, ok := p.Steps.Value(); ok {
		if _, err := normalizeSteps(v); err != nil {
			return err
		}
	}
	if v, ok := p.Schedule.Value(); ok {
		if err := validateSchedule(v); err != nil {
			return err
		}
	}
	if v, ok := p.DefaultSource.Value(); ok {
		if err := validateDefaultSource(v); err != nil {
			return err
		}
	}
	return nil
}
