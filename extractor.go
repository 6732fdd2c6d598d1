package toolscope

import (
	"encoding/json"
	"maps"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validatable is implemented by argument structs with rules a JSON Schema cannot express
// (cross-field checks, lookups). Validate runs after schema validation and decoding.
type Validatable interface {
	Validate() error
}

// Extractor turns raw tool arguments into a validated T: JSON Schema first, then
// Validatable. NewTool uses one per tool; custom engines can use it directly.
type Extractor[T any] struct {
	schema    map[string]any
	validator *jsonschema.Resolved
}

// NewExtractor reflects the schema of T. strict closes every object and requires every
// property (see WithStrict).
func NewExtractor[T any](strict bool) (*Extractor[T], error) {
	schema, validator, err := reflectSchema[T](strict)
	if err != nil {
		return nil, err
	}
	return &Extractor[T]{schema: schema, validator: validator}, nil
}

// Schema returns a shallow copy of the schema; nested maps are shared and must not be mutated.
func (e *Extractor[T]) Schema() map[string]any {
	return maps.Clone(e.schema)
}

// FromArgs validates dispatch arguments and decodes them into T.
func (e *Extractor[T]) FromArgs(args Args) (T, error) {
	raw, err := encodeArgs(args)
	if err != nil {
		var zero T
		return zero, err
	}
	return e.ParseAndValidate(raw)
}

// ParseAndValidate decodes a JSON argument document into T. Every failure is a *ClientError
// so the caller can hand the message back to the model.
func (e *Extractor[T]) ParseAndValidate(raw []byte) (T, error) {
	var zero T
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := checkSchema(e.validator, doc); err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, wrapJSONParseError(err)
	}
	if err := runValidatable(&out); err != nil {
		if IsClientError(err) {
			return zero, err
		}
		return zero, &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return out, nil
}

// runValidatable calls Validate at most once: on the value when T implements Validatable,
// otherwise on *T for pointer receivers.
func runValidatable[T any](v *T) error {
	if val, ok := any(*v).(Validatable); ok {
		return val.Validate()
	}
	if val, ok := any(v).(Validatable); ok {
		return val.Validate()
	}
	return nil
}

type schemaValidator interface {
	Validate(instance any) error
}

func checkSchema(v schemaValidator, doc any) error {
	if err := v.Validate(doc); err != nil {
		return &ClientError{Reason: err.Error(), Err: ErrValidation}
	}
	return nil
}

var _ schemaValidator = (*jsonschema.Resolved)(nil)
