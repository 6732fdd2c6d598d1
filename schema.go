package toolscope

import (
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// typeMappings holds the schemas registered with RegisterType, keyed by Go type.
var typeMappings = struct {
	sync.RWMutex
	m map[reflect.Type]*jsonschema.Schema
}{m: make(map[reflect.Type]*jsonschema.Schema)}

// RegisterType makes generated schemas describe values of sample's type as jsonType/format,
// e.g. RegisterType(uuid.UUID{}, "string", "uuid"). Pointer fields of that type use the same
// mapping. Register at startup, before the first NewTool or NewExtractor. Panics on a nil
// sample or an empty jsonType.
func RegisterType(sample any, jsonType, format string) {
	if sample == nil {
		panic("toolscope: RegisterType sample must not be nil")
	}
	if jsonType == "" {
		panic("toolscope: RegisterType jsonType must not be empty")
	}
	typeMappings.Lock()
	defer typeMappings.Unlock()
	typeMappings.m[reflect.TypeOf(sample)] = &jsonschema.Schema{Type: jsonType, Format: format}
}

func registeredTypes() map[reflect.Type]*jsonschema.Schema {
	typeMappings.RLock()
	defer typeMappings.RUnlock()
	return maps.Clone(typeMappings.m)
}

var errNilSchema = errors.New("schema reflection returned nil")

// reflectSchema builds the argument schema of T as a plain map (what LLM providers expect)
// together with its compiled validator.
func reflectSchema[T any](strict bool) (map[string]any, *jsonschema.Resolved, error) {
	s, err := jsonschema.For[T](&jsonschema.ForOptions{TypeSchemas: registeredTypes()})
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, errNilSchema
	}
	doc, err := toSchemaMap(s)
	if err != nil {
		return nil, nil, err
	}
	applyFieldTags(doc, reflect.TypeFor[T]())
	resolved, err := finishSchema(doc, strict)
	if err != nil {
		return nil, nil, err
	}
	return doc, resolved, nil
}

// finishSchema applies strict mode, drops ids and compiles doc in place.
func finishSchema(doc map[string]any, strict bool) (*jsonschema.Resolved, error) {
	if strict {
		closeObjects(doc)
	}
	forEachNode(doc, func(n map[string]any) {
		delete(n, "$id")
		// a property named "id" is a map; only the legacy keyword is a string
		if _, ok := n["id"].(string); ok {
			delete(n, "id")
		}
	})
	return resolveSchema(doc)
}

// toSchemaMap round-trips v through JSON; it is also used to deep-copy caller schemas.
func toSchemaMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// applyFieldTags copies `description:"..."` and `enum:"a,b"` struct tags onto the matching
// top-level properties (matched by json name).
func applyFieldTags(doc map[string]any, typ reflect.Type) {
	if typ == nil {
		return
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	props, _ := doc["properties"].(map[string]any)
	if typ.Kind() != reflect.Struct || len(props) == 0 {
		return
	}
	for _, field := range reflect.VisibleFields(typ) {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		if desc := field.Tag.Get("description"); desc != "" {
			prop["description"] = desc
		}
		if raw := field.Tag.Get("enum"); raw != "" {
			var values []any
			for v := range strings.SplitSeq(raw, ",") {
				values = append(values, strings.TrimSpace(v))
			}
			prop["enum"] = values
		}
	}
}

// forEachNode calls visit for doc and every object nested in it, arrays included.
func forEachNode(doc map[string]any, visit func(map[string]any)) {
	if doc == nil {
		return
	}
	visit(doc)
	for _, v := range doc {
		switch child := v.(type) {
		case map[string]any:
			forEachNode(child, visit)
		case []any:
			for _, item := range child {
				if m, ok := item.(map[string]any); ok {
					forEachNode(m, visit)
				}
			}
		}
	}
}

// closeObjects forbids unknown keys and requires every declared property on every object
// (the shape OpenAI Structured Outputs accepts).
func closeObjects(doc map[string]any) {
	forEachNode(doc, func(n map[string]any) {
		props, ok := n["properties"].(map[string]any)
		if !ok {
			return
		}
		n["additionalProperties"] = false
		if len(props) == 0 {
			return
		}
		var required []any
		for _, k := range slices.Sorted(maps.Keys(props)) {
			required = append(required, k)
		}
		n["required"] = required
	})
}

// resolveSchema compiles doc without mutating it.
func resolveSchema(doc map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
}
