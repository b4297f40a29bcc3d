// Package logging provides a chainable structured-field builder for the
// logr.Logger every MAS-FRO component is constructed with. Components
// never import zap or zapr directly; only cmd/masfro wires the concrete
// backend.
package logging

import "time"

// Fields is a chainable set of structured key-values suitable for
// logr.Logger.Info(msg, fields.KeysAndValues()...).
type Fields map[string]interface{}

// NewFields returns an empty field set.
func NewFields() Fields {
	return Fields{}
}

// Component tags the emitting component, e.g. "hazard_fusion".
func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

// Operation tags the operation in progress, e.g. "batch_update_risks".
func (f Fields) Operation(op string) Fields {
	f["operation"] = op
	return f
}

// Resource tags the resource type and, if non-empty, its name/id.
func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

// Duration records an elapsed duration in milliseconds.
func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

// Error records err's message, or does nothing for a nil error.
func (f Fields) Error(err error) Fields {
	if err == nil {
		return f
	}
	f["error"] = err.Error()
	return f
}

// Int, Str and Bool are small helpers for ad-hoc fields that don't warrant
// their own named method.
func (f Fields) Int(key string, v int) Fields {
	f[key] = v
	return f
}

func (f Fields) Str(key, v string) Fields {
	f[key] = v
	return f
}

func (f Fields) Bool(key string, v bool) Fields {
	f[key] = v
	return f
}

// KeysAndValues flattens the field set into the alternating
// key1, value1, key2, value2, ... slice logr.Logger methods expect.
func (f Fields) KeysAndValues() []interface{} {
	out := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
