// Package outputs models dependency output values as a tagged variant
// (real vs mocked) and resolves them for a given operation.
package outputs

// Kind tags where an output value came from.
type Kind string

const (
	// KindReal marks a value fetched from a successfully applied module's
	// recorded state.
	KindReal Kind = "real"

	// KindMocked marks a synthetic placeholder (or a prior value of a
	// not-currently-applied producer). Destructive operations must never
	// consume mocked values.
	KindMocked Kind = "mocked"
)

// Value is one resolved dependency output.
type Value struct {
	Name  string
	Value interface{}
	Kind  Kind
}

// Set maps output names to resolved values.
type Set map[string]Value

// HasMocked reports whether any value in the set is a placeholder.
func (s Set) HasMocked() bool {
	for _, v := range s {
		if v.Kind == KindMocked {
			return true
		}
	}
	return false
}

// Values flattens the set into plain name/value pairs for the engine.
func (s Set) Values() map[string]interface{} {
	flat := make(map[string]interface{}, len(s))
	for name, v := range s {
		flat[name] = v.Value
	}
	return flat
}
