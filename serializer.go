package bridgez

import (
	"fmt"
	"math"
	"strconv"

	json "github.com/goccy/go-json"
)

// Placeholder substituted for values that cannot be rendered.
// Serialization never fails - a degraded value must not abort a span's
// lifecycle.
const unserializable = "<unserializable>"

// Serializer renders hook payloads into boundary-safe strings.
// Implementations must be safe for concurrent use and must not fail:
// unrenderable values degrade to a placeholder instead of erroring.
type Serializer interface {
	// RenderFields renders a field mapping as a single string.
	// Key order in the output is stable across calls.
	RenderFields(fields map[Field]any) string

	// RenderSpanID renders a span identifier.
	RenderSpanID(id uint64) string
}

// JSONSerializer renders field sets as JSON objects with keys in sorted
// order and span IDs as decimal strings. Scalar values (strings, numbers,
// booleans, nil) pass through; anything else is debug-formatted with %+v
// before encoding, so arbitrary caller types degrade to a readable string
// rather than an encode error.
type JSONSerializer struct{}

// RenderFields implements Serializer.
func (JSONSerializer) RenderFields(fields map[Field]any) string {
	safe := make(map[string]any, len(fields))
	for k, v := range fields {
		safe[k] = safeValue(v)
	}

	// go-json emits map keys in sorted order, which is the stable order
	// this contract documents (Go maps preserve no insertion order).
	out, err := json.Marshal(safe)
	if err != nil {
		return `{"` + unserializable + `":true}`
	}
	return string(out)
}

// RenderSpanID implements Serializer.
func (JSONSerializer) RenderSpanID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// safeValue maps an arbitrary field value onto a JSON-encodable one.
func safeValue(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case float32:
		return safeFloat(float64(val))
	case float64:
		return safeFloat(val)
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%+v", val)
	}
}

// safeFloat guards against values JSON cannot represent.
func safeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
