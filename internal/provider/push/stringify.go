package push

import (
	"encoding/json"
	"strconv"
)

// jsonStringify renders a non-string JSON scalar/object as a string:
// booleans as "true"/"false", whole-number floats without a decimal
// point (3.0 -> "3"), other numbers in their shortest form, and
// anything else (maps, slices) as JSON.
func jsonStringify(v interface{}) string {
	switch t := v.(type) {
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
