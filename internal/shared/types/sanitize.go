package types

import (
	"fmt"
	"reflect"
	"time"

	"github.com/bytedance/sonic"
)

const maxSanitizeDepth = 10

const depthMarker = "<max_depth_reached>"

// SanitizeMap converts a free-form payload into JSON-safe values so a
// partially serializable context can still be persisted.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := sanitize(m, 0).(map[string]any)
	return out
}

// SanitizeValue converts a single value with the same rules as SanitizeMap.
func SanitizeValue(v any) any {
	return sanitize(v, 0)
}

func sanitize(v any, depth int) any {
	if depth > maxSanitizeDepth {
		return depthMarker
	}

	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitize(item, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitize(item, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return unserializable(v)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return unserializable(v)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = sanitize(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = sanitize(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitize(rv.Elem().Interface(), depth)
	}

	// Structs and named scalars: keep whatever survives a JSON round trip.
	data, err := sonic.Marshal(v)
	if err != nil {
		return unserializable(v)
	}
	var generic any
	if err := sonic.Unmarshal(data, &generic); err != nil {
		return unserializable(v)
	}
	return sanitize(generic, depth)
}

func unserializable(v any) string {
	return fmt.Sprintf("<unserializable: %T>", v)
}
