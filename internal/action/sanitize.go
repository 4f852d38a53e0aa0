// File: internal/action/sanitize.go
package action

import (
	"math"
	"reflect"
	"strings"
)

// Sanitize returns a deep copy of v in which every numeric value is a plain int
// or float64. Structs and maps are flattened into map[string]any, pointers are
// dereferenced, and slices become []any. The input is never modified.
func Sanitize(v any) any {
	return sanitizeValue(reflect.ValueOf(v))
}

func sanitizeValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	// Decoded JSON numbers carry their own conversion.
	if rv.CanInterface() {
		if n, ok := rv.Interface().(interface {
			Int64() (int64, error)
			Float64() (float64, error)
		}); ok {
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
			if f, err := n.Float64(); err == nil {
				return f
			}
			return nil
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = sanitizeValue(rv.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, ok := mapKey(iter.Key())
			if !ok {
				continue
			}
			out[k] = sanitizeValue(iter.Value())
		}
		return out
	case reflect.Struct:
		return structFields(rv)
	default:
		return nil
	}
}

// flatten turns a mapping-like value into map[string]any. Anything that is
// neither a map nor a struct yields an empty map.
func flatten(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return map[string]any{}
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return map[string]any{}
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		if m, ok := sanitizeValue(rv).(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

func mapKey(k reflect.Value) (string, bool) {
	for k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", false
		}
		k = k.Elem()
	}
	if k.Kind() != reflect.String {
		return "", false
	}
	return k.String(), true
}

// structFields flattens exported fields, honouring json tag names and "-".
func structFields(rv reflect.Value) map[string]any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		out[name] = sanitizeValue(rv.Field(i))
	}
	return out
}

// truncInt converts a finite number to an int, truncating toward zero.
func truncInt(v any) int {
	switch n := sanitizeValue(reflect.ValueOf(v)).(type) {
	case int:
		return n
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(math.Trunc(n))
	case bool:
		if n {
			return 1
		}
	}
	return 0
}
