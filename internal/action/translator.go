// File: internal/action/translator.go
package action

import (
	"reflect"

	"github.com/xkilldash9x/herobine/api/schemas"
)

// Translate converts a native action into the actuation format of the given backend.
// It performs no I/O and never modifies native.
//
// The two mappings are intentionally asymmetric: the bridge gets a compound command
// with a normalized camera and sanitized buttons, while the simulation already speaks
// the native vocabulary and receives the action unchanged.
func Translate(native schemas.NativeAction, backend schemas.Backend) schemas.BackendAction {
	switch backend {
	case schemas.BackendSim:
		return schemas.SimAction{Payload: native}
	default:
		return ToBridge(native)
	}
}

// ToBridge builds the bridge's compound command.
func ToBridge(native schemas.NativeAction) schemas.BridgeAction {
	pitch, yaw := Camera(native["camera"])
	return schemas.BridgeAction{
		Type:    schemas.BridgeActionCompound,
		Camera:  []int{pitch, yaw},
		Buttons: flatten(native["buttons"]),
	}
}

// Camera normalizes a camera delta to (pitch, yaw) integers. A scalar is a pitch
// delta, sequences use their first two elements, and mappings are read by
// "pitch"/"yaw" or "0"/"1" keys. Missing components are zero.
func Camera(v any) (int, int) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return 0, 0
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return 0, 0
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var pair [2]int
		for i := 0; i < rv.Len() && i < 2; i++ {
			pair[i] = truncInt(rv.Index(i).Interface())
		}
		return pair[0], pair[1]
	case reflect.Map:
		m := flatten(rv.Interface())
		return truncInt(pick(m, "pitch", "0")), truncInt(pick(m, "yaw", "1"))
	default:
		return truncInt(rv.Interface()), 0
	}
}

func pick(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
