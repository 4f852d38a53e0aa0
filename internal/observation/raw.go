// File: internal/observation/raw.go
package observation

import (
	"math"
	"strconv"

	"github.com/xkilldash9x/herobine/api/schemas"
)

// Raw is a backend payload awaiting normalization. The set of implementations is
// closed: BridgeRaw and SimRaw.
type Raw interface {
	Backend() schemas.Backend
	sealed()
}

// BridgeRaw is the flat observation object reported by the automation bridge.
type BridgeRaw map[string]any

// Backend implements Raw.
func (BridgeRaw) Backend() schemas.Backend { return schemas.BackendBridge }
func (BridgeRaw) sealed()                  {}

// SimRaw is the (obs, info) pair reported by the full-client simulation.
// Vitals and location live under Info; the first-person view lives under Obs["pov"].
type SimRaw struct {
	Obs  map[string]any
	Info map[string]any
}

// Backend implements Raw.
func (SimRaw) Backend() schemas.Backend { return schemas.BackendSim }
func (SimRaw) sealed()                  {}

// number coerces a decoded JSON scalar into a finite float64.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case interface{ Float64() (float64, error) }:
		// json.Number from either decoder.
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberOr(v any, fallback float64) float64 {
	if f, ok := number(v); ok {
		return f
	}
	return fallback
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// lookup returns the first present key from the given maps.
func lookup(key string, maps ...map[string]any) (any, bool) {
	for _, m := range maps {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
