// File: internal/observation/normalizer.go
package observation

import (
	"encoding/base64"
	"sort"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/frame"
)

// Normalizer turns backend payloads into canonical observations of a fixed frame size.
type Normalizer struct {
	height int
	width  int
}

// New creates a normalizer producing frames of height x width.
func New(height, width int) *Normalizer {
	if height <= 0 || width <= 0 {
		height, width = schemas.DefaultFrameHeight, schemas.DefaultFrameWidth
	}
	return &Normalizer{height: height, width: width}
}

// FrameSize returns the configured frame height and width.
func (n *Normalizer) FrameSize() (int, int) { return n.height, n.width }

// Placeholder is the observation returned when nothing usable was received.
func (n *Normalizer) Placeholder() schemas.Observation {
	return schemas.Observation{
		Frame:     frame.Placeholder(n.height, n.width),
		Inventory: []schemas.ItemStack{},
		Entities:  []schemas.Entity{},
		Health:    schemas.DefaultHealth,
		Food:      schemas.DefaultFood,
	}
}

// Normalize never fails. Missing or malformed fields take their defaults, a nil
// payload yields the placeholder observation.
func (n *Normalizer) Normalize(raw Raw) schemas.Observation {
	switch r := raw.(type) {
	case BridgeRaw:
		return n.fromBridge(r)
	case SimRaw:
		return n.fromSim(r)
	default:
		return n.Placeholder()
	}
}

func (n *Normalizer) fromBridge(raw BridgeRaw) schemas.Observation {
	obs := n.Placeholder()
	if raw == nil {
		return obs
	}

	obs.Position = vec3(asMap(raw["position"]), "x", "y", "z")
	obs.Yaw = numberOr(raw["yaw"], 0)
	obs.Pitch = numberOr(raw["pitch"], 0)
	obs.Health = vital(raw["health"], schemas.DefaultHealth)
	obs.Food = vital(raw["food"], schemas.DefaultFood)
	obs.Inventory = inventoryList(asSlice(raw["inventory"]))
	obs.Entities = entities(asSlice(raw["entities"]))
	obs.TimeOfDay = numberOr(raw["time"], 0)
	if mode, ok := raw["gameMode"].(string); ok {
		obs.GameMode = mode
	}
	return obs
}

func (n *Normalizer) fromSim(raw SimRaw) schemas.Observation {
	obs := n.Placeholder()

	if f, ok := n.decodePOV(raw.Obs["pov"]); ok {
		obs.Frame = f
	}

	if loc := asMap(first(raw.Info, raw.Obs, "location_stats")); loc != nil {
		obs.Position = vec3(loc, "xpos", "ypos", "zpos")
		obs.Pitch = numberOr(loc["pitch"], 0)
		obs.Yaw = numberOr(loc["yaw"], 0)
	}

	health, _ := lookup("health", raw.Info, raw.Obs)
	obs.Health = vital(health, schemas.DefaultHealth)
	food, _ := lookup("food_level", raw.Info, raw.Obs)
	obs.Food = vital(food, schemas.DefaultFood)

	obs.Inventory = inventoryDict(asMap(first(raw.Info, raw.Obs, "inventory")))
	if eq := asMap(first(raw.Info, raw.Obs, "equipped_items")); len(eq) > 0 {
		obs.EquippedItems = eq
	}
	return obs
}

// decodePOV accepts a base64 encoded image or a raw raster object
// {"data": base64, "height", "width", "channels"}.
func (n *Normalizer) decodePOV(v any) (schemas.Frame, bool) {
	switch pov := v.(type) {
	case string:
		f, err := frame.DecodeBase64(pov, n.height, n.width)
		return f, err == nil
	case map[string]any:
		data, _ := pov["data"].(string)
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return schemas.Frame{}, false
		}
		channels := int(numberOr(pov["channels"], 3))
		f, err := frame.FromRaw(raw, int(numberOr(pov["height"], 0)), int(numberOr(pov["width"], 0)), channels)
		if err != nil {
			return schemas.Frame{}, false
		}
		return frame.Resize(f, n.height, n.width), true
	default:
		return schemas.Frame{}, false
	}
}

func first(a, b map[string]any, key string) any {
	v, _ := lookup(key, a, b)
	return v
}

// vital reads a health-like scalar. Unknown values take the default, negatives clamp to zero.
func vital(v any, fallback float64) float64 {
	f, ok := number(v)
	if !ok {
		return fallback
	}
	if f < 0 {
		return 0
	}
	return f
}

func vec3(m map[string]any, kx, ky, kz string) schemas.Vec3 {
	if m == nil {
		return schemas.Vec3{}
	}
	return schemas.Vec3{X: numberOr(m[kx], 0), Y: numberOr(m[ky], 0), Z: numberOr(m[kz], 0)}
}

func inventoryList(items []any) []schemas.ItemStack {
	out := make([]schemas.ItemStack, 0, len(items))
	for _, it := range items {
		m := asMap(it)
		name, _ := m["name"].(string)
		if name == "" {
			continue
		}
		out = append(out, schemas.ItemStack{
			Name:  name,
			Count: int(numberOr(m["count"], 0)),
			Slot:  int(numberOr(m["slot"], 0)),
		})
	}
	return out
}

// inventoryDict flattens a name->count mapping into stacks ordered by name.
// Zero counts are dropped; the simulator lists every known item type.
func inventoryDict(items map[string]any) []schemas.ItemStack {
	out := make([]schemas.ItemStack, 0, len(items))
	for name, c := range items {
		count := int(numberOr(c, 0))
		if name == "" || count <= 0 {
			continue
		}
		out = append(out, schemas.ItemStack{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func entities(list []any) []schemas.Entity {
	out := make([]schemas.Entity, 0, len(list))
	for _, e := range list {
		m := asMap(e)
		if m == nil {
			continue
		}
		ent := schemas.Entity{Position: vec3(asMap(m["position"]), "x", "y", "z")}
		ent.Type, _ = m["type"].(string)
		if d, ok := number(m["distance"]); ok {
			ent.Distance = &d
		}
		out = append(out, ent)
	}
	return out
}
