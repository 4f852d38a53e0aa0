// File: internal/inference/decode.go
package inference

import (
	"bytes"
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/herobine/api/schemas"
)

type actionEnvelope struct {
	Action  schemas.NativeAction   `json:"action"`
	Actions []schemas.NativeAction `json:"actions"`
}

// decodeActions accepts a single action object, an array of actions, or an envelope
// carrying either under "action" or "actions". Markdown code fences are ignored.
func decodeActions(raw []byte) ([]schemas.NativeAction, error) {
	raw = stripFences(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyAction
	}

	var actions []schemas.NativeAction
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &actions); err != nil {
			return nil, fmt.Errorf("failed to decode action list: %w", err)
		}
	case '{':
		var env actionEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode action: %w", err)
		}
		switch {
		case len(env.Actions) > 0:
			actions = env.Actions
		case env.Action != nil:
			actions = []schemas.NativeAction{env.Action}
		default:
			var single schemas.NativeAction
			if err := json.Unmarshal(raw, &single); err != nil {
				return nil, fmt.Errorf("failed to decode action: %w", err)
			}
			if _, ok := single["buttons"]; ok {
				actions = []schemas.NativeAction{single}
			} else if _, ok := single["camera"]; ok {
				actions = []schemas.NativeAction{single}
			}
		}
	default:
		return nil, fmt.Errorf("unexpected action payload: %.40q", raw)
	}

	kept := actions[:0]
	for _, a := range actions {
		if a != nil {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyAction
	}
	return kept, nil
}

func stripFences(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if !bytes.HasPrefix(raw, []byte("```")) {
		return raw
	}
	raw = bytes.TrimPrefix(raw, []byte("```"))
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	}
	raw = bytes.TrimSuffix(bytes.TrimSpace(raw), []byte("```"))
	return bytes.TrimSpace(raw)
}
