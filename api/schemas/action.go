package schemas

// NativeAction is the action exactly as the inference engine produced it: a button/key
// state under "buttons" and a camera delta under "camera". The camera may be a scalar,
// a fixed-size numeric array or a mapping.
type NativeAction map[string]any

// BackendAction is an action already expressed in one backend's actuation format.
type BackendAction interface {
	Backend() Backend
}

// Bridge action types.
const (
	BridgeActionCompound = "compound"
	BridgeActionNoop     = "noop"
)

// BridgeAction is the free-form command object accepted by the automation bridge.
type BridgeAction struct {
	Type    string         `json:"type"`
	Camera  []int          `json:"camera,omitempty"`
	Buttons map[string]any `json:"buttons,omitempty"`
}

// Backend implements BackendAction.
func (BridgeAction) Backend() Backend { return BackendBridge }

// SimAction wraps a native action that the full-client simulation accepts as is.
type SimAction struct {
	Payload NativeAction
}

// Backend implements BackendAction.
func (SimAction) Backend() Backend { return BackendSim }
