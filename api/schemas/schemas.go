package schemas

// Backend identifies which remote system simulates the world and accepts actuation.
type Backend string

const (
	// BackendBridge is the scripted automation bridge reached over HTTP.
	BackendBridge Backend = "bridge"
	// BackendSim is the client-rendered full simulation.
	BackendSim Backend = "sim"
)

// Info carries backend-specific auxiliary data returned alongside an observation.
type Info map[string]any

// StepResult is the outcome of a single actuation.
type StepResult struct {
	Observation Observation
	// Reward is a pass-through placeholder. No reward function is computed here.
	Reward     float64
	Terminated bool
	Truncated  bool
	Info       Info
	// Failed marks a placeholder result substituted for an actuation that never reached the backend.
	Failed bool
}

// Done reports whether the step ended the episode.
func (r StepResult) Done() bool {
	return r.Terminated || r.Truncated
}
