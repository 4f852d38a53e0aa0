// File: internal/env/env.go
package env

import (
	"context"
	"errors"

	"github.com/xkilldash9x/herobine/api/schemas"
)

// ErrNotConnected is reported when a backend call is attempted without a live connection.
var ErrNotConnected = errors.New("environment backend not connected")

// Environment is the contract both backends implement. None of the methods return
// transport errors: failures are logged by the adapter and replaced with placeholder
// results so that the control loop keeps its cadence.
type Environment interface {
	Backend() schemas.Backend
	// Reset starts a new episode.
	Reset(ctx context.Context) (schemas.Observation, schemas.Info)
	// Step executes one action. A failed transport yields (placeholder, 0, false, false, {}).
	Step(ctx context.Context, action schemas.BackendAction) schemas.StepResult
	// CaptureFrame returns the current first-person view, or a black frame.
	CaptureFrame(ctx context.Context) schemas.Frame
	// NoopAction is the action that leaves the world untouched.
	NoopAction() schemas.BackendAction
	// Close releases the backend. It tolerates connections that were never established.
	Close(ctx context.Context)
}

// FailedStep is the step result substituted for a failed actuation.
func FailedStep(placeholder schemas.Observation) schemas.StepResult {
	return schemas.StepResult{Observation: placeholder, Info: schemas.Info{}, Failed: true}
}

// MergeFrame returns obs with its frame replaced by f when f is usable.
func MergeFrame(obs schemas.Observation, f schemas.Frame) schemas.Observation {
	if f.Valid() {
		obs.Frame = f
	}
	return obs
}
