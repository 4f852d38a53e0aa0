// File: internal/env/env_test.go
package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/herobine/api/schemas"
)

func TestFailedStep(t *testing.T) {
	placeholder := schemas.Observation{Frame: schemas.NewBlackFrame(2, 2), Health: schemas.DefaultHealth}
	res := FailedStep(placeholder)

	assert.Equal(t, placeholder, res.Observation)
	assert.Zero(t, res.Reward)
	assert.False(t, res.Terminated)
	assert.False(t, res.Truncated)
	assert.NotNil(t, res.Info)
	assert.Empty(t, res.Info)
	assert.True(t, res.Failed)
}

func TestMergeFrame(t *testing.T) {
	obs := schemas.Observation{Frame: schemas.NewBlackFrame(2, 2), Health: 7}

	fresh := schemas.NewBlackFrame(2, 2)
	fresh.Pix[0] = 255
	merged := MergeFrame(obs, fresh)
	assert.Equal(t, byte(255), merged.Frame.Pix[0])
	assert.Equal(t, 7.0, merged.Health)
	assert.Equal(t, byte(0), obs.Frame.Pix[0], "input is not modified")

	kept := MergeFrame(obs, schemas.Frame{Width: 2, Height: 2})
	assert.Equal(t, obs.Frame, kept.Frame)
}
