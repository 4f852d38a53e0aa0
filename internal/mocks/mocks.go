// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/inference"
	"github.com/xkilldash9x/herobine/internal/journal"
)

// -- Environment Mock --

// MockEnvironment mocks the env.Environment interface.
type MockEnvironment struct {
	mock.Mock
}

func (m *MockEnvironment) Backend() schemas.Backend {
	args := m.Called()
	return args.Get(0).(schemas.Backend)
}

func (m *MockEnvironment) Reset(ctx context.Context) (schemas.Observation, schemas.Info) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Observation), args.Get(1).(schemas.Info)
}

func (m *MockEnvironment) Step(ctx context.Context, action schemas.BackendAction) schemas.StepResult {
	args := m.Called(ctx, action)
	return args.Get(0).(schemas.StepResult)
}

func (m *MockEnvironment) CaptureFrame(ctx context.Context) schemas.Frame {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Frame)
}

func (m *MockEnvironment) NoopAction() schemas.BackendAction {
	args := m.Called()
	return args.Get(0).(schemas.BackendAction)
}

func (m *MockEnvironment) Close(ctx context.Context) {
	m.Called(ctx)
}

// -- Inference Engine Mock --

// MockEngine mocks the inference.Engine interface.
type MockEngine struct {
	mock.Mock
}

// Forward provides a mock function for forward passes.
func (m *MockEngine) Forward(ctx context.Context, req inference.Request) ([]schemas.NativeAction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	var actions []schemas.NativeAction
	if v := args.Get(0); v != nil {
		actions = v.([]schemas.NativeAction)
	}
	return actions, args.Error(1)
}

// -- Instruction Source Mock --

// MockSource mocks the instruction.Source interface.
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Poll(ctx context.Context) (schemas.InstructionSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.InstructionSnapshot), args.Error(1)
}

func (m *MockSource) Promote(ctx context.Context) (*schemas.Instruction, error) {
	args := m.Called(ctx)
	var ins *schemas.Instruction
	if v := args.Get(0); v != nil {
		ins = v.(*schemas.Instruction)
	}
	return ins, args.Error(1)
}

func (m *MockSource) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Journal Mocks --

// MockSink mocks the journal.Sink interface.
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Write(ctx context.Context, e journal.Entry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *MockSink) Close() error {
	return m.Called().Error(0)
}

// MockRecorder mocks the journal handle the control loop writes to.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, e journal.Entry, f schemas.Frame) error {
	return m.Called(ctx, e, f).Error(0)
}

func (m *MockRecorder) Close() error {
	return m.Called().Error(0)
}
