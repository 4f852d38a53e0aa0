// File: internal/mocks/mocks_test.go
package mocks_test

import (
	"github.com/xkilldash9x/herobine/internal/env"
	"github.com/xkilldash9x/herobine/internal/inference"
	"github.com/xkilldash9x/herobine/internal/instruction"
	"github.com/xkilldash9x/herobine/internal/journal"
	"github.com/xkilldash9x/herobine/internal/loop"
	"github.com/xkilldash9x/herobine/internal/mocks"
)

// The mocks must keep satisfying the interfaces they stand in for.
var (
	_ env.Environment    = (*mocks.MockEnvironment)(nil)
	_ inference.Engine   = (*mocks.MockEngine)(nil)
	_ instruction.Source = (*mocks.MockSource)(nil)
	_ journal.Sink       = (*mocks.MockSink)(nil)
	_ loop.Journal       = (*mocks.MockRecorder)(nil)
)
