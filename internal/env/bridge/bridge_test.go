// File: internal/env/bridge/bridge_test.go
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/herobine/api/schemas"
	"github.com/xkilldash9x/herobine/internal/config"
	"github.com/xkilldash9x/herobine/internal/observation"
)

const (
	frameH = 36
	frameW = 64
)

// fakeBridge is an in-memory stand-in for the bridge process.
type fakeBridge struct {
	t          *testing.T
	mu         sync.Mutex
	actions    []map[string]any
	statusHits atomic.Int32
	connectAt  int32
	pending    []map[string]any
	current    map[string]any
}

func (f *fakeBridge) handler() http.Handler {
	obs := map[string]any{
		"position": map[string]any{"x": 1.0, "y": 65.0, "z": 2.0},
		"health":   18.0, "food": 19.0,
		"inventory": []any{map[string]any{"name": "dirt", "count": 5.0, "slot": 36.0}},
	}
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/init", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(f.t, "JarvisAI", body["username"])
		write(w, map[string]any{"success": true})
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		n := f.statusHits.Add(1)
		write(w, map[string]any{"connected": n >= f.connectAt})
	})
	mux.HandleFunc("/viewer/status", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"viewerReady": true})
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"success": true, "observation": obs})
	})
	mux.HandleFunc("/action", func(w http.ResponseWriter, r *http.Request) {
		var action map[string]any
		_ = json.NewDecoder(r.Body).Decode(&action)
		f.mu.Lock()
		f.actions = append(f.actions, action)
		f.mu.Unlock()
		write(w, map[string]any{"success": true, "observation": obs})
	})
	mux.HandleFunc("/screenshot", func(w http.ResponseWriter, r *http.Request) {
		img := image.NewRGBA(image.Rect(0, 0, 32, 18))
		for y := 0; y < 18; y++ {
			for x := 0; x < 32; x++ {
				img.SetRGBA(x, y, color.RGBA{B: 222, A: 255})
			}
		}
		var buf bytes.Buffer
		_ = png.Encode(&buf, img)
		write(w, map[string]any{"success": true, "image": base64.StdEncoding.EncodeToString(buf.Bytes()), "width": 32, "height": 18})
	})
	mux.HandleFunc("/chat/instructions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		write(w, map[string]any{"success": true, "instructions": f.pending, "current": f.current})
	})
	mux.HandleFunc("/chat/start_instruction", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.pending) == 0 {
			write(w, map[string]any{"success": true, "instruction": nil})
			return
		}
		f.current, f.pending = f.pending[0], f.pending[1:]
		write(w, map[string]any{"success": true, "instruction": f.current})
	})
	mux.HandleFunc("/chat/clear_instruction", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.current = nil
		f.mu.Unlock()
		write(w, map[string]any{"success": true})
	})
	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"success": true})
	})
	return mux
}

func testConfig(t *testing.T, serverURL string) config.BridgeConfig {
	t.Helper()
	cfg := config.NewDefaultConfig().Bridge
	hostPort := strings.TrimPrefix(serverURL, "http://")
	host, port, found := strings.Cut(hostPort, ":")
	require.True(t, found)
	cfg.BridgeHost = host
	cfg.BridgePort, _ = strconv.Atoi(port)
	cfg.SpawnWait = 3 * time.Second
	cfg.ActionTimeout = 500 * time.Millisecond
	cfg.ResetTimeout = 500 * time.Millisecond
	return cfg
}

func newTestEnv(t *testing.T, fb *fakeBridge) (*Env, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(fb.handler())
	t.Cleanup(server.Close)
	e := New(testConfig(t, server.URL), observation.New(frameH, frameW), nil, zap.NewNop())
	return e, server
}

func TestInitWaitsForConnection(t *testing.T) {
	fb := &fakeBridge{t: t, connectAt: 2}
	e, _ := newTestEnv(t, fb)

	require.NoError(t, e.Init(context.Background()))
	assert.GreaterOrEqual(t, fb.statusHits.Load(), int32(2))
}

func TestInitGivesUpWhenBotNeverConnects(t *testing.T) {
	fb := &fakeBridge{t: t, connectAt: 1 << 30}
	e, _ := newTestEnv(t, fb)
	e.cfg.SpawnWait = 300 * time.Millisecond

	err := e.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not connect")
}

func TestResetAndStep(t *testing.T) {
	fb := &fakeBridge{t: t}
	e, _ := newTestEnv(t, fb)
	ctx := context.Background()

	obs, info := e.Reset(ctx)
	assert.Equal(t, 18.0, obs.Health)
	assert.Equal(t, schemas.Vec3{X: 1, Y: 65, Z: 2}, obs.Position)
	assert.Contains(t, info, "inventory")

	res := e.Step(ctx, schemas.BridgeAction{Type: "compound", Camera: []int{1, -2}, Buttons: map[string]any{"forward": 1}})
	assert.Equal(t, 19.0, res.Observation.Food)
	assert.Zero(t, res.Reward)
	assert.False(t, res.Done())

	// A non-bridge action becomes a no-op on the wire.
	core, logs := observer.New(zapcore.WarnLevel)
	e.logger = zap.New(core)
	e.Step(ctx, schemas.SimAction{Payload: schemas.NativeAction{"camera": []int{0}}})
	assert.Equal(t, 1, logs.Len())

	fb.mu.Lock()
	defer fb.mu.Unlock()
	require.Len(t, fb.actions, 2)
	assert.Equal(t, "compound", fb.actions[0]["type"])
	assert.Equal(t, []any{1.0, -2.0}, fb.actions[0]["camera"])
	assert.Equal(t, map[string]any{"type": "noop"}, fb.actions[1])
}

func TestStepOnTransportFailure(t *testing.T) {
	fb := &fakeBridge{t: t}
	e, server := newTestEnv(t, fb)
	server.Close()

	res := e.Step(context.Background(), e.NoopAction())
	assert.True(t, res.Observation.Frame.Valid())
	assert.Equal(t, schemas.DefaultHealth, res.Observation.Health)
	assert.Zero(t, res.Reward)
	assert.False(t, res.Terminated)
	assert.False(t, res.Truncated)
	assert.Equal(t, schemas.Info{}, res.Info)
	assert.True(t, res.Failed)

	obs, info := e.Reset(context.Background())
	assert.True(t, obs.Frame.Valid())
	assert.Empty(t, info)

	f := e.CaptureFrame(context.Background())
	assert.Equal(t, frameW, f.Width)

	assert.NotPanics(t, func() { e.Close(context.Background()) })
}

func TestStepTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(3 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	e := New(testConfig(t, slow.URL), observation.New(frameH, frameW), nil, zap.NewNop())
	e.cfg.ActionTimeout = 100 * time.Millisecond

	start := time.Now()
	res := e.Step(context.Background(), e.NoopAction())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, schemas.Info{}, res.Info)
}

func TestCaptureFrameResizes(t *testing.T) {
	e, _ := newTestEnv(t, &fakeBridge{t: t})
	f := e.CaptureFrame(context.Background())
	require.True(t, f.Valid())
	assert.Equal(t, frameW, f.Width)
	assert.Equal(t, frameH, f.Height)
	assert.Equal(t, byte(222), f.Pix[2])
}

func TestChatSource(t *testing.T) {
	fb := &fakeBridge{t: t, pending: []map[string]any{
		{"username": "alice", "message": "mine stone", "timestamp": 1700000000123.0},
	}}
	e, _ := newTestEnv(t, fb)
	src := e.ChatSource()
	ctx := context.Background()

	snap, err := src.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, "alice", snap.Pending[0].Source)
	assert.Equal(t, time.UnixMilli(1700000000123), snap.Pending[0].Timestamp)
	assert.Nil(t, snap.Current)

	ins, err := src.Promote(ctx)
	require.NoError(t, err)
	require.NotNil(t, ins)
	assert.Equal(t, "mine stone", ins.Text)

	snap, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Pending)
	require.NotNil(t, snap.Current)

	none, err := src.Promote(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, src.Clear(ctx))
	snap, err = src.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Current)
}

func TestChatSourcePromoteKeepsInstructionInProgress(t *testing.T) {
	fb := &fakeBridge{t: t, pending: []map[string]any{
		{"username": "alice", "message": "mine stone"},
		{"username": "bob", "message": "build a house"},
	}}
	e, _ := newTestEnv(t, fb)
	src := e.ChatSource()
	ctx := context.Background()

	first, err := src.Promote(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "mine stone", first.Text)

	// The bridge itself would start bob's instruction over alice's.
	second, err := src.Promote(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	snap, err := src.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "alice", snap.Current.Source)
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, "bob", snap.Pending[0].Source)

	require.NoError(t, src.Clear(ctx))
	next, err := src.Promote(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "build a house", next.Text)
}

func TestChatSourceTransportFailure(t *testing.T) {
	e, server := newTestEnv(t, &fakeBridge{t: t})
	server.Close()
	src := e.ChatSource()

	_, err := src.Poll(context.Background())
	assert.Error(t, err)
	_, err = src.Promote(context.Background())
	assert.Error(t, err)
	assert.Error(t, src.Clear(context.Background()))
}

func TestCloseToleratesMissingBridge(t *testing.T) {
	cfg := config.NewDefaultConfig().Bridge
	cfg.BridgePort = 1 // nothing listens here
	e := New(cfg, observation.New(frameH, frameW), nil, nil)
	assert.NotPanics(t, func() { e.Close(context.Background()) })
}
