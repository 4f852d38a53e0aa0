// internal/network/httpclient_test.go
package network

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultClientConfig(t *testing.T) {
	cfg := NewDefaultClientConfig()
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultResponseHeaderTimeout, cfg.ResponseHeaderTimeout)
	assert.Zero(t, cfg.RequestTimeout, "per-call deadlines come from the context")

	tr := NewHTTPTransport(nil)
	assert.Equal(t, DefaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Nil(t, tr.Proxy)
}

func TestClientDoesNotFollowRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer server.Close()

	resp, err := NewClient(nil).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			var in map[string]any
			_ = json.Unmarshal(body, &in)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "got": in["username"]})
		case "/empty":
			assert.Empty(t, r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusNoContent)
		case "/slow":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		case "/broken":
			http.Error(w, "bot not initialized", http.StatusInternalServerError)
		case "/garbage":
			_, _ = w.Write([]byte("{not json"))
		}
	}))
	defer server.Close()

	client := NewClient(nil)
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		var out struct {
			Success bool   `json:"success"`
			Got     string `json:"got"`
		}
		require.NoError(t, client.PostJSON(ctx, server.URL+"/echo", time.Second, map[string]any{"username": "JarvisAI"}, &out))
		assert.True(t, out.Success)
		assert.Equal(t, "JarvisAI", out.Got)
	})

	t.Run("no body and no output", func(t *testing.T) {
		assert.NoError(t, client.PostJSON(ctx, server.URL+"/empty", time.Second, nil, nil))
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		err := client.GetJSON(ctx, server.URL+"/slow", 50*time.Millisecond, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("status error", func(t *testing.T) {
		err := client.PostJSON(ctx, server.URL+"/broken", time.Second, nil, nil)
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "bot not initialized")
	})

	t.Run("decode error", func(t *testing.T) {
		var out map[string]any
		err := client.GetJSON(ctx, server.URL+"/garbage", time.Second, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode response")
	})
}
