package host

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haymant/evolve/internal/config"
	"github.com/haymant/evolve/internal/ops"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Bridge: config.BridgeConfig{
			Host:              "127.0.0.1",
			Port:              0,
			ResolvedCacheSize: 100,
		},
		Storage: config.StorageConfig{
			Path: filepath.Join(t.TempDir(), "bridge.db"),
		},
	}
}

func TestHostEndToEndSubmit(t *testing.T) {
	h, err := New(Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer h.Close()

	info, err := h.EnsureBridge()
	require.NoError(t, err)

	require.NoError(t, h.Registry().RegisterStarted(ops.Operation{
		OperationID:   "op-1",
		ResumeToken:   "tok-1",
		OperationType: "form",
	}))

	body, _ := json.Marshal(map[string]any{
		"resumeToken": "tok-1",
		"result":      map[string]any{"approved": true},
	})
	req, err := http.NewRequest(http.MethodPost, "http://"+info.Addr+"/submit", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+info.Token)
	req.Header.Set("X-Evolve-Run-Bridge-Session", info.SessionID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Empty(t, h.Registry().ListPending())
	status, ok := h.Registry().ResolvedStatus("tok-1")
	require.True(t, ok)
	assert.Equal(t, ops.StatusCompleted, status)
}

func TestHostBuiltinScoreHandler(t *testing.T) {
	h, err := New(Options{Config: testConfig(t)})
	require.NoError(t, err)
	defer h.Close()

	handler, ok := h.Lambdas().Get("score")
	require.True(t, ok)

	result, err := handler(context.Background(), []any{float64(42)}, ops.Operation{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"score": float64(42)}, result)
}

func TestHostPendingOperationsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)

	h, err := New(Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, h.Registry().RegisterStarted(ops.Operation{
		OperationID: "op-keep",
		ResumeToken: "tok-keep",
		Timeout:     time.Minute,
	}))
	require.NoError(t, h.Close())

	restarted, err := New(Options{Config: cfg})
	require.NoError(t, err)
	defer restarted.Close()

	op, found := restarted.Registry().FindByID("op-keep")
	require.True(t, found)
	assert.Equal(t, "tok-keep", op.ResumeToken)
	assert.Equal(t, time.Minute, op.Timeout)
}

func TestHostCloseIsIdempotent(t *testing.T) {
	h, err := New(Options{Config: testConfig(t)})
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
}
