package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorportal/report-gateway/internal/mcpclient/mcptest"
)

func TestMain(m *testing.M) {
	mcptest.RunIfHelper()
	os.Exit(m.Run())
}

func testCredentials() Credentials {
	return Credentials{
		AccountsURL:  "https://accounts.example.com",
		AnalyticsURL: "https://analytics.example.com",
		ClientID:     "client-123",
		ClientSecret: "secret-456",
		RefreshToken: "refresh-789",
	}
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func helperClient(t *testing.T, mode string, timeout time.Duration, extraEnv ...string) *Client {
	t.Helper()
	return New(Config{
		Mode:             ModeLocal,
		Executable:       os.Args[0],
		Env:              mcptest.Env(mode, extraEnv...),
		Credentials:      testCredentials(),
		CallTimeout:      timeout,
		TerminateTimeout: 2 * time.Second,
	}, quietLogger())
}

func exportArgs(path string) map[string]any {
	return map[string]any{
		"workspace_id":         "ws-1",
		"view_id":              "view-1",
		"criteria":             `"T"."PAN" = 'ABC'`,
		"response_file_format": "json",
		"response_file_path":   path,
	}
}

func TestInvokeSuccess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "export.json")
	c := helperClient(t, mcptest.ModeOK, 10*time.Second)

	result, err := c.Invoke(context.Background(), "export_view", exportArgs(out))
	require.NoError(t, err)

	text, err := DecodeText(result)
	require.NoError(t, err)
	var status struct {
		Status   string `json:"status"`
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.Unmarshal(text, &status))
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, "client-123", status.ClientID, "credentials reach the child environment")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "view-1")
}

func TestInvokeRemoteError(t *testing.T) {
	c := helperClient(t, mcptest.ModeRPCErrorNoFile, 10*time.Second)

	_, err := c.Invoke(context.Background(), "export_view", exportArgs(filepath.Join(t.TempDir(), "x.json")))
	var remote *RemoteToolError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, -32000, remote.Code)
	assert.Equal(t, "export failed", remote.Message)
	assert.Empty(t, KindOf(err))
}

func TestInvokeUnknownToolSurfacesRemoteError(t *testing.T) {
	c := helperClient(t, mcptest.ModeOK, 10*time.Second)

	_, err := c.Invoke(context.Background(), "drop_workspace", nil)
	var remote *RemoteToolError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, -32601, remote.Code)
}

func TestInvokeHandshakeTimeoutTerminatesProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "server.pid")
	c := helperClient(t, mcptest.ModeHang, 500*time.Millisecond, mcptest.EnvPIDFile+"="+pidFile)

	start := time.Now()
	_, err := c.Invoke(context.Background(), "export_view", exportArgs(filepath.Join(t.TempDir(), "x.json")))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	// Termination may extend past the call deadline by at most TerminateTimeout.
	assert.Less(t, elapsed, 500*time.Millisecond+2*time.Second)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "export_view", te.Op)

	pid, err := mcptest.ReadPID(pidFile)
	require.NoError(t, err)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "server process must be reaped")
}

func TestInvokeCallTimeoutReportsToolName(t *testing.T) {
	c := helperClient(t, mcptest.ModeOK, 2*time.Second, mcptest.EnvDelay+"=10s")

	_, err := c.Invoke(context.Background(), "export_view", exportArgs(filepath.Join(t.TempDir(), "x.json")))
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTimeout, te.Kind)
	assert.Equal(t, "export_view", te.Op)
}

func TestInvokeCanceledContext(t *testing.T) {
	c := helperClient(t, mcptest.ModeHang, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	_, err := c.Invoke(ctx, "export_view", nil)
	assert.Equal(t, KindCanceled, KindOf(err))
}

func TestInvokeMalformedResponse(t *testing.T) {
	c := helperClient(t, mcptest.ModeGarbage, 10*time.Second)

	_, err := c.Invoke(context.Background(), "export_view", nil)
	assert.Equal(t, KindMalformedResponse, KindOf(err))
}

func TestInvokeMismatchedID(t *testing.T) {
	c := helperClient(t, mcptest.ModeWrongID, 10*time.Second)

	_, err := c.Invoke(context.Background(), "export_view", nil)
	assert.Equal(t, KindMalformedResponse, KindOf(err))
}

func TestInvokeServerExitsEarly(t *testing.T) {
	c := helperClient(t, mcptest.ModeExit, 10*time.Second)

	_, err := c.Invoke(context.Background(), "export_view", nil)
	require.Error(t, err)
	assert.Equal(t, KindStreamClosed, KindOf(err))
}

func TestInvokeSpawnFailure(t *testing.T) {
	c := New(Config{
		Mode:        ModeLocal,
		Executable:  filepath.Join(t.TempDir(), "does-not-exist"),
		Credentials: testCredentials(),
	}, quietLogger())

	_, err := c.Invoke(context.Background(), "export_view", nil)
	assert.Equal(t, KindSpawnFailed, KindOf(err))
}

func TestInvokeNotConfiguredDoesNotSpawn(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "server.pid")
	creds := testCredentials()
	creds.ClientSecret = "your_client_secret"

	c := New(Config{
		Mode:        ModeLocal,
		Executable:  os.Args[0],
		Env:         mcptest.Env(mcptest.ModeOK, mcptest.EnvPIDFile+"="+pidFile),
		Credentials: creds,
	}, quietLogger())

	assert.False(t, c.Configured())
	_, err := c.Invoke(context.Background(), "export_view", nil)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), EnvClientSecret)

	_, statErr := os.Stat(pidFile)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "no process may be spawned")
}

func TestListTools(t *testing.T) {
	c := helperClient(t, mcptest.ModeOK, 10*time.Second)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "export_view", tools[0].Name)
}

func TestInvokeConcurrentCallsUseSeparateProcesses(t *testing.T) {
	dir := t.TempDir()
	c := helperClient(t, mcptest.ModeOK, 20*time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			args := exportArgs(filepath.Join(dir, string(rune('a'+i))+".json"))
			args["view_id"] = string(rune('a' + i))
			_, errs[i] = c.Invoke(context.Background(), "export_view", args)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		raw, err := os.ReadFile(filepath.Join(dir, string(rune('a'+i))+".json"))
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"view_id":"`+string(rune('a'+i))+`"`)
	}
}

func TestDecodeTextNonJSON(t *testing.T) {
	raw := json.RawMessage(`{"content":[{"type":"text","text":"plain words"}]}`)
	got, err := DecodeText(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `"plain words"`, string(got))

	_, err = DecodeText(json.RawMessage(`{"content":[]}`))
	assert.Error(t, err)
}
