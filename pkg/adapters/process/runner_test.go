package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use sh")
	}
}

func TestRunner_Execute(t *testing.T) {
	requireShell(t)
	runner := NewRunner()
	runner.Register("hello", "echo", "hello")
	runner.Register("echo_env", "sh", "-c", "echo $WEAVE_ARG_MSG $WEAVE_ARG_ORDER_ID")
	runner.Register("json", "sh", "-c", `echo '{"total": 42, "ok": true}'`)
	ctx := context.Background()

	t.Run("Plain Output", func(t *testing.T) {
		tool, err := runner.resolve("hello", nil)
		require.NoError(t, err)
		out, err := runner.Execute(ctx, tool, nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", out["stdout"])
	})

	t.Run("Passes Arguments via Env Vars", func(t *testing.T) {
		tool, err := runner.resolve("echo_env", nil)
		require.NoError(t, err)
		out, err := runner.Execute(ctx, tool, map[string]any{"msg": "SecretMessage", "order-id": 7})
		require.NoError(t, err)
		assert.Equal(t, "SecretMessage 7", out["stdout"])
	})

	t.Run("JSON Output", func(t *testing.T) {
		tool, err := runner.resolve("json", nil)
		require.NoError(t, err)
		out, err := runner.Execute(ctx, tool, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 42, out["total"])
		assert.Equal(t, true, out["ok"])
	})

	t.Run("Fails For Unregistered Command", func(t *testing.T) {
		_, err := runner.resolve("hacker_script", nil)
		assert.ErrorIs(t, err, ErrToolNotRegistered)

		_, err = runner.resolve("", []string{"rm", "-rf", "/"})
		assert.ErrorIs(t, err, ErrToolNotRegistered)
	})
}

func TestRunner_FailureClassification(t *testing.T) {
	requireShell(t)
	runner := NewRunner(WithInlineExecution(true))

	tool, err := runner.resolve("", []string{"sh", "-c", "echo broken >&2; exit 3"})
	require.NoError(t, err)
	_, err = runner.Execute(context.Background(), tool, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.False(t, domain.IsRetryable(err))

	tool, err = runner.resolve("", []string{"sh", "-c", "exit 75"})
	require.NoError(t, err)
	_, err = runner.Execute(context.Background(), tool, nil)
	assert.True(t, domain.IsRetryable(err))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	tool, err = runner.resolve("", []string{"sleep", "5"})
	require.NoError(t, err)
	_, err = runner.Execute(ctx, tool, nil)
	assert.True(t, domain.IsRetryable(err))
}

func TestLoadTools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tools:
  - name: notify
    command: sh
    args: ["-c", "echo sent"]
    env: {CHANNEL: ops}
  - command: nameless
`), 0o644))

	tools, err := LoadTools(path)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "ops", tools["notify"].Environment["CHANNEL"])

	jsonPath := filepath.Join(dir, "tools.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"tools":[{"name":"a","command":"true"}]}`), 0o644))
	tools, err = LoadTools(jsonPath)
	require.NoError(t, err)
	assert.Contains(t, tools, "a")

	tools, err = LoadTools(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, tools)
}
