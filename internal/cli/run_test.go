package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScenarioText(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "min.yaml", minimalScenario)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Scenario: minimal")
	assert.Contains(t, out, "[0] submit user:alice -> completed [greeter]")
	assert.Contains(t, out, "Listeners: [greeter]")
	assert.Contains(t, out, "✓ passed")
}

func TestRunScenarioJSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "min.yaml", minimalScenario)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "minimal", resp.Data.ScenarioName)
	assert.True(t, resp.Data.Pass)
	require.Len(t, resp.Data.Trace, 1)
	assert.Equal(t, []string{"greeter"}, resp.Data.Trace[0].Received)
	assert.Equal(t, []string{"greeter"}, resp.Data.Listeners)
}

func TestRunScenarioFailure(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "fail.yaml", failingScenario)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ failed")
	assert.Contains(t, buf.String(), "steps[0].expect.received")
}

func TestRunScenarioFailureJSON(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "fail.yaml", failingScenario)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeFailed, resp.Error.Code)
}

func TestRunMissingScenario(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E_LOAD]")
}

func TestRunInvalidScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "bad.yaml", "name: bad\nsteps: []\n")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRunMissingArgs(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunHarnessScenarios(t *testing.T) {
	for _, name := range []string{"priority_order", "discard_and_owner", "failures", "involvement", "suspension"} {
		t.Run(name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewRunCommand(&RootOptions{Format: "text"})
			cmd.SetOut(buf)
			cmd.SetArgs([]string{filepath.Join(harnessScenarios, name+".yaml"), "--timeout", "2s"})

			require.NoError(t, cmd.Execute(), buf.String())
			assert.Contains(t, buf.String(), "Scenario: "+name)
		})
	}
}

func TestRunCancelledContext(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "min.yaml", minimalScenario)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{path})

	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
}

func TestRunHelpText(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{})
	assert.Contains(t, cmd.Long, "Exit codes")
	assert.Contains(t, cmd.Long, "tangle run")
}
