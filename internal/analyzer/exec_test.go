package analyzer

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = Spec{
	VideoURL:   "https://example.test/watch?v=abc123",
	ModelPath:  "/models/mobs-v3.pt",
	OutputPath: "/tmp/out.csv",
	Confidence: 0.6,
	IOU:        0.5,
	ImageSize:  736,
}

func TestSpecArgs(t *testing.T) {
	assert.Equal(t, []string{
		"https://example.test/watch?v=abc123",
		"-m", "/models/mobs-v3.pt",
		"-o", "/tmp/out.csv",
		"--json",
		"--conf", "0.6",
		"--iou", "0.5",
		"--imgsz", "736",
	}, testSpec.Args())
}

// shLauncher wraps the given script so spec args arrive as "$@".
func shLauncher(script string) *ExecLauncher {
	return NewExecLauncher("sh", []string{"-c", script, "analyzer"})
}

func TestExecLauncher_StreamsAndExitsClean(t *testing.T) {
	launcher := shLauncher(`echo '{"currentFrame":1}'; echo diag >&2`)

	proc, err := launcher.Start(context.Background(), testSpec)
	require.NoError(t, err)

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	stderr, err := io.ReadAll(proc.Stderr())
	require.NoError(t, err)

	status := proc.Wait()
	assert.True(t, status.Success())
	assert.Equal(t, "code=0", status.String())
	assert.Equal(t, `{"currentFrame":1}`, strings.TrimSpace(string(stdout)))
	assert.Equal(t, "diag", strings.TrimSpace(string(stderr)))
}

func TestExecLauncher_ReceivesSpecArgs(t *testing.T) {
	launcher := shLauncher(`echo "$@"`)

	proc, err := launcher.Start(context.Background(), testSpec)
	require.NoError(t, err)
	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	io.Copy(io.Discard, proc.Stderr())
	require.True(t, proc.Wait().Success())

	assert.Equal(t, strings.Join(testSpec.Args(), " "), strings.TrimSpace(string(stdout)))
}

func TestExecLauncher_NonZeroExit(t *testing.T) {
	launcher := shLauncher(`exit 3`)

	proc, err := launcher.Start(context.Background(), testSpec)
	require.NoError(t, err)
	io.Copy(io.Discard, proc.Stdout())
	io.Copy(io.Discard, proc.Stderr())

	status := proc.Wait()
	assert.False(t, status.Success())
	assert.Equal(t, 3, status.Code)
	assert.Empty(t, status.Signal)
}

func TestExecLauncher_TerminateSignalsProcess(t *testing.T) {
	launcher := shLauncher(`sleep 30`)

	proc, err := launcher.Start(context.Background(), testSpec)
	require.NoError(t, err)

	done := make(chan ExitStatus, 1)
	go func() {
		io.Copy(io.Discard, proc.Stdout())
		io.Copy(io.Discard, proc.Stderr())
		done <- proc.Wait()
	}()

	require.True(t, proc.Terminate())

	select {
	case status := <-done:
		assert.False(t, status.Success())
		assert.Equal(t, "terminated", status.Signal)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
}

func TestExecLauncher_SpawnFailure(t *testing.T) {
	launcher := NewExecLauncher("/nonexistent/analyzer-bin", nil)
	_, err := launcher.Start(context.Background(), testSpec)
	require.Error(t, err)
}
