package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simfleet/logging"
	"simfleet/model"
)

func TestLocalExecutor_Execute(t *testing.T) {
	e := NewLocalExecutor(nil)

	out, err := e.Execute(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = e.Execute(context.Background(), "echo nope >&2; exit 3")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Status)
	assert.Contains(t, exitErr.Output, "nope")
}

func TestLocalExecutor_CaptureDoesNotFailOnStatus(t *testing.T) {
	e := NewLocalExecutor(nil)

	result, err := e.Capture(context.Background(), "exit 1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Status)
}

func TestLocalExecutor_Stream(t *testing.T) {
	e := NewLocalExecutor(nil)

	var chunks []string
	out, err := e.Stream(context.Background(), "printf 'a\\nb\\n'", func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)
	assert.Equal(t, out, strings.Join(chunks, ""))
}

func TestLocalExecutor_TerminateAbortsRunningCommand(t *testing.T) {
	e := NewLocalExecutor(nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.Stream(context.Background(), "sleep 30", nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.running) == 1
	}, 5*time.Second, 10*time.Millisecond)

	e.Terminate()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command was not aborted")
	}

	_, err := e.Execute(context.Background(), "true")
	assert.Error(t, err)
}

func TestLocalExecutor_UploadDownload(t *testing.T) {
	e := NewLocalExecutor(nil)
	path := filepath.Join(t.TempDir(), "settings.json")

	require.NoError(t, e.Upload(context.Background(), []byte(`{"a":1}`), path))
	data, err := e.Download(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	exists, err := FileExists(context.Background(), e, path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, os.Remove(path))
	exists, err = FileExists(context.Background(), e, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExitError_RedactsSecrets(t *testing.T) {
	log := logging.NewCommandLog("local", "localhost")
	log.AddBlackList("s3cret")
	e := NewLocalExecutor(log)

	_, err := e.Execute(context.Background(), "echo s3cret; exit 1")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
	assert.NotContains(t, log.String(), "s3cret")
}

func TestDial_LocalNode(t *testing.T) {
	e, err := Dial(context.Background(), model.Localhost(), nil, Options{})
	require.NoError(t, err)
	assert.IsType(t, &LocalExecutor{}, e)

	e, err = Dial(context.Background(), model.Node{Name: "mac", Address: "10.1.1.1"}, nil, Options{ForceLocal: true})
	require.NoError(t, err)
	assert.IsType(t, &LocalExecutor{}, e)
}

func TestLinesAndQuote(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Lines("a\n\n  b  \n"))
	assert.Nil(t, Lines(""))

	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/x", "'/tmp/x'"},
		{"~/Library/Logs", `"$HOME"/'Library/Logs'`},
		{"it's", `'it'\''s'`},
		{"~", `"$HOME"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), tt.in)
	}
}
