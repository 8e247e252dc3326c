package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/scriptlink-go/wire"
)

func run(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(bytes.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func capture(t *testing.T, frames ...wire.Frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := wire.NewFrameWriter(&buf)
	for _, frame := range frames {
		require.NoError(t, w.WriteFrame(frame))
	}
	return buf.Bytes()
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "test\n", out)
}

func TestFramesFromStdin(t *testing.T) {
	data := capture(t,
		wire.NewItemPartial("1", "a"),
		wire.NewFinal("1", nil),
	)

	out, _, err := run(t, data, "frames")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"exId":"1","type":"PARTIAL","params":{"item":"a"}}`, lines[0])
	assert.JSONEq(t, `{"exId":"1","type":"FINAL"}`, lines[1])
}

func TestFramesDiag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, capture(t, wire.NewFinal("9", "ok")), 0o600))

	out, _, err := run(t, nil, "frames", "--diag", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"9"`)
	assert.Contains(t, out, `"ok"`)
}

func TestFramesRespectsMaxFrame(t *testing.T) {
	data := capture(t, wire.NewFinal("1", strings.Repeat("x", 64)))

	_, _, err := run(t, data, "frames", "--max-frame", "16")
	assert.ErrorContains(t, err, "max_frame")
}

func TestPollResponse(t *testing.T) {
	body := `{
	  "results": [{"exId": "2", "type": "FINAL", "params": 1}, {"type": "FINAL"}],
	  "errors": [{"name": "RequiredCommandName", "executionsObj": {"exId": "3"}}]
	}`

	out, errOut, err := run(t, []byte(body), "poll-response")
	assert.ErrorContains(t, err, "1 malformed entries")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"exId":"3"`)
	assert.Contains(t, lines[0], `"ERROR"`)
	assert.Contains(t, lines[1], `"exId":"2"`)
	assert.Contains(t, errOut, "results[1]")
}

func TestScript(t *testing.T) {
	out, _, err := run(t, nil, "script", "chats|getItemById", "--id", "4", "--params", `{"id":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, `(function() {window.manager.executeCommand("4", "chats|getItemById", {"id":"x"})})()`+"\n", out)

	_, _, err = run(t, nil, "script", "ping", "--params", "[")
	assert.Error(t, err)
}

func TestConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  mode: poll\n"), 0o600))

	out, _, err := run(t, nil, "config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "mode: poll")
	assert.Contains(t, out, "poll_interval_ms: 500")
}
