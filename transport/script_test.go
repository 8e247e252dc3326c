package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/scriptlink-go/wire"
)

func TestCommandScript(t *testing.T) {
	script, err := CommandScript(wire.NewCommand("12", `chats|say "hi"`, map[string]any{"text": "a"}))
	require.NoError(t, err)
	assert.Equal(t,
		`(function() {window.manager.executeCommand("12", "chats|say \"hi\"", {"text":"a"})})()`,
		script)

	script, err = CommandScript(wire.Command{ExecutionId: "1", Command: "ping"})
	require.NoError(t, err)
	assert.Contains(t, script, `"ping", {})`)
}

func TestScriptSend(t *testing.T) {
	var scripts []string
	send := ScriptSend(func(_ context.Context, script string) ([]byte, error) {
		scripts = append(scripts, script)
		return nil, nil
	})

	require.NoError(t, send(context.Background(), wire.NewCommand("3", "ping", nil)))
	require.Len(t, scripts, 1)
	assert.Contains(t, scripts[0], `window.manager.executeCommand("3", "ping", {})`)
}

func TestScriptPoller(t *testing.T) {
	var seen string
	poll := ScriptPoller(func(_ context.Context, script string) ([]byte, error) {
		seen = script
		return []byte(`{"results": [{"exId": "1", "type": "FINAL", "params": true}], "errors": []}`), nil
	})

	res, err := poll(context.Background(), []wire.Command{wire.NewCommand("1", "ping", nil)})
	require.NoError(t, err)
	assert.Equal(t, `return window.manager.poll([{"exId":"1","command":"ping","params":{}}]);`, seen)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, true, res.Frames[0].Payload)
}

func TestScriptPollerPropagatesEvalFailure(t *testing.T) {
	boom := errors.New("no page")
	poll := ScriptPoller(func(context.Context, string) ([]byte, error) { return nil, boom })

	_, err := poll(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestPollScriptEmptyBatch(t *testing.T) {
	request, err := wire.EncodePollRequest(nil)
	require.NoError(t, err)
	assert.Equal(t, "return window.manager.poll([]);", PollScript(request))
}
