package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/filegrind/scriptlink-go/wire"
)

// EvalFunc evaluates a script in the page hosting the remote script and
// returns its JSON-encoded return value.
type EvalFunc func(ctx context.Context, script string) ([]byte, error)

// ExchangeFunc performs one raw poll round trip: a JSON command array in,
// a JSON poll response out.
type ExchangeFunc func(ctx context.Context, request []byte) ([]byte, error)

// JSONPoller adapts a raw JSON exchange into a Poller
func JSONPoller(exchange ExchangeFunc) Poller {
	return func(ctx context.Context, batch []wire.Command) (wire.PollResult, error) {
		request, err := wire.EncodePollRequest(batch)
		if err != nil {
			return wire.PollResult{}, err
		}
		response, err := exchange(ctx, request)
		if err != nil {
			return wire.PollResult{}, err
		}
		return wire.DecodePollResponse(response)
	}
}

// ScriptPoller polls by evaluating the page's poll entry point
func ScriptPoller(eval EvalFunc) Poller {
	return JSONPoller(func(ctx context.Context, request []byte) ([]byte, error) {
		return eval(ctx, PollScript(request))
	})
}

// ScriptSend ships each command by evaluating the page's command entry
// point. The script's return value is ignored; results come back through
// the push entry point.
func ScriptSend(eval EvalFunc) SendFunc {
	return func(ctx context.Context, cmd wire.Command) error {
		script, err := CommandScript(cmd)
		if err != nil {
			return err
		}
		_, err = eval(ctx, script)
		return err
	}
}

// PollScript renders the poll call for a JSON command array
func PollScript(request []byte) string {
	return fmt.Sprintf("return window.manager.poll(%s);", request)
}

// CommandScript renders the call that starts one command
func CommandScript(cmd wire.Command) (string, error) {
	id, err := json.Marshal(cmd.ExecutionId.String())
	if err != nil {
		return "", err
	}
	name, err := json.Marshal(cmd.Command)
	if err != nil {
		return "", err
	}
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params of %s: %w", cmd.Command, err)
	}
	return fmt.Sprintf("(function() {window.manager.executeCommand(%s, %s, %s)})()", id, name, encoded), nil
}
