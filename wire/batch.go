package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// resultFrameSchema describes one entry of a poll response's results list.
const resultFrameSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["exId", "type"],
  "properties": {
    "exId": {
      "anyOf": [
        {"type": "string", "minLength": 1},
        {"type": "integer", "minimum": 1}
      ]
    },
    "type": {"enum": ["FINAL", "PARTIAL", "ERROR"]}
  }
}`

// rejectedCommandSchema describes one entry of a poll response's errors list:
// the remote script refused a command triple before executing it.
const rejectedCommandSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["executionsObj"],
  "properties": {
    "name": {"type": "string"},
    "message": {"type": "string"},
    "executionsObj": {
      "type": "object",
      "required": ["exId"],
      "properties": {
        "exId": {
          "anyOf": [
            {"type": "string", "minLength": 1},
            {"type": "integer", "minimum": 1}
          ]
        }
      }
    }
  }
}`

var (
	resultSchema   *gojsonschema.Schema
	rejectedSchema *gojsonschema.Schema
)

func init() {
	var err error
	resultSchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultFrameSchema))
	if err != nil {
		panic("wire: result frame schema failed to compile: " + err.Error())
	}
	rejectedSchema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(rejectedCommandSchema))
	if err != nil {
		panic("wire: rejected command schema failed to compile: " + err.Error())
	}
}

// PollResult is the decoded reply to one poll round trip.
type PollResult struct {
	// Frames in dispatch order: rejected commands first, then results in
	// the order the remote script produced them.
	Frames []Frame
	// Malformed holds one error per entry that failed validation. Those
	// entries are not represented in Frames.
	Malformed []error
}

// EncodePollRequest renders a batch of commands as the JSON array the
// remote poll entry point accepts.
func EncodePollRequest(commands []Command) ([]byte, error) {
	if commands == nil {
		commands = []Command{}
	}
	return json.Marshal(commands)
}

// DecodePollResponse decodes a poll reply of the form
// {"results": [...], "errors": [...]}. Entries are validated individually;
// an invalid entry is reported in Malformed and never aborts the batch.
// Only an undecodable envelope returns an error.
func DecodePollResponse(data []byte) (PollResult, error) {
	var envelope struct {
		Results []json.RawMessage `json:"results"`
		Errors  []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return PollResult{}, fmt.Errorf("decode poll response: %w", err)
	}

	var result PollResult
	for i, raw := range envelope.Errors {
		frame, err := decodeRejectedCommand(raw)
		if err != nil {
			result.Malformed = append(result.Malformed, fmt.Errorf("errors[%d]: %w", i, err))
			continue
		}
		result.Frames = append(result.Frames, frame)
	}
	for i, raw := range envelope.Results {
		frame, err := decodeResultFrame(raw)
		if err != nil {
			result.Malformed = append(result.Malformed, fmt.Errorf("results[%d]: %w", i, err))
			continue
		}
		result.Frames = append(result.Frames, frame)
	}
	return result, nil
}

// DecodeResultFrame decodes a single JSON result frame, as delivered by a
// push callback.
func DecodeResultFrame(data []byte) (Frame, error) {
	return decodeResultFrame(data)
}

func decodeResultFrame(raw json.RawMessage) (Frame, error) {
	if err := validate(resultSchema, raw); err != nil {
		return Frame{}, err
	}
	var entry struct {
		ExId   any    `json:"exId"`
		Type   string `json:"type"`
		Params any    `json:"params"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	ft, err := ParseFrameType(entry.Type)
	if err != nil {
		return Frame{}, err
	}
	id, err := executionIdFromJSON(entry.ExId)
	if err != nil {
		return Frame{}, err
	}
	frame := Frame{ExecutionId: id, Type: ft, Payload: entry.Params}
	return frame, frame.Validate()
}

func decodeRejectedCommand(raw json.RawMessage) (Frame, error) {
	if err := validate(rejectedSchema, raw); err != nil {
		return Frame{}, err
	}
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	execution, _ := entry["executionsObj"].(map[string]any)
	id, err := executionIdFromJSON(execution["exId"])
	if err != nil {
		return Frame{}, err
	}
	// The rejection itself is the error payload: name, message and the
	// offending triple all reach the handle.
	return Frame{ExecutionId: id, Type: FrameTypeError, Payload: entry}, nil
}

func validate(schema *gojsonschema.Schema, raw json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrMalformedFrame, strings.Join(details, "; "))
	}
	return nil
}

// executionIdFromJSON accepts both string ids and the numeric ids older
// remote scripts echo back.
func executionIdFromJSON(v any) (ExecutionId, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("%w: empty execution id", ErrMalformedFrame)
		}
		return ExecutionId(id), nil
	case float64:
		return ExecutionId(strconv.FormatFloat(id, 'f', -1, 64)), nil
	default:
		return "", fmt.Errorf("%w: execution id has type %T", ErrMalformedFrame, v)
	}
}
