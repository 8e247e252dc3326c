package wire

import (
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys of the push stream encoding
const (
	keyVersion     = 0 // version (u8)
	keyFrameType   = 1 // frame_type (u8, frames only)
	keyExecutionId = 2 // execution id (tstr)
	keyPayload     = 3 // payload (any, frames only)
	keyCommand     = 4 // command name (tstr, commands only)
	keyParams      = 5 // params (map, commands only)
)

// encMode uses Core Deterministic Encoding so equal frames encode to equal bytes.
var encMode cbor.EncMode

// decMode decodes nested maps as map[string]any so payloads look the same
// whether they arrived over CBOR or JSON.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the package's deterministic CBOR mode
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v with the package's decoding mode
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeFrame encodes a Frame to CBOR bytes using integer keys
func EncodeFrame(frame Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	m := map[int]any{
		keyVersion:     ProtocolVersion,
		keyFrameType:   uint8(frame.Type),
		keyExecutionId: string(frame.ExecutionId),
	}
	if frame.Payload != nil {
		m[keyPayload] = frame.Payload
	}
	return encMode.Marshal(m)
}

// DecodeFrame decodes CBOR bytes to a Frame. A frame without an execution id
// or with an unknown frame type yields an error wrapping ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	m, err := decodeEnvelope(data)
	if err != nil {
		return Frame{}, err
	}

	var frame Frame
	typeVal, ok := m[keyFrameType]
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing frame_type (key %d)", ErrMalformedFrame, keyFrameType)
	}
	ft, ok := typeVal.(uint64)
	if !ok {
		return Frame{}, fmt.Errorf("%w: frame_type must be uint", ErrMalformedFrame)
	}
	if ft > math.MaxUint8 {
		return Frame{}, fmt.Errorf("%w: frame_type %d out of range", ErrMalformedFrame, ft)
	}
	frame.Type = FrameType(ft)

	id, err := decodeExecutionId(m)
	if err != nil {
		return Frame{}, err
	}
	frame.ExecutionId = id
	frame.Payload = m[keyPayload]

	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// EncodeCommand encodes a Command to CBOR bytes using integer keys
func EncodeCommand(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	return encMode.Marshal(map[int]any{
		keyVersion:     ProtocolVersion,
		keyExecutionId: string(cmd.ExecutionId),
		keyCommand:     cmd.Command,
		keyParams:      params,
	})
}

// DecodeCommand decodes CBOR bytes to a Command
func DecodeCommand(data []byte) (Command, error) {
	m, err := decodeEnvelope(data)
	if err != nil {
		return Command{}, err
	}
	id, err := decodeExecutionId(m)
	if err != nil {
		return Command{}, err
	}
	name, _ := m[keyCommand].(string)
	cmd := Command{ExecutionId: id, Command: name}
	if params, ok := m[keyParams].(map[string]any); ok {
		cmd.Params = params
	} else {
		cmd.Params = map[string]any{}
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

func decodeEnvelope(data []byte) (map[int]any, error) {
	var m map[int]any
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	verVal, ok := m[keyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: missing version (key %d)", ErrMalformedFrame, keyVersion)
	}
	ver, ok := verVal.(uint64)
	if !ok {
		return nil, fmt.Errorf("%w: version must be uint", ErrMalformedFrame)
	}
	if ver != uint64(ProtocolVersion) {
		return nil, fmt.Errorf("%w: invalid version %d, expected %d", ErrMalformedFrame, ver, ProtocolVersion)
	}
	return m, nil
}

func decodeExecutionId(m map[int]any) (ExecutionId, error) {
	switch v := m[keyExecutionId].(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: empty execution id", ErrMalformedFrame)
		}
		return ExecutionId(v), nil
	case uint64:
		// The remote script historically sent numeric ids.
		return NewExecutionIdFromUint(v), nil
	case nil:
		return "", fmt.Errorf("%w: missing execution id (key %d)", ErrMalformedFrame, keyExecutionId)
	default:
		return "", fmt.Errorf("%w: execution id has type %T", ErrMalformedFrame, v)
	}
}
