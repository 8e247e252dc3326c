package wire

import (
	"errors"
	"fmt"
	"strconv"
)

// ProtocolVersion of the CBOR push stream encoding.
const ProtocolVersion uint8 = 1

// CommandSeparator joins manager path segments with a leaf command name.
// The remote script splits on the same character.
const CommandSeparator = "|"

// ErrMalformedFrame is returned when an inbound frame lacks its execution id
// or frame type. Malformed frames never reach a result handle.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameType is the discriminator of an inbound result frame.
type FrameType uint8

const (
	FrameTypeUnknown FrameType = 0
	FrameTypeFinal   FrameType = 1
	FrameTypePartial FrameType = 2
	FrameTypeError   FrameType = 3
)

// String returns the frame type name as the remote script spells it
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeFinal:
		return "FINAL"
	case FrameTypePartial:
		return "PARTIAL"
	case FrameTypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(ft))
	}
}

// IsTerminal reports whether a frame of this type ends its execution.
func (ft FrameType) IsTerminal() bool {
	return ft == FrameTypeFinal || ft == FrameTypeError
}

// ParseFrameType converts the textual frame type used by the JSON poll
// protocol into a FrameType.
func ParseFrameType(s string) (FrameType, error) {
	switch s {
	case "FINAL":
		return FrameTypeFinal, nil
	case "PARTIAL":
		return FrameTypePartial, nil
	case "ERROR":
		return FrameTypeError, nil
	default:
		return FrameTypeUnknown, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (ft FrameType) MarshalText() ([]byte, error) {
	if ft == FrameTypeUnknown || ft > FrameTypeError {
		return nil, fmt.Errorf("cannot marshal frame type %d", uint8(ft))
	}
	return []byte(ft.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (ft *FrameType) UnmarshalText(text []byte) error {
	parsed, err := ParseFrameType(string(text))
	if err != nil {
		return err
	}
	*ft = parsed
	return nil
}

// ExecutionId identifies one outstanding remote operation. Ids are issued
// by the result registry and are opaque to everything else.
type ExecutionId string

// NewExecutionIdFromUint renders a counter value as an ExecutionId
func NewExecutionIdFromUint(value uint64) ExecutionId {
	return ExecutionId(strconv.FormatUint(value, 10))
}

// IsZero reports whether the id is empty
func (id ExecutionId) IsZero() bool {
	return id == ""
}

// String returns the id text
func (id ExecutionId) String() string {
	return string(id)
}

// Frame is one result message coming back from the remote script.
//
// Payload is the decoded params value. For FINAL frames it is the result,
// for PARTIAL frames it is one streamed item, and for ERROR frames it is an
// error object carrying name, message and params keys.
type Frame struct {
	ExecutionId ExecutionId `json:"exId"`
	Type        FrameType   `json:"type"`
	Payload     any         `json:"params,omitempty"`
}

// NewFinal creates a FINAL frame
func NewFinal(id ExecutionId, payload any) Frame {
	return Frame{ExecutionId: id, Type: FrameTypeFinal, Payload: payload}
}

// NewPartial creates a PARTIAL frame
func NewPartial(id ExecutionId, payload any) Frame {
	return Frame{ExecutionId: id, Type: FrameTypePartial, Payload: payload}
}

// NewItemPartial creates a PARTIAL frame in the finite-stream convention,
// where the streamed value travels under the "item" key.
func NewItemPartial(id ExecutionId, item any) Frame {
	return NewPartial(id, map[string]any{ItemKey: item})
}

// NewError creates an ERROR frame. Empty message and nil params are omitted.
func NewError(id ExecutionId, name string, message string, params map[string]any) Frame {
	payload := map[string]any{}
	if name != "" {
		payload[ErrorNameKey] = name
	}
	if message != "" {
		payload[ErrorMessageKey] = message
	}
	if params != nil {
		payload[ErrorParamsKey] = params
	}
	return Frame{ExecutionId: id, Type: FrameTypeError, Payload: payload}
}

// Validate checks the envelope fields every frame must carry
func (f Frame) Validate() error {
	if f.ExecutionId.IsZero() {
		return fmt.Errorf("%w: missing execution id", ErrMalformedFrame)
	}
	switch f.Type {
	case FrameTypeFinal, FrameTypePartial, FrameTypeError:
		return nil
	default:
		return fmt.Errorf("%w: execution %s has frame type %s", ErrMalformedFrame, f.ExecutionId, f.Type)
	}
}

// Payload keys shared with the remote script.
const (
	ItemKey         = "item"
	ErrorNameKey    = "name"
	ErrorMessageKey = "message"
	ErrorParamsKey  = "params"
)

// ErrorName gets the error kind name from an ERROR frame payload
func (f Frame) ErrorName() string {
	if f.Type != FrameTypeError {
		return ""
	}
	return PayloadString(f.Payload, ErrorNameKey)
}

// ErrorMessage gets the error message from an ERROR frame payload
func (f Frame) ErrorMessage() string {
	if f.Type != FrameTypeError {
		return ""
	}
	return PayloadString(f.Payload, ErrorMessageKey)
}

// PayloadString extracts a string field from a map payload. Missing keys,
// non-map payloads and non-string values all yield "".
func PayloadString(payload any, key string) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// PayloadMap extracts a nested map field from a map payload
func PayloadMap(payload any, key string) map[string]any {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

// Command is one outbound (executionId, command, params) triple.
type Command struct {
	ExecutionId ExecutionId    `json:"exId"`
	Command     string         `json:"command"`
	Params      map[string]any `json:"params"`
}

// NewCommand creates a Command, substituting an empty params object for nil
// since the remote script always expects an object.
func NewCommand(id ExecutionId, command string, params map[string]any) Command {
	if params == nil {
		params = map[string]any{}
	}
	return Command{ExecutionId: id, Command: command, Params: params}
}

// Validate checks the fields the remote script rejects when missing
func (c Command) Validate() error {
	if c.ExecutionId.IsZero() {
		return errors.New("command has no execution id")
	}
	if c.Command == "" {
		return fmt.Errorf("command for execution %s has no name", c.ExecutionId)
	}
	return nil
}
