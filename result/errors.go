package result

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/filegrind/scriptlink-go/wire"
)

// Kind names a class of error reported by the remote script.
type Kind string

const (
	KindUnknown             Kind = "UnknownError"
	KindManagerNotFound     Kind = "ManagerNotFound"
	KindCommandNotFound     Kind = "CommandNotFound"
	KindChatNotFound        Kind = "ChatNotFoundError"
	KindContactNotFound     Kind = "ContactNotFoundError"
	KindModelNotFound       Kind = "ModelNotFound"
	KindValueError          Kind = "ValueError"
	KindSendMessageFail     Kind = "SendMessageFail"
	KindRequiredExecutionId Kind = "RequiredExecutionId"
	KindRequiredCommandName Kind = "RequiredCommandName"
	KindStopIterator        Kind = "StopIterator"
	KindStopMonitor         Kind = "StopMonitor"
	KindCancelled           Kind = "Cancelled"
)

// ErrStopped matches every stop kind (StopIterator, StopMonitor,
// Cancelled) under errors.Is. A stream that ends with a stop error ended
// normally from the consumer's point of view.
var ErrStopped = errors.New("result stopped")

// Sentinels for errors.Is against a RemoteError's kind.
var (
	ErrUnknown         = &RemoteError{Kind: KindUnknown}
	ErrManagerNotFound = &RemoteError{Kind: KindManagerNotFound}
	ErrCommandNotFound = &RemoteError{Kind: KindCommandNotFound}
	ErrChatNotFound    = &RemoteError{Kind: KindChatNotFound}
	ErrContactNotFound = &RemoteError{Kind: KindContactNotFound}
	ErrModelNotFound   = &RemoteError{Kind: KindModelNotFound}
	ErrStopIterator    = &RemoteError{Kind: KindStopIterator}
	ErrStopMonitor     = &RemoteError{Kind: KindStopMonitor}
	ErrCancelled       = &RemoteError{Kind: KindCancelled}
)

// RemoteError is an error delivered in an ERROR frame, or synthesized
// locally by cancellation.
type RemoteError struct {
	Kind    Kind
	Name    string // name as sent by the remote side; may differ from Kind when unrecognized
	Message string
	Params  map[string]any
	stop    bool
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Name != "" && e.Name != string(e.Kind) {
		fmt.Fprintf(&b, " (%s)", e.Name)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Params) > 0 {
		keys := make([]string, 0, len(e.Params))
		for k := range e.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Params[k])
		}
		b.WriteString("]")
	}
	return b.String()
}

// Is matches another *RemoteError of the same Kind, and ErrStopped for
// stop kinds.
func (e *RemoteError) Is(target error) bool {
	if target == ErrStopped {
		return e.IsStop()
	}
	other, ok := target.(*RemoteError)
	return ok && other.Kind == e.Kind
}

// IsStop reports whether the error ends a stream normally
func (e *RemoteError) IsStop() bool {
	if e.stop {
		return true
	}
	switch e.Kind {
	case KindStopIterator, KindStopMonitor, KindCancelled:
		return true
	}
	return false
}

// IsStop reports whether err ends a stream normally
func IsStop(err error) bool {
	return errors.Is(err, ErrStopped)
}

// MapError wraps a failure of a handle's mapping function
type MapError struct {
	ExecutionId wire.ExecutionId
	Err         error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("map result of execution %s: %v", e.ExecutionId, e.Err)
}

func (e *MapError) Unwrap() error {
	return e.Err
}

// Kinds maps error names sent by the remote script to error kinds. Names
// it does not know resolve to KindUnknown.
type Kinds struct {
	mu    sync.RWMutex
	kinds map[string]kindEntry
}

type kindEntry struct {
	kind Kind
	stop bool
}

// NewKinds returns a Kinds preloaded with every kind the remote script is
// known to raise.
func NewKinds() *Kinds {
	k := &Kinds{kinds: make(map[string]kindEntry)}
	for _, kind := range []Kind{
		KindUnknown, KindManagerNotFound, KindCommandNotFound, KindChatNotFound,
		KindContactNotFound, KindModelNotFound, KindValueError, KindSendMessageFail,
		KindRequiredExecutionId, KindRequiredCommandName,
	} {
		k.kinds[string(kind)] = kindEntry{kind: kind}
	}
	for _, kind := range []Kind{KindStopIterator, KindStopMonitor, KindCancelled} {
		k.kinds[string(kind)] = kindEntry{kind: kind, stop: true}
	}
	return k
}

// Register adds a remote error name. Stop kinds end streams normally.
func (k *Kinds) Register(name string, stop bool) Kind {
	k.mu.Lock()
	defer k.mu.Unlock()
	kind := Kind(name)
	k.kinds[name] = kindEntry{kind: kind, stop: stop}
	return kind
}

// Lookup returns the kind registered under name
func (k *Kinds) Lookup(name string) (Kind, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entry, ok := k.kinds[name]
	return entry.kind, ok
}

// Resolve builds the error described by an ERROR frame payload. The name
// field selects the kind; message and params fill in detail. A payload
// without a recognized name still yields an error, of KindUnknown.
func (k *Kinds) Resolve(payload any) *RemoteError {
	name := wire.PayloadString(payload, wire.ErrorNameKey)

	k.mu.RLock()
	entry, ok := k.kinds[name]
	k.mu.RUnlock()
	if !ok {
		entry = kindEntry{kind: KindUnknown}
	}

	return &RemoteError{
		Kind:    entry.kind,
		Name:    name,
		Message: wire.PayloadString(payload, wire.ErrorMessageKey),
		Params:  wire.PayloadMap(payload, wire.ErrorParamsKey),
		stop:    entry.stop,
	}
}

// newStopError builds the error injected by a local cancel
func newStopError(kind Kind) *RemoteError {
	return &RemoteError{Kind: kind, Message: "cancelled locally", stop: true}
}
