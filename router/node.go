// Package router addresses commands to managers in the remote script.
//
// The remote script exposes a tree of managers. A Node stands for one of
// them and qualifies every command it sends with its path, so the leaf
// "getItems" on the node at "chats" becomes "chats|getItems".
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/filegrind/scriptlink-go/result"
	"github.com/filegrind/scriptlink-go/wire"
)

var (
	// ErrManagerNotFound is returned when a name resolves to no child.
	// It reports a programming error and is never worth retrying.
	ErrManagerNotFound = errors.New("manager not found")
	// ErrNotCollection is returned by item commands sent to a node that
	// does not hold a collection.
	ErrNotCollection = errors.New("manager is not a collection")
	errInvalidChild  = errors.New("invalid child")
)

// Executor is what a Node needs from the driver: somewhere to register
// result handles and a way to ship commands.
type Executor interface {
	Registry() *result.Registry
	Send(ctx context.Context, cmd wire.Command) error
}

// Node is one manager in the namespace tree.
type Node struct {
	exec       Executor
	path       string
	collection bool

	mu       sync.RWMutex
	children map[string]*Node
}

// NewRoot creates the root manager, whose commands carry no prefix
func NewRoot(exec Executor) *Node {
	return NewNode(exec, "")
}

// NewNode creates a model-shaped manager at path
func NewNode(exec Executor, path string) *Node {
	return &Node{exec: exec, path: path, children: make(map[string]*Node)}
}

// NewCollection creates a collection-shaped manager at path. Unknown
// child names on a collection address individual items.
func NewCollection(exec Executor, path string) *Node {
	n := NewNode(exec, path)
	n.collection = true
	return n
}

// Path returns the qualified path of the node; empty for the root
func (n *Node) Path() string {
	return n.path
}

// IsCollection reports whether the node holds a collection
func (n *Node) IsCollection() bool {
	return n.collection
}

// BuildCommand qualifies leaf with the node's path
func (n *Node) BuildCommand(leaf string) string {
	if n.path == "" {
		return leaf
	}
	return n.path + wire.CommandSeparator + leaf
}

// AddChild attaches child under name, replacing any previous child
func (n *Node) AddChild(name string, child *Node) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", errInvalidChild)
	}
	if child == nil {
		return fmt.Errorf("%s: nil node: %w", name, errInvalidChild)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.children[name] = child
	return nil
}

// Attach creates a node at BuildCommand(name) and attaches it statically
func (n *Node) Attach(name string) *Node {
	child := NewNode(n.exec, n.BuildCommand(name))
	_ = n.AddChild(name, child)
	return child
}

// AttachCollection is Attach for a collection-shaped child
func (n *Node) AttachCollection(name string) *Node {
	child := NewCollection(n.exec, n.BuildCommand(name))
	_ = n.AddChild(name, child)
	return child
}

// Child returns the statically attached child called name. On a
// collection, any other name yields a transient node for that item; it is
// not remembered. Elsewhere an unknown name is ErrManagerNotFound.
func (n *Node) Child(name string) (*Node, error) {
	n.mu.RLock()
	child, ok := n.children[name]
	n.mu.RUnlock()
	if ok {
		return child, nil
	}
	if n.collection && name != "" {
		return NewNode(n.exec, n.BuildCommand(name)), nil
	}
	return nil, fmt.Errorf("%s: %w", n.BuildCommand(name), ErrManagerNotFound)
}

// Children lists the names of the statically attached children
func (n *Node) Children() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup walks names from n, resolving each through Child
func (n *Node) Lookup(names ...string) (*Node, error) {
	cur := n
	for _, name := range names {
		next, err := cur.Child(name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// RemoveChild detaches name locally and asks the remote script to drop
// the submanager. The local detach happens even when the name was never
// attached.
func (n *Node) RemoveChild(ctx context.Context, name string) (*result.Single[any], error) {
	n.mu.Lock()
	delete(n.children, name)
	n.mu.Unlock()
	return Call[any](ctx, n, CmdRemoveSubmanager, map[string]any{"name": name}, nil)
}

// Call sends command from n and returns a handle for its single result
func Call[T any](ctx context.Context, n *Node, command string, params map[string]any, mapper result.Mapper[T]) (*result.Single[T], error) {
	h := result.NewSingle(n.exec.Registry(), mapper)
	if err := n.send(ctx, h, command, params); err != nil {
		return nil, err
	}
	return h, nil
}

// Iterate sends command from n and returns a handle for its finite stream
func Iterate[T any](ctx context.Context, n *Node, command string, params map[string]any, mapper result.Mapper[T]) (*result.Stream[T], error) {
	h := result.NewStream(n.exec.Registry(), mapper)
	if err := n.send(ctx, h, command, params); err != nil {
		return nil, err
	}
	return h, nil
}

// Watch sends command from n and returns a handle for its monitor
func Watch[T any](ctx context.Context, n *Node, command string, params map[string]any, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	h := result.NewMonitor(n.exec.Registry(), mapper)
	if err := n.send(ctx, h, command, params); err != nil {
		return nil, err
	}
	return h, nil
}

// send ships the command for h. On failure h is cancelled so it leaves
// the registry at once.
func (n *Node) send(ctx context.Context, h result.Handle, command string, params map[string]any) error {
	cmd := wire.NewCommand(h.Id(), n.BuildCommand(command), params)
	if err := n.exec.Send(ctx, cmd); err != nil {
		h.Cancel()
		return fmt.Errorf("send %s: %w", cmd.Command, err)
	}
	return nil
}
