package router

import (
	"context"
	"fmt"

	"github.com/filegrind/scriptlink-go/result"
)

// Commands every manager in the remote script answers.
const (
	CmdGetCommands        = "getCommands"
	CmdGetSubmanagers     = "getSubmanagers"
	CmdRemoveSubmanager   = "removeSubmanager"
	CmdPing               = "ping"
	CmdStopMonitor        = "stopMonitor"
	CmdGetModel           = "getModel"
	CmdMonitorModel       = "monitorModel"
	CmdMonitorField       = "monitorField"
	CmdGetItems           = "getItems"
	CmdGetItemById        = "getItemById"
	CmdMonitorAdd         = "monitorAdd"
	CmdMonitorRemove      = "monitorRemove"
	CmdMonitorChange      = "monitorChange"
	CmdCreateModelManager = "createModelManager"
)

// GetCommands asks the manager to describe the commands it accepts
func (n *Node) GetCommands(ctx context.Context) (*result.Single[map[string]any], error) {
	return Call(ctx, n, CmdGetCommands, nil, result.Decode[map[string]any]())
}

// GetSubmanagers lists the names of the manager's submanagers
func (n *Node) GetSubmanagers(ctx context.Context) (*result.Single[[]string], error) {
	return Call(ctx, n, CmdGetSubmanagers, nil, result.Decode[[]string]())
}

// Ping checks the remote script answers at all
func (n *Node) Ping(ctx context.Context) (*result.Single[any], error) {
	return Call[any](ctx, n, CmdPing, nil, nil)
}

// StopMonitor asks the remote script to release monitor id. The monitor
// handle ends when the remote StopMonitor error for it arrives.
func (n *Node) StopMonitor(ctx context.Context, id string) (*result.Single[any], error) {
	return Call[any](ctx, n, CmdStopMonitor, map[string]any{"monitorId": id}, nil)
}

// GetModel fetches the model a model manager wraps
func GetModel[T any](ctx context.Context, n *Node, mapper result.Mapper[T]) (*result.Single[T], error) {
	return Call(ctx, n, CmdGetModel, nil, mapper)
}

// MonitorModel watches every change to the model
func MonitorModel[T any](ctx context.Context, n *Node, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	return Watch(ctx, n, CmdMonitorModel, nil, mapper)
}

// MonitorField watches one field of a model, or of every item of a
// collection.
func MonitorField[T any](ctx context.Context, n *Node, field string, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	return Watch(ctx, n, CmdMonitorField, map[string]any{"field": field}, mapper)
}

// GetItems streams every item of a collection
func GetItems[T any](ctx context.Context, n *Node, mapper result.Mapper[T]) (*result.Stream[T], error) {
	if err := n.requireCollection(); err != nil {
		return nil, err
	}
	return Iterate(ctx, n, CmdGetItems, nil, mapper)
}

// GetItemById fetches one item of a collection
func GetItemById[T any](ctx context.Context, n *Node, id string, mapper result.Mapper[T]) (*result.Single[T], error) {
	if err := n.requireCollection(); err != nil {
		return nil, err
	}
	return Call(ctx, n, CmdGetItemById, map[string]any{"id": id}, mapper)
}

// MonitorAdd watches items added to a collection
func MonitorAdd[T any](ctx context.Context, n *Node, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	return watchCollection(ctx, n, CmdMonitorAdd, mapper)
}

// MonitorRemove watches items removed from a collection
func MonitorRemove[T any](ctx context.Context, n *Node, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	return watchCollection(ctx, n, CmdMonitorRemove, mapper)
}

// MonitorChange watches items of a collection that change
func MonitorChange[T any](ctx context.Context, n *Node, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	return watchCollection(ctx, n, CmdMonitorChange, mapper)
}

// CreateModelManager asks a collection to create a manager for item id,
// waits for the name the remote script gives it, and attaches a node for
// it under that name.
func (n *Node) CreateModelManager(ctx context.Context, id string) (*Node, error) {
	if err := n.requireCollection(); err != nil {
		return nil, err
	}
	h, err := Call(ctx, n, CmdCreateModelManager, map[string]any{"id": id}, result.Decode[string]())
	if err != nil {
		return nil, err
	}
	name, err := h.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("create model manager for %s: %w", id, err)
	}
	if name == "" {
		return nil, fmt.Errorf("create model manager for %s: empty name: %w", id, errInvalidChild)
	}
	return n.Attach(name), nil
}

func (n *Node) requireCollection() error {
	if !n.collection {
		return fmt.Errorf("%s: %w", n.path, ErrNotCollection)
	}
	return nil
}

func watchCollection[T any](ctx context.Context, n *Node, command string, mapper result.Mapper[T]) (*result.Monitor[T], error) {
	if err := n.requireCollection(); err != nil {
		return nil, err
	}
	return Watch(ctx, n, command, nil, mapper)
}
