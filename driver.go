package scriptlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/filegrind/scriptlink-go/config"
	"github.com/filegrind/scriptlink-go/result"
	"github.com/filegrind/scriptlink-go/router"
	"github.com/filegrind/scriptlink-go/sched"
	"github.com/filegrind/scriptlink-go/transport"
	"github.com/filegrind/scriptlink-go/wire"
)

// ErrNotStarted is returned by Wait before Start.
var ErrNotStarted = errors.New("driver not started")

// TransportFactory builds the transport for a driver. sink receives every
// inbound frame.
type TransportFactory func(sink transport.FrameSink, logger *slog.Logger) transport.Transport

// PushTransport ships commands with send; frames come in through the
// returned transport's Deliver methods.
func PushTransport(send transport.SendFunc) TransportFactory {
	return func(sink transport.FrameSink, logger *slog.Logger) transport.Transport {
		return transport.NewPush(sink, send, logger)
	}
}

// StreamTransport exchanges length-prefixed CBOR records over r and w
func StreamTransport(r io.Reader, w io.Writer, limits wire.Limits) TransportFactory {
	return func(sink transport.FrameSink, logger *slog.Logger) transport.Transport {
		return transport.NewStreamPush(sink, r, w, limits, logger)
	}
}

// PollTransport exchanges command batches for frames on an interval
func PollTransport(poll transport.Poller, opts transport.PollOptions) TransportFactory {
	return func(sink transport.FrameSink, logger *slog.Logger) transport.Transport {
		return transport.NewPoll(sink, poll, opts, logger)
	}
}

// TransportFor picks the transport named by cfg. send serves push mode
// and poll serves poll mode; the other may be nil.
func TransportFor(cfg config.Config, send transport.SendFunc, poll transport.Poller) (TransportFactory, error) {
	switch cfg.Transport.Mode {
	case config.ModePush:
		if send == nil {
			return nil, errors.New("push mode needs a send function")
		}
		return PushTransport(send), nil
	case config.ModePoll:
		if poll == nil {
			return nil, errors.New("poll mode needs a poller")
		}
		return PollTransport(poll, transport.PollOptions{
			Interval: cfg.PollInterval(),
			MaxBatch: cfg.Limits().MaxBatch,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}
}

// Option configures a Driver
type Option func(*Driver)

// WithLogger sets the driver's logger. Every line carries the session id.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithReload sets the hook Refresh runs after cancelling outstanding
// results, typically a page reload.
func WithReload(reload func(ctx context.Context) error) Option {
	return func(d *Driver) {
		d.reload = reload
	}
}

// Driver ties a transport to the result registry and the manager tree of
// one remote script session.
type Driver struct {
	session   uuid.UUID
	logger    *slog.Logger
	scheduler *sched.Scheduler
	registry  *result.Registry
	transport transport.Transport
	root      *router.Node
	reload    func(ctx context.Context) error

	mu      sync.Mutex
	started bool
	runDone chan error
}

// New creates a driver. Background work is bound to ctx.
func New(ctx context.Context, factory TransportFactory, opts ...Option) *Driver {
	d := &Driver{
		session: uuid.New(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("session", d.session.String())
	d.scheduler = sched.New(ctx, d.logger)
	d.registry = result.NewRegistry(d.scheduler, d.logger)
	d.transport = factory(d.registry, d.logger)
	d.root = router.NewRoot(d)
	return d
}

// Session returns the id that tags this driver's log lines
func (d *Driver) Session() string {
	return d.session.String()
}

// Registry returns the registry holding outstanding results
func (d *Driver) Registry() *result.Registry {
	return d.registry
}

// Root returns the root of the manager tree
func (d *Driver) Root() *router.Node {
	return d.root
}

// Transport returns the driver's transport, for push delivery
func (d *Driver) Transport() transport.Transport {
	return d.transport
}

// Send hands cmd to the transport
func (d *Driver) Send(ctx context.Context, cmd wire.Command) error {
	return d.transport.Send(ctx, cmd)
}

// Start runs the transport in the background. When the transport stops
// for any reason every outstanding result is cancelled, so no caller
// waits forever.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	done := make(chan error, 1)
	err := d.scheduler.Go("transport", func(ctx context.Context) error {
		err := d.transport.Run(ctx)
		if n := d.registry.CancelAll(); n > 0 {
			d.logger.Info("transport stopped, cancelled outstanding results", "count", n)
		}
		done <- err
		return err
	})
	if err != nil {
		return err
	}
	d.started = true
	d.runDone = done
	d.logger.Info("driver started")
	return nil
}

// Wait blocks until the transport stops and returns its error
func (d *Driver) Wait(ctx context.Context) error {
	d.mu.Lock()
	done := d.runDone
	d.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	select {
	case err := <-done:
		done <- err
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping round-trips the remote ping command
func (d *Driver) Ping(ctx context.Context) error {
	h, err := d.root.Ping(ctx)
	if err != nil {
		return err
	}
	_, err = h.Wait(ctx)
	return err
}

// CancelIterators cancels every outstanding finite stream
func (d *Driver) CancelIterators() int {
	return d.registry.CancelShape(result.ShapeStream)
}

// CancelMonitors cancels every outstanding monitor
func (d *Driver) CancelMonitors() int {
	return d.registry.CancelShape(result.ShapeMonitor)
}

// StopMonitor asks the remote script to stop monitor id. The monitor
// handle ends when the remote side confirms with a StopMonitor error.
func (d *Driver) StopMonitor(ctx context.Context, id wire.ExecutionId) (*result.Single[any], error) {
	return d.root.StopMonitor(ctx, id.String())
}

// Refresh cancels every outstanding result and runs the reload hook.
// Remote state does not survive a reload, so nothing pending can
// complete afterwards.
func (d *Driver) Refresh(ctx context.Context) error {
	n := d.registry.CancelAll()
	d.logger.Info("refreshing", "cancelled", n)
	if d.reload == nil {
		return nil
	}
	if err := d.reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Close stops the transport, cancels every outstanding result and waits
// for background work to finish or ctx to expire.
func (d *Driver) Close(ctx context.Context) error {
	closeErr := d.transport.Close()
	d.registry.CancelAll()
	if err := d.scheduler.Shutdown(ctx); err != nil {
		return err
	}
	d.logger.Info("driver closed")
	return closeErr
}
