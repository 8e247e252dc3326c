package scriptlink

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegrind/scriptlink-go/result"
	"github.com/filegrind/scriptlink-go/router"
	"github.com/filegrind/scriptlink-go/scripttest"
	"github.com/filegrind/scriptlink-go/transport"
	"github.com/filegrind/scriptlink-go/wire"
)

type contact struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

func newContactsScript() *scripttest.Script {
	s := scripttest.New(nil)
	s.Handle("contacts|getItems", func(_ context.Context, _ wire.Command, out scripttest.Emitter) error {
		for _, c := range []contact{{"1", "Ada"}, {"2", "Grace"}, {"3", "Linus"}} {
			if err := out.Item(map[string]any{"id": c.Id, "name": c.Name}); err != nil {
				return err
			}
		}
		return out.Final(map[string]any{})
	})
	s.Handle("contacts|monitorAdd", func(ctx context.Context, _ wire.Command, out scripttest.Emitter) error {
		if err := out.Partial(map[string]any{"id": "4", "name": "Barbara"}); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})
	s.Handle("contacts|getItemById", func(_ context.Context, cmd wire.Command, out scripttest.Emitter) error {
		return out.Error("ContactNotFoundError", "no contact", map[string]any{"id": cmd.Params["id"]})
	})
	return s
}

func exerciseContacts(t *testing.T, d *Driver, script *scripttest.Script) {
	ctx := testContext(t)
	contacts := d.Root().AttachCollection("contacts")

	stream, err := router.GetItems(ctx, contacts, result.Decode[contact]())
	require.NoError(t, err)
	all, err := stream.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []contact{{"1", "Ada"}, {"2", "Grace"}, {"3", "Linus"}}, all)

	single, err := router.GetItemById[any](ctx, contacts, "99", nil)
	require.NoError(t, err)
	_, err = single.Wait(ctx)
	assert.ErrorIs(t, err, ErrContactNotFound)

	monitor, err := router.MonitorAdd(ctx, contacts, result.Decode[contact]())
	require.NoError(t, err)
	added, err := monitor.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Barbara", added.Name)

	ack, err := d.StopMonitor(ctx, monitor.Id())
	require.NoError(t, err)
	_, err = ack.Wait(ctx)
	require.NoError(t, err)
	_, err = monitor.Recv(ctx)
	assert.ErrorIs(t, err, ErrStopMonitor)

	require.NoError(t, d.Ping(ctx))
	assert.Equal(t, 0, d.Registry().Len())
	script.Wait()
	assert.Equal(t, 0, script.Running())
}

func TestDriverAgainstScriptOverPoll(t *testing.T) {
	script := newContactsScript()
	d := New(context.Background(), PollTransport(script.Poll, transport.PollOptions{Interval: 2 * time.Millisecond}))
	require.NoError(t, d.Start())
	defer d.Close(testContext(t))

	exerciseContacts(t, d, script)
}

func TestDriverAgainstScriptOverStream(t *testing.T) {
	script := newContactsScript()
	toDriverR, toDriverW := io.Pipe()
	toScriptR, toScriptW := io.Pipe()

	served := make(chan error, 1)
	go func() { served <- script.Serve(context.Background(), toScriptR, toDriverW) }()

	d := New(context.Background(), StreamTransport(toDriverR, toScriptW, wire.DefaultLimits()))
	require.NoError(t, d.Start())

	exerciseContacts(t, d, script)

	require.NoError(t, d.Close(testContext(t)))
	require.NoError(t, toScriptW.Close())
	assert.NoError(t, <-served)
}
