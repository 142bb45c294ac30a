package channels

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minibot-ai/minibot/pkg/bus"
)

type fakeChannel struct {
	name     string
	started  bool
	stopped  bool
	sent     []bus.OutboundMessage
	startErr error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(_ context.Context, publish PublishFunc) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeChannel) Stop(_ context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func noopPublish(bus.InboundMessage) {}

func TestRegisterAndNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeChannel{name: "telegram"}))
	require.NoError(t, r.Register(&fakeChannel{name: "cli"}))

	assert.Equal(t, []string{"cli", "telegram"}, r.Names())
	assert.True(t, r.IsRegistered("cli"))
	assert.False(t, r.IsRegistered("discord"))
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeChannel{name: "cli"}))
	assert.Error(t, r.Register(&fakeChannel{name: "cli"}))
	assert.Error(t, r.Register(&fakeChannel{name: "  "}))
	assert.Error(t, r.Register(nil))
}

func TestStartAllAndStopAll(t *testing.T) {
	r := NewRegistry()
	a := &fakeChannel{name: "a"}
	b := &fakeChannel{name: "b"}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	require.NoError(t, r.StartAll(context.Background(), noopPublish))
	assert.True(t, a.started)
	assert.True(t, b.started)

	require.NoError(t, r.StopAll(context.Background()))
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}

func TestStartUnknownChannelFails(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Start(context.Background(), "ghost", noopPublish))
}

func TestStartPropagatesChannelError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeChannel{name: "broken", startErr: fmt.Errorf("no token")}))

	err := r.StartAll(context.Background(), noopPublish)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestStartIsIdempotent(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{name: "cli"}
	require.NoError(t, r.Register(ch))

	require.NoError(t, r.Start(context.Background(), "cli", noopPublish))
	require.NoError(t, r.Start(context.Background(), "cli", noopPublish))

	// Stopping an unstarted channel is a no-op.
	require.NoError(t, r.Stop(context.Background(), "cli"))
	require.NoError(t, r.Stop(context.Background(), "cli"))
}
