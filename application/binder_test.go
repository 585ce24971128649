package application

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// startBinder returns a running binder that is stopped at test end.
func startBinder(t *testing.T) *SignalBinder {
	t.Helper()
	b := NewSignalBinder(NewContext())
	require.NoError(t, b.Start())
	t.Cleanup(func() { assert.NoError(t, b.Stop()) })
	return b
}

// counter returns a callback that counts its calls.
func counter(n *atomic.Int32, result bool) Callback {
	return func() bool {
		n.Add(1)
		return result
	}
}

func TestBinder_BindRaise(t *testing.T) {
	b := startBinder(t)
	var n atomic.Int32
	require.NoError(t, b.Bind(EventUser, counter(&n, true)))

	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return n.Load() >= 1 }, waitFor, tick)
}

func TestBinder_BindBeforeStart(t *testing.T) {
	b := NewSignalBinder(NewContext())
	var n atomic.Int32
	require.NoError(t, b.Bind(EventReload, counter(&n, true)))
	assert.True(t, b.IsBound(EventReload))
	assert.False(t, b.Running())

	require.NoError(t, b.Start())
	defer b.Stop()
	require.NoError(t, b.Start(), "second start is a no-op")

	require.NoError(t, b.Raise(EventReload))
	require.Eventually(t, func() bool { return n.Load() == 1 }, waitFor, tick)
}

func TestBinder_IsBound(t *testing.T) {
	b := NewSignalBinder(NewContext())
	assert.False(t, b.IsBound(EventUser))

	require.NoError(t, b.Bind(EventUser, allow))
	assert.True(t, b.IsBound(EventUser))

	require.NoError(t, b.Unbind(EventUser))
	assert.False(t, b.IsBound(EventUser))
	assert.NoError(t, b.Unbind(EventUser), "unbinding twice is a no-op")
}

func TestBinder_UnbindStopsDelivery(t *testing.T) {
	b := startBinder(t)
	var unbound, sentinel atomic.Int32
	require.NoError(t, b.Bind(EventUser, counter(&unbound, true)))
	require.NoError(t, b.Bind(EventUser+1, counter(&sentinel, true)))
	require.NoError(t, b.Unbind(EventUser))

	require.NoError(t, b.Raise(EventUser))
	require.NoError(t, b.Raise(EventUser+1))
	require.Eventually(t, func() bool { return sentinel.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(0), unbound.Load())
}

func TestBinder_RebindReplaces(t *testing.T) {
	b := startBinder(t)
	var first, second atomic.Int32
	require.NoError(t, b.Bind(EventUser, counter(&first, true)))
	require.NoError(t, b.Bind(EventUser, counter(&second, true)))

	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return second.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(0), first.Load())
}

func TestBinder_Unavailable(t *testing.T) {
	b := NewSignalBinder(NewContext())
	assert.ErrorIs(t, b.Raise(EventUser), ErrUnavailable)

	require.NoError(t, b.Start())
	require.NoError(t, b.Stop())
	assert.ErrorIs(t, b.Raise(EventUser), ErrUnavailable)
	assert.False(t, b.IsBound(EventUser), "stop drops bindings")
	assert.NoError(t, b.Stop(), "second stop is a no-op")
}

func TestBinder_UnsupportedSignal(t *testing.T) {
	b := startBinder(t)
	for _, id := range []os.Signal{Event(0), MaxEvent + 1, fakeSignal{}} {
		assert.ErrorIs(t, b.Bind(id, allow), ErrUnsupportedSignal, "bind %v", id)
		assert.ErrorIs(t, b.Raise(id), ErrUnsupportedSignal, "raise %v", id)
		assert.ErrorIs(t, b.Unbind(id), ErrUnsupportedSignal, "unbind %v", id)
	}
	assert.Error(t, b.Bind(EventUser, nil))
	assert.Panics(t, func() { b.MustBind(Event(0), allow) })
}

type fakeSignal struct{}

func (fakeSignal) String() string { return "fake" }
func (fakeSignal) Signal()        {}

func TestBinder_PanicIsolated(t *testing.T) {
	b := startBinder(t)
	var n atomic.Int32
	require.NoError(t, b.Bind(EventUser, func() bool { panic("callback failure") }))
	require.NoError(t, b.Bind(EventUser+1, counter(&n, true)))

	require.NoError(t, b.Raise(EventUser))
	require.NoError(t, b.Raise(EventUser+1))
	require.Eventually(t, func() bool { return n.Load() == 1 }, waitFor, tick)

	// The loop survives and keeps delivering.
	require.NoError(t, b.Raise(EventUser))
	require.NoError(t, b.Raise(EventUser+1))
	require.Eventually(t, func() bool { return n.Load() == 2 }, waitFor, tick)
}

func TestBinder_Toggle(t *testing.T) {
	b := startBinder(t)
	var primary, secondary atomic.Int32
	require.NoError(t, b.BindToggle(EventUser, counter(&primary, true), counter(&secondary, true)))

	raise := func() {
		require.NoError(t, b.Raise(EventUser))
	}
	raise()
	require.Eventually(t, func() bool { return primary.Load() == 1 }, waitFor, tick)
	raise()
	require.Eventually(t, func() bool { return secondary.Load() == 1 }, waitFor, tick)
	raise()
	require.Eventually(t, func() bool { return primary.Load() == 2 }, waitFor, tick)
}

func TestBinder_ToggleSwitchesOnlyOnSuccess(t *testing.T) {
	b := startBinder(t)
	var primary, secondary atomic.Int32
	var allowSwitch atomic.Bool
	require.NoError(t, b.BindHandler(EventUser, NewToggleHandler(
		func() bool {
			primary.Add(1)
			return allowSwitch.Load()
		},
		counter(&secondary, true),
	)))

	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return primary.Load() == 1 }, waitFor, tick)
	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return primary.Load() == 2 }, waitFor, tick)
	assert.Equal(t, int32(0), secondary.Load())

	allowSwitch.Store(true)
	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return primary.Load() == 3 }, waitFor, tick)
	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return secondary.Load() == 1 }, waitFor, tick)
}

func TestBinder_CallbackMayRebind(t *testing.T) {
	b := startBinder(t)
	var n atomic.Int32
	require.NoError(t, b.Bind(EventUser, func() bool {
		n.Add(1)
		return b.Unbind(EventUser) == nil
	}))

	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return !b.IsBound(EventUser) }, waitFor, tick)
	assert.Equal(t, int32(1), n.Load())
}

func TestBinder_ManyRaisesCollapse(t *testing.T) {
	b := startBinder(t)
	var n atomic.Int32
	release := make(chan struct{})
	require.NoError(t, b.Bind(EventUser, func() bool {
		n.Add(1)
		<-release
		return true
	}))

	require.NoError(t, b.Raise(EventUser))
	require.Eventually(t, func() bool { return n.Load() == 1 }, waitFor, tick)

	// While the callback is blocked, further raises collapse into one.
	for range 50 {
		require.NoError(t, b.Raise(EventUser))
	}
	close(release)
	require.Eventually(t, func() bool { return n.Load() == 2 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), n.Load())
}

func TestBinder_Context(t *testing.T) {
	cx := NewContext()
	assert.Same(t, cx, NewSignalBinder(cx).Context())
}
