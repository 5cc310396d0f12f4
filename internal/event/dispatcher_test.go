package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchInvokesMatchingCallbackOnce(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var got []Envelope
	d.Subscribe(TypeDownloadStart, func(env Envelope) { got = append(got, env) })

	env := Envelope{Type: TypeDownloadStart, Data: map[string]any{"videoId": "v1"}}
	d.Dispatch(env)
	d.Dispatch(Envelope{Type: TypeDownloadComplete, Data: map[string]any{"videoId": "v1"}})

	require.Len(t, got, 1)
	require.Equal(t, env, got[0])
}

func TestUnsubscribeTokenRemovesOnlyItsCallback(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var first, second int
	unsub := d.Subscribe(TypeUploadProgress, func(Envelope) { first++ })
	d.Subscribe(TypeUploadProgress, func(Envelope) { second++ })

	unsub()
	unsub() // idempotent
	d.Dispatch(Envelope{Type: TypeUploadProgress})

	require.Equal(t, 0, first)
	require.Equal(t, 1, second)
}

func TestUnsubscribeAllClearsType(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var typed, wild int
	d.Subscribe(TypeQueueUpdated, func(Envelope) { typed++ })
	d.Subscribe(TypeQueueUpdated, func(Envelope) { typed++ })
	d.Subscribe(Wildcard, func(Envelope) { wild++ })

	d.UnsubscribeAll(TypeQueueUpdated)
	d.Dispatch(Envelope{Type: TypeQueueUpdated})

	require.Equal(t, 0, typed)
	require.Equal(t, 1, wild)
}

func TestWildcardReceivesEveryEnvelope(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var seen []Type
	d.Subscribe(Wildcard, func(env Envelope) { seen = append(seen, env.Type) })

	d.Dispatch(Envelope{Type: TypeDownloadStart})
	d.Dispatch(Envelope{Type: TypeQueuePaused})
	d.Dispatch(Envelope{Type: Type("custom:event")})

	require.Equal(t, []Type{TypeDownloadStart, TypeQueuePaused, Type("custom:event")}, seen)
}

func TestCallbackOrderIsTypedThenWildcardInRegistrationOrder(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var order []string
	d.Subscribe(Wildcard, func(Envelope) { order = append(order, "wild-1") })
	d.Subscribe(TypeUploadStart, func(Envelope) { order = append(order, "typed-1") })
	d.Subscribe(TypeUploadStart, func(Envelope) { order = append(order, "typed-2") })
	d.Subscribe(Wildcard, func(Envelope) { order = append(order, "wild-2") })

	d.Dispatch(Envelope{Type: TypeUploadStart})

	require.Equal(t, []string{"typed-1", "typed-2", "wild-1", "wild-2"}, order)
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var after, wild int
	d.Subscribe(TypeUploadError, func(Envelope) { panic("listener exploded") })
	d.Subscribe(TypeUploadError, func(Envelope) { after++ })
	d.Subscribe(Wildcard, func(Envelope) { wild++ })

	require.NotPanics(t, func() {
		d.Dispatch(Envelope{Type: TypeUploadError})
	})
	require.Equal(t, 1, after)
	require.Equal(t, 1, wild)
}

func TestLastRetainsMostRecentEnvelope(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	_, ok := d.Last()
	require.False(t, ok)

	d.Dispatch(Envelope{Type: TypeDownloadStart})
	d.Dispatch(Envelope{Type: TypeDownloadProgress})

	last, ok := d.Last()
	require.True(t, ok)
	require.Equal(t, TypeDownloadProgress, last.Type)
}

func TestCallbackMaySubscribeDuringDispatch(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	var nested int
	d.Subscribe(TypeQueueResumed, func(Envelope) {
		d.Subscribe(TypeQueueResumed, func(Envelope) { nested++ })
	})

	d.Dispatch(Envelope{Type: TypeQueueResumed})
	require.Equal(t, 0, nested)
	d.Dispatch(Envelope{Type: TypeQueueResumed})
	require.Equal(t, 1, nested)
}
