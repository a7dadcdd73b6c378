package credential

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalSubscribeAndUnsubscribe(t *testing.T) {
	var sig Signal
	var a, b atomic.Int32
	stopA := sig.Subscribe(func() { a.Add(1) })
	sig.Subscribe(func() { b.Add(1) })

	sig.Notify()
	stopA()
	stopA()
	sig.Notify()

	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(2), b.Load())
	assert.Equal(t, 1, sig.Len())
}

func TestSignalSubscriberMayUnsubscribeItself(t *testing.T) {
	var sig Signal
	calls := 0
	var stop func()
	stop = sig.Subscribe(func() {
		calls++
		stop()
	})
	sig.Notify()
	sig.Notify()
	assert.Equal(t, 1, calls)
}

func TestHolderNotifiesOnChangeOnly(t *testing.T) {
	h := NewHolder("")
	var fired atomic.Int32
	h.Signal().Subscribe(func() { fired.Add(1) })

	h.Set("tok-1")
	h.Set("tok-1")
	h.Clear()
	h.Clear()

	assert.Equal(t, int32(2), fired.Load())
	assert.Equal(t, "", h.Credential())
}

func TestHolderInvalidateBlocksStaleSync(t *testing.T) {
	h := NewHolder("tok-1")
	var fired atomic.Int32
	h.Signal().Subscribe(func() { fired.Add(1) })

	assert.True(t, h.Invalidate("tok-1"))
	assert.Equal(t, "", h.Credential())
	assert.Equal(t, int32(1), fired.Load())

	assert.Equal(t, "", h.Sync("tok-1"), "revoked credential must not come back")
	assert.Equal(t, int32(1), fired.Load())

	assert.Equal(t, "tok-2", h.Sync("tok-2"))
	assert.Equal(t, int32(2), fired.Load())
}

func TestHolderInvalidateOtherValue(t *testing.T) {
	h := NewHolder("tok-2")
	assert.False(t, h.Invalidate("tok-1"))
	assert.False(t, h.Invalidate(""))
	assert.Equal(t, "tok-2", h.Credential())
}

func TestHolderSetRevivesAfterExplicitLogin(t *testing.T) {
	h := NewHolder("tok-1")
	h.Invalidate("tok-1")
	h.Set("tok-1")
	assert.Equal(t, "tok-1", h.Credential())
	assert.Equal(t, "tok-1", h.Sync("tok-1"))
}
