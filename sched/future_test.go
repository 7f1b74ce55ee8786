package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureFulfillWait(t *testing.T) {
	f, p := NewFuture[int]()
	assert.True(t, f.Pending())

	go func() {
		time.Sleep(time.Millisecond)
		p.Fulfill(42)
	}()

	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, Observed, f.State())
}

func TestFutureDoublefulfillPanics(t *testing.T) {
	_, p := NewFuture[int]()
	p.Fulfill(1)
	assert.Panics(t, func() { p.Fulfill(2) })
}

func TestWhenAllShortCircuitsWhenNonePending(t *testing.T) {
	fs := []*Future[int]{Resolved(1), Resolved(2)}
	all := WhenAll(fs)
	assert.Equal(t, Ready, all.State())
}

func TestWhenAllWaitsForEveryInput(t *testing.T) {
	f1, p1 := NewFuture[int]()
	f2, p2 := NewFuture[int]()
	all := WhenAll([]*Future[int]{f1, f2})

	select {
	case <-all.Done():
		t.Fatal("when_all became ready before any input resolved")
	default:
	}

	p1.Fulfill(1)
	select {
	case <-all.Done():
		t.Fatal("when_all became ready before all inputs resolved")
	default:
	}

	p2.Fulfill(2)
	_, err := all.Wait()
	require.NoError(t, err)
}

func TestWhenAnyReturnsFirstAlreadyReady(t *testing.T) {
	pending, _ := NewFuture[int]()
	ready := Resolved(7)
	any := WhenAny([]*Future[int]{pending, ready})
	idx, err := any.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, Observed, ready.State())
}

func TestWhenAnyArmsOnPendingInputs(t *testing.T) {
	f1, p1 := NewFuture[int]()
	f2, _ := NewFuture[int]()
	any := WhenAny([]*Future[int]{f1, f2})

	p1.Fulfill(1)
	idx, err := any.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
