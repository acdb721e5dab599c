package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mangaraw/harvester/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_FollowsWindow(t *testing.T) {
	var window atomic.Int64
	window.Store(1)

	g := newGate(4, func() int { return int(window.Load()) })
	ctx := context.Background()

	require.True(t, g.Acquire(ctx))

	acquired := make(chan bool)
	go func() {
		acquired <- g.Acquire(ctx)
	}()

	select {
	case <-acquired:
		t.Fatal("acquired a slot beyond the window")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()
	assert.True(t, <-acquired)
	assert.Equal(t, 1, g.InFlight())

	window.Store(10)
	require.True(t, g.Acquire(ctx))
	require.True(t, g.Acquire(ctx))
	require.True(t, g.Acquire(ctx))
	assert.Equal(t, 4, g.InFlight(), "window is capped by the maximum")

	g.Release()
	g.Release()
	g.Release()
	g.Release()
	assert.Equal(t, 0, g.InFlight())
}

func TestGate_ZeroWindowKeepsOneSlot(t *testing.T) {
	g := newGate(4, func() int { return 0 })
	assert.True(t, g.Acquire(context.Background()))
	g.Release()
}

func TestGate_CanceledWhileWaiting(t *testing.T) {
	g := newGate(1, nil)
	require.True(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	acquired := make(chan bool)
	go func() {
		acquired <- g.Acquire(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.False(t, <-acquired)
	assert.Equal(t, 1, g.InFlight())
	assert.False(t, g.Acquire(ctx), "a done context never acquires")
	g.Release()
}

func TestWatermark(t *testing.T) {
	w := newWatermark(nil)

	_, ok := w.Last()
	assert.False(t, ok)

	assert.Equal(t, 0, w.complete(2, models.IntItem(12)))
	assert.Equal(t, 0, w.complete(1, models.IntItem(11)))
	assert.Equal(t, 2, w.Ahead())

	_, ok = w.Last()
	assert.False(t, ok, "the mark never moves past a gap")

	assert.Equal(t, 3, w.complete(0, models.IntItem(10)))
	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, models.IntItem(12), last)
	assert.Equal(t, 0, w.Ahead())

	assert.Equal(t, 0, w.complete(1, models.IntItem(11)), "completing twice is ignored")
	assert.Equal(t, 1, w.complete(3, models.IntItem(13)))
}

func TestWatermark_StartsAtCheckpoint(t *testing.T) {
	from := models.StringItem("b")
	w := newWatermark(&from)

	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, from, last)

	assert.Equal(t, 1, w.complete(0, models.StringItem("c")))
	last, _ = w.Last()
	assert.Equal(t, models.StringItem("c"), last)
}
