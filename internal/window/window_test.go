package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/veandco/go-sdl2/sdl"
)

func TestDispatch(t *testing.T) {
	w := &Window{}
	resizes := 0
	onResize := func() { resizes++ }

	assert.False(t, w.dispatch(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_MINIMIZED}, onResize))
	assert.True(t, w.Minimized())

	assert.False(t, w.dispatch(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_RESTORED}, onResize))
	assert.False(t, w.Minimized())

	assert.False(t, w.dispatch(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_SIZE_CHANGED}, onResize))
	assert.False(t, w.dispatch(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_FOCUS_GAINED}, onResize))
	assert.Equal(t, 3, resizes)

	assert.True(t, w.dispatch(&sdl.WindowEvent{Event: sdl.WINDOWEVENT_CLOSE}, onResize))
	assert.True(t, w.dispatch(&sdl.QuitEvent{}, onResize))
}

type eventQueue struct {
	events   []sdl.Event
	timeouts []int
}

func (q *eventQueue) poll() sdl.Event {
	if len(q.events) == 0 {
		return nil
	}
	event := q.events[0]
	q.events = q.events[1:]
	return event
}

func (q *eventQueue) wait(timeoutMS int) sdl.Event {
	q.timeouts = append(q.timeouts, timeoutMS)
	return q.poll()
}

func TestIdleWaitsWithTimeout(t *testing.T) {
	var q eventQueue
	w := &Window{pollEvent: q.poll, waitEvent: q.wait}
	resizes := 0
	onResize := func() { resizes++ }

	// Nothing queued: one bounded wait, no spinning.
	assert.False(t, w.Idle(50*time.Millisecond, onResize))
	assert.Equal(t, []int{50}, q.timeouts)
	assert.Zero(t, resizes)

	q.events = []sdl.Event{
		&sdl.WindowEvent{Event: sdl.WINDOWEVENT_SIZE_CHANGED},
		&sdl.WindowEvent{Event: sdl.WINDOWEVENT_RESIZED},
	}
	assert.False(t, w.Idle(50*time.Millisecond, onResize))
	assert.Len(t, q.timeouts, 2)
	assert.Equal(t, 2, resizes)
	assert.Empty(t, q.events)

	q.events = []sdl.Event{&sdl.QuitEvent{}}
	assert.True(t, w.Idle(50*time.Millisecond, onResize))
}
