// Package window wraps the SDL2 window the demo presents to.
package window

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/vkngwrapper/frameloop/frame"
)

// LoadVulkan initializes SDL video and the Vulkan loader and returns
// vkGetInstanceProcAddr. Call Quit when done, even for headless use.
func LoadVulkan() (unsafe.Pointer, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "init sdl video")
	}

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "load vulkan library")
	}

	procAddr := sdl.VulkanGetVkGetInstanceProcAddr()
	if procAddr == nil {
		Quit()
		return nil, errors.New("sdl returned no vkGetInstanceProcAddr")
	}
	return procAddr, nil
}

func Quit() {
	sdl.VulkanUnloadLibrary()
	sdl.Quit()
}

type Options struct {
	Title     string
	Width     int
	Height    int
	Resizable bool
}

// Window is a Vulkan-capable SDL window. It implements frame.Surface.
type Window struct {
	handle    *sdl.Window
	minimized bool

	pollEvent func() sdl.Event
	waitEvent func(timeoutMS int) sdl.Event
}

// New creates the window. LoadVulkan must have succeeded first.
func New(opts Options) (*Window, error) {
	flags := uint32(sdl.WINDOW_SHOWN | sdl.WINDOW_VULKAN)
	if opts.Resizable {
		flags |= sdl.WINDOW_RESIZABLE
	}

	handle, err := sdl.CreateWindow(opts.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(opts.Width), int32(opts.Height), flags)
	if err != nil {
		return nil, errors.Wrap(err, "create window")
	}
	return &Window{
		handle:    handle,
		pollEvent: sdl.PollEvent,
		waitEvent: sdl.WaitEventTimeout,
	}, nil
}

// SDL is the underlying window, for surface creation.
func (w *Window) SDL() *sdl.Window {
	return w.handle
}

// Dimensions is the drawable size in pixels, or zero while minimized.
func (w *Window) Dimensions() frame.Extent {
	if w.minimized || (w.handle.GetFlags()&sdl.WINDOW_MINIMIZED) != 0 {
		return frame.Extent{}
	}

	width, height := w.handle.VulkanGetDrawableSize()
	return frame.Extent{Width: int(width), Height: int(height)}
}

func (w *Window) Minimized() bool {
	return w.minimized
}

// Poll drains pending events without blocking. onResize runs for every
// event that may have changed the drawable size. It reports whether the
// user asked to quit.
func (w *Window) Poll(onResize func()) (quit bool) {
	for event := w.pollEvent(); event != nil; event = w.pollEvent() {
		if w.dispatch(event, onResize) {
			quit = true
		}
	}
	return quit
}

// Idle blocks for at most timeout waiting for an event, then drains the
// rest. Use it after a skipped frame, when the drawable may be 0×0 without a
// minimize event.
func (w *Window) Idle(timeout time.Duration, onResize func()) (quit bool) {
	event := w.waitEvent(int(timeout.Milliseconds()))
	if event != nil && w.dispatch(event, onResize) {
		return true
	}
	return w.Poll(onResize)
}

// WaitRestored blocks while the window is minimized, then drains whatever
// else is queued.
func (w *Window) WaitRestored(onResize func()) (quit bool) {
	for w.minimized {
		event := sdl.WaitEvent()
		if event == nil {
			continue
		}
		if w.dispatch(event, onResize) {
			return true
		}
	}
	return w.Poll(onResize)
}

func (w *Window) dispatch(event sdl.Event, onResize func()) (quit bool) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			return true
		case sdl.WINDOWEVENT_MINIMIZED:
			w.minimized = true
			onResize()
		case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_MAXIMIZED:
			w.minimized = false
			onResize()
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			onResize()
		}
	}
	return false
}

func (w *Window) Destroy() {
	if w.handle != nil {
		w.handle.Destroy()
	}
}
