package frame

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

const (
	DefaultFramesInFlight   = 2
	DefaultMaxStaleRebuilds = 8
)

type Options struct {
	// FramesInFlight is the number of in-flight slots. It is independent of
	// the swapchain image count.
	FramesInFlight int

	// MaxStaleRebuilds bounds how many times one rebuild retries swapchain
	// creation because the surface changed size while it was being built.
	// Zero selects DefaultMaxStaleRebuilds; a negative value retries forever.
	MaxStaleRebuilds int

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.FramesInFlight == 0 {
		o.FramesInFlight = DefaultFramesInFlight
	}
	if o.MaxStaleRebuilds == 0 {
		o.MaxStaleRebuilds = DefaultMaxStaleRebuilds
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Orchestrator owns the swapchain, the render target, the framebuffers, the
// image markers and the in-flight slots. All methods except RequestRebuild
// must be called from the goroutine that drives the frame loop.
type Orchestrator struct {
	deps Dependencies
	opts Options
	log  *slog.Logger

	state            State
	rebuildRequested atomic.Bool

	swapchain    Swapchain
	target       RenderTarget
	framebuffers []Framebuffer
	markers      markerTable

	slots  *slotPool
	cursor int

	viewport Viewport
	scissor  Rect

	clock  statsClock
	closed bool
}

// New allocates the in-flight slots. Size-dependent resources are built on
// the first DrawFrame.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Device == nil:
		return nil, errors.New("frame: Dependencies.Device is nil")
	case deps.Surface == nil:
		return nil, errors.New("frame: Dependencies.Surface is nil")
	case deps.BuildSwapchain == nil:
		return nil, errors.New("frame: Dependencies.BuildSwapchain is nil")
	case deps.BuildRenderTarget == nil:
		return nil, errors.New("frame: Dependencies.BuildRenderTarget is nil")
	case deps.Record == nil:
		return nil, errors.New("frame: Dependencies.Record is nil")
	}

	opts = opts.withDefaults()
	if opts.FramesInFlight < 1 {
		return nil, errors.Newf("frame: FramesInFlight must be at least 1, got %d", opts.FramesInFlight)
	}

	slots, err := newSlotPool(deps.Device, opts.FramesInFlight)
	if err != nil {
		return nil, errors.Wrap(err, "frame: create in-flight slots")
	}

	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		log:   opts.Logger,
		state: StateNeedsRebuild,
		slots: slots,
		clock: newStatsClock(),
	}, nil
}

// RequestRebuild asks for the swapchain to be rebuilt before the next frame
// is submitted. It is safe to call from any goroutine, typically from a
// window resize callback.
func (o *Orchestrator) RequestRebuild() {
	o.rebuildRequested.Store(true)
}

func (o *Orchestrator) State() State {
	return o.state
}

// Cursor is the index of the in-flight slot the next frame will use.
func (o *Orchestrator) Cursor() int {
	return o.cursor
}

func (o *Orchestrator) FramesInFlight() int {
	return o.slots.len()
}

// Swapchain returns the current swapchain, or nil before the first rebuild.
func (o *Orchestrator) Swapchain() Swapchain {
	return o.swapchain
}

// ImageFence returns the fence of the slot that last claimed image, or nil
// if the image is free.
func (o *Orchestrator) ImageFence(image int) Fence {
	if image < 0 || image >= o.markers.len() {
		return nil
	}
	return o.markers.owner(image)
}

func (o *Orchestrator) Viewport() Viewport {
	return o.viewport
}

func (o *Orchestrator) Scissor() Rect {
	return o.scissor
}

func (o *Orchestrator) Stats() Stats {
	return o.clock.snapshot()
}

func (o *Orchestrator) setState(s State) {
	if o.state == s {
		return
	}
	o.log.Debug("frame state", "from", o.state, "to", s)
	o.state = s
}

// DrawFrame runs one iteration of the frame loop, rebuilding first if
// needed. A non-nil error is always marked ErrFatal; out-of-date swapchains
// are handled internally and reported only through the Outcome.
func (o *Orchestrator) DrawFrame() (Outcome, error) {
	if o.closed {
		return OutcomeSkipped, Fatal(ErrClosed, "draw frame")
	}

	if o.rebuildRequested.Swap(false) {
		o.setState(StateNeedsRebuild)
	}

	if o.state != StateReady {
		built, err := o.rebuild()
		if err != nil {
			return OutcomeSkipped, err
		}
		if !built {
			o.clock.count(OutcomeSkipped)
			return OutcomeSkipped, nil
		}
	}

	outcome, err := o.draw()
	if err != nil {
		return outcome, err
	}
	o.clock.count(outcome)
	return outcome, nil
}

func (o *Orchestrator) draw() (Outcome, error) {
	device := o.deps.Device
	s := o.slots.get(o.cursor)

	err := s.inFlight.Wait()
	if err != nil {
		return OutcomeAborted, Fatal(err, "wait for slot %d fence", o.cursor)
	}

	err = s.commandBuffer.Reset()
	if err != nil {
		return OutcomeAborted, Fatal(err, "reset slot %d command buffer", o.cursor)
	}

	suboptimal := false
	image, err := device.AcquireNextImage(o.swapchain, s.imageAvailable)
	switch {
	case err == nil:
	case IsOutOfDate(err):
		o.log.Debug("acquire reported out of date", "slot", o.cursor)
		o.setState(StateNeedsRebuild)
		return OutcomeAborted, nil
	case isSuboptimal(err):
		suboptimal = true
	default:
		return OutcomeAborted, Fatal(err, "acquire next image")
	}

	if image < 0 || image >= o.markers.len() {
		return OutcomeAborted, Fatal(nil, "acquired image %d outside swapchain of %d images", image, o.markers.len())
	}

	// Another slot may still be rendering into this image when the slot
	// count and image count differ.
	if owner := o.markers.owner(image); owner != nil {
		err = owner.Wait()
		if err != nil {
			return OutcomeAborted, Fatal(err, "wait for image %d fence", image)
		}
	}

	err = s.inFlight.Reset()
	if err != nil {
		return OutcomeAborted, Fatal(err, "reset slot %d fence", o.cursor)
	}
	o.markers.claim(image, s.inFlight)

	err = o.deps.Record(Recording{
		CommandBuffer: s.commandBuffer,
		Target:        o.target,
		Framebuffer:   o.framebuffers[image],
		Image:         image,
		Extent:        o.swapchain.Extent(),
		Viewport:      o.viewport,
		Scissor:       o.scissor,
	})
	if err != nil {
		return OutcomeAborted, Fatal(err, "record frame for image %d", image)
	}

	// The render target is about to be replaced; submitting against it now
	// would reference objects the rebuild destroys.
	if o.rebuildRequested.Load() {
		o.log.Debug("rebuild requested before submit", "slot", o.cursor, "image", image)
		// The acquire's signal is still pending on imageAvailable and the
		// fence was reset. Both must settle before the rebuild destroys them.
		err = device.Drain(s.imageAvailable, s.inFlight)
		if err != nil {
			return OutcomeAborted, Fatal(err, "drain slot %d", o.cursor)
		}
		o.setState(StateNeedsRebuild)
		return OutcomeAborted, nil
	}

	err = device.Submit(Submission{
		CommandBuffer: s.commandBuffer,
		Wait:          s.imageAvailable,
		Signal:        s.renderDone,
		Fence:         s.inFlight,
		Image:         image,
	})
	if err != nil {
		return OutcomeAborted, Fatal(err, "submit slot %d", o.cursor)
	}

	err = device.Present(o.swapchain, image, s.renderDone)
	switch {
	case err == nil:
	case IsOutOfDate(err):
		o.log.Debug("present reported out of date", "slot", o.cursor, "image", image)
		o.setState(StateNeedsRebuild)
		return OutcomeInvalidated, nil
	case isSuboptimal(err):
		suboptimal = true
	default:
		return OutcomeInvalidated, Fatal(err, "present image %d", image)
	}

	o.cursor = (o.cursor + 1) % o.slots.len()

	if suboptimal {
		o.setState(StateNeedsRebuild)
	}
	return OutcomePresented, nil
}

// Close waits for the device to go idle and releases everything the
// orchestrator owns. It does not touch the Device itself.
func (o *Orchestrator) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true

	err := o.deps.Device.WaitIdle()

	o.destroyFramebuffers()
	if o.target != nil {
		o.target.Destroy()
		o.target = nil
	}
	if o.swapchain != nil {
		o.swapchain.Destroy()
		o.swapchain = nil
	}
	o.slots.destroy()
	o.markers.reset(0)

	if err != nil {
		return errors.Wrap(err, "frame: wait for device idle on close")
	}
	return nil
}
