// Package fakegpu is a deterministic in-memory stand-in for a graphics
// device. It implements the frame package's Device, builder and record
// contracts, runs submissions on an in-order queue that only completes work
// when someone waits for it, and records every synchronization mistake the
// caller makes instead of crashing.
package fakegpu

import (
	"fmt"
	"math/rand"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/frameloop/frame"
)

// DefaultImageCount is the number of images BuildSwapchain hands out unless
// GPU.ImageCount is set.
const DefaultImageCount = 3

// Counts tallies objects by kind.
type Counts struct {
	Fences         int
	Semaphores     int
	CommandBuffers int
	Framebuffers   int
	Swapchains     int
	RenderTargets  int
}

// Total is the sum of every kind.
func (c Counts) Total() int {
	return c.Fences + c.Semaphores + c.CommandBuffers + c.Framebuffers + c.Swapchains + c.RenderTargets
}

// SwapchainBuild is one call to BuildSwapchain.
type SwapchainBuild struct {
	Prev frame.Swapchain
	Size frame.Extent
}

// GPU is a fake logical device. It is not safe for concurrent use.
type GPU struct {
	// ImageCount is the number of images per swapchain. Zero means
	// DefaultImageCount.
	ImageCount int

	// AcquireErrors and PresentErrors inject an error into the n-th call
	// (1-based) of AcquireNextImage or Present. An error marked
	// frame.ErrSuboptimal still acquires or presents the image.
	AcquireErrors map[int]error
	PresentErrors map[int]error
	// SwapchainErrors injects an error into the n-th BuildSwapchain call.
	SwapchainErrors map[int]error
	// WaitIdleErrors injects an error into the n-th WaitIdle call.
	WaitIdleErrors map[int]error

	// AcquireOrder, when set, makes AcquireNextImage return a random image
	// among those not already handed out and still unpresented, the way a
	// mailbox or multi-queue driver may. Nil hands images out round-robin.
	AcquireOrder *rand.Rand

	// Hooks run at fixed points so a test can resize the surface or request
	// a rebuild at exactly the moment it wants to.
	OnAcquire        func(n int)
	OnRecord         func(rec frame.Recording)
	OnBuildSwapchain func(sc *Swapchain)

	Acquires        int
	Presents        int
	Submits         int
	Drains          int
	WaitIdles       int
	BlockingWaits   int
	SwapchainBuilds []SwapchainBuild
	Recordings      []frame.Recording

	// Hazards lists submissions that wrote a swapchain image while an
	// earlier write to the same image had not finished.
	Hazards []string
	// Violations lists every other misuse: destroyed objects, unsignaled
	// semaphores, double submits and the like.
	Violations []string

	nextID  int
	queue   []*submission
	writers map[imageKey]*submission

	created   Counts
	destroyed Counts
}

type imageKey struct {
	swapchain int
	image     int
}

type submission struct {
	id        int
	key       imageKey
	fence     *Fence
	signal    *Semaphore
	buffer    *CommandBuffer
	completed bool
}

func New() *GPU {
	return &GPU{writers: make(map[imageKey]*submission)}
}

// Dependencies wires the GPU and surface into a frame.Dependencies.
func (g *GPU) Dependencies(surface frame.Surface) frame.Dependencies {
	return frame.Dependencies{
		Device:            g,
		Surface:           surface,
		BuildSwapchain:    g.BuildSwapchain,
		BuildRenderTarget: g.BuildRenderTarget,
		Record:            g.Record,
	}
}

// Live is the number of objects created and not yet destroyed.
func (g *GPU) Live() Counts {
	return Counts{
		Fences:         g.created.Fences - g.destroyed.Fences,
		Semaphores:     g.created.Semaphores - g.destroyed.Semaphores,
		CommandBuffers: g.created.CommandBuffers - g.destroyed.CommandBuffers,
		Framebuffers:   g.created.Framebuffers - g.destroyed.Framebuffers,
		Swapchains:     g.created.Swapchains - g.destroyed.Swapchains,
		RenderTargets:  g.created.RenderTargets - g.destroyed.RenderTargets,
	}
}

func (g *GPU) Created() Counts {
	return g.created
}

// Pending is the number of submissions the queue has not completed.
func (g *GPU) Pending() int {
	return len(g.queue)
}

// LastWriter returns the fence of the most recent submission that targeted
// image of swapchain, or nil if none did.
func (g *GPU) LastWriter(swapchain *Swapchain, image int) *Fence {
	sub := g.writers[imageKey{swapchain: swapchain.id, image: image}]
	if sub == nil {
		return nil
	}
	return sub.fence
}

// OutOfDate returns an error the frame package treats as a stale swapchain.
func OutOfDate(op string) error {
	return errors.Mark(errors.Newf("%s: out of date", op), frame.ErrOutOfDate)
}

// Suboptimal returns an error the frame package treats as a usable but
// mismatched swapchain.
func Suboptimal(op string) error {
	return errors.Mark(errors.Newf("%s: suboptimal", op), frame.ErrSuboptimal)
}

func (g *GPU) id() int {
	g.nextID++
	return g.nextID
}

func (g *GPU) violate(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	g.Violations = append(g.Violations, msg)
	return errors.New(msg)
}

// completeThrough retires queued submissions in order up to and including
// target. A nil target drains the queue.
func (g *GPU) completeThrough(target *submission) {
	for len(g.queue) > 0 {
		sub := g.queue[0]
		g.queue = g.queue[1:]

		sub.completed = true
		if sub.fence != nil && !sub.fence.destroyed {
			sub.fence.signaled = true
			sub.fence.pending = nil
		}
		if sub == target {
			return
		}
	}
}

func (g *GPU) WaitIdle() error {
	g.WaitIdles++
	if err := g.WaitIdleErrors[g.WaitIdles]; err != nil {
		return err
	}
	g.completeThrough(nil)
	return nil
}

func (g *GPU) CreateFence(signaled bool) (frame.Fence, error) {
	g.created.Fences++
	return &Fence{gpu: g, id: g.id(), signaled: signaled}, nil
}

func (g *GPU) CreateSemaphore() (frame.Semaphore, error) {
	g.created.Semaphores++
	return &Semaphore{gpu: g, id: g.id()}, nil
}

func (g *GPU) AllocateCommandBuffer() (frame.CommandBuffer, error) {
	g.created.CommandBuffers++
	return &CommandBuffer{gpu: g, id: g.id()}, nil
}

func (g *GPU) CreateFramebuffer(target frame.RenderTarget, swapchain frame.Swapchain, image int) (frame.Framebuffer, error) {
	rt, ok := target.(*RenderTarget)
	if !ok {
		return nil, errors.Newf("fakegpu: unexpected render target %T", target)
	}
	sc, ok := swapchain.(*Swapchain)
	if !ok {
		return nil, errors.Newf("fakegpu: unexpected swapchain %T", swapchain)
	}
	if rt.destroyed {
		return nil, g.violate("framebuffer created from destroyed render target %d", rt.id)
	}
	if sc.destroyed {
		return nil, g.violate("framebuffer created from destroyed swapchain %d", sc.id)
	}
	if rt.swapchain != sc {
		return nil, g.violate("render target %d was built for swapchain %d, not %d", rt.id, rt.swapchain.id, sc.id)
	}
	if image < 0 || image >= sc.images {
		return nil, errors.Newf("fakegpu: image %d outside swapchain of %d", image, sc.images)
	}

	g.created.Framebuffers++
	return &Framebuffer{gpu: g, id: g.id(), target: rt, swapchain: sc, image: image}, nil
}

func (g *GPU) AcquireNextImage(swapchain frame.Swapchain, signal frame.Semaphore) (int, error) {
	g.Acquires++
	n := g.Acquires
	if g.OnAcquire != nil {
		g.OnAcquire(n)
	}

	sc, ok := swapchain.(*Swapchain)
	if !ok {
		return 0, errors.Newf("fakegpu: unexpected swapchain %T", swapchain)
	}
	sem := signal.(*Semaphore)
	if sc.destroyed {
		return 0, g.violate("acquire from destroyed swapchain %d", sc.id)
	}
	if sem.destroyed {
		return 0, g.violate("acquire signals destroyed semaphore %d", sem.id)
	}

	injected := g.AcquireErrors[n]
	if injected != nil && !errors.Is(injected, frame.ErrSuboptimal) {
		return 0, injected
	}

	if sem.signaled {
		return 0, g.violate("acquire signals semaphore %d which is already signaled", sem.id)
	}
	sem.signaled = true

	var image int
	if g.AcquireOrder != nil {
		var free []int
		for i := 0; i < sc.images; i++ {
			if !sc.held[i] {
				free = append(free, i)
			}
		}
		if len(free) == 0 {
			sem.signaled = false
			return 0, g.violate("acquire from swapchain %d with all %d images held", sc.id, sc.images)
		}
		image = free[g.AcquireOrder.Intn(len(free))]
	} else {
		image = sc.next
		sc.next = (sc.next + 1) % sc.images
	}
	sc.held[image] = true
	sc.Acquired = append(sc.Acquired, image)
	return image, injected
}

func (g *GPU) Submit(s frame.Submission) error {
	g.Submits++

	buffer := s.CommandBuffer.(*CommandBuffer)
	wait := s.Wait.(*Semaphore)
	signal := s.Signal.(*Semaphore)
	fence := s.Fence.(*Fence)

	switch {
	case buffer.freed:
		return g.violate("submit of freed command buffer %d", buffer.id)
	case buffer.framebuffer == nil:
		return g.violate("submit of command buffer %d with nothing recorded", buffer.id)
	case buffer.pending != nil && !buffer.pending.completed:
		return g.violate("submit of command buffer %d while it is still pending", buffer.id)
	case wait.destroyed || signal.destroyed:
		return g.violate("submit uses destroyed semaphore")
	case !wait.signaled:
		return g.violate("submit waits on semaphore %d which nothing signaled", wait.id)
	case signal.signaled:
		return g.violate("submit signals semaphore %d which is already signaled", signal.id)
	case fence.destroyed:
		return g.violate("submit signals destroyed fence %d", fence.id)
	case fence.signaled || fence.pending != nil:
		return g.violate("submit signals fence %d which was not reset", fence.id)
	}

	fb := buffer.framebuffer
	if fb.destroyed || fb.target.destroyed || fb.swapchain.destroyed {
		return g.violate("submit references destroyed framebuffer %d or its attachments", fb.id)
	}
	if fb.image != s.Image {
		return g.violate("submission for image %d recorded against framebuffer for image %d", s.Image, fb.image)
	}

	key := imageKey{swapchain: fb.swapchain.id, image: fb.image}
	if prev := g.writers[key]; prev != nil && !prev.completed {
		g.Hazards = append(g.Hazards, fmt.Sprintf(
			"submission %d writes swapchain %d image %d while submission %d is still running",
			g.Submits, key.swapchain, key.image, prev.id))
	}

	wait.signaled = false
	signal.signaled = true

	sub := &submission{id: g.Submits, key: key, fence: fence, signal: signal, buffer: buffer}
	fence.pending = sub
	buffer.pending = sub
	buffer.framebuffer = nil
	g.writers[key] = sub
	g.queue = append(g.queue, sub)
	return nil
}

func (g *GPU) Drain(wait frame.Semaphore, signal frame.Fence) error {
	g.Drains++

	sem := wait.(*Semaphore)
	fence := signal.(*Fence)
	switch {
	case sem.destroyed:
		return g.violate("drain waits on destroyed semaphore %d", sem.id)
	case !sem.signaled:
		return g.violate("drain waits on semaphore %d which nothing signaled", sem.id)
	case fence.destroyed:
		return g.violate("drain signals destroyed fence %d", fence.id)
	case fence.signaled || fence.pending != nil:
		return g.violate("drain signals fence %d which was not reset", fence.id)
	}
	sem.signaled = false

	sub := &submission{fence: fence}
	fence.pending = sub
	g.queue = append(g.queue, sub)
	return nil
}

func (g *GPU) Present(swapchain frame.Swapchain, image int, wait frame.Semaphore) error {
	g.Presents++
	n := g.Presents

	sc := swapchain.(*Swapchain)
	sem := wait.(*Semaphore)
	if sc.destroyed {
		return g.violate("present to destroyed swapchain %d", sc.id)
	}
	if sem.destroyed {
		return g.violate("present waits on destroyed semaphore %d", sem.id)
	}
	if !sem.signaled {
		return g.violate("present waits on semaphore %d which nothing signaled", sem.id)
	}
	sem.signaled = false
	delete(sc.held, image)

	if err := g.PresentErrors[n]; err != nil {
		return err
	}
	sc.Presented = append(sc.Presented, image)
	return nil
}

// BuildSwapchain is a frame.SwapchainBuilderFunc.
func (g *GPU) BuildSwapchain(prev frame.Swapchain, size frame.Extent) (frame.Swapchain, error) {
	g.SwapchainBuilds = append(g.SwapchainBuilds, SwapchainBuild{Prev: prev, Size: size})

	if prev != nil {
		if p, ok := prev.(*Swapchain); ok && p.destroyed {
			return nil, g.violate("swapchain hint %d was already destroyed", p.id)
		}
	}
	if err := g.SwapchainErrors[len(g.SwapchainBuilds)]; err != nil {
		return nil, err
	}
	if size.Empty() {
		return nil, errors.Wrapf(frame.ErrZeroExtent, "fakegpu: build swapchain at %dx%d", size.Width, size.Height)
	}

	images := g.ImageCount
	if images == 0 {
		images = DefaultImageCount
	}

	g.created.Swapchains++
	sc := &Swapchain{gpu: g, id: g.id(), images: images, extent: size, held: make(map[int]bool)}
	if g.OnBuildSwapchain != nil {
		g.OnBuildSwapchain(sc)
	}
	return sc, nil
}

// BuildRenderTarget is a frame.RenderTargetBuilderFunc.
func (g *GPU) BuildRenderTarget(swapchain frame.Swapchain) (frame.RenderTarget, error) {
	sc := swapchain.(*Swapchain)
	if sc.destroyed {
		return nil, g.violate("render target built for destroyed swapchain %d", sc.id)
	}
	g.created.RenderTargets++
	return &RenderTarget{gpu: g, id: g.id(), swapchain: sc}, nil
}

// Record is a frame.RecordFunc. It binds the framebuffer to the command
// buffer so Submit can tell which image the work writes.
func (g *GPU) Record(rec frame.Recording) error {
	buffer := rec.CommandBuffer.(*CommandBuffer)
	fb := rec.Framebuffer.(*Framebuffer)

	if buffer.freed {
		return g.violate("record into freed command buffer %d", buffer.id)
	}
	if buffer.pending != nil && !buffer.pending.completed {
		return g.violate("record into command buffer %d while it is still pending", buffer.id)
	}
	if !buffer.reset {
		return g.violate("record into command buffer %d without resetting it", buffer.id)
	}
	if fb.destroyed {
		return g.violate("record against destroyed framebuffer %d", fb.id)
	}
	if fb.target != rec.Target {
		return g.violate("framebuffer %d does not belong to the recording's render target", fb.id)
	}

	buffer.reset = false
	buffer.framebuffer = fb
	g.Recordings = append(g.Recordings, rec)
	if g.OnRecord != nil {
		g.OnRecord(rec)
	}
	return nil
}
