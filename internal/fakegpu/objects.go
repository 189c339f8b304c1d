package fakegpu

import (
	"sync"

	"github.com/vkngwrapper/frameloop/frame"
)

type Fence struct {
	gpu       *GPU
	id        int
	signaled  bool
	pending   *submission
	destroyed bool
}

// Wait completes queued work up to this fence's submission. Waiting on an
// unsignaled fence with nothing queued would hang a real device, so it is a
// violation here.
func (f *Fence) Wait() error {
	if f.destroyed {
		return f.gpu.violate("wait on destroyed fence %d", f.id)
	}
	if f.signaled {
		return nil
	}
	if f.pending == nil {
		return f.gpu.violate("wait on fence %d would never return", f.id)
	}
	f.gpu.BlockingWaits++
	f.gpu.completeThrough(f.pending)
	return nil
}

func (f *Fence) Reset() error {
	if f.destroyed {
		return f.gpu.violate("reset of destroyed fence %d", f.id)
	}
	if f.pending != nil {
		return f.gpu.violate("reset of fence %d while its submission is pending", f.id)
	}
	f.signaled = false
	return nil
}

func (f *Fence) Destroy() {
	if f.destroyed {
		f.gpu.violate("double destroy of fence %d", f.id)
		return
	}
	if f.pending != nil && !f.pending.completed {
		f.gpu.violate("destroy of fence %d while its submission is pending", f.id)
	}
	f.destroyed = true
	f.gpu.destroyed.Fences++
}

func (f *Fence) Signaled() bool {
	return f.signaled
}

func (f *Fence) Destroyed() bool {
	return f.destroyed
}

type Semaphore struct {
	gpu       *GPU
	id        int
	signaled  bool
	destroyed bool
}

func (s *Semaphore) Destroy() {
	if s.destroyed {
		s.gpu.violate("double destroy of semaphore %d", s.id)
		return
	}
	if s.signaled {
		s.gpu.violate("destroy of semaphore %d with a signal nothing waited on", s.id)
	}
	s.destroyed = true
	s.gpu.destroyed.Semaphores++
}

type CommandBuffer struct {
	gpu         *GPU
	id          int
	reset       bool
	freed       bool
	framebuffer *Framebuffer
	pending     *submission
}

func (b *CommandBuffer) Reset() error {
	if b.freed {
		return b.gpu.violate("reset of freed command buffer %d", b.id)
	}
	if b.pending != nil && !b.pending.completed {
		return b.gpu.violate("reset of command buffer %d while it is still pending", b.id)
	}
	b.reset = true
	b.framebuffer = nil
	return nil
}

func (b *CommandBuffer) Free() {
	if b.freed {
		b.gpu.violate("double free of command buffer %d", b.id)
		return
	}
	if b.pending != nil && !b.pending.completed {
		b.gpu.violate("free of command buffer %d while it is still pending", b.id)
	}
	b.freed = true
	b.gpu.destroyed.CommandBuffers++
}

type Framebuffer struct {
	gpu       *GPU
	id        int
	target    *RenderTarget
	swapchain *Swapchain
	image     int
	destroyed bool
}

func (f *Framebuffer) Destroy() {
	if f.destroyed {
		f.gpu.violate("double destroy of framebuffer %d", f.id)
		return
	}
	f.destroyed = true
	f.gpu.destroyed.Framebuffers++
}

type Swapchain struct {
	gpu       *GPU
	id        int
	images    int
	extent    frame.Extent
	next      int
	held      map[int]bool
	destroyed bool

	// Acquired and Presented list every image index acquired from and
	// presented to this swapchain, in call order.
	Acquired  []int
	Presented []int
}

func (s *Swapchain) ImageCount() int {
	return s.images
}

func (s *Swapchain) Extent() frame.Extent {
	return s.extent
}

func (s *Swapchain) Destroy() {
	if s.destroyed {
		s.gpu.violate("double destroy of swapchain %d", s.id)
		return
	}
	for key, sub := range s.gpu.writers {
		if key.swapchain == s.id && !sub.completed {
			s.gpu.violate("destroy of swapchain %d while image %d is being written", s.id, key.image)
		}
	}
	s.destroyed = true
	s.gpu.destroyed.Swapchains++
}

func (s *Swapchain) Destroyed() bool {
	return s.destroyed
}

type RenderTarget struct {
	gpu       *GPU
	id        int
	swapchain *Swapchain
	destroyed bool
}

func (r *RenderTarget) Destroy() {
	if r.destroyed {
		r.gpu.violate("double destroy of render target %d", r.id)
		return
	}
	r.destroyed = true
	r.gpu.destroyed.RenderTargets++
}

// Surface is a window stand-in whose size a test can change at any time,
// including from another goroutine.
type Surface struct {
	mu     sync.Mutex
	size   frame.Extent
	script []frame.Extent
	calls  int
}

func NewSurface(width, height int) *Surface {
	return &Surface{size: frame.Extent{Width: width, Height: height}}
}

// Resize sets the size returned from now on.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = frame.Extent{Width: width, Height: height}
	s.script = nil
}

// Script queues sizes that successive Dimensions calls return one at a time.
// The last one sticks.
func (s *Surface) Script(sizes ...frame.Extent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script[:0], sizes...)
}

func (s *Surface) Dimensions() frame.Extent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) > 0 {
		s.size = s.script[0]
		s.script = s.script[1:]
	}
	return s.size
}

// Calls is the number of times Dimensions has been called.
func (s *Surface) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
