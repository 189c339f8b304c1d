// Package frame drives the per-frame acquire/record/submit/present loop over
// a swapchain and rebuilds every size-dependent resource when the surface
// changes underneath it.
//
// The package never talks to a graphics API directly. Everything it touches
// is an opaque handle handed out by a Device or by one of the builder funcs in
// Dependencies, so a backend (see package vkng) or a simulated GPU can sit
// behind it.
package frame

// Extent is a width/height pair in pixels.
type Extent struct {
	Width  int
	Height int
}

// Empty reports whether either dimension is zero, as happens while a window
// is minimized.
func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

type Offset struct {
	X int
	Y int
}

type Rect struct {
	Offset Offset
	Extent Extent
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Fence is a GPU->CPU completion signal.
type Fence interface {
	// Wait blocks until the fence is signaled. There is no timeout.
	Wait() error
	Reset() error
	Destroy()
}

// Semaphore is a GPU->GPU ordering primitive.
type Semaphore interface {
	Destroy()
}

type CommandBuffer interface {
	Reset() error
	Free()
}

type Framebuffer interface {
	Destroy()
}

// Swapchain is one generation of presentable images. All images share the
// same format and extent.
type Swapchain interface {
	ImageCount() int
	Extent() Extent
	// Destroy releases the image views and the swapchain handle.
	Destroy()
}

// RenderTarget is a render pass plus the pipeline built against it.
type RenderTarget interface {
	Destroy()
}

// Device is the logical device together with its graphics and present
// queues.
type Device interface {
	WaitIdle() error

	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	AllocateCommandBuffer() (CommandBuffer, error)
	CreateFramebuffer(target RenderTarget, swapchain Swapchain, image int) (Framebuffer, error)

	// AcquireNextImage returns an error marked ErrOutOfDate when the
	// swapchain no longer matches the surface. ErrSuboptimal may accompany a
	// valid image index.
	AcquireNextImage(swapchain Swapchain, signal Semaphore) (int, error)
	Submit(submission Submission) error
	// Drain submits a batch with no command buffers that waits on wait and
	// signals fence, consuming an acquire whose frame will not be submitted.
	Drain(wait Semaphore, fence Fence) error
	// Present returns an error marked ErrOutOfDate or ErrSuboptimal when the
	// swapchain needs rebuilding.
	Present(swapchain Swapchain, image int, wait Semaphore) error
}

// Submission is one command buffer sent to the graphics queue. The wait
// happens at the color-attachment-output stage.
type Submission struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	Signal        Semaphore
	Fence         Fence
	Image         int
}

// Surface supplies the current drawable dimensions.
type Surface interface {
	Dimensions() Extent
}

// SurfaceFunc adapts a plain function to Surface.
type SurfaceFunc func() Extent

func (f SurfaceFunc) Dimensions() Extent {
	return f()
}

// Recording is everything a RecordFunc needs to fill a command buffer for one
// frame.
type Recording struct {
	CommandBuffer CommandBuffer
	Target        RenderTarget
	Framebuffer   Framebuffer
	Image         int
	Extent        Extent
	Viewport      Viewport
	Scissor       Rect
}

type (
	// SwapchainBuilderFunc builds a new swapchain for size. prev is the
	// swapchain being replaced, or nil on first build, and stays owned by the
	// caller.
	SwapchainBuilderFunc func(prev Swapchain, size Extent) (Swapchain, error)
	// RenderTargetBuilderFunc builds a render pass and pipeline compatible
	// with swapchain.
	RenderTargetBuilderFunc func(swapchain Swapchain) (RenderTarget, error)
	// RecordFunc records draw commands for one frame.
	RecordFunc func(rec Recording) error
)

// Dependencies are the collaborators supplied to New once at startup.
type Dependencies struct {
	Device            Device
	Surface           Surface
	BuildSwapchain    SwapchainBuilderFunc
	BuildRenderTarget RenderTargetBuilderFunc
	Record            RecordFunc
}
