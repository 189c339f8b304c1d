package vkng

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/frameloop/frame"
)

// Device adapts a windowed Session to frame.Device.
type Device struct {
	session *Session
}

// FrameDevice returns the session as a frame.Device. Only windowed sessions
// can acquire and present.
func (s *Session) FrameDevice() (*Device, error) {
	if !s.Windowed() {
		return nil, errors.New("vkng: headless sessions cannot present")
	}
	return &Device{session: s}, nil
}

type fence struct {
	driver core1_0.CoreDeviceDriver
	handle core1_0.Fence
}

func (f *fence) Wait() error {
	_, err := f.driver.WaitForFences(true, common.NoTimeout, f.handle)
	return errors.Wrap(err, "wait for fence")
}

func (f *fence) Reset() error {
	_, err := f.driver.ResetFences(f.handle)
	return errors.Wrap(err, "reset fence")
}

func (f *fence) Destroy() {
	f.driver.DestroyFence(f.handle, nil)
}

type semaphore struct {
	driver core1_0.CoreDeviceDriver
	handle core1_0.Semaphore
}

func (s *semaphore) Destroy() {
	s.driver.DestroySemaphore(s.handle, nil)
}

type commandBuffer struct {
	driver core1_0.CoreDeviceDriver
	handle core1_0.CommandBuffer
}

func (b *commandBuffer) Reset() error {
	_, err := b.driver.ResetCommandBuffer(b.handle, 0)
	return errors.Wrap(err, "reset command buffer")
}

func (b *commandBuffer) Free() {
	b.driver.FreeCommandBuffers(b.handle)
}

type framebuffer struct {
	driver core1_0.CoreDeviceDriver
	handle core1_0.Framebuffer
}

func (f *framebuffer) Destroy() {
	f.driver.DestroyFramebuffer(f.handle, nil)
}

func (d *Device) WaitIdle() error {
	return d.session.WaitIdle()
}

func (d *Device) CreateFence(signaled bool) (frame.Fence, error) {
	info := core1_0.FenceCreateInfo{}
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	handle, _, err := d.session.deviceDriver.CreateFence(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create fence")
	}
	return &fence{driver: d.session.deviceDriver, handle: handle}, nil
}

func (d *Device) CreateSemaphore() (frame.Semaphore, error) {
	handle, _, err := d.session.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, errors.Wrap(err, "create semaphore")
	}
	return &semaphore{driver: d.session.deviceDriver, handle: handle}, nil
}

func (d *Device) AllocateCommandBuffer() (frame.CommandBuffer, error) {
	buffers, _, err := d.session.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.session.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate command buffer")
	}
	return &commandBuffer{driver: d.session.deviceDriver, handle: buffers[0]}, nil
}

func (d *Device) CreateFramebuffer(target frame.RenderTarget, swapchain frame.Swapchain, image int) (frame.Framebuffer, error) {
	rt, ok := target.(*RenderTarget)
	if !ok {
		return nil, errors.Newf("vkng: render target %T was not built by vkng", target)
	}
	sc, ok := swapchain.(*Swapchain)
	if !ok {
		return nil, errors.Newf("vkng: swapchain %T was not built by vkng", swapchain)
	}

	handle, _, err := d.session.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass: rt.renderPass,
		Layers:     1,
		Attachments: []core1_0.ImageView{
			sc.views[image],
		},
		Width:  sc.extent.Width,
		Height: sc.extent.Height,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create framebuffer for image %d", image)
	}
	return &framebuffer{driver: d.session.deviceDriver, handle: handle}, nil
}

func (d *Device) AcquireNextImage(swapchain frame.Swapchain, signal frame.Semaphore) (int, error) {
	sc := swapchain.(*Swapchain)
	sem := signal.(*semaphore)

	imageIndex, res, err := d.session.swapchainExtension.AcquireNextImage(sc.handle, common.NoTimeout, &sem.handle, nil)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return 0, errors.Mark(errors.Wrap(resultError(err, res), "acquire next image"), frame.ErrOutOfDate)
	case err != nil:
		return 0, errors.Wrap(err, "acquire next image")
	case res == khr_swapchain.VKSuboptimal:
		return imageIndex, errors.Mark(errors.Newf("acquire next image: %s", res), frame.ErrSuboptimal)
	}
	return imageIndex, nil
}

func (d *Device) Submit(submission frame.Submission) error {
	buffer := submission.CommandBuffer.(*commandBuffer)
	wait := submission.Wait.(*semaphore)
	signal := submission.Signal.(*semaphore)
	inFlight := submission.Fence.(*fence)

	_, err := d.session.deviceDriver.QueueSubmit(d.session.graphicsQueue, &inFlight.handle,
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{wait.handle},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			CommandBuffers:   []core1_0.CommandBuffer{buffer.handle},
			SignalSemaphores: []core1_0.Semaphore{signal.handle},
		},
	)
	return errors.Wrapf(err, "submit image %d", submission.Image)
}

func (d *Device) Drain(wait frame.Semaphore, signal frame.Fence) error {
	sem := wait.(*semaphore)
	inFlight := signal.(*fence)

	_, err := d.session.deviceDriver.QueueSubmit(d.session.graphicsQueue, &inFlight.handle,
		core1_0.SubmitInfo{
			WaitSemaphores:   []core1_0.Semaphore{sem.handle},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		},
	)
	return errors.Wrap(err, "drain image-available semaphore")
}

func (d *Device) Present(swapchain frame.Swapchain, image int, wait frame.Semaphore) error {
	sc := swapchain.(*Swapchain)
	sem := wait.(*semaphore)

	res, err := d.session.swapchainExtension.QueuePresent(d.session.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{sem.handle},
		Swapchains:     []khr_swapchain.Swapchain{sc.handle},
		ImageIndices:   []int{image},
	})
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return errors.Mark(errors.Wrapf(resultError(err, res), "present image %d", image), frame.ErrOutOfDate)
	case err != nil:
		return errors.Wrapf(err, "present image %d", image)
	case res == khr_swapchain.VKSuboptimal:
		return errors.Mark(errors.Newf("present image %d: %s", image, res), frame.ErrSuboptimal)
	}
	return nil
}

// resultError makes sure a non-success result carries an error even when the
// driver returned none.
func resultError(err error, res common.VkResult) error {
	if err != nil {
		return err
	}
	return errors.Newf("vulkan result %s", res)
}
