package frame

import (
	"github.com/cockroachdb/errors"
)

// rebuild replaces every size-dependent resource. It returns false without
// an error when the swapchain cannot be built right now; the orchestrator
// stays in StateNeedsRebuild and the next DrawFrame tries again.
func (o *Orchestrator) rebuild() (bool, error) {
	o.setState(StateRecreating)
	device := o.deps.Device

	// The old swapchain's images may still be referenced by in-flight work.
	err := device.WaitIdle()
	if err != nil {
		return false, Fatal(err, "wait for device idle before rebuild")
	}

	o.destroyFramebuffers()

	size := o.deps.Surface.Dimensions()
	for attempt := 1; ; attempt++ {
		if size.Empty() {
			o.log.Debug("surface has zero extent, postponing rebuild", "width", size.Width, "height", size.Height)
			o.setState(StateNeedsRebuild)
			return false, nil
		}

		// The current swapchain stays alive until its replacement exists so
		// the builder can hand it to the driver for resource reuse.
		swapchain, err := o.deps.BuildSwapchain(o.swapchain, size)
		switch {
		case err == nil:
		case errors.Is(err, ErrZeroExtent), IsOutOfDate(err):
			o.log.Debug("swapchain not buildable yet", "err", err)
			o.setState(StateNeedsRebuild)
			return false, nil
		default:
			return false, Fatal(err, "build swapchain at %dx%d", size.Width, size.Height)
		}
		if swapchain.ImageCount() < 1 {
			swapchain.Destroy()
			return false, Fatal(nil, "swapchain built with no images")
		}

		if o.swapchain != nil {
			o.swapchain.Destroy()
		}
		o.swapchain = swapchain

		current := o.deps.Surface.Dimensions()
		if current == size {
			break
		}

		o.clock.stats.StaleRebuilds++
		o.log.Debug("surface resized during rebuild",
			"built", size, "current", current, "attempt", attempt)

		if o.opts.MaxStaleRebuilds > 0 && attempt >= o.opts.MaxStaleRebuilds {
			o.log.Warn("surface keeps resizing, postponing rebuild", "attempts", attempt)
			o.setState(StateNeedsRebuild)
			return false, nil
		}
		size = current
	}

	if o.target != nil {
		o.target.Destroy()
		o.target = nil
	}

	target, err := o.deps.BuildRenderTarget(o.swapchain)
	if err != nil {
		return false, Fatal(err, "build render target")
	}
	o.target = target

	imageCount := o.swapchain.ImageCount()
	o.framebuffers = make([]Framebuffer, 0, imageCount)
	for i := 0; i < imageCount; i++ {
		framebuffer, err := device.CreateFramebuffer(o.target, o.swapchain, i)
		if err != nil {
			return false, Fatal(err, "create framebuffer %d", i)
		}
		o.framebuffers = append(o.framebuffers, framebuffer)
	}

	o.markers.reset(imageCount)

	err = o.slots.recreate(device)
	if err != nil {
		return false, Fatal(err, "recreate in-flight slots")
	}

	extent := o.swapchain.Extent()
	o.viewport = Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	o.scissor = Rect{Extent: extent}

	o.clock.stats.Rebuilds++
	o.log.Info("swapchain rebuilt",
		"width", extent.Width, "height", extent.Height, "images", imageCount, "slots", o.slots.len())
	o.setState(StateReady)
	return true, nil
}

func (o *Orchestrator) destroyFramebuffers() {
	for _, framebuffer := range o.framebuffers {
		framebuffer.Destroy()
	}
	o.framebuffers = nil
}
