package vkng

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/frameloop/frame"
)

// TriangleRecorder records a single hard-coded triangle over a clear color
// that drifts between two colors.
type TriangleRecorder struct {
	driver core1_0.CoreDeviceDriver

	clear  mgl32.Vec4
	pulse  mgl32.Vec4
	period time.Duration
	start  time.Duration
}

func NewTriangleRecorder(session *Session, clearColor, pulseColor [4]float32, period time.Duration) *TriangleRecorder {
	return &TriangleRecorder{
		driver: session.deviceDriver,
		clear:  clearColor,
		pulse:  pulseColor,
		period: period,
		start:  hrtime.Now(),
	}
}

// PulseColor blends from to to and back once per period. A period of zero
// or less pins the result to from.
func PulseColor(from, to mgl32.Vec4, period, elapsed time.Duration) mgl32.Vec4 {
	if period <= 0 {
		return from
	}

	phase := math.Mod(elapsed.Seconds(), period.Seconds()) / period.Seconds()
	t := float32((1 - math.Cos(2*math.Pi*phase)) / 2)
	return from.Add(to.Sub(from).Mul(t))
}

// Record is a frame.RecordFunc.
func (r *TriangleRecorder) Record(rec frame.Recording) error {
	buffer, ok := rec.CommandBuffer.(*commandBuffer)
	if !ok {
		return errors.Newf("vkng: command buffer %T was not allocated by vkng", rec.CommandBuffer)
	}
	target, ok := rec.Target.(*RenderTarget)
	if !ok {
		return errors.Newf("vkng: render target %T was not built by vkng", rec.Target)
	}
	framebuffer, ok := rec.Framebuffer.(*framebuffer)
	if !ok {
		return errors.Newf("vkng: framebuffer %T was not created by vkng", rec.Framebuffer)
	}

	color := PulseColor(r.clear, r.pulse, r.period, hrtime.Since(r.start))

	_, err := r.driver.BeginCommandBuffer(buffer.handle, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	err = r.driver.CmdBeginRenderPass(buffer.handle, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  target.renderPass,
			Framebuffer: framebuffer.handle,
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: core1_0.Extent2D{Width: rec.Extent.Width, Height: rec.Extent.Height},
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{color[0], color[1], color[2], color[3]},
			},
		})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	r.driver.CmdSetViewport(buffer.handle, []core1_0.Viewport{
		{
			X:        rec.Viewport.X,
			Y:        rec.Viewport.Y,
			Width:    rec.Viewport.Width,
			Height:   rec.Viewport.Height,
			MinDepth: rec.Viewport.MinDepth,
			MaxDepth: rec.Viewport.MaxDepth,
		},
	})
	r.driver.CmdSetScissor(buffer.handle, []core1_0.Rect2D{
		{
			Offset: core1_0.Offset2D{X: rec.Scissor.Offset.X, Y: rec.Scissor.Offset.Y},
			Extent: core1_0.Extent2D{Width: rec.Scissor.Extent.Width, Height: rec.Scissor.Extent.Height},
		},
	})

	r.driver.CmdBindPipeline(buffer.handle, core1_0.PipelineBindPointGraphics, target.pipeline)
	r.driver.CmdDraw(buffer.handle, 3, 1, 0, 0)
	r.driver.CmdEndRenderPass(buffer.handle)

	_, err = r.driver.EndCommandBuffer(buffer.handle)
	return errors.Wrap(err, "end command buffer")
}
