package frame_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/frameloop/frame"
	"github.com/vkngwrapper/frameloop/internal/fakegpu"
)

func newOrchestrator(t *testing.T, gpu *fakegpu.GPU, surface *fakegpu.Surface, opts frame.Options) *frame.Orchestrator {
	t.Helper()
	o, err := frame.New(gpu.Dependencies(surface), opts)
	require.NoError(t, err)
	return o
}

func draw(t *testing.T, o *frame.Orchestrator) frame.Outcome {
	t.Helper()
	outcome, err := o.DrawFrame()
	require.NoError(t, err)
	return outcome
}

func assertClean(t *testing.T, gpu *fakegpu.GPU) {
	t.Helper()
	assert.Empty(t, gpu.Hazards, "write-after-write hazards")
	assert.Empty(t, gpu.Violations, "synchronization violations")
}

func currentSwapchain(t *testing.T, o *frame.Orchestrator) *fakegpu.Swapchain {
	t.Helper()
	sc, ok := o.Swapchain().(*fakegpu.Swapchain)
	require.True(t, ok, "orchestrator has no swapchain")
	return sc
}

func TestNewValidatesDependencies(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)

	deps := gpu.Dependencies(surface)
	deps.Record = nil
	_, err := frame.New(deps, frame.Options{})
	assert.Error(t, err)

	deps = gpu.Dependencies(surface)
	deps.Device = nil
	_, err = frame.New(deps, frame.Options{})
	assert.Error(t, err)

	_, err = frame.New(gpu.Dependencies(surface), frame.Options{FramesInFlight: -1})
	assert.Error(t, err)
}

func TestFirstFrameBuildsSwapchain(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	assert.Equal(t, frame.StateNeedsRebuild, o.State())
	assert.Nil(t, o.Swapchain())
	assert.Equal(t, frame.DefaultFramesInFlight, o.FramesInFlight())
	assert.Equal(t, frame.DefaultFramesInFlight, gpu.Live().CommandBuffers)

	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, frame.StateReady, o.State())
	assert.Equal(t, frame.Extent{Width: 800, Height: 600}, o.Swapchain().Extent())
	assert.Equal(t, 1, o.Stats().Rebuilds)
	assert.Equal(t, fakegpu.DefaultImageCount, gpu.Live().Framebuffers)
	assertClean(t, gpu)
}

func TestViewportMatchesExtent(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(1280, 720)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	draw(t, o)

	require.Len(t, gpu.Recordings, 1)
	rec := gpu.Recordings[0]
	assert.Equal(t, frame.Viewport{Width: 1280, Height: 720, MaxDepth: 1}, rec.Viewport)
	assert.Equal(t, frame.Rect{Extent: frame.Extent{Width: 1280, Height: 720}}, rec.Scissor)
	assert.Equal(t, rec.Viewport, o.Viewport())
	assert.Equal(t, rec.Scissor, o.Scissor())
}

func TestHazardFreeUnderRandomResizes(t *testing.T) {
	for _, tc := range []struct {
		name   string
		frames int
		images int
	}{
		{"1x1", 1, 1},
		{"2x3", 2, 3},
		{"3x2", 3, 2},
		{"2x2", 2, 2},
		{"4x3", 4, 3},
		{"3x5", 3, 5},
	} {
		for _, shuffled := range []bool{false, true} {
			name := tc.name
			if shuffled {
				name += "/shuffled"
			}
			t.Run(name, func(t *testing.T) {
				runRandomResizes(t, tc.frames, tc.images, shuffled)
			})
		}
	}
}

func runRandomResizes(t *testing.T, frames, images int, shuffled bool) {
	rng := rand.New(rand.NewSource(int64(frames*100 + images)))

	gpu := fakegpu.New()
	gpu.ImageCount = images
	if shuffled {
		gpu.AcquireOrder = rand.New(rand.NewSource(int64(frames*1000 + images)))
	}
	gpu.AcquireErrors = map[int]error{}
	gpu.PresentErrors = map[int]error{}
	for i := 0; i < 40; i++ {
		gpu.AcquireErrors[1+rng.Intn(600)] = fakegpu.OutOfDate("acquire")
		gpu.PresentErrors[1+rng.Intn(600)] = fakegpu.OutOfDate("present")
	}
	for i := 0; i < 10; i++ {
		gpu.PresentErrors[1+rng.Intn(600)] = fakegpu.Suboptimal("present")
	}

	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: frames})

	var swapchains []*fakegpu.Swapchain
	gpu.OnBuildSwapchain = func(sc *fakegpu.Swapchain) {
		swapchains = append(swapchains, sc)
	}
	gpu.OnRecord = func(frame.Recording) {
		if rng.Intn(20) == 0 {
			o.RequestRebuild()
		}
	}

	for i := 0; i < 500; i++ {
		switch rng.Intn(25) {
		case 0:
			surface.Resize(100+rng.Intn(1000), 100+rng.Intn(1000))
			o.RequestRebuild()
		case 1:
			surface.Resize(0, 0)
			o.RequestRebuild()
		case 2:
			surface.Resize(640, 480)
		}
		draw(t, o)
	}

	require.NoError(t, o.Close())
	assertClean(t, gpu)
	assert.Zero(t, gpu.Live().Total(), "leaked objects: %+v", gpu.Live())

	if shuffled && images > 1 {
		assert.True(t, anyOutOfOrder(swapchains), "every swapchain handed images out round-robin")
	}
}

func anyOutOfOrder(swapchains []*fakegpu.Swapchain) bool {
	for _, sc := range swapchains {
		for i, image := range sc.Acquired {
			if image != i%sc.ImageCount() {
				return true
			}
		}
	}
	return false
}

func TestConcurrentRebuildRequests(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			o.RequestRebuild()
		}
	}()

	for i := 0; i < 200; i++ {
		draw(t, o)
	}
	wg.Wait()

	// Drain any request that landed after the last frame.
	draw(t, o)
	assert.Equal(t, frame.StateReady, o.State())
	assertClean(t, gpu)
}

func TestRebuildSettlesOnFinalDimensions(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	draw(t, o)
	first := currentSwapchain(t, o)
	builds := len(gpu.SwapchainBuilds)

	surface.Script(
		frame.Extent{Width: 900, Height: 600},
		frame.Extent{Width: 1000, Height: 650},
		frame.Extent{Width: 1100, Height: 700},
		frame.Extent{Width: 1200, Height: 750},
	)
	o.RequestRebuild()

	assert.Equal(t, frame.OutcomePresented, draw(t, o))

	attempts := gpu.SwapchainBuilds[builds:]
	require.Len(t, attempts, 4)
	assert.Equal(t, frame.Extent{Width: 900, Height: 600}, attempts[0].Size)
	assert.Equal(t, frame.Extent{Width: 1200, Height: 750}, attempts[3].Size)

	// Each attempt hands the previous swapchain to the builder.
	assert.Same(t, first, attempts[0].Prev)
	for i := 1; i < len(attempts); i++ {
		assert.NotNil(t, attempts[i].Prev)
		assert.NotSame(t, first, attempts[i].Prev)
	}

	assert.Equal(t, frame.Extent{Width: 1200, Height: 750}, o.Swapchain().Extent())
	assert.Equal(t, 1, gpu.Live().Swapchains)
	assert.Equal(t, 1, gpu.Live().RenderTargets)
	assert.Equal(t, 2, o.Stats().Rebuilds)
	assert.Equal(t, 3, o.Stats().StaleRebuilds)
	assert.Equal(t, frame.Extent{Width: 1200, Height: 750}, gpu.Recordings[len(gpu.Recordings)-1].Extent)
	assertClean(t, gpu)
}

func TestRebuildGivesUpAfterMaxStaleAttempts(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{MaxStaleRebuilds: 2})

	width := 800
	gpu.OnBuildSwapchain = func(*fakegpu.Swapchain) {
		width += 10
		surface.Resize(width, 600)
	}

	assert.Equal(t, frame.OutcomeSkipped, draw(t, o))
	assert.Equal(t, frame.StateNeedsRebuild, o.State())
	assert.Equal(t, 2, o.Stats().StaleRebuilds)
	assert.Equal(t, 0, o.Stats().Rebuilds)
	assert.Equal(t, 1, gpu.Live().Swapchains)

	gpu.OnBuildSwapchain = nil
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, frame.Extent{Width: width, Height: 600}, o.Swapchain().Extent())
	assert.Equal(t, 1, gpu.Live().Swapchains)
	assertClean(t, gpu)
}

func TestCursorAdvancesOnlyOnPresent(t *testing.T) {
	gpu := fakegpu.New()
	gpu.AcquireErrors = map[int]error{3: fakegpu.OutOfDate("acquire")}
	gpu.PresentErrors = map[int]error{3: fakegpu.OutOfDate("present")}
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: 3})

	abortNextRecord := false
	gpu.OnRecord = func(frame.Recording) {
		if abortNextRecord {
			abortNextRecord = false
			o.RequestRebuild()
		}
	}

	assert.Equal(t, 0, o.Cursor())
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, 1, o.Cursor())
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, 2, o.Cursor())

	// Acquire #3 is out of date.
	assert.Equal(t, frame.OutcomeAborted, draw(t, o))
	assert.Equal(t, 2, o.Cursor())
	assert.Equal(t, frame.StateNeedsRebuild, o.State())

	// Rebuild, then present #3 is out of date after the submit went through.
	submits := gpu.Submits
	assert.Equal(t, frame.OutcomeInvalidated, draw(t, o))
	assert.Equal(t, submits+1, gpu.Submits)
	assert.Equal(t, 2, o.Cursor())

	// A rebuild request arriving during recording aborts before submit.
	abortNextRecord = true
	submits = gpu.Submits
	assert.Equal(t, frame.OutcomeAborted, draw(t, o))
	assert.Equal(t, submits, gpu.Submits)
	assert.Equal(t, 1, gpu.Drains)
	assert.Equal(t, 2, o.Cursor())
	assert.Equal(t, frame.StateNeedsRebuild, o.State())

	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, 0, o.Cursor())

	stats := o.Stats()
	assert.Equal(t, 3, stats.Presented)
	assert.Equal(t, 2, stats.Aborted)
	assert.Equal(t, 1, stats.Invalidated)
	assert.Equal(t, 4, stats.Frames())
	assertClean(t, gpu)
}

func TestAbortBeforeSubmitConsumesAcquire(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: 1})

	draw(t, o)

	gpu.OnRecord = func(frame.Recording) {
		surface.Resize(1024, 768)
		o.RequestRebuild()
	}
	assert.Equal(t, frame.OutcomeAborted, draw(t, o))
	assert.Equal(t, 1, gpu.Drains)
	assert.Equal(t, 1, gpu.Submits)
	assert.Equal(t, 1, gpu.Pending(), "drain is queued")

	// The rebuild destroys the slot's semaphores and fence. Neither may still
	// carry the aborted acquire.
	gpu.OnRecord = nil
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, frame.Extent{Width: 1024, Height: 768}, o.Swapchain().Extent())
	assert.Equal(t, 2, o.Stats().Rebuilds)

	// The single slot now waits on its recreated fence.
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assertClean(t, gpu)
}

func TestMarkersTrackLastWriter(t *testing.T) {
	gpu := fakegpu.New()
	gpu.ImageCount = 3
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: 2})

	for i := 0; i < 10; i++ {
		require.Equal(t, frame.OutcomePresented, draw(t, o))

		sc := currentSwapchain(t, o)
		for image := 0; image < sc.ImageCount(); image++ {
			writer := gpu.LastWriter(sc, image)
			marker := o.ImageFence(image)
			if writer == nil {
				assert.Nil(t, marker, "frame %d image %d", i, image)
				continue
			}
			require.NotNil(t, marker, "frame %d image %d", i, image)
			assert.Same(t, writer, marker, "frame %d image %d", i, image)
			assert.False(t, writer.Destroyed(), "frame %d image %d", i, image)
		}
	}

	assert.Nil(t, o.ImageFence(-1))
	assert.Nil(t, o.ImageFence(3))
	assertClean(t, gpu)
}

func TestOutOfDateAcquireRecovers(t *testing.T) {
	gpu := fakegpu.New()
	gpu.AcquireErrors = map[int]error{5: fakegpu.OutOfDate("acquire")}
	surface := fakegpu.NewSurface(800, 600)
	gpu.OnAcquire = func(n int) {
		if n == 5 {
			surface.Resize(1024, 768)
		}
	}
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	for i := 1; i <= 4; i++ {
		require.Equal(t, frame.OutcomePresented, draw(t, o), "frame %d", i)
	}
	old := currentSwapchain(t, o)

	assert.Equal(t, frame.OutcomeAborted, draw(t, o))
	assert.Equal(t, frame.StateNeedsRebuild, o.State())

	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, frame.StateReady, o.State())
	assert.True(t, old.Destroyed())

	sc := currentSwapchain(t, o)
	assert.Equal(t, frame.Extent{Width: 1024, Height: 768}, sc.Extent())
	assert.Equal(t, []int{0}, sc.Presented)
	assert.Equal(t, frame.Extent{Width: 1024, Height: 768}, gpu.Recordings[len(gpu.Recordings)-1].Extent)

	// Only the image presented since the rebuild is claimed.
	assert.NotNil(t, o.ImageFence(0))
	for image := 1; image < sc.ImageCount(); image++ {
		assert.Nil(t, o.ImageFence(image))
	}
	assertClean(t, gpu)
}

func TestZeroExtentPostponesRebuild(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	for i := 0; i < 3; i++ {
		draw(t, o)
	}

	surface.Resize(0, 0)
	o.RequestRebuild()

	builds := len(gpu.SwapchainBuilds)
	for i := 0; i < 5; i++ {
		outcome, err := o.DrawFrame()
		require.NoError(t, err)
		assert.Equal(t, frame.OutcomeSkipped, outcome)
		assert.Equal(t, frame.StateNeedsRebuild, o.State())
	}
	assert.Equal(t, builds, len(gpu.SwapchainBuilds), "no swapchain is built at zero extent")
	assert.Equal(t, 5, o.Stats().Skipped)

	surface.Resize(1024, 768)
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, frame.Extent{Width: 1024, Height: 768}, o.Swapchain().Extent())
	assert.Equal(t, 1, gpu.Live().Swapchains)
	assertClean(t, gpu)
}

func TestZeroExtentFromBuilderIsRecoverable(t *testing.T) {
	gpu := fakegpu.New()
	gpu.SwapchainErrors = map[int]error{
		1: errors.Wrap(frame.ErrZeroExtent, "surface minimized"),
		2: fakegpu.OutOfDate("create swapchain"),
	}
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	assert.Equal(t, frame.OutcomeSkipped, draw(t, o))
	assert.Equal(t, frame.OutcomeSkipped, draw(t, o))
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assertClean(t, gpu)
}

func TestSingleSlotSingleImageSerializes(t *testing.T) {
	gpu := fakegpu.New()
	gpu.ImageCount = 1
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: 1})

	for i := 0; i < 100; i++ {
		require.Equal(t, frame.OutcomePresented, draw(t, o))
		assert.Equal(t, 0, o.Cursor())
		assert.LessOrEqual(t, gpu.Pending(), 1)
	}

	// The first frame's fence starts signaled; every later frame has to wait
	// for the one before it.
	assert.Equal(t, 99, gpu.BlockingWaits)
	assertClean(t, gpu)
}

func TestMoreSlotsThanImagesWaitsOnMarker(t *testing.T) {
	gpu := fakegpu.New()
	gpu.ImageCount = 2
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: 3})

	for i := 0; i < 3; i++ {
		draw(t, o)
	}

	// Frame 3 runs on a fresh slot but lands on image 0, still owned by
	// frame 1, so only the marker wait keeps it ordered.
	assert.Equal(t, 1, gpu.BlockingWaits)
	assertClean(t, gpu)
}

func TestSuboptimalPresentSchedulesRebuild(t *testing.T) {
	gpu := fakegpu.New()
	gpu.PresentErrors = map[int]error{2: fakegpu.Suboptimal("present")}
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	draw(t, o)
	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, 0, o.Cursor())
	assert.Equal(t, frame.StateNeedsRebuild, o.State())

	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, 2, o.Stats().Rebuilds)
	assertClean(t, gpu)
}

func TestSuboptimalAcquireStillPresents(t *testing.T) {
	gpu := fakegpu.New()
	gpu.AcquireErrors = map[int]error{1: fakegpu.Suboptimal("acquire")}
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{})

	assert.Equal(t, frame.OutcomePresented, draw(t, o))
	assert.Equal(t, 1, gpu.Presents)
	assert.Equal(t, frame.StateNeedsRebuild, o.State())
	assertClean(t, gpu)
}

func TestUnexpectedErrorsAreFatal(t *testing.T) {
	deviceLost := errors.New("device lost")

	t.Run("acquire", func(t *testing.T) {
		gpu := fakegpu.New()
		gpu.AcquireErrors = map[int]error{2: deviceLost}
		o := newOrchestrator(t, gpu, fakegpu.NewSurface(800, 600), frame.Options{})

		draw(t, o)
		_, err := o.DrawFrame()
		require.Error(t, err)
		assert.True(t, frame.IsFatal(err))
		assert.True(t, errors.Is(err, deviceLost))
	})

	t.Run("present", func(t *testing.T) {
		gpu := fakegpu.New()
		gpu.PresentErrors = map[int]error{1: deviceLost}
		o := newOrchestrator(t, gpu, fakegpu.NewSurface(800, 600), frame.Options{})

		_, err := o.DrawFrame()
		require.Error(t, err)
		assert.True(t, frame.IsFatal(err))
	})

	t.Run("swapchain", func(t *testing.T) {
		gpu := fakegpu.New()
		gpu.SwapchainErrors = map[int]error{1: deviceLost}
		o := newOrchestrator(t, gpu, fakegpu.NewSurface(800, 600), frame.Options{})

		_, err := o.DrawFrame()
		require.Error(t, err)
		assert.True(t, frame.IsFatal(err))
		assert.False(t, frame.IsOutOfDate(err))
	})

	t.Run("wait idle", func(t *testing.T) {
		gpu := fakegpu.New()
		gpu.WaitIdleErrors = map[int]error{1: deviceLost}
		o := newOrchestrator(t, gpu, fakegpu.NewSurface(800, 600), frame.Options{})

		_, err := o.DrawFrame()
		require.Error(t, err)
		assert.True(t, frame.IsFatal(err))
	})
}

func TestCloseReleasesEverything(t *testing.T) {
	gpu := fakegpu.New()
	surface := fakegpu.NewSurface(800, 600)
	o := newOrchestrator(t, gpu, surface, frame.Options{FramesInFlight: 3})

	for i := 0; i < 7; i++ {
		draw(t, o)
	}
	require.NotZero(t, gpu.Pending())

	require.NoError(t, o.Close())
	assert.Zero(t, gpu.Pending())
	assert.Zero(t, gpu.Live().Total(), "leaked objects: %+v", gpu.Live())
	assertClean(t, gpu)

	require.NoError(t, o.Close())

	_, err := o.DrawFrame()
	require.Error(t, err)
	assert.True(t, frame.IsFatal(err))
	assert.True(t, errors.Is(err, frame.ErrClosed))
}

func TestCloseBeforeFirstFrame(t *testing.T) {
	gpu := fakegpu.New()
	o := newOrchestrator(t, gpu, fakegpu.NewSurface(800, 600), frame.Options{})

	require.NoError(t, o.Close())
	assert.Zero(t, gpu.Live().Total())
	assertClean(t, gpu)
}
