// Command triangle draws a single triangle into a resizable window and keeps
// drawing through resizes, minimization and shader rebuilds.
package main

//go:generate glslc ../../shaders/shader.vert -o ../../shaders/vert.spv
//go:generate glslc ../../shaders/shader.frag -o ../../shaders/frag.spv

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"runtime"
	"time"
	"unsafe"

	"github.com/vkngwrapper/frameloop/config"
	"github.com/vkngwrapper/frameloop/frame"
	"github.com/vkngwrapper/frameloop/internal/shaderwatch"
	"github.com/vkngwrapper/frameloop/internal/window"
	"github.com/vkngwrapper/frameloop/vkng"
)

type TriangleApplication struct {
	cfg config.Config
	log *slog.Logger

	window  *window.Window
	session *vkng.Session
	frames  *frame.Orchestrator
	watcher *shaderwatch.Watcher
}

func main() {
	// SDL and the presentation engine want the main thread.
	runtime.LockOSThread()

	configPath := flag.String("config", "triangle.toml", "path to the TOML configuration")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	if *dumpConfig {
		data, err := cfg.Encode()
		if err != nil {
			log.Fatalf("%+v\n", err)
		}
		os.Stdout.Write(data)
		return
	}

	level, err := cfg.Debug.Level()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	app := &TriangleApplication{
		cfg: cfg,
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	err = app.Run()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}

func (app *TriangleApplication) Run() error {
	procAddr, err := window.LoadVulkan()
	if err != nil {
		return err
	}
	defer window.Quit()

	err = app.init(procAddr)
	defer app.cleanup()
	if err != nil {
		return err
	}

	return app.mainLoop()
}

func (app *TriangleApplication) init(procAddr unsafe.Pointer) error {
	var err error
	app.window, err = window.New(window.Options{
		Title:     app.cfg.Window.Title,
		Width:     app.cfg.Window.Width,
		Height:    app.cfg.Window.Height,
		Resizable: app.cfg.Window.Resizable,
	})
	if err != nil {
		return err
	}

	app.session, err = vkng.NewSession(vkng.SessionOptions{
		ApplicationName: app.cfg.Window.Title,
		Target:          vkng.Windowed{Window: app.window.SDL()},
		ProcAddr:        procAddr,
		Validation:      app.cfg.Debug.Validation,
		Logger:          app.log.With("source", "vulkan"),
	})
	if err != nil {
		return err
	}

	device, err := app.session.FrameDevice()
	if err != nil {
		return err
	}

	settings, err := vkng.ParseSwapchainSettings(
		app.cfg.Swapchain.ImageCount,
		app.cfg.Swapchain.Formats,
		app.cfg.Swapchain.ColorSpace,
		app.cfg.Swapchain.PresentModes,
	)
	if err != nil {
		return err
	}

	swapchains, err := vkng.NewSwapchainBuilder(app.session, settings)
	if err != nil {
		return err
	}

	targets := vkng.NewRenderTargetBuilder(app.session, app.cfg.Shaders.Vertex, app.cfg.Shaders.Fragment)
	recorder := vkng.NewTriangleRecorder(app.session,
		app.cfg.Render.ClearColor,
		app.cfg.Render.PulseColor,
		time.Duration(app.cfg.Render.PulsePeriod),
	)

	app.frames, err = frame.New(frame.Dependencies{
		Device:            device,
		Surface:           app.window,
		BuildSwapchain:    swapchains.Build,
		BuildRenderTarget: targets.Build,
		Record:            recorder.Record,
	}, frame.Options{
		FramesInFlight:   app.cfg.Frames.InFlight,
		MaxStaleRebuilds: app.cfg.Frames.MaxStaleRebuilds,
		Logger:           app.log.With("source", "frame"),
	})
	if err != nil {
		return err
	}

	if app.cfg.Shaders.Watch {
		app.watcher, err = shaderwatch.New(app.log, shaderwatch.DefaultQuiet, app.reloadShader,
			app.cfg.Shaders.Vertex, app.cfg.Shaders.Fragment)
		if err != nil {
			return err
		}
	}

	return nil
}

// reloadShader runs on the watcher's goroutine. A file that does not hold a
// complete module yet is ignored; the write that completes it reports again.
func (app *TriangleApplication) reloadShader(path string) {
	err := vkng.CheckShader(path)
	if err != nil {
		app.log.Warn("ignoring shader change", "path", path, "error", err)
		return
	}

	app.log.Info("shader changed, rebuilding", "path", path)
	app.frames.RequestRebuild()
}

const skippedFrameWait = 50 * time.Millisecond

func (app *TriangleApplication) mainLoop() error {
	for {
		if app.window.WaitRestored(app.frames.RequestRebuild) {
			break
		}

		outcome, err := app.frames.DrawFrame()
		if err != nil {
			return err
		}

		// A zero-sized drawable can outlast the minimize event, or come
		// without one.
		if outcome == frame.OutcomeSkipped && app.window.Idle(skippedFrameWait, app.frames.RequestRebuild) {
			break
		}
	}

	stats := app.frames.Stats()
	app.log.Info("frame loop finished",
		"presented", stats.Presented,
		"invalidated", stats.Invalidated,
		"aborted", stats.Aborted,
		"skipped", stats.Skipped,
		"rebuilds", stats.Rebuilds,
		"stale_rebuilds", stats.StaleRebuilds,
		"fps", stats.FPS(),
	)
	return nil
}

func (app *TriangleApplication) cleanup() {
	if app.watcher != nil {
		err := app.watcher.Close()
		if err != nil {
			app.log.Warn("close shader watcher", "error", err)
		}
	}

	if app.frames != nil {
		err := app.frames.Close()
		if err != nil {
			app.log.Error("close frame loop", "error", err)
		}
	}

	if app.session != nil {
		app.session.Destroy()
	}

	if app.window != nil {
		app.window.Destroy()
	}
}
