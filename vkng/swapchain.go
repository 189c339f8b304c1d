package vkng

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/frameloop/frame"
	"github.com/vkngwrapper/frameloop/internal/pick"
)

// SwapchainSettings are preferences, not requirements. Each list is tried in
// order and anything the surface does not support is skipped.
type SwapchainSettings struct {
	ImageCount   int
	Formats      []core1_0.Format
	ColorSpace   khr_surface.ColorSpace
	PresentModes []khr_surface.PresentMode
}

// Swapchain is one generation of presentable images and their views.
type Swapchain struct {
	driver    core1_0.CoreDeviceDriver
	extension khr_swapchain.ExtensionDriver

	handle      khr_swapchain.Swapchain
	images      []core1_0.Image
	views       []core1_0.ImageView
	format      core1_0.Format
	presentMode khr_surface.PresentMode
	extent      frame.Extent
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) Extent() frame.Extent {
	return s.extent
}

func (s *Swapchain) Format() core1_0.Format {
	return s.format
}

func (s *Swapchain) PresentMode() khr_surface.PresentMode {
	return s.presentMode
}

func (s *Swapchain) Destroy() {
	for _, imageView := range s.views {
		s.driver.DestroyImageView(imageView, nil)
	}
	s.views = nil

	if s.handle.Initialized() {
		s.extension.DestroySwapchain(s.handle, nil)
		s.handle = khr_swapchain.Swapchain{}
	}
}

type SwapchainBuilder struct {
	session  *Session
	settings SwapchainSettings
}

func NewSwapchainBuilder(session *Session, settings SwapchainSettings) (*SwapchainBuilder, error) {
	if !session.Windowed() {
		return nil, errors.New("vkng: headless sessions have no surface to build a swapchain for")
	}
	return &SwapchainBuilder{session: session, settings: settings}, nil
}

type swapchainSupport struct {
	capabilities *khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func (b *SwapchainBuilder) querySupport() (swapchainSupport, error) {
	var support swapchainSupport
	var err error
	s := b.session

	support.capabilities, _, err = s.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(s.surface, s.physicalDevice)
	if err != nil {
		return support, errors.Wrap(err, "query surface capabilities")
	}

	support.formats, _, err = s.surfaceExtension.GetPhysicalDeviceSurfaceFormats(s.surface, s.physicalDevice)
	if err != nil {
		return support, errors.Wrap(err, "query surface formats")
	}

	support.presentModes, _, err = s.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(s.surface, s.physicalDevice)
	if err != nil {
		return support, errors.Wrap(err, "query present modes")
	}
	return support, nil
}

func (b *SwapchainBuilder) chooseSurfaceFormat(available []khr_surface.SurfaceFormat) (khr_surface.SurfaceFormat, bool) {
	return pick.PreferredFunc(available, b.settings.Formats, func(option khr_surface.SurfaceFormat, format core1_0.Format) bool {
		return option.Format == format && option.ColorSpace == b.settings.ColorSpace
	})
}

func (b *SwapchainBuilder) choosePresentMode(available []khr_surface.PresentMode) khr_surface.PresentMode {
	mode, ok := pick.Preferred(available, b.settings.PresentModes...)
	if !ok {
		// FIFO support is mandatory.
		return khr_surface.PresentModeFIFO
	}
	return mode
}

// chooseExtent uses the surface's own extent unless it leaves the choice to
// the swapchain, in which case size is clamped to the supported range.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, size frame.Extent) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	return core1_0.Extent2D{
		Width:  pick.Clamp(size.Width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: pick.Clamp(size.Height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

// Build is a frame.SwapchainBuilderFunc. prev, when set, is handed to the
// driver as the old swapchain and is left for the caller to destroy.
func (b *SwapchainBuilder) Build(prev frame.Swapchain, size frame.Extent) (frame.Swapchain, error) {
	s := b.session

	support, err := b.querySupport()
	if err != nil {
		return nil, err
	}

	extent := chooseExtent(support.capabilities, size)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Wrapf(frame.ErrZeroExtent, "surface extent %dx%d", extent.Width, extent.Height)
	}

	surfaceFormat, ok := b.chooseSurfaceFormat(support.formats)
	if !ok {
		return nil, errors.New("surface reports no formats")
	}
	presentMode := b.choosePresentMode(support.presentModes)

	imageCount := b.settings.ImageCount
	if imageCount == 0 {
		imageCount = support.capabilities.MinImageCount + 1
	}
	imageCount = pick.Clamp(imageCount, support.capabilities.MinImageCount, support.capabilities.MaxImageCount)

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int
	if s.graphicsFamily != s.presentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, s.graphicsFamily, s.presentFamily)
	}

	var oldSwapchain khr_swapchain.Swapchain
	if old, ok := prev.(*Swapchain); ok && old != nil {
		oldSwapchain = old.handle
	}

	handle, res, err := s.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: s.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
		OldSwapchain:   oldSwapchain,
	})
	if res == khr_swapchain.VKErrorOutOfDate {
		return nil, errors.Mark(errors.Wrap(resultError(err, res), "create swapchain"), frame.ErrOutOfDate)
	}
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	swapchain := &Swapchain{
		driver:      s.deviceDriver,
		extension:   s.swapchainExtension,
		handle:      handle,
		format:      surfaceFormat.Format,
		presentMode: presentMode,
		extent:      frame.Extent{Width: extent.Width, Height: extent.Height},
	}

	err = swapchain.createImageViews()
	if err != nil {
		swapchain.Destroy()
		return nil, err
	}

	return swapchain, nil
}

func (s *Swapchain) createImageViews() error {
	images, _, err := s.extension.GetSwapchainImages(s.handle)
	if err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	s.images = images

	for i, image := range images {
		view, _, err := s.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   s.format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return errors.Wrapf(err, "create view for swapchain image %d", i)
		}

		s.views = append(s.views, view)
	}

	return nil
}
