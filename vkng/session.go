// Package vkng implements the frame package's collaborators on top of
// vkngwrapper: a device session, a swapchain builder, a render target
// builder and a command recorder that draws one triangle.
package vkng

import (
	"context"
	"io"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

// Target says what the session renders to. It is either Headless or
// Windowed.
type Target interface {
	target()
}

// Headless sessions have a graphics queue and no surface or swapchain.
type Headless struct{}

// Windowed sessions present to an SDL window. The window must have been
// created with sdl.WINDOW_VULKAN.
type Windowed struct {
	Window *sdl.Window
}

func (Headless) target() {}
func (Windowed) target() {}

type SessionOptions struct {
	ApplicationName string
	Target          Target

	// ProcAddr is vkGetInstanceProcAddr, usually from
	// sdl.VulkanGetVkGetInstanceProcAddr.
	ProcAddr unsafe.Pointer

	Validation bool
	// DeviceExtensions are required on top of the swapchain extension that
	// windowed sessions always enable.
	DeviceExtensions []string

	Logger *slog.Logger
}

// Session owns the instance, the logical device, its queues and a command
// pool whose buffers can be reset individually.
type Session struct {
	log *slog.Logger

	globalDriver   core1_0.GlobalDriver
	instance       core1_0.Instance
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	window             *sdl.Window
	surfaceExtension   khr_surface.ExtensionDriver
	surface            khr_surface.Surface
	swapchainExtension khr_swapchain.ExtensionDriver

	physicalDevice core1_0.PhysicalDevice
	graphicsFamily int
	presentFamily  int
	graphicsQueue  core1_0.Queue
	presentQueue   core1_0.Queue

	commandPool core1_0.CommandPool
}

// NewSession brings up a device for opts.Target. On failure everything
// created so far is released.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.ProcAddr == nil {
		return nil, errors.New("vkng: SessionOptions.ProcAddr is nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Session{
		log:            opts.Logger,
		graphicsFamily: -1,
		presentFamily:  -1,
	}
	switch t := opts.Target.(type) {
	case Headless:
	case Windowed:
		if t.Window == nil {
			return nil, errors.New("vkng: Windowed target has no window")
		}
		s.window = t.Window
	default:
		return nil, errors.Newf("vkng: unsupported target %T", opts.Target)
	}

	err := s.init(opts)
	if err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Session) init(opts SessionOptions) error {
	var err error
	s.globalDriver, err = core.CreateDriverFromProcAddr(opts.ProcAddr)
	if err != nil {
		return errors.Wrap(err, "load vulkan")
	}

	err = s.createInstance(opts)
	if err != nil {
		return err
	}

	err = s.setupDebugMessenger(opts)
	if err != nil {
		return err
	}

	err = s.createSurface()
	if err != nil {
		return err
	}

	deviceExtensions := append([]string(nil), opts.DeviceExtensions...)
	if s.Windowed() {
		deviceExtensions = append(deviceExtensions, khr_swapchain.ExtensionName)
	}

	err = s.pickPhysicalDevice(deviceExtensions)
	if err != nil {
		return err
	}

	err = s.createLogicalDevice(deviceExtensions)
	if err != nil {
		return err
	}

	return s.createCommandPool()
}

func (s *Session) createInstance(opts SessionOptions) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "frameloop",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := s.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}

	if s.window != nil {
		for _, ext := range s.window.VulkanGetInstanceExtensions() {
			_, hasExt := extensions[ext]
			if !hasExt {
				return errors.Newf("createInstance: cannot initialize sdl: missing extension %s", ext)
			}
			instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
		}
	}

	if opts.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if opts.Validation {
		layers, _, err := s.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "enumerate instance layers")
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("createInstance: cannot add validation- layer %s not available- install LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		// Catches messages from instance creation itself.
		instanceOptions.Next = s.debugMessengerOptions()
	}

	instance, _, err := s.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "create instance")
	}

	s.instanceDriver, err = s.globalDriver.BuildInstanceDriver(instance)
	if err != nil {
		return errors.Wrap(err, "load instance functions")
	}
	s.instance = instance

	return nil
}

func (s *Session) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    s.logDebug,
	}
}

func (s *Session) setupDebugMessenger(opts SessionOptions) error {
	if !opts.Validation {
		return nil
	}

	var err error
	s.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(s.instanceDriver)
	s.debugMessenger, _, err = s.debugDriver.CreateDebugUtilsMessenger(nil, s.debugMessengerOptions())
	if err != nil {
		return errors.Wrap(err, "create debug messenger")
	}

	return nil
}

func (s *Session) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	s.log.Log(context.Background(), level, data.Message, "type", msgType.String(), "severity", severity.String())
	return false
}

func (s *Session) createSurface() error {
	if s.window == nil {
		return nil
	}

	s.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(s.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(s.instance, s.surfaceExtension, s.window)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}

	s.surface = surface
	return nil
}

// pickPhysicalDevice takes the first device with the queues and extensions
// the session needs.
func (s *Session) pickPhysicalDevice(deviceExtensions []string) error {
	physicalDevices, _, err := s.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}

	for _, device := range physicalDevices {
		graphics, present, ok, err := s.findQueueFamilies(device)
		if err != nil {
			return err
		}
		if !ok || !s.supportsExtensions(device, deviceExtensions) {
			continue
		}

		if s.Windowed() {
			adequate, err := s.swapchainAdequate(device)
			if err != nil {
				return err
			}
			if !adequate {
				continue
			}
		}

		s.physicalDevice = device
		s.graphicsFamily = graphics
		s.presentFamily = present
		return nil
	}

	return errors.New("failed to find a suitable GPU!")
}

// findQueueFamilies prefers a single family that does both graphics and
// presentation.
func (s *Session) findQueueFamilies(device core1_0.PhysicalDevice) (graphics, present int, ok bool, err error) {
	graphics, present = -1, -1
	queueFamilies := s.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		isGraphics := (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0
		if isGraphics && graphics < 0 {
			graphics = queueFamilyIdx
		}

		if !s.Windowed() {
			continue
		}

		supported, _, err := s.surfaceExtension.GetPhysicalDeviceSurfaceSupport(s.surface, device, queueFamilyIdx)
		if err != nil {
			return -1, -1, false, errors.Wrapf(err, "query present support of queue family %d", queueFamilyIdx)
		}

		if supported && isGraphics {
			return queueFamilyIdx, queueFamilyIdx, true, nil
		}
		if supported && present < 0 {
			present = queueFamilyIdx
		}
	}

	if !s.Windowed() {
		return graphics, graphics, graphics >= 0, nil
	}
	return graphics, present, graphics >= 0 && present >= 0, nil
}

func (s *Session) supportsExtensions(device core1_0.PhysicalDevice, required []string) bool {
	extensions, _, err := s.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}

	for _, extension := range required {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (s *Session) swapchainAdequate(device core1_0.PhysicalDevice) (bool, error) {
	formats, _, err := s.surfaceExtension.GetPhysicalDeviceSurfaceFormats(s.surface, device)
	if err != nil {
		return false, errors.Wrap(err, "query surface formats")
	}

	presentModes, _, err := s.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(s.surface, device)
	if err != nil {
		return false, errors.Wrap(err, "query present modes")
	}

	return len(formats) > 0 && len(presentModes) > 0, nil
}

func (s *Session) createLogicalDevice(deviceExtensions []string) error {
	uniqueQueueFamilies := []int{s.graphicsFamily}
	if s.presentFamily != s.graphicsFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, s.presentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	extensionNames := append([]string(nil), deviceExtensions...)

	// Required on portability implementations such as MoltenVK.
	extensions, _, err := s.instanceDriver.EnumerateDeviceExtensionProperties(s.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "enumerate device extensions")
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := s.instanceDriver.CreateDevice(s.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "create device")
	}

	s.deviceDriver, err = s.instanceDriver.BuildDeviceDriver(device)
	if err != nil {
		return errors.Wrap(err, "load device functions")
	}

	s.graphicsQueue = s.deviceDriver.GetQueue(s.graphicsFamily, 0)
	s.presentQueue = s.deviceDriver.GetQueue(s.presentFamily, 0)

	if s.Windowed() {
		s.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(s.deviceDriver)
	}
	return nil
}

func (s *Session) createCommandPool() error {
	pool, _, err := s.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: s.graphicsFamily,
	})
	if err != nil {
		return errors.Wrap(err, "create command pool")
	}

	s.commandPool = pool
	return nil
}

// Windowed reports whether the session has a surface to present to.
func (s *Session) Windowed() bool {
	return s.window != nil
}

// QueueFamilies returns the graphics and present family indices. They are
// equal for headless sessions.
func (s *Session) QueueFamilies() (graphics, present int) {
	return s.graphicsFamily, s.presentFamily
}

// WaitIdle blocks until the device has finished all submitted work.
func (s *Session) WaitIdle() error {
	_, err := s.deviceDriver.DeviceWaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	return nil
}

// Destroy releases everything in reverse creation order. It does not
// destroy the window.
func (s *Session) Destroy() {
	if s.commandPool.Initialized() {
		s.deviceDriver.DestroyCommandPool(s.commandPool, nil)
		s.commandPool = core1_0.CommandPool{}
	}

	if s.deviceDriver != nil {
		s.deviceDriver.DestroyDevice(nil)
		s.deviceDriver = nil
	}

	if s.debugMessenger.Initialized() {
		s.debugDriver.DestroyDebugUtilsMessenger(s.debugMessenger, nil)
		s.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if s.surface.Initialized() {
		s.surfaceExtension.DestroySurface(s.surface, nil)
		s.surface = khr_surface.Surface{}
	}

	if s.instanceDriver != nil {
		s.instanceDriver.DestroyInstance(nil)
		s.instanceDriver = nil
	}
}
