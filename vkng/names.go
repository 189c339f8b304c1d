package vkng

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

var formatNames = map[string]core1_0.Format{
	"B8G8R8A8_SRGB":  core1_0.FormatB8G8R8A8SRGB,
	"R8G8B8A8_SRGB":  core1_0.FormatR8G8B8A8SRGB,
	"B8G8R8A8_UNORM": core1_0.FormatB8G8R8A8UnsignedNormalized,
	"R8G8B8A8_UNORM": core1_0.FormatR8G8B8A8UnsignedNormalized,
}

var colorSpaceNames = map[string]khr_surface.ColorSpace{
	"SRGB_NONLINEAR": khr_surface.ColorSpaceSRGBNonlinear,
}

var presentModeNames = map[string]khr_surface.PresentMode{
	"IMMEDIATE":    khr_surface.PresentModeImmediate,
	"MAILBOX":      khr_surface.PresentModeMailbox,
	"FIFO":         khr_surface.PresentModeFIFO,
	"FIFO_RELAXED": khr_surface.PresentModeFIFORelaxed,
}

// normalizeName accepts both "B8G8R8A8_SRGB" and "VK_FORMAT_B8G8R8A8_SRGB"
// spellings in any case.
func normalizeName(name, prefix string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.TrimPrefix(name, prefix)
}

func ParseFormat(name string) (core1_0.Format, error) {
	format, ok := formatNames[normalizeName(name, "VK_FORMAT_")]
	if !ok {
		return 0, errors.Newf("unknown surface format %q", name)
	}
	return format, nil
}

func ParseColorSpace(name string) (khr_surface.ColorSpace, error) {
	space, ok := colorSpaceNames[normalizeName(name, "VK_COLOR_SPACE_")]
	if !ok {
		return 0, errors.Newf("unknown color space %q", name)
	}
	return space, nil
}

func ParsePresentMode(name string) (khr_surface.PresentMode, error) {
	mode, ok := presentModeNames[normalizeName(name, "VK_PRESENT_MODE_")]
	if !ok {
		return 0, errors.Newf("unknown present mode %q", name)
	}
	return mode, nil
}

// ParseSwapchainSettings converts configuration names into settings.
func ParseSwapchainSettings(imageCount int, formats []string, colorSpace string, presentModes []string) (SwapchainSettings, error) {
	settings := SwapchainSettings{ImageCount: imageCount}

	for _, name := range formats {
		format, err := ParseFormat(name)
		if err != nil {
			return SwapchainSettings{}, err
		}
		settings.Formats = append(settings.Formats, format)
	}

	space, err := ParseColorSpace(colorSpace)
	if err != nil {
		return SwapchainSettings{}, err
	}
	settings.ColorSpace = space

	for _, name := range presentModes {
		mode, err := ParsePresentMode(name)
		if err != nil {
			return SwapchainSettings{}, err
		}
		settings.PresentModes = append(settings.PresentModes, mode)
	}

	return settings, nil
}
