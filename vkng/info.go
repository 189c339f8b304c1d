package vkng

import (
	"fmt"
	"io"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/maps"
)

type QueueFamilyInfo struct {
	Index int
	Count int
	Flags string
}

// DeviceInfo summarizes the physical device a session picked.
type DeviceInfo struct {
	Name       string
	Type       string
	APIVersion string
	Driver     string

	GraphicsFamily int
	PresentFamily  int
	QueueFamilies  []QueueFamilyInfo

	Extensions []string
}

func (s *Session) Describe() (DeviceInfo, error) {
	properties, err := s.instanceDriver.GetPhysicalDeviceProperties(s.physicalDevice)
	if err != nil {
		return DeviceInfo{}, errors.Wrap(err, "query device properties")
	}

	extensions, _, err := s.instanceDriver.EnumerateDeviceExtensionProperties(s.physicalDevice)
	if err != nil {
		return DeviceInfo{}, errors.Wrap(err, "enumerate device extensions")
	}

	graphics, present := s.QueueFamilies()
	families := s.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(s.physicalDevice)
	return newDeviceInfo(properties, families, maps.Keys(extensions), graphics, present), nil
}

func newDeviceInfo(properties *core1_0.PhysicalDeviceProperties, families []*core1_0.QueueFamilyProperties, extensions []string, graphics, present int) DeviceInfo {
	info := DeviceInfo{
		Name:           properties.DriverName,
		Type:           fmt.Sprint(properties.DriverType),
		APIVersion:     fmt.Sprint(properties.APIVersion),
		Driver:         fmt.Sprint(properties.DriverVersion),
		GraphicsFamily: graphics,
		PresentFamily:  present,
	}

	for i, family := range families {
		info.QueueFamilies = append(info.QueueFamilies, QueueFamilyInfo{
			Index: i,
			Count: family.QueueCount,
			Flags: fmt.Sprint(family.QueueFlags),
		})
	}

	info.Extensions = append([]string(nil), extensions...)
	slices.Sort(info.Extensions)
	return info
}

// Print writes info in the indented layout vkinfo uses.
func (info DeviceInfo) Print(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "%s\n", info.Name)
	fmt.Fprintf(w, "  type:        %s\n", info.Type)
	fmt.Fprintf(w, "  api version: %s\n", info.APIVersion)
	fmt.Fprintf(w, "  driver:      %s\n", info.Driver)

	fmt.Fprintf(w, "  queue families:\n")
	for _, family := range info.QueueFamilies {
		var role string
		switch {
		case family.Index == info.GraphicsFamily && family.Index == info.PresentFamily:
			role = " (graphics, present)"
		case family.Index == info.GraphicsFamily:
			role = " (graphics)"
		case family.Index == info.PresentFamily:
			role = " (present)"
		}
		fmt.Fprintf(w, "    %d: queues=%d flags=%s%s\n", family.Index, family.Count, family.Flags, role)
	}

	fmt.Fprintf(w, "  extensions: %d\n", len(info.Extensions))
	if verbose {
		for _, extension := range info.Extensions {
			fmt.Fprintf(w, "    %s\n", extension)
		}
	}
}
