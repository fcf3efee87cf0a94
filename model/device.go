package model

import (
	"fmt"
	"strings"
)

// Device is the profile agents are created with.
type Device struct {
	Name      string `yaml:"name" json:"name"`
	OSVersion string `yaml:"os_version" json:"osVersion"`
}

// DefaultDevice is used when the configuration does not name one.
func DefaultDevice() Device {
	return Device{Name: "iPhone 8", OSVersion: "13.0"}
}

// Runtime is the OS runtime version the device requires.
func (d Device) Runtime() string {
	return d.OSVersion
}

// RuntimeIdentifier is the simulator runtime identifier, e.g.
// com.apple.CoreSimulator.SimRuntime.iOS-13-0.
func (d Device) RuntimeIdentifier() string {
	return "com.apple.CoreSimulator.SimRuntime.iOS-" + strings.ReplaceAll(d.OSVersion, ".", "-")
}

// PointSize returns the device screen size in points, portrait orientation.
func (d Device) PointSize() (width, height int) {
	name := strings.ToLower(d.Name)
	switch {
	case strings.Contains(name, "ipad pro (12.9"):
		return 1024, 1366
	case strings.Contains(name, "ipad pro (11"), strings.Contains(name, "ipad air"):
		return 834, 1194
	case strings.Contains(name, "ipad"):
		return 768, 1024
	case strings.Contains(name, "max"), strings.Contains(name, "xr"):
		return 414, 896
	case strings.Contains(name, "iphone x"), strings.Contains(name, "pro"):
		return 375, 812
	case strings.Contains(name, "11"):
		return 414, 896
	case strings.Contains(name, "plus"):
		return 414, 736
	case strings.Contains(name, "se"), strings.Contains(name, "5"):
		return 320, 568
	default:
		return 375, 667
	}
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.OSVersion)
}

// Agent is an isolated test-execution instance bound to one node.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Device Device `json:"device"`
}

func (a Agent) String() string {
	return a.Name + "-" + a.ID
}

// Placement pairs an agent with the node hosting it.
type Placement struct {
	Agent Agent
	Node  Node
}
