// Package camera handles device discovery, selection, and the capture session boundary.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Position is the mounting side a camera faces.
type Position string

const (
	PositionRear    Position = "rear"
	PositionFront   Position = "front"
	PositionUnknown Position = "unknown"
)

// Device describes one video capture node surfaced to scancam.
type Device struct {
	ID        string
	Name      string
	Position  Position
	Available bool
}

// Selection is the resolved capture device plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// ErrNoDevice reports that discovery produced no usable capture device.
var ErrNoDevice = errors.New("no video capture devices found")

// ListDevices returns V4L2 capture nodes with name/position/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	nodes, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("enumerate video nodes: %w", err)
	}
	sort.Strings(nodes)

	devices := make([]Device, 0, len(nodes))
	for _, node := range nodes {
		if !isCaptureNode(node) {
			continue
		}
		name := readSysfsName(node)
		devices = append(devices, Device{
			ID:        node,
			Name:      name,
			Position:  positionFromName(name),
			Available: nodeAccessible(node),
		})
	}
	return devices, nil
}

// SelectDevice resolves the camera.device preference against live devices.
func SelectDevice(ctx context.Context, preferred string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, preferred)
}

// selectDeviceFromList applies selection policy to a pre-fetched device list.
//
// With preferred == "" or "auto" the policy prefers a rear-facing camera and
// falls back to a front-facing one, then to any available node. An explicit
// preference matches against node path or name.
func selectDeviceFromList(devices []Device, preferred string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, ErrNoDevice
	}

	preferred = strings.TrimSpace(strings.ToLower(preferred))
	if preferred != "" && preferred != "auto" {
		for i := range devices {
			if !deviceMatches(devices[i], preferred) {
				continue
			}
			if !devices[i].Available {
				return Selection{}, fmt.Errorf("camera.device %q matched %s but it is not accessible", preferred, devices[i].ID)
			}
			return Selection{Device: devices[i]}, nil
		}
		return Selection{}, fmt.Errorf("camera.device %q did not match any device", preferred)
	}

	byPosition := func(position Position) *Device {
		for i := range devices {
			if devices[i].Position == position && devices[i].Available {
				return &devices[i]
			}
		}
		return nil
	}

	if rear := byPosition(PositionRear); rear != nil {
		return Selection{Device: *rear}, nil
	}
	if front := byPosition(PositionFront); front != nil {
		return Selection{
			Device:   *front,
			Warning:  fmt.Sprintf("no rear-facing camera; falling back to front-facing %q", front.ID),
			Fallback: true,
		}, nil
	}
	for i := range devices {
		if devices[i].Available {
			return Selection{
				Device:   devices[i],
				Warning:  fmt.Sprintf("no position metadata; using first accessible camera %q", devices[i].ID),
				Fallback: true,
			}, nil
		}
	}

	return Selection{}, fmt.Errorf("%w: %d nodes present, none accessible", ErrNoDevice, len(devices))
}

// deviceMatches reports whether a search term matches a device id or name.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	name := strings.ToLower(device.Name)
	return strings.Contains(id, term) || strings.Contains(name, term)
}

// positionFromName infers facing from driver-reported device names.
func positionFromName(name string) Position {
	lowered := strings.ToLower(name)
	switch {
	case strings.Contains(lowered, "rear") || strings.Contains(lowered, "back"):
		return PositionRear
	case strings.Contains(lowered, "front"):
		return PositionFront
	default:
		return PositionUnknown
	}
}

// readSysfsName resolves the driver-reported card name for a /dev/videoN node.
func readSysfsName(node string) string {
	base := filepath.Base(node)
	raw, err := os.ReadFile(filepath.Join("/sys/class/video4linux", base, "name"))
	if err != nil {
		return base
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return base
	}
	return name
}

// nodeAccessible reports whether the node can be opened for capture.
func nodeAccessible(node string) bool {
	f, err := os.OpenFile(node, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
