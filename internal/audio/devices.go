package audio

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Device describes one ALSA capture device.
type Device struct {
	Card       int
	CardName   string
	Device     int
	DeviceName string
}

// ALSAName returns the plughw address used with arecord's -D flag.
func (d Device) ALSAName() string {
	return fmt.Sprintf("plughw:%d,%d", d.Card, d.Device)
}

// String renders a line suitable for a selection menu.
func (d Device) String() string {
	return fmt.Sprintf("%s  card %d [%s], device %d [%s]",
		d.ALSAName(), d.Card, d.CardName, d.Device, d.DeviceName)
}

// card 1: Device [USB Audio Device], device 0: USB Audio [USB Audio]
var deviceLineRe = regexp.MustCompile(
	`^card (\d+): [^\[]*\[([^\]]+)\], device (\d+): [^\[]*\[([^\]]+)\]`)

// ListDevices enumerates capture devices via `arecord -l`.
func ListDevices(ctx context.Context, binary string) ([]Device, error) {
	if binary == "" {
		binary = defaultBinary
	}

	out, err := exec.CommandContext(ctx, binary, "-l").Output()
	if err != nil {
		return nil, fmt.Errorf("listing capture devices: %w", err)
	}
	return parseDeviceList(string(out)), nil
}

// parseDeviceList extracts device entries from arecord -l output.
func parseDeviceList(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		m := deviceLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		card, _ := strconv.Atoi(m[1])
		dev, _ := strconv.Atoi(m[3])
		devices = append(devices, Device{
			Card:       card,
			CardName:   m[2],
			Device:     dev,
			DeviceName: m[4],
		})
	}
	return devices
}
