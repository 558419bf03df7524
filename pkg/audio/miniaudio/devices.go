package miniaudio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// Device describes one capture device known to the backend.
type Device struct {
	ID   string
	Name string
}

// ListCaptureDevices enumerates the capture devices currently available.
// It opens and tears down its own miniaudio context, so it can be called
// without a running [Source].
func ListCaptureDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	defer teardownContext(mctx)

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: enumerate capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:   deviceIDString(info.ID),
			Name: info.Name(),
		})
	}
	return devices, nil
}

// findCaptureDevice resolves a case-insensitive name substring to a device
// ID within an existing context.
func findCaptureDevice(mctx *malgo.AllocatedContext, nameSubstring string) (*malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: enumerate capture devices: %w", err)
	}
	want := strings.ToLower(nameSubstring)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			id := info.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("miniaudio: no capture device matching %q", nameSubstring)
}

// deviceIDString renders a device ID as a printable string for listings.
func deviceIDString(id malgo.DeviceID) string {
	var b strings.Builder
	for _, c := range id[:] {
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}
