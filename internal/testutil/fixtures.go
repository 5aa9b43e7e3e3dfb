package testutil

import (
	"time"

	"github.com/resonate-home/resonate/pkg/models"
)

// NewDevice returns a Device with sensible defaults, suitable for test fixtures.
// Override individual fields via options as needed.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		DeviceID:        "A1B2C3D4E5F6",
		Address:         "192.168.1.100",
		Name:            "Living Room",
		Model:           "SoundTouch 20",
		FirmwareVersion: "27.0.6.46330",
		FirstSeen:       time.Now().UTC(),
		LastSeen:        time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithDeviceID sets the device identifier.
func WithDeviceID(id string) func(*models.Device) {
	return func(d *models.Device) { d.DeviceID = id }
}

// WithAddress sets the device's network address.
func WithAddress(addr string) func(*models.Device) {
	return func(d *models.Device) { d.Address = addr }
}

// WithName sets the device's friendly name.
func WithName(name string) func(*models.Device) {
	return func(d *models.Device) { d.Name = name }
}

// WithModel sets the device's model name.
func WithModel(model string) func(*models.Device) {
	return func(d *models.Device) { d.Model = model }
}

// WithLastSeen sets the device's last_seen timestamp.
func WithLastSeen(t time.Time) func(*models.Device) {
	return func(d *models.Device) { d.LastSeen = t }
}

// WithCapabilities sets the device's capability snapshot.
func WithCapabilities(caps *models.CapabilitySet) func(*models.Device) {
	return func(d *models.Device) { d.Capabilities = caps }
}

// NewDiscoveredDevice returns a DiscoveredDevice fixture.
func NewDiscoveredDevice(opts ...func(*models.DiscoveredDevice)) models.DiscoveredDevice {
	dd := models.DiscoveredDevice{
		Address:      "192.168.1.100",
		DeviceID:     "A1B2C3D4E5F6",
		Manufacturer: "Bose Corporation",
		Source:       models.DiscoverySSDP,
	}
	for _, opt := range opts {
		opt(&dd)
	}
	return dd
}

// WithDiscoveredAddress sets the discovered device's address.
func WithDiscoveredAddress(addr string) func(*models.DiscoveredDevice) {
	return func(dd *models.DiscoveredDevice) { dd.Address = addr }
}

// WithDiscoveredID sets the discovered device's identifier.
func WithDiscoveredID(id string) func(*models.DiscoveredDevice) {
	return func(dd *models.DiscoveredDevice) { dd.DeviceID = id }
}
