package models

import "time"

// DiscoverySource indicates how a device entered a discovery result set.
type DiscoverySource string

const (
	DiscoverySSDP   DiscoverySource = "ssdp"
	DiscoveryManual DiscoverySource = "manual"
)

// DiscoveredDevice is the ephemeral product of one discovery run: enough
// identity to reach the speaker and decide whether it belongs to us.
// It is consumed by the sync service and never persisted.
type DiscoveredDevice struct {
	Address      string          `json:"address"`
	DeviceID     string          `json:"device_id"`
	Manufacturer string          `json:"manufacturer"`
	Location     string          `json:"location,omitempty"`
	Source       DiscoverySource `json:"source"`
}

// NetworkInterface describes one network interface reported by a speaker.
// Some hardware reports more than one (e.g. the radio interface plus a
// management interface); the first entry is authoritative for reachability.
type NetworkInterface struct {
	Kind       string `json:"kind,omitempty"`
	MACAddress string `json:"mac_address"`
	IPAddress  string `json:"ip_address"`
}

// DeviceInformation is the live identity a speaker reports from its info
// endpoint. It is queried fresh on every sync and merged into the persisted
// Device record rather than stored as-is.
type DeviceInformation struct {
	DeviceID        string             `json:"device_id"`
	Name            string             `json:"name"`
	Model           string             `json:"model"`
	Interfaces      []NetworkInterface `json:"interfaces"`
	FirmwareVersion string             `json:"firmware_version,omitempty"`
	ModuleType      string             `json:"module_type,omitempty"`
	Variant         string             `json:"variant,omitempty"`
}

// Address returns the reachable IP address for the device: the first
// reported interface. Callers must not assume exactly one interface exists.
func (di *DeviceInformation) Address() string {
	if len(di.Interfaces) == 0 {
		return ""
	}
	return di.Interfaces[0].IPAddress
}

// CapabilitySet records what a speaker can do. The Endpoints set (the
// device's own supported-URL manifest) is the single source of truth;
// the boolean flags are derived from it plus targeted probes and exist
// for callers that want a direct answer.
type CapabilitySet struct {
	Endpoints       map[string]bool `json:"endpoints"`
	BassControl     bool            `json:"bass_control"`
	HDMIControl     bool            `json:"hdmi_control"`
	AudioDSPControl bool            `json:"audio_dsp_control"`
}

// SupportsEndpoint reports whether the device's manifest lists the path.
func (c *CapabilitySet) SupportsEndpoint(path string) bool {
	return c.Endpoints[path]
}

// Device is the persisted registry record for a speaker, keyed by the
// stable device identifier. Address and LastSeen are refreshed on every
// sync; discovery never deletes a record.
type Device struct {
	DeviceID        string         `json:"device_id"`
	Address         string         `json:"address"`
	Name            string         `json:"name"`
	Model           string         `json:"model"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	Capabilities    *CapabilitySet `json:"capabilities,omitempty"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
}

// SyncResult summarizes one sync pass. All three counts are always
// present; Discovered == Synced + Failed.
type SyncResult struct {
	Discovered int `json:"discovered"`
	Synced     int `json:"synced"`
	Failed     int `json:"failed"`
}

// SyncRun is the persisted record of one background or triggered sync
// pass, kept for operator history.
type SyncRun struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	Status     string `json:"status"`
	Discovered int    `json:"discovered"`
	Synced     int    `json:"synced"`
	Failed     int    `json:"failed"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}
