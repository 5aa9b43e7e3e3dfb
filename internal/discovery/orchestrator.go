package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/resonate-home/resonate/pkg/models"
)

// maxDescriptionSize bounds how much of a device description we read.
// Real descriptions are a few KB; anything bigger is misbehaving.
const maxDescriptionSize = 256 * 1024

// InfoQuerier answers a direct identity query against a device address.
// Satisfied by the soundtouch client; manual IP entries bypass multicast
// and are queried through this instead.
type InfoQuerier interface {
	Info(ctx context.Context, addr string) (*models.DeviceInformation, error)
}

// Config holds the orchestrator's filtering and fallback settings.
type Config struct {
	// Manufacturer is the exact manufacturer string multicast responses
	// must carry. Manual entries are exempt: the operator added them.
	Manufacturer string

	// ManualIPs are addresses queried directly, merged into every
	// discovery result regardless of the manufacturer filter.
	ManualIPs []string
}

// Orchestrator drives the transport, filters and deduplicates responses,
// and merges in manually configured addresses.
type Orchestrator struct {
	transport Transport
	http      *http.Client
	info      InfoQuerier
	logger    *zap.Logger
	cfg       Config
}

// NewOrchestrator wires an Orchestrator. httpClient is used for device
// description fetches; pass a client with a sensible timeout.
func NewOrchestrator(transport Transport, httpClient *http.Client, info InfoQuerier, logger *zap.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		http:      httpClient,
		info:      info,
		logger:    logger,
		cfg:       cfg,
	}
}

// Discover runs one multicast search, keeps responses from the configured
// manufacturer, dedupes by device identifier (last response wins), then
// merges manual entries. Manual entries are processed last, so on an
// identifier collision the manual entry wins. If the multicast transport
// fails entirely, manual entries are still returned; discovery only fails
// outright when there is no fallback source.
func (o *Orchestrator) Discover(ctx context.Context, timeout time.Duration) ([]models.DiscoveredDevice, error) {
	byID := make(map[string]models.DiscoveredDevice)

	responses, err := o.transport.Search(ctx, timeout)
	if err != nil {
		if len(o.cfg.ManualIPs) == 0 {
			return nil, fmt.Errorf("multicast search: %w", err)
		}
		o.logger.Warn("multicast search failed, continuing with manual addresses",
			zap.Error(err),
			zap.Int("manual_count", len(o.cfg.ManualIPs)),
		)
	}

	for _, raw := range responses {
		dev, ok := o.fromResponse(ctx, raw)
		if !ok {
			continue
		}
		if dev.Manufacturer != o.cfg.Manufacturer {
			o.logger.Debug("skipping foreign device",
				zap.String("manufacturer", dev.Manufacturer),
				zap.String("location", raw.Location),
			)
			continue
		}
		byID[dev.DeviceID] = dev
	}

	for _, ip := range o.cfg.ManualIPs {
		dev := o.fromManual(ctx, ip)
		byID[dev.DeviceID] = dev
	}

	devices := make([]models.DiscoveredDevice, 0, len(byID))
	for _, dev := range byID {
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })

	o.logger.Info("discovery complete",
		zap.Int("responses", len(responses)),
		zap.Int("manual", len(o.cfg.ManualIPs)),
		zap.Int("devices", len(devices)),
	)
	return devices, nil
}

// fromResponse fetches the device description behind one SSDP response and
// extracts identity fields. A response that cannot be fetched or yields no
// identifier is dropped with a debug log; one bad device must not abort
// the batch.
func (o *Orchestrator) fromResponse(ctx context.Context, raw RawResponse) (models.DiscoveredDevice, bool) {
	body, err := o.fetchDescription(ctx, raw.Location)
	if err != nil {
		o.logger.Debug("description fetch failed",
			zap.String("location", raw.Location),
			zap.Error(err),
		)
		return models.DiscoveredDevice{}, false
	}

	fields := Extract(body, fieldManufacturer, fieldUDN, fieldFriendlyName)
	id := deviceIDFromUDN(fields[fieldUDN])
	if id == "" {
		o.logger.Debug("description without device identifier",
			zap.String("location", raw.Location),
		)
		return models.DiscoveredDevice{}, false
	}

	return models.DiscoveredDevice{
		Address:      hostFromLocation(raw.Location),
		DeviceID:     id,
		Manufacturer: fields[fieldManufacturer],
		Location:     raw.Location,
		Source:       models.DiscoverySSDP,
	}, true
}

// fromManual builds a DiscoveredDevice for a manually configured address.
// The identity query is best-effort: an unreachable manual entry is still
// included, keyed by its address, so the sync pass can report the failure
// instead of silently dropping an operator-configured device.
func (o *Orchestrator) fromManual(ctx context.Context, ip string) models.DiscoveredDevice {
	dev := models.DiscoveredDevice{
		Address:  ip,
		DeviceID: ip,
		Source:   models.DiscoveryManual,
	}

	info, err := o.info.Info(ctx, ip)
	if err != nil {
		o.logger.Warn("manual address query failed",
			zap.String("ip", ip),
			zap.Error(err),
		)
		return dev
	}
	if info.DeviceID != "" {
		dev.DeviceID = info.DeviceID
	}
	return dev
}

func (o *Orchestrator) fetchDescription(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// hostFromLocation returns the bare host part of a description URL.
func hostFromLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
