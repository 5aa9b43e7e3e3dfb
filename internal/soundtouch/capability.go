package soundtouch

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/resonate-home/resonate/pkg/models"
)

// Capability endpoint paths. Availability varies by hardware variant: the
// soundbars expose HDMI CEC and DSP control, the portable units do not.
const (
	endpointSupportedURLs = "/supportedURLs"
	endpointBassCaps      = "/bassCapabilities"
	endpointHDMIControl   = "/productcechdmicontrol"
	endpointAudioDSP      = "/audiodspcontrols"
)

// ProbeStatus is the outcome of one capability probe. "Absent" is an
// expected, common result and is deliberately not modeled as an error.
type ProbeStatus int

const (
	// ProbeSupported: the endpoint answered successfully.
	ProbeSupported ProbeStatus = iota
	// ProbeUnsupported: the device answered not-found; the feature does
	// not exist on this hardware.
	ProbeUnsupported
	// ProbeFailed: the query itself failed (network error, unexpected
	// status). Treated as unsupported for capability purposes.
	ProbeFailed
)

// Resolver builds a CapabilitySet for one speaker. The device's own
// supported-URL manifest is fetched once and gates every probe: a path the
// manifest does not list is never requested.
type Resolver struct {
	client *Client
	logger *zap.Logger
}

// NewResolver creates a capability resolver on top of a speaker client.
func NewResolver(client *Client, logger *zap.Logger) *Resolver {
	return &Resolver{client: client, logger: logger}
}

// supportedURLsEnvelope mirrors the /supportedURLs payload.
type supportedURLsEnvelope struct {
	URLs []struct {
		Location string `xml:"location,attr"`
	} `xml:"URL"`
}

// bassCapsEnvelope mirrors the /bassCapabilities payload.
type bassCapsEnvelope struct {
	Available bool `xml:"bassAvailable"`
}

// Resolve queries the speaker's endpoint manifest and probes the
// capability-specific endpoints it lists. Feature absence never fails
// resolution; only a manifest that cannot be fetched at all does.
func (r *Resolver) Resolve(ctx context.Context, addr string) (*models.CapabilitySet, error) {
	status, body, err := r.client.get(ctx, addr, endpointSupportedURLs)
	if err != nil {
		return nil, fmt.Errorf("fetch endpoint manifest from %s: %w", addr, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch endpoint manifest from %s: unexpected status %d", addr, status)
	}

	var manifest supportedURLsEnvelope
	if err := xml.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("parse endpoint manifest from %s: %w", addr, err)
	}

	caps := &models.CapabilitySet{
		Endpoints: make(map[string]bool, len(manifest.URLs)),
	}
	for _, u := range manifest.URLs {
		if u.Location != "" {
			caps.Endpoints[u.Location] = true
		}
	}

	caps.BassControl = r.resolveBass(ctx, addr, caps)
	caps.HDMIControl = r.resolveProbe(ctx, addr, caps, endpointHDMIControl)
	caps.AudioDSPControl = r.resolveProbe(ctx, addr, caps, endpointAudioDSP)

	return caps, nil
}

// resolveBass handles the one capability whose probe has a body to
// inspect: the device may expose the endpoint yet report bass as
// unavailable.
func (r *Resolver) resolveBass(ctx context.Context, addr string, caps *models.CapabilitySet) bool {
	if !caps.SupportsEndpoint(endpointBassCaps) {
		return false
	}
	status, body := r.probe(ctx, addr, endpointBassCaps)
	if status != ProbeSupported {
		return false
	}
	var env bassCapsEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		r.logger.Warn("unparsable bass capabilities",
			zap.String("addr", addr),
			zap.Error(err),
		)
		return false
	}
	return env.Available
}

// resolveProbe reports whether a manifest-listed endpoint answers
// successfully. Paths absent from the manifest are not probed at all.
func (r *Resolver) resolveProbe(ctx context.Context, addr string, caps *models.CapabilitySet, path string) bool {
	if !caps.SupportsEndpoint(path) {
		return false
	}
	status, _ := r.probe(ctx, addr, path)
	return status == ProbeSupported
}

// probe issues one capability query and classifies the outcome. It never
// returns an error: not-found means the feature is absent, and anything
// else unexpected is logged and treated the same so one bad endpoint
// cannot abort resolution of the rest.
func (r *Resolver) probe(ctx context.Context, addr, path string) (ProbeStatus, []byte) {
	status, body, err := r.client.get(ctx, addr, path)
	if err != nil {
		r.logger.Warn("capability probe failed",
			zap.String("addr", addr),
			zap.String("path", path),
			zap.Error(err),
		)
		return ProbeFailed, nil
	}
	switch {
	case status == http.StatusNotFound:
		return ProbeUnsupported, nil
	case status != http.StatusOK:
		r.logger.Warn("capability probe returned unexpected status",
			zap.String("addr", addr),
			zap.String("path", path),
			zap.Int("status", status),
		)
		return ProbeFailed, nil
	}
	return ProbeSupported, body
}
