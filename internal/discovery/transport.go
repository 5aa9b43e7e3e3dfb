// Package discovery locates speakers on the local network: an SSDP
// multicast search feeds a namespace-tolerant description parser, and the
// orchestrator turns the raw responses into a deduplicated device set.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/huin/goupnp/httpu"
	"github.com/huin/goupnp/ssdp"
	"go.uber.org/zap"
)

// defaultSearchTarget matches every SSDP-capable device; the manufacturer
// filter happens later, after the description is fetched. Speakers announce
// themselves as MediaRenderer root devices, but older firmware only answers
// ssdp:all.
const defaultSearchTarget = ssdp.SSDPAll

// RawResponse is one SSDP search response, reduced to the headers the
// orchestrator needs.
type RawResponse struct {
	Location string // Device description URL from the LOCATION header.
	USN      string // Unique service name, carries the advertised UUID.
	Server   string // SERVER header, useful only for debug logging.
}

// Transport performs one multicast search and collects the responses that
// arrive within the timeout. Implementations never block past the timeout
// and never retry; callers wanting more devices run another search.
type Transport interface {
	Search(ctx context.Context, timeout time.Duration) ([]RawResponse, error)
}

// Compile-time interface guard.
var _ Transport = (*SSDPTransport)(nil)

// SSDPTransport implements Transport over UDP multicast using goupnp's
// HTTPU client.
type SSDPTransport struct {
	logger *zap.Logger
	target string
}

// NewSSDPTransport creates a Transport that searches for the default
// target.
func NewSSDPTransport(logger *zap.Logger) *SSDPTransport {
	return &SSDPTransport{
		logger: logger,
		target: defaultSearchTarget,
	}
}

// Search sends one M-SEARCH request and returns every response received
// within timeout. Responses arriving after the deadline are discarded by
// the underlying socket read, not queued.
func (t *SSDPTransport) Search(ctx context.Context, timeout time.Duration) ([]RawResponse, error) {
	client, err := httpu.NewHTTPUClient()
	if err != nil {
		return nil, fmt.Errorf("open multicast socket: %w", err)
	}
	defer client.Close()

	// SSDP expresses the wait window in whole seconds (MX header).
	maxWait := int(timeout / time.Second)
	if maxWait < 1 {
		maxWait = 1
	}

	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	responses, err := ssdp.SSDPRawSearchCtx(searchCtx, client, t.target, maxWait, 1)
	if err != nil {
		return nil, fmt.Errorf("ssdp search: %w", err)
	}

	raw := make([]RawResponse, 0, len(responses))
	for _, resp := range responses {
		loc, err := resp.Location()
		if err != nil {
			t.logger.Debug("ssdp response without usable location", zap.Error(err))
			continue
		}
		raw = append(raw, RawResponse{
			Location: loc.String(),
			USN:      resp.Header.Get("USN"),
			Server:   resp.Header.Get("SERVER"),
		})
	}

	t.logger.Debug("ssdp search complete",
		zap.Int("responses", len(responses)),
		zap.Int("usable", len(raw)),
	)
	return raw, nil
}
