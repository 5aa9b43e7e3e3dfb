// Package soundtouch talks to the speakers' local HTTP API: identity
// queries and capability resolution. It never touches the retired vendor
// cloud.
package soundtouch

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/resonate-home/resonate/pkg/models"
)

// DefaultPort is the speakers' local API port.
const DefaultPort = 8090

// maxBodySize bounds API response reads. The largest real payload (the
// presets list) is well under 64 KB.
const maxBodySize = 1 << 20

// Client issues requests against one speaker at a time, addressed by IP.
type Client struct {
	http   *http.Client
	logger *zap.Logger
	port   int
}

// Option configures a Client.
type Option func(*Client)

// WithPort overrides the API port. Used by tests pointing the client at a
// local fake speaker.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// NewClient creates a speaker API client. If httpClient is nil a client
// with a 5 second timeout is used.
func NewClient(httpClient *http.Client, logger *zap.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	c := &Client{
		http:   httpClient,
		logger: logger,
		port:   DefaultPort,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// infoEnvelope mirrors the speaker /info payload.
type infoEnvelope struct {
	DeviceID    string `xml:"deviceID,attr"`
	Name        string `xml:"name"`
	Type        string `xml:"type"`
	ModuleType  string `xml:"moduleType"`
	Variant     string `xml:"variant"`
	NetworkInfo []struct {
		Kind string `xml:"type,attr"`
		MAC  string `xml:"macAddress"`
		IP   string `xml:"ipAddress"`
	} `xml:"networkInfo"`
	Components []struct {
		Category        string `xml:"componentCategory"`
		SoftwareVersion string `xml:"softwareVersion"`
	} `xml:"components>component"`
}

// Info queries the speaker's information endpoint and returns its live
// identity. The interface list preserves the device's reported order; the
// first entry is the authoritative address.
func (c *Client) Info(ctx context.Context, addr string) (*models.DeviceInformation, error) {
	status, body, err := c.get(ctx, addr, "/info")
	if err != nil {
		return nil, fmt.Errorf("query info %s: %w", addr, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("query info %s: unexpected status %d", addr, status)
	}

	var env infoEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parse info from %s: %w", addr, err)
	}
	if env.DeviceID == "" {
		return nil, fmt.Errorf("info from %s carries no device identifier", addr)
	}

	info := &models.DeviceInformation{
		DeviceID:   env.DeviceID,
		Name:       env.Name,
		Model:      env.Type,
		ModuleType: env.ModuleType,
		Variant:    env.Variant,
	}
	for _, ni := range env.NetworkInfo {
		info.Interfaces = append(info.Interfaces, models.NetworkInterface{
			Kind:       ni.Kind,
			MACAddress: ni.MAC,
			IPAddress:  ni.IP,
		})
	}
	for _, comp := range env.Components {
		if comp.SoftwareVersion != "" {
			info.FirmwareVersion = comp.SoftwareVersion
			break
		}
	}
	return info, nil
}

// get issues a GET against one endpoint path on the speaker at addr.
// Non-2xx statuses are not errors here; capability probing needs to see
// them.
func (c *Client) get(ctx context.Context, addr, path string) (int, []byte, error) {
	url := "http://" + net.JoinHostPort(addr, strconv.Itoa(c.port)) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}
