// Package stations queries a TuneIn-compatible station directory. The
// directory lives on the public internet, so every request runs under a
// retry-with-backoff policy: transient transport failures are retried,
// definitive rejections are not.
package stations

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/resonate-home/resonate/pkg/models"
)

// Defaults for the retry policy. MaxRetries counts retries after the
// initial attempt; backoff doubles per attempt starting at RetryBase.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 5 * time.Second
	defaultRetryBase  = time.Second
	maxBodySize       = 4 << 20
)

// Client talks to the station directory.
type Client struct {
	http       *http.Client
	logger     *zap.Logger
	baseURL    string
	maxRetries int
	timeout    time.Duration
	retryBase  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets how many times a transient failure is retried
// before the error surfaces.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryBase sets the first backoff interval. Tests shrink this to
// keep retry runs fast.
func WithRetryBase(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryBase = d
		}
	}
}

// NewClient creates a station directory client. baseURL is the directory
// root, e.g. "https://opml.radiotime.com". If httpClient is nil a default
// client is used; per-attempt deadlines come from the timeout option
// either way.
func NewClient(httpClient *http.Client, logger *zap.Logger, baseURL string, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		http:       httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		retryBase:  defaultRetryBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// opml mirrors the directory's search response. Outlines nest: genre
// groups wrap station entries.
type opml struct {
	Body struct {
		Outlines []outline `xml:"outline"`
	} `xml:"body"`
}

type outline struct {
	Type        string    `xml:"type,attr"`
	Item        string    `xml:"item,attr"`
	Text        string    `xml:"text,attr"`
	URL         string    `xml:"URL,attr"`
	GuideID     string    `xml:"guide_id,attr"`
	Subtext     string    `xml:"subtext,attr"`
	Bitrate     string    `xml:"bitrate,attr"`
	Formats     string    `xml:"formats,attr"`
	Reliability string    `xml:"reliability,attr"`
	Children    []outline `xml:"outline"`
}

// Search queries the directory and returns matching stations. Transport
// failures and timeouts are retried with exponential backoff until the
// retry budget is spent; the caller then sees a single final error. A
// response that arrived with an error status is not retried. Cancelling
// ctx aborts any in-flight retry loop.
func (c *Client) Search(ctx context.Context, query string) ([]models.Station, error) {
	searchURL := c.baseURL + "/Search.ashx?query=" + url.QueryEscape(query)

	var stations []models.Station
	attempt := 0

	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, searchURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("station search attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return fmt.Errorf("station directory request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			// The directory answered; its verdict is definitive.
			return backoff.Permanent(fmt.Errorf("station directory returned %s", resp.Status))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return fmt.Errorf("read station directory response: %w", err)
		}

		parsed, err := parseSearchResponse(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("parse station directory response: %w", err))
		}
		stations = parsed
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
	if err != nil {
		return nil, fmt.Errorf("station search %q: %w", query, err)
	}
	return stations, nil
}

// parseSearchResponse flattens the OPML outline tree into stations.
func parseSearchResponse(body []byte) ([]models.Station, error) {
	var doc opml
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	stations := []models.Station{}
	var walk func(outlines []outline)
	walk = func(outlines []outline) {
		for _, o := range outlines {
			if o.Type == "audio" && (o.Item == "station" || o.Item == "") {
				stations = append(stations, models.Station{
					ID:          o.GuideID,
					Name:        o.Text,
					URL:         o.URL,
					Description: o.Subtext,
					Bitrate:     o.Bitrate,
					Format:      o.Formats,
					Reliability: o.Reliability,
				})
			}
			walk(o.Children)
		}
	}
	walk(doc.Body.Outlines)
	return stations, nil
}
