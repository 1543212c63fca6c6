// oreon/appshell · watchthelight <wtl>

package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Release describes an update offered by the release endpoint for this target.
type Release struct {
	Version string
	Notes   string
	PubDate string
	URL     string
	SHA256  string
	Size    int64
}

// Source fetches release metadata and artifacts. Implementations must not
// retry on their own; retry is the caller's decision.
type Source interface {
	// Latest returns the newest release for this target, or nil when the
	// endpoint reports nothing to offer.
	Latest(ctx context.Context) (*Release, error)
	// Open starts streaming the artifact for rel and returns its size, or -1
	// when the size is unknown.
	Open(ctx context.Context, rel *Release) (io.ReadCloser, int64, error)
}

// manifest is the JSON document served by the release endpoint:
//
//	{"version": "2.0.0", "notes": "...", "pub_date": "...",
//	 "platforms": {"linux-amd64": {"url": "...", "sha256": "...", "size": 123}}}
type manifest struct {
	Version   string                      `json:"version"`
	Notes     string                      `json:"notes"`
	PubDate   string                      `json:"pub_date"`
	Platforms map[string]manifestPlatform `json:"platforms"`
}

type manifestPlatform struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Target returns the platform key looked up in the manifest.
func Target() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// HTTPSource reads a JSON manifest from an HTTP endpoint.
type HTTPSource struct {
	client   *resty.Client
	endpoint string
	target   string
	channel  string
}

// NewHTTPSource creates a source for endpoint. The transfer timeout is left
// to the transport; only connection setup is bounded.
func NewHTTPSource(endpoint, userAgent string) *HTTPSource {
	client := resty.New().
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
	client.SetTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	})
	return &HTTPSource{client: client, endpoint: endpoint, target: Target()}
}

// WithChannel asks the endpoint for releases on channel, sent as the
// "channel" query parameter. An empty channel leaves the request unchanged.
func (s *HTTPSource) WithChannel(channel string) *HTTPSource {
	s.channel = channel
	return s
}

// WithTarget overrides the platform key, for tests and cross-target tooling.
func (s *HTTPSource) WithTarget(target string) *HTTPSource {
	s.target = target
	return s
}

func (s *HTTPSource) Latest(ctx context.Context) (*Release, error) {
	if strings.TrimSpace(s.endpoint) == "" {
		return nil, fmt.Errorf("%w: no update endpoint configured", ErrNetwork)
	}

	req := s.client.R().SetContext(ctx)
	if s.channel != "" {
		req.SetQueryParam("channel", s.channel)
	}
	resp, err := req.Get(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch manifest: %v", ErrNetwork, err)
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: manifest endpoint returned %s", ErrNetwork, resp.Status())
	}

	var m manifest
	if err := json.Unmarshal(resp.Body(), &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrNetwork, err)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("%w: manifest has no version", ErrNetwork)
	}

	p, ok := m.Platforms[s.target]
	if !ok || p.URL == "" {
		// A release without an artifact for this target is not an offer.
		return nil, nil
	}

	return &Release{
		Version: m.Version,
		Notes:   m.Notes,
		PubDate: m.PubDate,
		URL:     p.URL,
		SHA256:  p.SHA256,
		Size:    p.Size,
	}, nil
}

func (s *HTTPSource) Open(ctx context.Context, rel *Release) (io.ReadCloser, int64, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "application/octet-stream").
		Get(rel.URL)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fetch artifact: %v", ErrNetwork, err)
	}
	body := resp.RawBody()
	if resp.IsError() {
		body.Close()
		return nil, 0, fmt.Errorf("%w: artifact endpoint returned %s", ErrNetwork, resp.Status())
	}

	size := int64(-1)
	if resp.RawResponse != nil && resp.RawResponse.ContentLength >= 0 {
		size = resp.RawResponse.ContentLength
	}
	if rel.Size > 0 {
		size = rel.Size
	}
	return body, size, nil
}
