package translator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	neturl "net/url"
	"strings"
	"syscall"
	"time"

	"claude-bridge/internal/anthropic"
)

const defaultImageDialTimeout = 10 * time.Second

// ErrForbiddenAddress reports an image URL that resolves to a loopback,
// private, link-local or otherwise non-public address.
var ErrForbiddenAddress = errors.New("image host resolves to a non-public address")

// carrier-grade NAT, not covered by net.IP.IsPrivate
var sharedAddressSpace = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var supportedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

// ImageFetcher resolves data URLs in place and downloads http(s) images,
// re-encoding them as base64 sources.
type ImageFetcher struct {
	client       *http.Client
	maxBytes     int64
	remote       bool
	allowedHosts []string
}

// ImageOption customises an ImageFetcher.
type ImageOption func(*ImageFetcher)

// WithRemoteFetch enables or disables downloading http(s) images. Data URLs
// are always accepted.
func WithRemoteFetch(enabled bool) ImageOption {
	return func(f *ImageFetcher) {
		f.remote = enabled
	}
}

// WithAllowedHosts restricts downloads, redirects included, to the listed
// hosts. An entry "*.example.com" matches any subdomain of example.com. An
// empty list allows every host.
func WithAllowedHosts(hosts []string) ImageOption {
	return func(f *ImageFetcher) {
		f.allowedHosts = nil
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				f.allowedHosts = append(f.allowedHosts, h)
			}
		}
	}
}

// NewImageFetcher constructs a fetcher that refuses images larger than
// maxBytes. A nil client is replaced by one that refuses to connect to
// non-public addresses.
func NewImageFetcher(client *http.Client, maxBytes int64, opts ...ImageOption) *ImageFetcher {
	if client == nil {
		client = NewImageHTTPClient(0)
	}
	f := &ImageFetcher{client: client, maxBytes: maxBytes, remote: true}
	for _, opt := range opts {
		opt(f)
	}

	if len(f.allowedHosts) > 0 {
		guarded := *client
		next := client.CheckRedirect
		guarded.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if !f.hostAllowed(req.URL.Hostname()) {
				return fmt.Errorf("redirect to %s: host is not allowed", req.URL.Hostname())
			}
			if next != nil {
				return next(req, via)
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return nil
		}
		f.client = &guarded
	}
	return f
}

// NewImageHTTPClient returns a client whose dialer refuses non-public
// addresses. The check runs on the resolved address of every connection,
// so DNS names and redirects pointing inward are refused too. Proxies are
// not used.
func NewImageHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultImageDialTimeout,
		Control: rejectNonPublicAddress,
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func rejectNonPublicAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || !isPublicIP(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenAddress, host)
	}
	return nil
}

func isPublicIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(), ip.IsPrivate(), ip.IsUnspecified(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(), ip.IsMulticast():
		return false
	case sharedAddressSpace.Contains(ip):
		return false
	}
	return true
}

func (f *ImageFetcher) hostAllowed(host string) bool {
	if len(f.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range f.allowedHosts {
		if suffix, ok := strings.CutPrefix(allowed, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return true
			}
			continue
		}
		if host == allowed {
			return true
		}
	}
	return false
}

// Resolve implements ImageResolver.
func (f *ImageFetcher) Resolve(ctx context.Context, url string) (*anthropic.ImageSource, error) {
	switch {
	case strings.HasPrefix(url, "data:"):
		return decodeDataURL(url)
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		if !f.remote {
			return nil, fmt.Errorf("%w: remote image URLs are disabled; send images as data URLs", ErrInvalidInput)
		}
		return f.fetch(ctx, url)
	default:
		return nil, fmt.Errorf("%w: image url must be a data: or http(s) URL", ErrInvalidInput)
	}
}

// decodeDataURL accepts data:<type>[;param=value]*;base64,<payload>.
func decodeDataURL(url string) (*anthropic.ImageSource, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data URL", ErrInvalidInput)
	}
	params := strings.Split(header, ";")
	if len(params) < 2 || params[len(params)-1] != "base64" {
		return nil, fmt.Errorf("%w: data URL images must be base64 encoded", ErrInvalidInput)
	}
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	if err := checkMediaType(mediaType); err != nil {
		return nil, err
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return nil, fmt.Errorf("%w: data URL payload is not valid base64", ErrInvalidInput)
	}
	return &anthropic.ImageSource{Type: "base64", MediaType: mediaType, Data: payload}, nil
}

func (f *ImageFetcher) fetch(ctx context.Context, url string) (*anthropic.ImageSource, error) {
	parsed, err := neturl.Parse(url)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("%w: image url %q is not a valid URL", ErrInvalidInput, url)
	}
	if !f.hostAllowed(parsed.Hostname()) {
		return nil, fmt.Errorf("%w: image host %s is not allowed", ErrInvalidInput, parsed.Hostname())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: image url: %v", ErrInvalidInput, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: fetch image %s: %w", ErrInvalidInput, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch image %s: status %d", ErrInvalidInput, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read image %s: %v", ErrInvalidInput, url, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: image %s exceeds %d bytes", ErrInvalidInput, url, f.maxBytes)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(data)
	}
	if err := checkMediaType(mediaType); err != nil {
		return nil, err
	}

	return &anthropic.ImageSource{
		Type:      "base64",
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func checkMediaType(mediaType string) error {
	if _, ok := supportedImageTypes[mediaType]; !ok {
		return fmt.Errorf("%w: unsupported image media type %q", ErrInvalidInput, mediaType)
	}
	return nil
}
