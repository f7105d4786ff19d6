package translator

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// smallest valid PNG header, enough for content sniffing
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestResolveDataURL(t *testing.T) {
	f := NewImageFetcher(nil, 1024)
	payload := base64.StdEncoding.EncodeToString(pngBytes)

	src, err := f.Resolve(context.Background(), "data:image/png;base64,"+payload)
	require.NoError(t, err)
	assert.Equal(t, "base64", src.Type)
	assert.Equal(t, "image/png", src.MediaType)
	assert.Equal(t, payload, src.Data)
}

func TestResolveDataURLWithParameters(t *testing.T) {
	f := NewImageFetcher(nil, 1024)
	payload := base64.StdEncoding.EncodeToString(pngBytes)

	src, err := f.Resolve(context.Background(), "data:image/png;name=cat.png;charset=binary;base64,"+payload)
	require.NoError(t, err)
	assert.Equal(t, "image/png", src.MediaType)
	assert.Equal(t, payload, src.Data)

	_, err = f.Resolve(context.Background(), "data:image/png;base64;name=x,"+payload)
	assert.ErrorIs(t, err, ErrInvalidInput, "base64 must be the last parameter")
}

func TestResolveDataURLRejects(t *testing.T) {
	f := NewImageFetcher(nil, 1024)
	for _, url := range []string{
		"data:image/png,rawbytes",
		"data:image/bmp;base64,AAAA",
		"data:image/png;base64,***",
		"data:image/png;base64",
		"ftp://example.com/a.png",
	} {
		_, err := f.Resolve(context.Background(), url)
		assert.ErrorIs(t, err, ErrInvalidInput, url)
	}
}

func TestResolveFetchesRemoteImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	f := NewImageFetcher(srv.Client(), 1024)
	src, err := f.Resolve(context.Background(), srv.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", src.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), src.Data)
}

func TestResolveSniffsMissingContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	src, err := NewImageFetcher(srv.Client(), 1024).Resolve(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "image/png", src.MediaType)
}

func TestResolveRemoteFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/large":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(make([]byte, 64))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		}
	}))
	defer srv.Close()

	f := NewImageFetcher(srv.Client(), 32)
	for _, path := range []string{"/missing", "/large", "/page"} {
		_, err := f.Resolve(context.Background(), srv.URL+path)
		assert.ErrorIs(t, err, ErrInvalidInput, path)
	}
}

func TestResolveReturnsContextErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImageFetcher(srv.Client(), 32).Resolve(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func countingServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestDefaultClientRefusesLoopback(t *testing.T) {
	srv, hits := countingServer(t)

	_, err := NewImageFetcher(nil, 1024).Resolve(context.Background(), srv.URL+"/internal/secret")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, ErrForbiddenAddress)
	assert.Zero(t, hits.Load())
}

func TestRejectNonPublicAddress(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:80":       false,
		"10.1.2.3:443":       false,
		"172.16.0.9:443":     false,
		"192.168.1.1:80":     false,
		"169.254.169.254:80": false,
		"100.64.0.1:80":      false,
		"0.0.0.0:80":         false,
		"[::1]:80":           false,
		"[fd00::1]:80":       false,
		"[fe80::1]:80":       false,
		"93.184.216.34:443":  true,
		"[2606:4700::1]:443": true,
	}
	for address, allowed := range tests {
		err := rejectNonPublicAddress("tcp", address, nil)
		if allowed {
			assert.NoError(t, err, address)
		} else {
			assert.ErrorIs(t, err, ErrForbiddenAddress, address)
		}
	}
}

func TestRemoteFetchDisabled(t *testing.T) {
	srv, hits := countingServer(t)
	f := NewImageFetcher(srv.Client(), 1024, WithRemoteFetch(false))

	_, err := f.Resolve(context.Background(), srv.URL+"/cat.png")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits.Load())

	_, err = f.Resolve(context.Background(), "data:image/png;base64,"+base64.StdEncoding.EncodeToString(pngBytes))
	assert.NoError(t, err)
}

func TestAllowedHosts(t *testing.T) {
	srv, hits := countingServer(t)
	host, _, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	denied := NewImageFetcher(srv.Client(), 1024, WithAllowedHosts([]string{"cdn.example.com"}))
	_, err = denied.Resolve(context.Background(), srv.URL+"/cat.png")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits.Load())

	allowed := NewImageFetcher(srv.Client(), 1024, WithAllowedHosts([]string{" " + host + " "}))
	_, err = allowed.Resolve(context.Background(), srv.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestAllowedHostsAppliesToRedirects(t *testing.T) {
	target, hits := countingServer(t)
	targetURL, err := url.Parse(target.URL)
	require.NoError(t, err)
	targetURL.Host = "localhost:" + targetURL.Port()

	redirect := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, targetURL.String(), http.StatusFound)
	}))
	defer redirect.Close()

	f := NewImageFetcher(redirect.Client(), 1024, WithAllowedHosts([]string{"127.0.0.1"}))
	_, err = f.Resolve(context.Background(), redirect.URL+"/cat.png")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestHostAllowedWildcard(t *testing.T) {
	f := NewImageFetcher(nil, 1, WithAllowedHosts([]string{"*.example.com", "Images.Example.org"}))

	assert.True(t, f.hostAllowed("cdn.example.com"))
	assert.True(t, f.hostAllowed("a.b.example.com"))
	assert.False(t, f.hostAllowed("example.com"))
	assert.False(t, f.hostAllowed("badexample.com"))
	assert.True(t, f.hostAllowed("images.example.org"))
	assert.False(t, f.hostAllowed("other.org"))
}
