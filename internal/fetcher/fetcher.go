// Package fetcher holds the HTTP plumbing shared by the detail-page and image
// fetchers: the pooled transport, the browser-like identity, and the mapping
// from transport failures onto the fetch error taxonomy.
package fetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// DefaultUserAgent is a desktop browser identity; the source site rejects
// obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// NewHTTPTransport returns a pooled transport with bounded dial and TLS
// handshake timeouts.
func NewHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyError wraps a transport failure as FetchError(Timeout) or
// FetchError(NetworkFailure). Caller cancellation is returned unchanged.
func ClassifyError(url string, err error) error {
	if err == nil {
		return nil
	}
	var fetchErr *artwork.FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if IsTimeout(err) {
		return &artwork.FetchError{Kind: artwork.KindTimeout, URL: url, Err: err}
	}
	return &artwork.FetchError{Kind: artwork.KindNetworkFailure, URL: url, Err: err}
}

// StatusError reports a non-2xx response.
func StatusError(url string, code int) error {
	return &artwork.FetchError{Kind: artwork.KindHTTPStatus, StatusCode: code, URL: url}
}
