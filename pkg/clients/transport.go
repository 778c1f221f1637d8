package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns a configured HTTP transport with connection limits.
// Caps the number of concurrent connections per host so a dead downstream
// cannot pile up unbounded dial goroutines.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost: 100,

		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout: 10 * time.Second,

		ExpectContinueTimeout: 1 * time.Second,
	}
}
