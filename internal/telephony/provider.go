package telephony

import (
	"context"
	"time"
)

// CallRequest describes one outbound call to place.
type CallRequest struct {
	Contact   string // dialable number or extension
	SessionID string
	CallerID  string
	Timeout   time.Duration
}

// Provider places outbound calls. Implementations must return an error when
// the switch or carrier rejects the origination; the dialer treats any error
// as a non-attempt for quota purposes.
type Provider interface {
	PlaceCall(ctx context.Context, req CallRequest) error
}
