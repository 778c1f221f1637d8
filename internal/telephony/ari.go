package telephony

import (
	"context"
	"fmt"

	"switchboard/internal/ari"
	"switchboard/pkg/logging"
)

// ARIProvider places calls through the Asterisk REST interface by
// originating PJSIP channels against a configured trunk.
type ARIProvider struct {
	client  *ari.Client
	appName string
	trunk   string
	logger  logging.Logger
}

// NewARIProvider creates a provider that originates calls via the given
// control client. Channels enter the Stasis application named appName with
// the session ID as routing metadata.
func NewARIProvider(client *ari.Client, appName, trunk string, logger logging.Logger) *ARIProvider {
	return &ARIProvider{
		client:  client,
		appName: appName,
		trunk:   trunk,
		logger:  logger,
	}
}

// PlaceCall originates one outbound channel. The endpoint is built from the
// contact and the configured trunk; appArgs carry the leg role and session ID
// so the event router can bind the channel when StasisStart arrives.
func (p *ARIProvider) PlaceCall(ctx context.Context, req CallRequest) error {
	endpoint := fmt.Sprintf("PJSIP/%s@%s", req.Contact, p.trunk)

	channel, err := p.client.Originate(ctx, ari.OriginateRequest{
		Endpoint: endpoint,
		App:      p.appName,
		AppArgs:  "outbound," + req.SessionID,
		CallerID: req.CallerID,
		Timeout:  req.Timeout,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"endpoint":   endpoint,
			"session_id": req.SessionID,
		}).Error("Origination failed")
		return err
	}

	p.logger.WithFields(logging.Fields{
		"endpoint":   endpoint,
		"session_id": req.SessionID,
		"channel_id": channel.ID,
	}).Info("Origination accepted")
	return nil
}
