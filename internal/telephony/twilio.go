package telephony

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"switchboard/pkg/logging"
)

// TwilioProvider places calls through the Twilio Programmable Voice API.
// Used for deployments without their own trunk; the session ID is carried
// back on the answer webhook URL so calls can still be correlated.
type TwilioProvider struct {
	client     *twilio.RestClient
	from       string
	webhookURL string
	logger     logging.Logger
}

// NewTwilioProvider creates a Twilio-backed call provider. webhookURL is the
// publicly reachable answer URL Twilio fetches call instructions from.
func NewTwilioProvider(accountSID, authToken, from, webhookURL string, logger logging.Logger) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioProvider{
		client:     client,
		from:       from,
		webhookURL: webhookURL,
		logger:     logger,
	}
}

// PlaceCall creates one outbound call via the Twilio REST API.
func (p *TwilioProvider) PlaceCall(ctx context.Context, req CallRequest) error {
	params := &openapi.CreateCallParams{}
	params.SetTo(req.Contact)
	params.SetFrom(p.chooseCallerID(req.CallerID))
	params.SetUrl(fmt.Sprintf("%s?session_id=%s", p.webhookURL, req.SessionID))
	if req.Timeout > 0 {
		params.SetTimeout(int(req.Timeout.Seconds()))
	}

	call, err := p.client.Api.CreateCall(params)
	if err != nil {
		p.logger.WithError(err).WithFields(logging.Fields{
			"contact":    req.Contact,
			"session_id": req.SessionID,
		}).Error("Twilio call creation failed")
		return fmt.Errorf("twilio create call: %w", err)
	}

	sid := ""
	if call.Sid != nil {
		sid = *call.Sid
	}
	p.logger.WithFields(logging.Fields{
		"contact":    req.Contact,
		"session_id": req.SessionID,
		"call_sid":   sid,
	}).Info("Twilio call created")
	return nil
}

func (p *TwilioProvider) chooseCallerID(callerID string) string {
	if callerID != "" {
		return callerID
	}
	return p.from
}
