package scenario

import "context"

// Scenario is the call-lifecycle contract. The event router invokes these
// hooks as the call progresses; a scenario implements only the hooks it
// cares about and embeds BaseScenario for the rest.
//
// Hooks run on the event dispatch goroutine for their event, so two hooks
// for different calls may run concurrently. Implementations own their own
// synchronization.
type Scenario interface {
	// Channel creation, one per leg role.
	OnOutboundChannelCreated(ctx context.Context, sessionID, channelID string)
	OnInboundChannelCreated(ctx context.Context, sessionID, channelID string)
	OnOperatorChannelCreated(ctx context.Context, sessionID, channelID string)

	// Call progress.
	OnCallAnswered(ctx context.Context, sessionID, channelID, leg string)
	OnCallFailed(ctx context.Context, sessionID, reason string)
	OnCallHangup(ctx context.Context, sessionID, channelID string)
	OnCallFinished(ctx context.Context, sessionID string)

	// Media operations.
	OnPlaybackFinished(ctx context.Context, sessionID, playbackID string)
	OnRecordingFinished(ctx context.Context, sessionID, recordingName string)
	OnRecordingFailed(ctx context.Context, sessionID, recordingName, cause string)
}

// BaseScenario implements Scenario with no-ops. Embed it so new hooks added
// to the contract never break existing scenarios.
type BaseScenario struct{}

func (BaseScenario) OnOutboundChannelCreated(context.Context, string, string)  {}
func (BaseScenario) OnInboundChannelCreated(context.Context, string, string)   {}
func (BaseScenario) OnOperatorChannelCreated(context.Context, string, string)  {}
func (BaseScenario) OnCallAnswered(context.Context, string, string, string)    {}
func (BaseScenario) OnCallFailed(context.Context, string, string)              {}
func (BaseScenario) OnCallHangup(context.Context, string, string)              {}
func (BaseScenario) OnCallFinished(context.Context, string)                    {}
func (BaseScenario) OnPlaybackFinished(context.Context, string, string)        {}
func (BaseScenario) OnRecordingFinished(context.Context, string, string)       {}
func (BaseScenario) OnRecordingFailed(context.Context, string, string, string) {}

var _ Scenario = BaseScenario{}
