package speech

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"

	"switchboard/pkg/logging"
)

type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig configures the Amazon Polly synthesizer.
type PollyConfig struct {
	Region  string // default us-east-1
	VoiceID string // default Joanna
	Engine  string // standard or neural, default neural
	Timeout time.Duration
	Logger  logging.Logger
}

// PollySynthesizer renders speech with Amazon Polly. Alternative to the
// gateway synthesizer for deployments on AWS.
type PollySynthesizer struct {
	cfg    PollyConfig
	logger logging.Logger

	mu     sync.Mutex
	client pollyAPI
}

// NewPollySynthesizer creates a Polly-backed synthesizer. The AWS client is
// resolved lazily on first use from the default credential chain.
func NewPollySynthesizer(cfg PollyConfig) *PollySynthesizer {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = "Joanna"
	}
	if cfg.Engine == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &PollySynthesizer{cfg: cfg, logger: cfg.Logger}
}

// NewPollySynthesizerWithClient injects a ready client. Used by tests.
func NewPollySynthesizerWithClient(cfg PollyConfig, client pollyAPI) *PollySynthesizer {
	s := NewPollySynthesizer(cfg)
	s.client = client
	return s
}

// Synthesize renders text to PCM WAV suitable for playback on a call.
func (s *PollySynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := s.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineNeural
	if s.cfg.Engine == "standard" {
		engine = pollytypes.EngineStandard
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatPcm,
		SampleRate:   stringPtr("8000"),
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, fmt.Errorf("polly synthesis failed: %w", err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, fmt.Errorf("polly returned empty audio stream")
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("failed to read polly audio stream: %w", err)
	}
	return audio, nil
}

func (s *PollySynthesizer) resolveClient(ctx context.Context) (pollyAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}

func stringPtr(s string) *string { return &s }
