package main

import (
	"context"
	"strings"
	"time"

	"switchboard/internal/ari"
	"switchboard/internal/campaign"
	"switchboard/internal/cdr"
	"switchboard/internal/dialer"
	"switchboard/internal/handlers"
	"switchboard/internal/llm"
	"switchboard/internal/metrics"
	"switchboard/internal/router"
	"switchboard/internal/scenario"
	"switchboard/internal/sessions"
	"switchboard/internal/speech"
	"switchboard/internal/telephony"
	"switchboard/pkg/config"
	"switchboard/pkg/kafka"
	"switchboard/pkg/logging"
	"switchboard/pkg/monitoring"
	"switchboard/pkg/server"
	"switchboard/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("switchboard")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Switchboard (Call Orchestration Engine)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("switchboard", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("switchboard", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		EventsReceived:    metricsCollector.NewCounter("feed_events_received_total", "Events received from the switch", []string{"event_type"}),
		EventDecodeErrors: metricsCollector.NewCounter("feed_event_decode_errors_total", "Event frames that failed to decode", []string{"reason"}),
		HandlerFailures:   metricsCollector.NewCounter("event_handler_failures_total", "Event handler panics", []string{"event_type"}),
		HandlersInFlight:  metricsCollector.NewGauge("event_handlers_in_flight", "Dispatched event handlers still running", []string{"source"}),
		FeedReconnects:    metricsCollector.NewCounter("feed_reconnects_total", "Event feed reconnect attempts", []string{"reason"}),
		FeedConnected:     metricsCollector.NewGauge("feed_connected", "Whether the event feed is connected", []string{"app"}),
		Originations:      metricsCollector.NewCounter("originations_total", "Outbound call originations", []string{"status"}),
		QuotaBlocks:       metricsCollector.NewCounter("dialer_quota_blocks_total", "Dialing attempts blocked by a cap", []string{"cap"}),
		QueuedContacts:    metricsCollector.NewGauge("dialer_queued_contacts", "Contacts waiting to be dialed", []string{"queue"}),
		ActiveSessions:    metricsCollector.NewGauge("active_sessions", "Live call sessions", []string{"direction"}),
	}
	serviceMetrics.KafkaMessages, serviceMetrics.KafkaDuration = metricsCollector.CreateKafkaMetrics()

	// ARI control client
	ariBaseURL := config.RequireEnv("ARI_BASE_URL")
	ariUsername := config.RequireEnv("ARI_USERNAME")
	ariPassword := config.RequireEnv("ARI_PASSWORD")
	appName := config.GetEnv("ARI_APP", "switchboard")

	controlClient := ari.NewClient(ari.Config{
		BaseURL:  ariBaseURL,
		Username: ariUsername,
		Password: ariPassword,
		Timeout:  config.GetEnvDuration("ARI_TIMEOUT", 30*time.Second),
		Logger:   logger,
	})

	// Session registry
	registry := sessions.NewRegistry(logger, serviceMetrics)

	// Kafka producer for call-lifecycle events (optional)
	var producer *kafka.Producer
	if brokersEnv := config.GetEnv("KAFKA_BROKERS", ""); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "switchboard")
		topic := config.GetEnv("KAFKA_TOPIC", kafka.DefaultTopic)

		var err error
		producer, err = kafka.NewProducer(brokers, clientID, topic, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Kafka producer")
		}
		healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
	}

	// Call detail store (optional)
	var store *cdr.Store
	if dbPath := config.GetEnv("CDR_DB_PATH", ""); dbPath != "" {
		var err error
		store, err = cdr.Open(context.Background(), dbPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open call detail store")
		}
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(store.DB()))
	}

	// Speech backends
	var synthesizer speech.Synthesizer
	switch config.GetEnv("TTS_PROVIDER", "vira") {
	case "polly":
		synthesizer = speech.NewPollySynthesizer(speech.PollyConfig{
			Region:  config.GetEnv("AWS_REGION", "us-east-1"),
			VoiceID: config.GetEnv("POLLY_VOICE_ID", "Joanna"),
			Engine:  config.GetEnv("POLLY_ENGINE", "neural"),
			Logger:  logger,
		})
	default:
		synthesizer = speech.NewTTSClient(speech.TTSConfig{
			URL:     config.RequireEnv("TTS_URL"),
			Token:   config.GetEnv("TTS_TOKEN", ""),
			Speaker: config.GetEnv("TTS_SPEAKER", "female"),
			Logger:  logger,
		})
	}

	transcriber := speech.NewSTTClient(speech.STTConfig{
		URL:    config.RequireEnv("STT_URL"),
		Token:  config.GetEnv("STT_TOKEN", ""),
		Model:  config.GetEnv("STT_MODEL", "default"),
		Logger: logger,
	})

	// Conversation model
	chatClient := llm.NewClient(llm.Config{
		BaseURL: config.GetEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		APIKey:  config.GetEnv("LLM_API_KEY", ""),
		Model:   config.GetEnv("LLM_MODEL", "gpt-4o-mini"),
		Logger:  logger,
	})

	// Campaign definition
	var loadedCampaign *campaign.Campaign
	if path := config.GetEnv("CAMPAIGN_FILE", ""); path != "" {
		var err error
		loadedCampaign, err = campaign.Load(path)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load campaign")
		}
		logger.WithField("campaign", loadedCampaign.Name).Info("Campaign loaded")
	}

	// Scenario
	greeting := config.GetEnv("SURVEY_GREETING", "Hello, this is an automated call.")
	systemPrompt := config.GetEnv("SURVEY_SYSTEM_PROMPT", "")
	if loadedCampaign != nil {
		if loadedCampaign.Greeting != "" {
			greeting = loadedCampaign.Greeting
		}
		if loadedCampaign.SystemPrompt != "" {
			systemPrompt = loadedCampaign.SystemPrompt
		}
	}

	surveyScenario := scenario.NewSurveyScenario(scenario.SurveyConfig{
		Greeting:      greeting,
		SystemPrompt:  systemPrompt,
		MaxTurns:      config.GetEnvInt("SURVEY_MAX_TURNS", 5),
		SoundsDir:     config.GetEnv("SOUNDS_DIR", "/var/lib/asterisk/sounds"),
		RecordingsDir: config.GetEnv("RECORDINGS_DIR", "/var/spool/asterisk/recording"),
		Logger:        logger,
	}, controlClient, synthesizer, transcriber, chatClient)
	surveyScenario.SetChannelResolver(func(ctx context.Context, sessionID string) (string, bool) {
		session, ok := registry.Get(sessionID)
		if !ok {
			return "", false
		}
		for _, leg := range []sessions.Leg{sessions.LegOutbound, sessions.LegInbound, sessions.LegOperator} {
			if channelID, bound := session.Channel(leg); bound {
				return channelID, true
			}
		}
		return "", false
	})

	// Event routing
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pub router.Publisher
	if producer != nil {
		pub = producer
	}
	var callLog router.CallLog
	if store != nil {
		callLog = store
	}
	eventRouter := router.New(ctx, registry, surveyScenario, pub, callLog, logger, serviceMetrics)

	// Event feed
	streamClient := ari.NewStreamClient(ari.StreamConfig{
		BaseURL:  config.GetEnv("ARI_WS_URL", deriveWSURL(ariBaseURL)),
		AppName:  appName,
		Username: ariUsername,
		Password: ariPassword,
		Logger:   logger,
		Metrics:  serviceMetrics,
	}, eventRouter.HandleEvent)
	healthChecker.AddCheck("event_feed", monitoring.EventFeedHealthCheck(streamClient.Connected))

	go func() {
		if err := streamClient.Run(ctx); err != nil {
			logger.WithError(err).Error("Event feed listener error")
		}
	}()

	// Outbound dialing
	var callProvider telephony.Provider
	switch config.GetEnv("CALL_PROVIDER", "ari") {
	case "twilio":
		callProvider = telephony.NewTwilioProvider(
			config.RequireEnv("TWILIO_ACCOUNT_SID"),
			config.RequireEnv("TWILIO_AUTH_TOKEN"),
			config.GetEnv("TWILIO_FROM", ""),
			config.RequireEnv("TWILIO_WEBHOOK_URL"),
			logger,
		)
	default:
		callProvider = telephony.NewARIProvider(controlClient, appName, config.RequireEnv("ARI_TRUNK"), logger)
	}

	windowStart, err := dialer.ParseTimeOfDay(config.GetEnv("CALL_WINDOW_START", "09:00"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid CALL_WINDOW_START")
	}
	windowEnd, err := dialer.ParseTimeOfDay(config.GetEnv("CALL_WINDOW_END", "20:00"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid CALL_WINDOW_END")
	}

	dialerConfig := dialer.Config{
		WindowStart:        windowStart,
		WindowEnd:          windowEnd,
		MaxConcurrentCalls: config.GetEnvInt("MAX_CONCURRENT_CALLS", 2),
		MaxCallsPerMinute:  config.GetEnvInt("MAX_CALLS_PER_MINUTE", 10),
		MaxCallsPerDay:     config.GetEnvInt("MAX_CALLS_PER_DAY", 200),
		DefaultCallerID:    config.GetEnv("DEFAULT_CALLER_ID", ""),
		OriginationTimeout: config.GetEnvDuration("ORIGINATION_TIMEOUT", 30*time.Second),
		Logger:             logger,
		Metrics:            serviceMetrics,
	}
	if loadedCampaign != nil {
		dialerConfig.Contacts = loadedCampaign.Contacts
		dialerConfig.MaxConcurrentCalls = loadedCampaign.Limits.MaxConcurrentCalls
		dialerConfig.MaxCallsPerMinute = loadedCampaign.Limits.MaxCallsPerMinute
		dialerConfig.MaxCallsPerDay = loadedCampaign.Limits.MaxCallsPerDay
		if loadedCampaign.CallerID != "" {
			dialerConfig.DefaultCallerID = loadedCampaign.CallerID
		}
		dialerConfig.WindowStart, dialerConfig.WindowEnd, err = loadedCampaign.DialerWindow(windowStart, windowEnd)
		if err != nil {
			logger.WithError(err).Fatal("Invalid campaign calling window")
		}
	}

	outboundDialer := dialer.New(dialerConfig, registry, callProvider)
	go func() {
		if err := outboundDialer.Run(ctx); err != nil {
			logger.WithError(err).Error("Dialer error")
		}
	}()

	// Config health check
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"ARI_BASE_URL": ariBaseURL,
		"ARI_APP":      appName,
	}))

	// Setup router with unified monitoring
	ginRouter := server.SetupServiceRouter(logger, "switchboard", healthChecker, metricsCollector)

	// Admin API
	var history handlers.CallHistory
	if store != nil {
		history = store
	}
	adminHandlers := handlers.NewHandlers(outboundDialer, registry, history, logger)
	adminHandlers.RegisterRoutes(ginRouter)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("switchboard", "18090")
	err = server.Start(serverConfig, ginRouter, logger, func() {
		outboundDialer.Stop()
		streamClient.Stop()
		cancel()
		streamClient.WaitDispatched()
		if producer != nil {
			producer.Close()
		}
		if store != nil {
			store.Close()
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// deriveWSURL turns the REST base URL into the matching event feed URL.
func deriveWSURL(baseURL string) string {
	ws := strings.Replace(baseURL, "http://", "ws://", 1)
	ws = strings.Replace(ws, "https://", "wss://", 1)
	return strings.TrimRight(ws, "/") + "/events"
}
