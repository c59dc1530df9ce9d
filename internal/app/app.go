package app

import (
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jhlin/voiceqa/internal/agent"
	"github.com/jhlin/voiceqa/internal/audiostore"
	"github.com/jhlin/voiceqa/internal/httpapi"
	"github.com/jhlin/voiceqa/internal/runconfig"
	"github.com/jhlin/voiceqa/internal/stt"
	"github.com/jhlin/voiceqa/internal/tts"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	runConfig  *runconfig.Store
	audio      *audiostore.Store
	httpClient *http.Client // Shared HTTP client with connection pooling for provider calls

	tts   tts.Client
	stt   map[runconfig.Provider]stt.Client
	agent agent.Client
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.AzureSpeechKey == "" {
		return nil, errors.New("AZURE_SPEECH_KEY is required")
	}
	if cfg.ChatbaseAPIKey == "" || cfg.ChatbaseBotID == "" {
		return nil, errors.New("CHATBASE_API_KEY and CHATBASE_BOT_ID are required")
	}

	audio, err := audiostore.New(cfg.AudioDir)
	if err != nil {
		return nil, err
	}

	runCfg := runconfig.NewStore(cfg.ConfigFile, runconfig.Config{
		PhraseHints: cfg.PhraseHints,
		Provider:    runconfig.ProviderGoogle,
	}, logger)

	// Shared HTTP client with connection pooling. Each run makes repeated
	// calls to the same few provider hosts, so keeping connections alive
	// removes TLS setup from the measured latencies.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	ttsClient := tts.NewAzureClient(tts.AzureConfig{
		Key:        cfg.AzureSpeechKey,
		Region:     cfg.AzureSpeechRegion,
		Voice:      cfg.AzureTTSVoice,
		Language:   cfg.DefaultLanguage,
		HTTPClient: httpClient,
	})

	sttClients := map[runconfig.Provider]stt.Client{
		runconfig.ProviderGoogle: stt.NewGoogleClient(stt.GoogleConfig{
			APIKey:     cfg.GoogleSpeechKey,
			HTTPClient: httpClient,
		}),
		runconfig.ProviderOpenAI: stt.NewWhisperClient(stt.WhisperConfig{
			APIKey:     cfg.OpenAIAPIKey,
			HTTPClient: httpClient,
		}),
	}

	agentClient := agent.NewChatbaseClient(agent.ChatbaseConfig{
		APIKey:     cfg.ChatbaseAPIKey,
		BotID:      cfg.ChatbaseBotID,
		APIURL:     cfg.ChatbaseAPIURL,
		HTTPClient: httpClient,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		runConfig:  runCfg,
		audio:      audio,
		httpClient: httpClient,
		tts:        ttsClient,
		stt:        sttClients,
		agent:      agentClient,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		DefaultLanguage: a.cfg.DefaultLanguage,
		StageTimeout:    a.cfg.StageTimeout,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.runConfig, a.audio, a.tts, a.stt, a.agent)
}
