package app

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	SentryDSN string
	LogLevel  string

	// Where synthesized audio and the shared run config live
	AudioDir   string
	ConfigFile string

	// Speech providers
	AzureSpeechKey    string
	AzureSpeechRegion string
	AzureTTSVoice     string
	GoogleSpeechKey   string
	OpenAIAPIKey      string

	// Conversational agent under test
	ChatbaseAPIKey string
	ChatbaseBotID  string
	ChatbaseAPIURL string

	// Pipeline behavior
	DefaultLanguage string
	StageTimeout    time.Duration
	PhraseHints     []string
}

func LoadConfigFromEnv() Config {
	stageTimeout, err := time.ParseDuration(getenv("STAGE_TIMEOUT", "30s"))
	if err != nil {
		stageTimeout = 30 * time.Second
	}

	return Config{
		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),
		SentryDSN: getenv("SENTRY_DSN", ""),
		LogLevel:  getenv("LOG_LEVEL", "info"),

		AudioDir:   getenv("AUDIO_DIR", "audio_files"),
		ConfigFile: getenv("CONFIG_FILE", "config.json"),

		// Speech providers
		AzureSpeechKey:    getenv("AZURE_SPEECH_KEY", ""),
		AzureSpeechRegion: getenv("AZURE_SPEECH_REGION", "eastasia"),
		AzureTTSVoice:     getenv("AZURE_TTS_VOICE", ""),
		GoogleSpeechKey:   getenv("GOOGLE_SPEECH_API_KEY", ""),
		OpenAIAPIKey:      getenv("OPENAI_API_KEY", ""),

		// Conversational agent under test
		ChatbaseAPIKey: getenv("CHATBASE_API_KEY", ""),
		ChatbaseBotID:  getenv("CHATBASE_BOT_ID", ""),
		ChatbaseAPIURL: getenv("CHATBASE_API_URL", "https://www.chatbase.co/api/v1/chat"),

		// Pipeline behavior
		DefaultLanguage: getenv("DEFAULT_LANGUAGE_CODE", "zh-TW"),
		StageTimeout:    stageTimeout,
		PhraseHints:     parsePhraseHints(os.Getenv("PHRASE_HINTS")),
	}
}

func parsePhraseHints(s string) []string {
	if s == "" {
		return nil
	}
	var hints []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, h)
		}
	}
	return hints
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
