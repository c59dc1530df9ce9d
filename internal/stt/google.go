package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const googleSpeechAPIURL = "https://speech.googleapis.com/v1/speech:recognize"

// GoogleClient implements the Client interface using the Google Cloud
// Speech-to-Text REST API.
type GoogleClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// GoogleConfig holds configuration for the Google Speech client.
type GoogleConfig struct {
	APIKey   string
	Endpoint string // overrides the default API endpoint (tests)

	HTTPClient *http.Client
}

// NewGoogleClient creates a new Google Speech client.
func NewGoogleClient(cfg GoogleConfig) *GoogleClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = googleSpeechAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GoogleClient{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

// recognizeRequest is the speech:recognize request payload.
type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  recognizeAudio  `json:"audio"`
}

type recognizeConfig struct {
	LanguageCode   string          `json:"languageCode"`
	SpeechContexts []speechContext `json:"speechContexts,omitempty"`
}

type speechContext struct {
	Phrases []string `json:"phrases"`
}

type recognizeAudio struct {
	Content string `json:"content"` // Base64 WAV/LINEAR16
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// Transcribe converts WAV audio to text, biased by the supplied phrase hints.
func (c *GoogleClient) Transcribe(ctx context.Context, audio []byte, opts Options) (string, error) {
	req := recognizeRequest{
		Config: recognizeConfig{LanguageCode: opts.Language},
		Audio:  recognizeAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	}
	if len(opts.PhraseHints) > 0 {
		req.Config.SpeechContexts = []speechContext{{Phrases: opts.PhraseHints}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.endpoint + "?key=" + c.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Google Speech API error: %s - %s", resp.Status, string(respBody))
	}

	var parsed recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var transcript strings.Builder
	for _, result := range parsed.Results {
		if len(result.Alternatives) > 0 {
			transcript.WriteString(result.Alternatives[0].Transcript)
		}
	}
	return transcript.String(), nil
}
