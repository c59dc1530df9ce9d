package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

const whisperAPIURL = "https://api.openai.com/v1/audio/transcriptions"

// WhisperClient implements the Client interface using OpenAI's Whisper API.
// Whisper takes no phrase hints; they are ignored.
type WhisperClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// WhisperConfig holds configuration for the Whisper client.
type WhisperConfig struct {
	APIKey   string
	Model    string // e.g. "whisper-1"
	Endpoint string // overrides the default API endpoint (tests)

	HTTPClient *http.Client
}

// NewWhisperClient creates a new OpenAI Whisper client.
func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = whisperAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &WhisperClient{
		apiKey:     cfg.APIKey,
		model:      model,
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

type whisperResponse struct {
	Text string `json:"text"`
}

// Transcribe converts WAV audio to text using Whisper.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte, opts Options) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := writer.WriteField("language", whisperLanguage(opts.Language)); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Whisper API error: %s - %s", resp.Status, string(respBody))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed.Text, nil
}

// whisperLanguage maps BCP-47 codes like "en-US" or "zh-TW" to the ISO-639-1
// codes Whisper expects.
func whisperLanguage(language string) string {
	lower := strings.ToLower(language)
	if strings.HasPrefix(lower, "en") {
		return "en"
	}
	return "zh"
}
