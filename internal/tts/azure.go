package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AzureClient implements the Client interface using the Azure Speech REST API.
type AzureClient struct {
	key        string
	voice      string // configured override; empty means per-language selection
	language   string
	endpoint   string
	httpClient *http.Client
}

// AzureConfig holds configuration for the Azure Speech client.
type AzureConfig struct {
	Key      string
	Region   string // e.g. "eastasia"; used to build the endpoint
	Voice    string // fixed voice override; empty selects a voice per language
	Language string // fallback language when a call passes none, e.g. "zh-TW"
	Endpoint string // overrides the region-derived endpoint (tests)

	HTTPClient *http.Client
}

// NewAzureClient creates a new Azure Speech client.
func NewAzureClient(cfg AzureConfig) *AzureClient {
	language := cfg.Language
	if language == "" {
		language = "zh-TW"
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &AzureClient{
		key:        cfg.Key,
		voice:      cfg.Voice,
		language:   language,
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

// Synthesize converts text to speech and returns 16kHz 16-bit mono WAV audio.
// The voice follows the requested language unless a fixed voice is configured.
func (c *AzureClient) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if language == "" {
		language = c.language
	}
	voice := c.voice
	if voice == "" {
		voice = defaultVoiceFor(language)
	}

	body, err := buildSSML(language, voice, text)
	if err != nil {
		return nil, fmt.Errorf("failed to build ssml: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", "riff-16khz-16bit-mono-pcm")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Azure Speech API error: %s - %s", resp.Status, string(respBody))
	}

	return io.ReadAll(resp.Body)
}

// defaultVoiceFor picks a neural voice matching the pipeline language.
func defaultVoiceFor(language string) string {
	if strings.HasPrefix(strings.ToLower(language), "en") {
		return "en-US-JennyNeural"
	}
	return "zh-TW-HsiaoChenNeural"
}

func buildSSML(language, voice, text string) ([]byte, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf,
		`<speak version='1.0' xml:lang='%s'><voice name='%s'>%s</voice></speak>`,
		language, voice, escaped.String())
	return buf.Bytes(), nil
}
