package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ChatbaseClient implements the Client interface against the Chatbase
// message API.
type ChatbaseClient struct {
	apiKey      string
	botID       string
	apiURL      string
	temperature float64
	httpClient  *http.Client
}

// ChatbaseConfig holds configuration for the Chatbase client.
type ChatbaseConfig struct {
	APIKey string
	BotID  string
	APIURL string

	HTTPClient *http.Client
}

// NewChatbaseClient creates a new Chatbase client.
func NewChatbaseClient(cfg ChatbaseConfig) *ChatbaseClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ChatbaseClient{
		apiKey:      cfg.APIKey,
		botID:       cfg.BotID,
		apiURL:      cfg.APIURL,
		temperature: 0.1,
		httpClient:  httpClient,
	}
}

type chatbaseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatbaseRequest struct {
	ChatbotID   string            `json:"chatbotId"`
	Messages    []chatbaseMessage `json:"messages"`
	Temperature float64           `json:"temperature"`
}

// chatbaseResponse covers the answer field variants Chatbase has used.
type chatbaseResponse struct {
	Text       string `json:"text"`
	Answer     string `json:"answer"`
	AnswerText string `json:"answer_text"`
	Reply      string `json:"reply"`
}

func (r chatbaseResponse) answerText() string {
	for _, candidate := range []string{r.Text, r.Answer, r.AnswerText, r.Reply} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Ask sends a single-turn question to the bot and returns its answer text.
func (c *ChatbaseClient) Ask(ctx context.Context, question string) (string, error) {
	req := chatbaseRequest{
		ChatbotID:   c.botID,
		Messages:    []chatbaseMessage{{Role: "user", Content: question}},
		Temperature: c.temperature,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Chatbase API error: %s - %s", resp.Status, string(respBody))
	}

	var parsed chatbaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	answer := parsed.answerText()
	if answer == "" {
		return "", fmt.Errorf("Chatbase response contained no answer text")
	}
	return answer, nil
}
