package agent

import "context"

// Client defines the interface for the conversational agent under test.
type Client interface {
	// Ask sends a question to the agent and returns its answer text.
	Ask(ctx context.Context, question string) (string, error)
}
