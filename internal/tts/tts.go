package tts

import "context"

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech in the given BCP-47 language and
	// returns WAV audio data. The provider picks a voice for the language.
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}
