package stt

import "context"

// Options carry the per-call transcription settings. PhraseHints bias the
// recognizer toward domain vocabulary; not every provider supports them.
type Options struct {
	Language    string
	PhraseHints []string
}

// Client defines the interface for speech-to-text providers.
type Client interface {
	// Transcribe converts WAV audio data to text.
	Transcribe(ctx context.Context, audio []byte, opts Options) (string, error)
}
