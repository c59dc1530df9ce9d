package runner

import "time"

// Status is the lifecycle state of a single test item. It transitions exactly
// once, pending to success or error, and never reverts.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Seed is one test case as submitted by the client, before any processing.
type Seed struct {
	ID              string
	Question        string
	ReferenceAnswer string
}

// Item is one test case plus everything accumulated as it moves through the
// pipeline. Stage fields are set monotonically as stages complete and never
// cleared; observers only ever see items in a terminal status.
type Item struct {
	ID              string
	Question        string
	ReferenceAnswer string

	// AudioRef is created by the synthesis stage and owned by the run.
	AudioRef string
	STTText  string
	AIAnswer string

	// Score is the keyword correctness score, 0-100. nil means the item was
	// unscoreable (no reference keywords) and needs manual review.
	Score           *float64
	MissingKeywords []string

	// CER/WER measure transcription noise against the question text.
	CER *float64
	WER *float64

	TTSLatency   time.Duration
	STTLatency   time.Duration
	AgentLatency time.Duration
	EvalLatency  time.Duration
	TotalLatency time.Duration

	Status       Status
	ErrorMessage string
}
