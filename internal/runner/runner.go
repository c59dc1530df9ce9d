// Package runner drives the per-item QA pipeline for one run: synthesize the
// question, transcribe it back, query the agent, score the answer. Items are
// processed strictly in input order, one stage call in flight at a time, and
// every terminated item is published through a Sink together with the running
// statistics.
package runner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jhlin/voiceqa/internal/agent"
	"github.com/jhlin/voiceqa/internal/audiostore"
	"github.com/jhlin/voiceqa/internal/runconfig"
	"github.com/jhlin/voiceqa/internal/scoring"
	"github.com/jhlin/voiceqa/internal/stt"
	"github.com/jhlin/voiceqa/internal/textutil"
	"github.com/jhlin/voiceqa/internal/tts"
)

const defaultStageTimeout = 30 * time.Second

// ErrAlreadyStarted is returned by Run when the runner has been used before.
// A Runner executes exactly one run.
var ErrAlreadyStarted = errors.New("run already started")

// Sink receives terminal item views as the run progresses. Implementations
// frame them for a particular transport; a Sink error means the observer is
// gone and the run stops dispatching further items.
type Sink interface {
	Update(item Item, stats StatsSnapshot) error
}

// Config wires a Runner to its collaborators.
type Config struct {
	TTS   tts.Client
	STT   map[runconfig.Provider]stt.Client
	Agent agent.Client

	RunConfig *runconfig.Store
	Audio     *audiostore.Store

	// DefaultLanguage is the synthesis/transcription language unless the
	// configured provider dictates otherwise.
	DefaultLanguage string

	// StageTimeout bounds every adapter call so an unresponsive provider
	// becomes a stage error instead of a hang.
	StageTimeout time.Duration

	Logger *log.Logger
}

// Runner executes one run.
type Runner struct {
	id    string
	cfg   Config
	state atomic.Int32
	stats *Stats

	mu    sync.Mutex
	items []Item
}

// New creates a Runner for a single run.
func New(cfg Config) *Runner {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	return &Runner{
		id:  uuid.NewString(),
		cfg: cfg,
	}
}

// ID returns the run identifier used for log correlation.
func (r *Runner) ID() string { return r.id }

// State returns the run's lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Items returns a copy of the items terminated so far, in input order.
func (r *Runner) Items() []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, len(r.items))
	copy(out, r.items)
	return out
}

// Run executes the pipeline for every seed strictly in input order. Each
// terminated item is published once through sink; items never appear in an
// intermediate stage. A failing item never halts the run. Cancellation via
// ctx takes effect at item boundaries: an in-flight stage call is bounded by
// the stage timeout, and an item caught mid-flight by cancellation is
// discarded unreported. An item whose update cannot be delivered is likewise
// never counted: processed always equals the updates the observer received.
// Run returns the final statistics; for a cancelled run these are the
// statistics accumulated so far.
func (r *Runner) Run(ctx context.Context, seeds []Seed, sink Sink) (StatsSnapshot, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return StatsSnapshot{}, ErrAlreadyStarted
	}
	defer r.state.Store(int32(StateCompleted))

	r.stats = NewStats(len(seeds))
	r.cfg.Logger.Printf("runner: run %s started with %d items", r.id, len(seeds))

	for i, seed := range seeds {
		if ctx.Err() != nil {
			r.state.Store(int32(StateCancelling))
			r.cfg.Logger.Printf("runner: run %s cancelled before item %d/%d", r.id, i+1, len(seeds))
			break
		}

		item := r.processItem(ctx, seed)

		if ctx.Err() != nil {
			// Cancelled while this item was in flight. Its result is
			// discarded: items not reported before cancellation stay pending.
			r.state.Store(int32(StateCancelling))
			r.cfg.Logger.Printf("runner: run %s cancelled during item %s, result discarded", r.id, item.ID)
			break
		}

		// Stats and the item ledger commit only once the observer has the
		// update, so processed always equals the updates actually delivered.
		next := *r.stats
		next.Record(item)

		if err := sink.Update(item, next.Snapshot()); err != nil {
			r.state.Store(int32(StateCancelling))
			r.cfg.Logger.Printf("runner: run %s observer gone during item %s: %v", r.id, item.ID, err)
			break
		}

		*r.stats = next
		r.mu.Lock()
		r.items = append(r.items, item)
		r.mu.Unlock()
	}

	snap := r.stats.Snapshot()
	r.cfg.Logger.Printf("runner: run %s finished, processed %d/%d", r.id, snap.Processed, snap.Total)
	return snap, nil
}

func (r *Runner) processItem(ctx context.Context, seed Seed) Item {
	item := Item{
		ID:              seed.ID,
		Question:        seed.Question,
		ReferenceAnswer: seed.ReferenceAnswer,
		Status:          StatusPending,
	}

	start := time.Now()
	err := r.runStages(ctx, &item)
	item.TotalLatency = time.Since(start)

	if err != nil {
		item.Status = StatusError
		item.ErrorMessage = err.Error()
		r.cfg.Logger.Printf("runner: run %s item %s failed: %v", r.id, item.ID, err)
	} else {
		item.Status = StatusSuccess
	}
	return item
}

func (r *Runner) runStages(ctx context.Context, item *Item) error {
	// The shared config is read once per item, so a mid-run change applies
	// to subsequent items only, never retroactively. The language it implies
	// drives synthesis voice, transcription and the agent query alike.
	snapshot := r.cfg.RunConfig.Get()
	language := r.languageFor(snapshot.Provider)

	// 1. Synthesize the question. Audio for identical question text and
	// language is content-addressed and reused instead of re-synthesized.
	audioName := audioFileName(item.ID, item.Question, language)
	var audio []byte
	elapsed, err := r.stage(ctx, StageSynthesis, func(ctx context.Context) error {
		var stageErr error
		if r.cfg.Audio.Exists(audioName) {
			if audio, stageErr = r.cfg.Audio.Load(audioName); stageErr != nil {
				return stageErr
			}
			item.AudioRef = r.cfg.Audio.Ref(audioName)
			return nil
		}
		if audio, stageErr = r.cfg.TTS.Synthesize(ctx, item.Question, language); stageErr != nil {
			return stageErr
		}
		item.AudioRef, stageErr = r.cfg.Audio.Save(audioName, audio)
		return stageErr
	})
	item.TTSLatency = elapsed
	if err != nil {
		return err
	}

	// 2. Transcribe.
	elapsed, err = r.stage(ctx, StageTranscription, func(ctx context.Context) error {
		client, ok := r.cfg.STT[snapshot.Provider]
		if !ok {
			return fmt.Errorf("no transcription client for provider %q", snapshot.Provider)
		}
		raw, stageErr := client.Transcribe(ctx, audio, stt.Options{
			Language:    language,
			PhraseHints: snapshot.PhraseHints,
		})
		if stageErr != nil {
			return stageErr
		}
		item.STTText = textutil.Normalize(raw)
		return nil
	})
	item.STTLatency = elapsed
	if err != nil {
		return err
	}

	// 3. Query the agent with the transcript, pinning the answer language.
	elapsed, err = r.stage(ctx, StageAgent, func(ctx context.Context) error {
		query := fmt.Sprintf("%s Please answer in the language: %s", item.STTText, language)
		answer, stageErr := r.cfg.Agent.Ask(ctx, query)
		if stageErr != nil {
			return stageErr
		}
		item.AIAnswer = answer
		return nil
	})
	item.AgentLatency = elapsed
	if err != nil {
		return err
	}

	// 4. Score. Scoring is pure and should not fail; if it does it is a bug,
	// surfaced through the same recovery path as adapter faults.
	elapsed, err = r.stage(ctx, StageScoring, func(context.Context) error {
		question := textutil.Normalize(item.Question)
		cer := scoring.CER(question, item.STTText)
		wer := scoring.WER(question, item.STTText)
		item.CER = &cer
		item.WER = &wer

		keywords := scoring.SplitKeywords(item.ReferenceAnswer)
		item.Score, item.MissingKeywords = scoring.KeywordScore(item.AIAnswer, keywords)
		return nil
	})
	item.EvalLatency = elapsed
	return err
}

// stage runs fn under the stage timeout, measuring wall-clock latency and
// converting errors and panics into a StageError. The runner process must
// never die from an adapter or scoring fault.
func (r *Runner) stage(ctx context.Context, stage PipelineStage, fn func(context.Context) error) (time.Duration, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.cfg.StageTimeout)
	defer cancel()

	start := time.Now()
	err := runRecovered(stageCtx, fn)
	elapsed := time.Since(start)

	if err != nil {
		return elapsed, &StageError{Stage: stage, Err: err}
	}
	return elapsed, nil
}

func runRecovered(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// languageFor picks the pipeline language: the Whisper environment is
// English-only, everything else uses the configured default.
func (r *Runner) languageFor(provider runconfig.Provider) string {
	if provider == runconfig.ProviderOpenAI {
		return "en-US"
	}
	if r.cfg.DefaultLanguage != "" {
		return r.cfg.DefaultLanguage
	}
	return "zh-TW"
}

// audioFileName content-addresses the synthesized audio for one question in
// one language; a language switch must not replay audio spoken in another.
func audioFileName(id, question, language string) string {
	sum := md5.Sum([]byte(language + "|" + question))
	return fmt.Sprintf("q%s_%s.wav", id, hex.EncodeToString(sum[:])[:8])
}
