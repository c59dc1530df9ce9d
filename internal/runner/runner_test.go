package runner

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jhlin/voiceqa/internal/audiostore"
	"github.com/jhlin/voiceqa/internal/runconfig"
	"github.com/jhlin/voiceqa/internal/stt"
)

// Function-typed fakes for the three adapters.

type ttsFunc func(ctx context.Context, text, language string) ([]byte, error)

func (f ttsFunc) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	return f(ctx, text, language)
}

type sttFunc func(ctx context.Context, audio []byte, opts stt.Options) (string, error)

func (f sttFunc) Transcribe(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	return f(ctx, audio, opts)
}

type agentFunc func(ctx context.Context, question string) (string, error)

func (f agentFunc) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// echoTTS encodes the question into the audio so echoSTT can decode it back,
// letting tests run the full pipeline without providers.
func echoTTS(ctx context.Context, text, language string) ([]byte, error) {
	return []byte(text), nil
}

func echoSTT(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
	return string(audio), nil
}

type sinkUpdate struct {
	item  Item
	stats StatsSnapshot
}

// collectSink records updates; an optional hook runs after each one.
type collectSink struct {
	updates []sinkUpdate
	hook    func(n int) error
}

func (s *collectSink) Update(item Item, stats StatsSnapshot) error {
	if s.hook != nil {
		if err := s.hook(len(s.updates) + 1); err != nil {
			return err
		}
	}
	s.updates = append(s.updates, sinkUpdate{item: item, stats: stats})
	return nil
}

type testEnv struct {
	cfg   Config
	store *runconfig.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	audio, err := audiostore.New(t.TempDir())
	if err != nil {
		t.Fatalf("audiostore.New: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	store := runconfig.NewStore("", runconfig.Config{
		PhraseHints: []string{"貓熊"},
		Provider:    runconfig.ProviderGoogle,
	}, logger)

	return &testEnv{
		store: store,
		cfg: Config{
			TTS:             ttsFunc(echoTTS),
			STT:             map[runconfig.Provider]stt.Client{runconfig.ProviderGoogle: sttFunc(echoSTT)},
			Agent:           agentFunc(func(ctx context.Context, q string) (string, error) { return "貓熊在戶外柵欄區", nil }),
			RunConfig:       store,
			Audio:           audio,
			DefaultLanguage: "zh-TW",
			Logger:          logger,
		},
	}
}

func TestRun_AllItemsSucceedInInputOrder(t *testing.T) {
	env := newTestEnv(t)
	seeds := []Seed{
		{ID: "1", Question: "貓熊在哪裡", ReferenceAnswer: "貓熊,柵欄"},
		{ID: "2", Question: "大象在哪裡", ReferenceAnswer: "貓熊"},
		{ID: "3", Question: "老虎在哪裡"},
	}

	sink := &collectSink{}
	snap, err := New(env.cfg).Run(context.Background(), seeds, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(sink.updates))
	}
	for i, u := range sink.updates {
		if u.item.ID != seeds[i].ID {
			t.Errorf("update %d: item %s, want %s (input order)", i, u.item.ID, seeds[i].ID)
		}
		if u.item.Status != StatusSuccess {
			t.Errorf("item %s: status = %s, want success", u.item.ID, u.item.Status)
		}
		if u.stats.Processed != i+1 {
			t.Errorf("update %d: processed = %d, want %d", i, u.stats.Processed, i+1)
		}
		if u.stats.Total != 3 {
			t.Errorf("update %d: total = %d, want 3", i, u.stats.Total)
		}
	}

	// Echo pipeline transcribes the question exactly, so the error rates
	// are zero.
	first := sink.updates[0].item
	if first.CER == nil || *first.CER != 0 {
		t.Errorf("item 1 CER = %v, want 0", first.CER)
	}
	if first.Score == nil || *first.Score != 100 {
		t.Errorf("item 1 score = %v, want 100 (both keywords present)", first.Score)
	}
	if first.AudioRef == "" {
		t.Error("item 1 AudioRef should be set by the synthesis stage")
	}

	// Item 3 has no reference keywords: unscoreable, not zero.
	third := sink.updates[2].item
	if third.Score != nil {
		t.Errorf("item 3 score = %v, want nil (manual review)", *third.Score)
	}

	if snap.Processed != 3 {
		t.Errorf("final processed = %d, want 3", snap.Processed)
	}
}

func TestRun_SynthesisFailureIsolatedToItem(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.TTS = ttsFunc(func(ctx context.Context, text, language string) ([]byte, error) {
		if strings.Contains(text, "大象") {
			return nil, errors.New("voice quota exhausted")
		}
		return []byte(text), nil
	})

	seeds := []Seed{
		{ID: "1", Question: "貓熊在哪裡", ReferenceAnswer: "貓熊"},
		{ID: "2", Question: "大象在哪裡", ReferenceAnswer: "貓熊"},
		{ID: "3", Question: "老虎在哪裡", ReferenceAnswer: "貓熊"},
	}

	sink := &collectSink{}
	snap, err := New(env.cfg).Run(context.Background(), seeds, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.updates) != 3 {
		t.Fatalf("updates = %d, want 3 (failure must not halt the run)", len(sink.updates))
	}

	failed := sink.updates[1].item
	if failed.Status != StatusError {
		t.Fatalf("item 2 status = %s, want error", failed.Status)
	}
	if !strings.Contains(failed.ErrorMessage, "voice quota exhausted") {
		t.Errorf("item 2 error = %q, want injected reason preserved", failed.ErrorMessage)
	}
	if !strings.Contains(failed.ErrorMessage, string(StageSynthesis)) {
		t.Errorf("item 2 error = %q, want failing stage named", failed.ErrorMessage)
	}
	if failed.Score != nil {
		t.Errorf("item 2 score = %v, want nil for failed item", *failed.Score)
	}

	next := sink.updates[2].item
	if next.Status != StatusSuccess {
		t.Errorf("item 3 status = %s, want success after isolated failure", next.Status)
	}

	// The failed item contributes latency but no score.
	if snap.Processed != 3 {
		t.Errorf("processed = %d, want 3", snap.Processed)
	}
	if snap.AvgScore == nil || *snap.AvgScore != 100 {
		t.Errorf("AvgScore = %v, want 100 over the two scored items", snap.AvgScore)
	}
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	env := newTestEnv(t)

	var ttsCalls atomic.Int32
	env.cfg.TTS = ttsFunc(func(ctx context.Context, text, language string) ([]byte, error) {
		ttsCalls.Add(1)
		return []byte(text), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{hook: func(n int) error {
		if n == 2 {
			cancel()
		}
		return nil
	}}

	seeds := []Seed{
		{ID: "1", Question: "a?", ReferenceAnswer: "a"},
		{ID: "2", Question: "b?", ReferenceAnswer: "b"},
		{ID: "3", Question: "c?", ReferenceAnswer: "c"},
		{ID: "4", Question: "d?", ReferenceAnswer: "d"},
	}

	r := New(env.cfg)
	snap, err := r.Run(ctx, seeds, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.updates) != 2 {
		t.Fatalf("updates = %d, want 2 (cancelled after second)", len(sink.updates))
	}
	if snap.Processed != 2 {
		t.Errorf("processed = %d, want 2 = number of updates delivered", snap.Processed)
	}
	if got := ttsCalls.Load(); got != 2 {
		t.Errorf("tts calls = %d, want 2 (no dispatch after cancellation)", got)
	}
	if r.State() != StateCompleted {
		t.Errorf("state = %s, want completed", r.State())
	}
}

func TestRun_ObserverErrorStopsRun(t *testing.T) {
	env := newTestEnv(t)
	sink := &collectSink{hook: func(n int) error {
		return errors.New("websocket: close sent")
	}}

	seeds := []Seed{{ID: "1", Question: "a?"}, {ID: "2", Question: "b?"}}
	r := New(env.cfg)
	snap, err := r.Run(context.Background(), seeds, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.updates) != 0 {
		t.Errorf("updates = %d, want 0", len(sink.updates))
	}
	// The first item terminated, but its update never reached the observer,
	// so it is not counted: processed tracks delivered updates exactly.
	if snap.Processed != len(sink.updates) {
		t.Errorf("processed = %d, want %d = updates delivered", snap.Processed, len(sink.updates))
	}
	if got := len(r.Items()); got != 0 {
		t.Errorf("recorded items = %d, want 0 (undelivered item is not kept)", got)
	}
}

func TestRun_UnresponsiveStageBecomesItemError(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.StageTimeout = 20 * time.Millisecond
	env.cfg.Agent = agentFunc(func(ctx context.Context, q string) (string, error) {
		<-ctx.Done() // provider hangs until the stage timeout fires
		return "", ctx.Err()
	})

	seeds := []Seed{{ID: "1", Question: "a?", ReferenceAnswer: "a"}}
	sink := &collectSink{}
	if _, err := New(env.cfg).Run(context.Background(), seeds, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(sink.updates))
	}
	item := sink.updates[0].item
	if item.Status != StatusError {
		t.Fatalf("status = %s, want error (timeout converts a hang into a stage failure)", item.Status)
	}
	if !strings.Contains(item.ErrorMessage, string(StageAgent)) {
		t.Errorf("error = %q, want agent stage named", item.ErrorMessage)
	}
}

func TestRun_StagePanicIsRecovered(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.STT = map[runconfig.Provider]stt.Client{
		runconfig.ProviderGoogle: sttFunc(func(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
			panic("index out of range")
		}),
	}

	seeds := []Seed{
		{ID: "1", Question: "a?", ReferenceAnswer: "a"},
		{ID: "2", Question: "b?", ReferenceAnswer: "b"},
	}
	sink := &collectSink{}
	if _, err := New(env.cfg).Run(context.Background(), seeds, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sink.updates) != 2 {
		t.Fatalf("updates = %d, want 2 (panic must not kill the run)", len(sink.updates))
	}
	for _, u := range sink.updates {
		if u.item.Status != StatusError {
			t.Errorf("item %s status = %s, want error", u.item.ID, u.item.Status)
		}
		if !strings.Contains(u.item.ErrorMessage, "panic") {
			t.Errorf("item %s error = %q, want panic message preserved", u.item.ID, u.item.ErrorMessage)
		}
	}
}

func TestRun_ConfigChangeAffectsSubsequentCallsOnly(t *testing.T) {
	env := newTestEnv(t)

	var ttsLanguages []string
	env.cfg.TTS = ttsFunc(func(ctx context.Context, text, language string) ([]byte, error) {
		ttsLanguages = append(ttsLanguages, language)
		return []byte(text), nil
	})

	var googleCalls, whisperCalls atomic.Int32
	env.cfg.STT = map[runconfig.Provider]stt.Client{
		runconfig.ProviderGoogle: sttFunc(func(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
			googleCalls.Add(1)
			if opts.Language != "zh-TW" {
				t.Errorf("google language = %q, want zh-TW", opts.Language)
			}
			return string(audio), nil
		}),
		runconfig.ProviderOpenAI: sttFunc(func(ctx context.Context, audio []byte, opts stt.Options) (string, error) {
			whisperCalls.Add(1)
			if opts.Language != "en-US" {
				t.Errorf("whisper language = %q, want en-US", opts.Language)
			}
			return string(audio), nil
		}),
	}

	sink := &collectSink{hook: func(n int) error {
		if n == 1 {
			// Flip the shared provider mid-run.
			if err := env.store.Set(runconfig.Config{Provider: runconfig.ProviderOpenAI}); err != nil {
				t.Errorf("Set: %v", err)
			}
		}
		return nil
	}}

	seeds := []Seed{
		{ID: "1", Question: "first?"},
		{ID: "2", Question: "second?"},
	}
	if _, err := New(env.cfg).Run(context.Background(), seeds, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := googleCalls.Load(); got != 1 {
		t.Errorf("google calls = %d, want 1 (item before the change)", got)
	}
	if got := whisperCalls.Load(); got != 1 {
		t.Errorf("whisper calls = %d, want 1 (item after the change)", got)
	}

	// Synthesis speaks in the pipeline language of its own item, so the
	// provider flip moves the voice language too.
	want := []string{"zh-TW", "en-US"}
	if len(ttsLanguages) != len(want) {
		t.Fatalf("tts languages = %v, want %v", ttsLanguages, want)
	}
	for i := range want {
		if ttsLanguages[i] != want[i] {
			t.Errorf("tts language[%d] = %q, want %q", i, ttsLanguages[i], want[i])
		}
	}
}

func TestRun_SecondRunRejected(t *testing.T) {
	env := newTestEnv(t)
	r := New(env.cfg)
	if _, err := r.Run(context.Background(), []Seed{{ID: "1", Question: "a?"}}, &collectSink{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := r.Run(context.Background(), []Seed{{ID: "1", Question: "a?"}}, &collectSink{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run error = %v, want ErrAlreadyStarted", err)
	}
}

func TestRun_AudioCacheReusedAcrossRuns(t *testing.T) {
	env := newTestEnv(t)

	var ttsCalls atomic.Int32
	env.cfg.TTS = ttsFunc(func(ctx context.Context, text, language string) ([]byte, error) {
		ttsCalls.Add(1)
		return []byte(text), nil
	})

	seeds := []Seed{{ID: "1", Question: "貓熊在哪裡", ReferenceAnswer: "貓熊"}}

	if _, err := New(env.cfg).Run(context.Background(), seeds, &collectSink{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := New(env.cfg).Run(context.Background(), seeds, &collectSink{}); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if got := ttsCalls.Load(); got != 1 {
		t.Errorf("tts calls = %d, want 1 (second run served from the audio cache)", got)
	}
}

func TestRun_ItemsReturnsTerminatedItems(t *testing.T) {
	env := newTestEnv(t)
	r := New(env.cfg)
	seeds := []Seed{
		{ID: "1", Question: "a?", ReferenceAnswer: "x"},
		{ID: "2", Question: "b?", ReferenceAnswer: "y"},
	}
	if _, err := r.Run(context.Background(), seeds, &collectSink{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	items := r.Items()
	if len(items) != 2 {
		t.Fatalf("Items = %d entries, want 2", len(items))
	}
	for i, item := range items {
		if item.ID != seeds[i].ID {
			t.Errorf("items[%d].ID = %s, want %s", i, item.ID, seeds[i].ID)
		}
		if item.Status == StatusPending {
			t.Errorf("items[%d] still pending; only terminal items are recorded", i)
		}
	}
}

func TestAudioFileName(t *testing.T) {
	name := audioFileName("7", "貓熊在哪裡", "zh-TW")
	if !strings.HasPrefix(name, "q7_") || !strings.HasSuffix(name, ".wav") {
		t.Errorf("audioFileName = %q, want q7_<hash>.wav", name)
	}
	if name != audioFileName("7", "貓熊在哪裡", "zh-TW") {
		t.Error("audioFileName must be deterministic")
	}
	if name == audioFileName("7", "大象在哪裡", "zh-TW") {
		t.Error("different questions must hash to different names")
	}
	if name == audioFileName("8", "貓熊在哪裡", "zh-TW") {
		t.Error("different ids must produce different names")
	}
	if name == audioFileName("7", "貓熊在哪裡", "en-US") {
		t.Error("different languages must not share cached audio")
	}
}
