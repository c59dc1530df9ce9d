package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jhlin/voiceqa/internal/agent"
	"github.com/jhlin/voiceqa/internal/audiostore"
	"github.com/jhlin/voiceqa/internal/runconfig"
	"github.com/jhlin/voiceqa/internal/runner"
	"github.com/jhlin/voiceqa/internal/stt"
	"github.com/jhlin/voiceqa/internal/tts"
)

type RouterConfig struct {
	// DefaultLanguage is the synthesis/transcription language for providers
	// that don't dictate their own.
	DefaultLanguage string

	// StageTimeout bounds every adapter call made by a run.
	StageTimeout time.Duration
}

type Router struct {
	cfg       RouterConfig
	logger    *log.Logger
	runConfig *runconfig.Store
	audio     *audiostore.Store

	tts   tts.Client
	stt   map[runconfig.Provider]stt.Client
	agent agent.Client

	// lastRun is the most recent run, kept for the export endpoint. Nothing
	// outlives it: a new run replaces it.
	lastRun atomic.Pointer[runner.Runner]

	mux *http.ServeMux
}

func NewRouter(
	cfg RouterConfig,
	logger *log.Logger,
	runCfg *runconfig.Store,
	audio *audiostore.Store,
	ttsClient tts.Client,
	sttClients map[runconfig.Provider]stt.Client,
	agentClient agent.Client,
) http.Handler {
	r := &Router{
		cfg:       cfg,
		logger:    logger,
		runConfig: runCfg,
		audio:     audio,
		tts:       ttsClient,
		stt:       sttClients,
		agent:     agentClient,
		mux:       http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Shared transcription settings (phrase hints, provider)
	r.mux.HandleFunc("GET /config", r.handleGetConfig)
	r.mux.HandleFunc("POST /config", r.handleSetConfig)

	// The run channel: one websocket per run
	r.mux.HandleFunc("GET /ws/test", r.handleRunWS)

	// Results of the most recent run as CSV
	r.mux.HandleFunc("GET /api/results/export", r.handleExportResults)

	// Synthesized question audio for playback in the dashboard
	r.mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(r.audio.Dir()))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
