package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jhlin/voiceqa/internal/export"
	"github.com/jhlin/voiceqa/internal/runconfig"
)

func (r *Router) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.runConfig.Get())
}

func (r *Router) handleSetConfig(w http.ResponseWriter, req *http.Request) {
	var cfg runconfig.Config
	if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	if err := r.runConfig.Set(cfg); err != nil {
		if errors.Is(err, runconfig.ErrInvalidProvider) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		captureError(req, err, "config: update failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update config"})
		return
	}

	r.logger.Printf("config: updated, provider=%s hints=%d", cfg.Provider, len(cfg.PhraseHints))
	writeJSON(w, http.StatusOK, r.runConfig.Get())
}

// handleExportResults streams the most recent run's items as CSV. Items of a
// run still in progress are exported as far as they have terminated.
func (r *Router) handleExportResults(w http.ResponseWriter, req *http.Request) {
	run := r.lastRun.Load()
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run to export"})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
	if err := export.WriteCSV(w, run.Items()); err != nil {
		// Headers are gone at this point, all we can do is log.
		r.logger.Printf("export: write failed: %v", err)
		captureError(req, err, "export: write failed")
	}
}
