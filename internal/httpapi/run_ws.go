package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jhlin/voiceqa/internal/runner"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// itemID accepts both JSON strings and numbers, since spreadsheet-exported
// test sets tend to carry numeric ids.
type itemID string

func (id *itemID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		return fmt.Errorf("id must not be null")
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = itemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	*id = itemID(n.String())
	return nil
}

// startMessage is the first (and normally only) client frame: the test set.
type startMessage struct {
	Items []startItem `json:"items"`
}

type startItem struct {
	ID              itemID `json:"id"`
	Question        string `json:"question"`
	ReferenceAnswer string `json:"reference_answer"`
}

// clientMessage covers frames after start; only cancel is recognized.
type clientMessage struct {
	Type string `json:"type"`
}

type breakdownPayload struct {
	TTS   float64 `json:"tts"`
	STT   float64 `json:"stt"`
	Agent float64 `json:"agent"`
	Eval  float64 `json:"eval"`
}

type resultPayload struct {
	ID              string           `json:"id"`
	AudioURL        string           `json:"audio_url,omitempty"`
	Question        string           `json:"question"`
	STTText         string           `json:"stt_text"`
	AIAnswer        string           `json:"ai_answer"`
	Score           *float64         `json:"score"`
	MissingKeywords []string         `json:"missing_keywords,omitempty"`
	CER             *float64         `json:"cer,omitempty"`
	WER             *float64         `json:"wer,omitempty"`
	Latency         float64          `json:"latency"`
	Breakdown       breakdownPayload `json:"breakdown"`
	Status          string           `json:"status"`
	Error           string           `json:"error,omitempty"`
}

type statsPayload struct {
	Processed  int      `json:"processed"`
	Total      int      `json:"total"`
	AvgScore   *float64 `json:"avg_score"`
	AvgLatency float64  `json:"avg_latency"`
}

type updateMessage struct {
	Type   string        `json:"type"`
	Result resultPayload `json:"result"`
	Stats  statsPayload  `json:"stats"`
}

type completeMessage struct {
	Type  string       `json:"type"`
	Stats statsPayload `json:"stats"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// runSession owns one websocket connection and the run it carries. The
// session is the runner's Sink: every terminated item goes out as an update
// frame on this connection.
type runSession struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) handleRunWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("run_ws: upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	session := &runSession{
		conn:   conn,
		logger: r.logger,
		ctx:    ctx,
		cancel: cancel,
	}
	defer session.cleanup()

	seeds, err := session.readStart()
	if err != nil {
		r.logger.Printf("run_ws: rejected start message: %v", err)
		session.sendError(err.Error())
		return
	}

	run := runner.New(runner.Config{
		TTS:             r.tts,
		STT:             r.stt,
		Agent:           r.agent,
		RunConfig:       r.runConfig,
		Audio:           r.audio,
		DefaultLanguage: r.cfg.DefaultLanguage,
		StageTimeout:    r.cfg.StageTimeout,
		Logger:          r.logger,
	})
	r.lastRun.Store(run)

	// Reads after start only ever mean "stop": either an explicit cancel
	// frame or the peer going away. Both cancel the run context.
	go session.readPump()

	stats, err := run.Run(ctx, seeds, session)
	if err != nil {
		captureError(req, err, "run_ws: run failed")
		session.sendError(err.Error())
		return
	}

	session.sendComplete(stats)
}

// readStart blocks for the first client frame and validates it into seeds.
func (s *runSession) readStart() ([]runner.Seed, error) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read start message: %w", err)
	}

	var start startMessage
	if err := json.Unmarshal(raw, &start); err != nil {
		return nil, fmt.Errorf("malformed start message: %v", err)
	}
	if len(start.Items) == 0 {
		return nil, fmt.Errorf("start message has no items")
	}

	seeds := make([]runner.Seed, 0, len(start.Items))
	for i, item := range start.Items {
		if item.ID == "" {
			return nil, fmt.Errorf("item %d: missing id", i)
		}
		if strings.TrimSpace(item.Question) == "" {
			return nil, fmt.Errorf("item %s: missing question", item.ID)
		}
		seeds = append(seeds, runner.Seed{
			ID:              string(item.ID),
			Question:        item.Question,
			ReferenceAnswer: item.ReferenceAnswer,
		})
	}
	return seeds, nil
}

// readPump drains client frames for the lifetime of the run. A cancel frame
// or any read error (the peer closed) cancels the run context; the runner
// notices at the next item boundary.
func (s *runSession) readPump() {
	defer s.cancel()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("run_ws: connection closed by client")
			} else if s.ctx.Err() == nil {
				s.logger.Printf("run_ws: read error: %v", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Printf("run_ws: ignoring unparseable client frame: %v", err)
			continue
		}
		if msg.Type == "cancel" {
			s.logger.Printf("run_ws: cancel requested by client")
			return
		}
	}
}

// Update implements runner.Sink. A write error means the client is gone,
// which the runner treats as cancellation.
func (s *runSession) Update(item runner.Item, stats runner.StatsSnapshot) error {
	msg := updateMessage{
		Type:   "update",
		Result: toResultPayload(item),
		Stats:  toStatsPayload(stats),
	}
	return s.writeJSON(msg)
}

func (s *runSession) sendComplete(stats runner.StatsSnapshot) {
	if err := s.writeJSON(completeMessage{Type: "complete", Stats: toStatsPayload(stats)}); err != nil {
		s.logger.Printf("run_ws: failed to send complete: %v", err)
	}
}

func (s *runSession) sendError(message string) {
	if err := s.writeJSON(errorMessage{Type: "error", Message: message}); err != nil {
		s.logger.Printf("run_ws: failed to send error: %v", err)
	}
}

func (s *runSession) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *runSession) cleanup() {
	s.cancel()

	s.connMu.Lock()
	_ = s.conn.Close()
	s.connMu.Unlock()
}

func toResultPayload(item runner.Item) resultPayload {
	return resultPayload{
		ID:              item.ID,
		AudioURL:        item.AudioRef,
		Question:        item.Question,
		STTText:         item.STTText,
		AIAnswer:        item.AIAnswer,
		Score:           item.Score,
		MissingKeywords: item.MissingKeywords,
		CER:             item.CER,
		WER:             item.WER,
		Latency:         item.TotalLatency.Seconds(),
		Breakdown: breakdownPayload{
			TTS:   item.TTSLatency.Seconds(),
			STT:   item.STTLatency.Seconds(),
			Agent: item.AgentLatency.Seconds(),
			Eval:  item.EvalLatency.Seconds(),
		},
		Status: string(item.Status),
		Error:  item.ErrorMessage,
	}
}

func toStatsPayload(stats runner.StatsSnapshot) statsPayload {
	return statsPayload{
		Processed:  stats.Processed,
		Total:      stats.Total,
		AvgScore:   stats.AvgScore,
		AvgLatency: stats.AvgLatency.Seconds(),
	}
}
