// Package export encodes run results as CSV for spreadsheet import.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jhlin/voiceqa/internal/runner"
)

// utf8BOM makes spreadsheet tools detect the encoding; without it Excel
// mangles CJK text.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var header = []string{
	"id",
	"question",
	"reference_answer",
	"stt_text",
	"ai_answer",
	"score",
	"total_latency",
	"tts_latency",
	"stt_latency",
	"agent_latency",
	"eval_latency",
}

// WriteCSV writes the items as UTF-8 CSV with a BOM prefix, one row per item
// in the fixed column order above. Latencies are seconds with millisecond
// precision; an undefined score is an empty field.
func WriteCSV(w io.Writer, items []runner.Item) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, item := range items {
		row := []string{
			item.ID,
			item.Question,
			item.ReferenceAnswer,
			item.STTText,
			item.AIAnswer,
			formatScore(item.Score),
			formatSeconds(item.TotalLatency),
			formatSeconds(item.TTSLatency),
			formatSeconds(item.STTLatency),
			formatSeconds(item.AgentLatency),
			formatSeconds(item.EvalLatency),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", item.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatScore(score *float64) string {
	if score == nil {
		return ""
	}
	return strconv.FormatFloat(*score, 'f', -1, 64)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
