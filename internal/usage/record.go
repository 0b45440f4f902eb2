package usage

import (
	"math"
	"time"
)

// TimestampLayout is UTC with microseconds and a literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Entry is what the relay knows about a completed call.
type Entry struct {
	Model        string
	InputTokens  int
	OutputTokens int
	// Duration is zero when the call was not timed.
	Duration time.Duration
}

// Record is one line of the usage log. Nil cost fields mean the model had no
// pricing entry.
type Record struct {
	Timestamp     string   `json:"timestamp"`
	Model         string   `json:"model"`
	InputTokens   int      `json:"input_tokens"`
	OutputTokens  int      `json:"output_tokens"`
	InputCostUSD  *float64 `json:"input_cost_usd"`
	OutputCostUSD *float64 `json:"output_cost_usd"`
	TotalCostUSD  *float64 `json:"total_cost_usd"`
	DurationMS    *float64 `json:"duration_ms"`
}

func NewRecord(entry Entry, at time.Time, costs Costs, priced bool) Record {
	rec := Record{
		Timestamp:    at.UTC().Format(TimestampLayout),
		Model:        entry.Model,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
	}

	if priced {
		rec.InputCostUSD = ptr(round(costs.Input, 6))
		rec.OutputCostUSD = ptr(round(costs.Output, 6))
		rec.TotalCostUSD = ptr(round(costs.Total, 6))
	}

	if entry.Duration > 0 {
		rec.DurationMS = ptr(round(float64(entry.Duration)/float64(time.Millisecond), 2))
	}

	return rec
}

// Time parses the record timestamp.
func (r Record) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func ptr(v float64) *float64 {
	return &v
}
