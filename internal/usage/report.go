package usage

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"time"
)

var errIncompleteRecord = errors.New("record is missing model or token counts")

type ModelSummary struct {
	Model        string
	Requests     int
	InputTokens  int64
	OutputTokens int64
	// TotalCost counts unpriced records as zero; Unpriced says how many there were.
	TotalCost float64
	Unpriced  int
	First     time.Time
	Last      time.Time
}

type Summary struct {
	Models       []ModelSummary
	Requests     int
	InputTokens  int64
	OutputTokens int64
	TotalCost    float64
	// Skipped counts lines that were not valid records.
	Skipped int
}

// Summarize totals a usage log per model. When model is non-empty only that
// model's records are counted.
func Summarize(r io.Reader, model string) (Summary, error) {
	byModel := make(map[string]*ModelSummary)

	skipped, err := scanRecords(r, func(rec Record) {
		if model != "" && rec.Model != model {
			return
		}

		s, ok := byModel[rec.Model]
		if !ok {
			s = &ModelSummary{Model: rec.Model}
			byModel[rec.Model] = s
		}

		s.Requests++
		s.InputTokens += int64(rec.InputTokens)
		s.OutputTokens += int64(rec.OutputTokens)
		if rec.TotalCostUSD != nil {
			s.TotalCost += *rec.TotalCostUSD
		} else {
			s.Unpriced++
		}

		if ts, err := rec.Time(); err == nil {
			if s.First.IsZero() || ts.Before(s.First) {
				s.First = ts
			}
			if ts.After(s.Last) {
				s.Last = ts
			}
		}
	})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Skipped: skipped}
	for _, s := range byModel {
		summary.Models = append(summary.Models, *s)
		summary.Requests += s.Requests
		summary.InputTokens += s.InputTokens
		summary.OutputTokens += s.OutputTokens
		summary.TotalCost += s.TotalCost
	}
	sort.Slice(summary.Models, func(i, j int) bool {
		return summary.Models[i].Model < summary.Models[j].Model
	})

	return summary, nil
}

// Recent returns the last n records in the log, newest first. n <= 0 returns
// all of them.
func Recent(r io.Reader, n int, model string) ([]Record, error) {
	var records []Record

	_, err := scanRecords(r, func(rec Record) {
		if model != "" && rec.Model != model {
			return
		}
		records = append(records, rec)
	})
	if err != nil {
		return nil, err
	}

	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, nil
}

type logLine struct {
	Record
	Model        *string `json:"model"`
	InputTokens  *int    `json:"input_tokens"`
	OutputTokens *int    `json:"output_tokens"`
}

func parseLine(data []byte) (Record, error) {
	var line logLine
	if err := json.Unmarshal(data, &line); err != nil {
		return Record{}, err
	}
	if line.Model == nil || line.InputTokens == nil || line.OutputTokens == nil {
		return Record{}, errIncompleteRecord
	}

	rec := line.Record
	rec.Model = *line.Model
	rec.InputTokens = *line.InputTokens
	rec.OutputTokens = *line.OutputTokens
	return rec, nil
}

func scanRecords(r io.Reader, fn func(Record)) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	skipped := 0
	for scanner.Scan() {
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		rec, err := parseLine(data)
		if err != nil {
			skipped++
			continue
		}
		fn(rec)
	}

	return skipped, scanner.Err()
}
