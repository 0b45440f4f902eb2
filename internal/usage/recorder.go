package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/metrics"
)

// Sink persists usage records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Name() string
}

type Recorder struct {
	calculator *Calculator
	sinks      []Sink
	now        func() time.Time
}

func NewRecorder(calculator *Calculator, sinks ...Sink) *Recorder {
	if calculator == nil {
		calculator = NewCalculator()
	}
	return &Recorder{
		calculator: calculator,
		sinks:      sinks,
		now:        time.Now,
	}
}

// Record prices entry and writes the result to every sink. A failing sink does
// not stop the others; all failures are joined into the returned error.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	costs, priced := r.calculator.Calculate(entry.Model, entry.InputTokens, entry.OutputTokens)
	rec := NewRecord(entry, r.now(), costs, priced)

	metrics.RecordTokens(entry.Model, entry.InputTokens, entry.OutputTokens)
	if priced {
		metrics.RecordCost(entry.Model, costs.Total)
	}

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
		}
	}

	return errors.Join(errs...)
}
