// Command costreport summarizes the gateway's usage log.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/felipepmaragno/vertex-gateway/internal/usage"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "costreport:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	flags := flag.NewFlagSet("costreport", flag.ContinueOnError)
	flags.SetOutput(out)
	logFile := flags.String("log-file", usage.DefaultLogFile, "usage log to read")
	model := flags.String("model", "", "only count this model")
	recent := flags.Int("recent", 0, "also list the N most recent records")
	if err := flags.Parse(args); err != nil {
		return err
	}

	summary, err := summarize(*logFile, *model)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(out, "No usage log found at %s\n", *logFile)
		return nil
	}
	if err != nil {
		return err
	}

	printSummary(out, summary)

	if *recent > 0 {
		records, err := recent(*logFile, *recent, *model)
		if err != nil {
			return err
		}
		printRecent(out, records)
	}

	return nil
}

func summarize(path, model string) (usage.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return usage.Summary{}, err
	}
	defer f.Close()

	return usage.Summarize(f, model)
}

func recent(path string, n int, model string) ([]usage.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return usage.Recent(f, n, model)
}

func printSummary(out io.Writer, s usage.Summary) {
	if len(s.Models) == 0 {
		fmt.Fprintln(out, "No usage recorded.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tINPUT\tOUTPUT\tCOST")
	for _, m := range s.Models {
		cost := fmt.Sprintf("$%.4f", m.TotalCost)
		if m.Unpriced > 0 {
			cost += fmt.Sprintf(" (%d unpriced)", m.Unpriced)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", m.Model, m.Requests, m.InputTokens, m.OutputTokens, cost)
	}
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t$%.4f\n", s.Requests, s.InputTokens, s.OutputTokens, s.TotalCost)
	tw.Flush()

	if s.Skipped > 0 {
		fmt.Fprintf(out, "\nSkipped %d malformed line(s).\n", s.Skipped)
	}
}

func printRecent(out io.Writer, records []usage.Record) {
	fmt.Fprintf(out, "\nMost recent %d record(s):\n", len(records))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tMODEL\tINPUT\tOUTPUT\tCOST\tDURATION")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Timestamp, r.Model, r.InputTokens, r.OutputTokens,
			formatCost(r.TotalCostUSD), formatDuration(r.DurationMS))
	}
	tw.Flush()
}

func formatCost(v *float64) string {
	if v == nil {
		return "null"
	}
	return "$" + strconv.FormatFloat(*v, 'f', 6, 64)
}

func formatDuration(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64) + "ms"
}
