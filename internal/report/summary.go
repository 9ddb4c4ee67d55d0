package report

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/mlsmithjr/transcoder/pkg/models"
)

// Summary aggregates the results of a run
type Summary struct {
	Results []*Result
}

// NewSummary sorts results by end time
func NewSummary(results []*Result) *Summary {
	sorted := append([]*Result(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EndTime.Before(sorted[j].EndTime)
	})
	return &Summary{Results: sorted}
}

// Counts returns the number of results per outcome
func (s *Summary) Counts() map[models.Outcome]int {
	counts := make(map[models.Outcome]int)
	for _, r := range s.Results {
		counts[r.Outcome]++
	}
	return counts
}

// Completions returns every result that must not be retried
func (s *Summary) Completions() []models.Completion {
	var out []models.Completion
	for _, r := range s.Results {
		if c, ok := r.Completion(); ok {
			out = append(out, c)
		}
	}
	return out
}

// Render writes one row per job and a totals line
func (s *Summary) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("File", "Host", "Directive", "Outcome", "Elapsed")
	var total time.Duration
	for _, r := range s.Results {
		total += r.Duration
		if err := table.Append([]string{
			filepath.Base(r.Path),
			r.Host,
			r.Directive,
			string(r.Outcome),
			FormatElapsed(r.Duration),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	counts := s.Counts()
	_, err := fmt.Fprintf(w, "%d jobs: %d encoded, %d vetoed, %d below threshold, %d failed, %d skipped (%s)\n",
		len(s.Results),
		counts[models.OutcomeSuccess],
		counts[models.OutcomeVetoed],
		counts[models.OutcomeThreshold],
		counts[models.OutcomeFailed]+counts[models.OutcomeError],
		counts[models.OutcomeSkipped],
		FormatElapsed(total),
	)
	return err
}
