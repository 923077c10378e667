package extract

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
)

// Status is how a session ended.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusExhausted Status = "exhausted"
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of one session. Graph is the accepted graph, or
// for other outcomes the best candidate seen (fewest violations, latest on
// ties) with its BestViolations; it is nil if no candidate was ever decoded.
// Violations is the set the last validated attempt was rejected with.
type Result struct {
	SessionID      string           `json:"session_id"`
	Input          Input            `json:"input"`
	Status         Status           `json:"status"`
	Graph          *graph.Graph     `json:"graph,omitempty"`
	Attempts       int              `json:"attempts"`
	Violations     []Violation      `json:"violations,omitempty"`
	BestViolations []Violation      `json:"best_violations,omitempty"`
	Diagnostic     string           `json:"diagnostic,omitempty"`
	Transitions    []Transition     `json:"transitions"`
	Tools          ToolStats        `json:"tools"`
	Metrics        ai.ModelMetrics  `json:"metrics"`
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	Transcript     []ai.ChatMessage `json:"transcript,omitempty"`
}

func (r *Result) Accepted() bool { return r != nil && r.Status == StatusAccepted }

func (r *Result) Duration() time.Duration { return r.End.Sub(r.Start) }

// Summary aggregates a batch of sessions.
type Summary struct {
	Total           int             `json:"total"`
	Accepted        int             `json:"accepted"`
	Exhausted       int             `json:"exhausted"`
	Cancelled       int             `json:"cancelled"`
	Failed          int             `json:"failed"` // events that never produced a result
	Attempts        int             `json:"attempts"`
	Violations      map[string]int  `json:"violations"`
	TotalDuration   time.Duration   `json:"total_duration"`
	AverageDuration time.Duration   `json:"average_duration"`
	Metrics         ai.ModelMetrics `json:"metrics"`
}

// Summarize folds results into a Summary. Nil entries count as failed.
func Summarize(results []*Result) Summary {
	s := Summary{Total: len(results), Violations: make(map[string]int)}
	finished := 0
	for _, r := range results {
		if r == nil {
			s.Failed++
			continue
		}
		finished++
		switch r.Status {
		case StatusAccepted:
			s.Accepted++
		case StatusExhausted:
			s.Exhausted++
		case StatusCancelled:
			s.Cancelled++
		}
		s.Attempts += r.Attempts
		for _, v := range r.Violations {
			s.Violations[string(v.Kind)]++
		}
		s.TotalDuration += r.Duration()
		s.Metrics = s.Metrics.Add(r.Metrics)
	}
	if finished > 0 {
		s.AverageDuration = s.TotalDuration / time.Duration(finished)
	}
	return s
}

// SuccessRate is the share of accepted events in percent.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Total) * 100
}

// AverageAttempts is the mean number of attempts per finished session.
func (s Summary) AverageAttempts() float64 {
	finished := s.Total - s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Attempts) / float64(finished)
}

func (s Summary) String() string {
	return fmt.Sprintf("%d events: %d accepted, %d exhausted, %d cancelled, %d failed (%.1f%% success, %.2f attempts, %s average)",
		s.Total, s.Accepted, s.Exhausted, s.Cancelled, s.Failed,
		s.SuccessRate(), s.AverageAttempts(), s.AverageDuration.Round(time.Millisecond))
}
