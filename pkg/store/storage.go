package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
)

var ErrNotFound = errors.New("store: graph not found")

// ExamplesExperimentID tags curated examples seeded into the store.
const ExamplesExperimentID = "examples"

// Run is the stored summary of one extraction session.
type Run struct {
	SessionID    string         `json:"session_id"`
	ExperimentID string         `json:"experiment_id,omitempty"`
	Event        string         `json:"event"`
	Context      string         `json:"context,omitempty"`
	Source       string         `json:"source,omitempty"`
	Device       string         `json:"device,omitempty"`
	Status       extract.Status `json:"status"`
	Attempts     int            `json:"attempts"`
	Violations   int            `json:"violations"`
	Diagnostic   string         `json:"diagnostic,omitempty"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// StoredGraph is a persisted graph together with its run.
type StoredGraph struct {
	Run        Run                 `json:"run"`
	Graph      graph.Document      `json:"graph"`
	Violations []extract.Violation `json:"violations,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything; Limit defaults
// to 50.
type RunFilter struct {
	Status       extract.Status
	ExperimentID string
	Limit        int
	Offset       int
}

// GraphStorage persists extraction results and serves accepted graphs back
// as few-shot examples.
type GraphStorage interface {
	extract.ExampleSource

	// SaveResult stores a finished session. Results without a graph store
	// only the run.
	SaveResult(ctx context.Context, res *extract.Result, experimentID string) error
	GetGraph(ctx context.Context, sessionID string) (*StoredGraph, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	DeleteGraph(ctx context.Context, sessionID string) error
	// SeedExamples stores curated examples so SimilarExamples can return
	// them. It reports how many were new.
	SeedExamples(ctx context.Context, examples []extract.Example) (int, error)
	// Clear deletes the graphs of one experiment, or all graphs when
	// experimentID is empty, and reports how many were deleted.
	Clear(ctx context.Context, experimentID string) (int64, error)
}

// ExampleSessionID is the stable session id of a seeded example.
func ExampleSessionID(event string) string {
	sum := sha256.Sum256([]byte(event))
	return "example-" + hex.EncodeToString(sum[:8])
}

// RunOf summarizes res the way it is stored.
func RunOf(res *extract.Result, experimentID string) Run {
	return Run{
		SessionID:    res.SessionID,
		ExperimentID: experimentID,
		Event:        res.Input.Event,
		Context:      res.Input.Context,
		Source:       res.Input.Source,
		Device:       res.Input.Device,
		Status:       res.Status,
		Attempts:     res.Attempts,
		Violations:   len(res.Violations),
		Diagnostic:   res.Diagnostic,
		InputTokens:  res.Metrics.InputTokens,
		OutputTokens: res.Metrics.OutputTokens,
		StartedAt:    res.Start,
		FinishedAt:   res.End,
	}
}
