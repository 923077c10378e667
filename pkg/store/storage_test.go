package store

import (
	"testing"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
)

func TestRunOf(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	res := &extract.Result{
		SessionID:  "abc",
		Input:      extract.Input{Event: "x", Source: "auth.log", Device: "gw"},
		Status:     extract.StatusExhausted,
		Attempts:   3,
		Violations: []extract.Violation{{Kind: extract.Disconnected}, {Kind: extract.UnknownType}},
		Metrics:    ai.ModelMetrics{InputTokens: 100, OutputTokens: 20},
		Start:      start,
		End:        start.Add(time.Second),
	}

	run := RunOf(res, "exp-1")
	if run.SessionID != "abc" || run.ExperimentID != "exp-1" || run.Source != "auth.log" || run.Device != "gw" {
		t.Fatalf("run = %+v", run)
	}
	if run.Violations != 2 || run.Attempts != 3 || run.InputTokens != 100 {
		t.Fatalf("run counters = %+v", run)
	}
	if !run.FinishedAt.Equal(start.Add(time.Second)) {
		t.Fatalf("finished at = %v", run.FinishedAt)
	}
}

func TestExampleSessionID(t *testing.T) {
	a := ExampleSessionID("Accepted password for bob")
	if a != ExampleSessionID("Accepted password for bob") {
		t.Fatal("expected a stable id")
	}
	if a == ExampleSessionID("Accepted password for alice") {
		t.Fatal("expected distinct ids for distinct events")
	}
	if len(a) != len("example-")+16 {
		t.Fatalf("unexpected id %q", a)
	}
}
