package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
)

func TestSessionFinished(t *testing.T) {
	m := New()
	start := time.Now()
	m.SessionFinished(&extract.Result{
		Status:     extract.StatusExhausted,
		Attempts:   3,
		Violations: []extract.Violation{{Kind: extract.Disconnected}, {Kind: extract.Disconnected}},
		Tools:      extract.ToolStats{Calls: map[string]int{extract.LookupToolName: 2, extract.EmitToolName: 3}, Lookups: 2, CacheHits: 1},
		Start:      start,
		End:        start.Add(2 * time.Second),
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`lkgb_sessions_total{status="exhausted"} 1`,
		`lkgb_violations_total{kind="Disconnected"} 2`,
		`lkgb_tool_calls_total{tool="emit_event_graph"} 3`,
		`lkgb_address_lookups_total{outcome="cached"} 1`,
		`lkgb_attempts_sum 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output lacks %q", want)
		}
	}
}
