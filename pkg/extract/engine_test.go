package extract

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/enrich"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
)

func berlin() enrich.Lookup {
	return enrich.LookupFunc(func(ctx context.Context, addr netip.Addr) (enrich.Record, error) {
		return enrich.Record{City: "Berlin", Country: "Germany"}, nil
	})
}

func newTestEngine(t *testing.T, client ai.GraphAIClient, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OracleTimeout = time.Second
	cfg.LookupTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(testSchema(t), client, cfg, opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func run(t *testing.T, e *Engine, event string) *Result {
	t.Helper()
	res, err := e.Run(context.Background(), Input{Event: event, Source: "auth.log", Device: "gateway"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func states(res *Result) []State {
	var out []State
	for _, tr := range res.Transitions {
		out = append(out, tr.To)
	}
	return out
}

func TestRunAcceptsGraphAfterLookup(t *testing.T) {
	client := newFakeClient(
		callTools(lookupCall("c1", "203.0.113.5")),
		emit("c2", aliceGraph()),
	)
	e := newTestEngine(t, client, nil, WithLookup(berlin()))

	res := run(t, e, aliceEvent)

	if res.Status != StatusAccepted || res.Attempts != 1 {
		t.Fatalf("status = %s after %d attempts, want accepted after 1\n%s", res.Status, res.Attempts, res.Diagnostic)
	}
	if res.Graph.Len() != 3 || len(res.Graph.Edges()) != 2 {
		t.Fatalf("graph = %+v", res.Graph.Document())
	}
	event, ok := res.Graph.FindEventNode()
	if !ok || event.Properties["eventMessage"] != aliceEvent {
		t.Fatalf("event node = %+v", event)
	}
	prefix := "http://example.com/test/run/" + res.SessionID + "/"
	for _, n := range res.Graph.Nodes() {
		if !strings.HasPrefix(n.URI, prefix) {
			t.Fatalf("URI %s is not under %s", n.URI, prefix)
		}
	}

	lookup := client.conv.results["c1"]
	if !strings.Contains(lookup, `"city":"Berlin"`) || !strings.Contains(lookup, `"address":"203.0.113.5"`) {
		t.Fatalf("lookup result = %s", lookup)
	}
	if res.Tools.Lookups != 1 || res.Tools.Calls[LookupToolName] != 1 || res.Tools.Calls[EmitToolName] != 1 {
		t.Fatalf("tool stats = %+v", res.Tools)
	}
	if res.Metrics.TotalTokens != 30 {
		t.Fatalf("metrics = %+v, want tokens of both turns", res.Metrics)
	}

	want := []State{StateAwaitingOracle, StateDispatchingTool, StateAwaitingOracle, StateDispatchingTool, StateValidating, StateAccepted}
	if got := states(res); !slices.Equal(got, want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	first := client.conv.msgs[0].Message
	if !strings.Contains(first, aliceEvent) || !strings.Contains(first, "file: auth.log; device: gateway") {
		t.Fatalf("first user message = %q", first)
	}
}

func TestRunRepairsUnknownType(t *testing.T) {
	bad := aliceGraph()
	bad.Nodes[1] = node("u", "Person", "userName", "alice")

	client := newFakeClient(emit("c1", bad), emit("c2", aliceGraph()))
	res := run(t, newTestEngine(t, client, nil), aliceEvent)

	if res.Status != StatusAccepted || res.Attempts != 2 {
		t.Fatalf("status = %s after %d attempts, want accepted after 2", res.Status, res.Attempts)
	}
	if !slices.Contains(states(res), StateRepairing) {
		t.Fatalf("transitions %v never entered repairing", states(res))
	}

	reply := client.conv.results["c1"]
	if !strings.Contains(reply, "UnknownType") || !strings.Contains(reply, `"u"`) {
		t.Fatalf("repair reply = %s, want the violation named by the model id", reply)
	}
	if !strings.Contains(reply, "Attempt 1 of 3") {
		t.Fatalf("repair reply = %s, want the attempt count", reply)
	}
	if client.conv.results["c2"] != `{"status":"accepted"}` {
		t.Fatalf("accepted reply = %s", client.conv.results["c2"])
	}
}

func TestRunExhaustsOnPersistentDisconnection(t *testing.T) {
	orphan := aliceGraph()
	orphan.Relationships = orphan.Relationships[:1]

	client := newFakeClient(emit("c1", orphan), emit("c2", orphan), emit("c3", orphan), emit("c4", aliceGraph()))
	var observed []*Result
	e := newTestEngine(t, client, nil, WithObserver(ObserverFunc(func(r *Result) { observed = append(observed, r) })))

	res := run(t, e, aliceEvent)

	if res.Status != StatusExhausted {
		t.Fatalf("status = %s, want exhausted", res.Status)
	}
	if res.Attempts != 3 || client.conv.sends != 3 {
		t.Fatalf("attempts = %d, sends = %d, want 3 each", res.Attempts, client.conv.sends)
	}
	if res.Graph == nil {
		t.Fatal("exhausted result carries no graph")
	}
	if len(res.Violations) != 1 || res.Violations[0].Kind != Disconnected {
		t.Fatalf("violations = %v, want one Disconnected", res.Violations)
	}
	if !strings.HasSuffix(res.Violations[0].URI, "/address-1") {
		t.Fatalf("disconnected URI = %s", res.Violations[0].URI)
	}
	if strings.Count(res.Diagnostic, "violations (Disconnected)") != 3 {
		t.Fatalf("diagnostic = %q, want one line per attempt", res.Diagnostic)
	}
	if !strings.Contains(res.Diagnostic, "last violations (attempt 3)") || !strings.Contains(res.Diagnostic, "/address-1") {
		t.Fatalf("diagnostic = %q, want the last violation set", res.Diagnostic)
	}
	if len(observed) != 1 || observed[0] != res {
		t.Fatalf("observer saw %d results", len(observed))
	}
}

func TestRunKeepsBestCandidateAndLastViolations(t *testing.T) {
	worse := aliceGraph()
	worse.Relationships = nil // two disconnected nodes
	better := aliceGraph()
	better.Relationships = better.Relationships[:1]

	client := newFakeClient(emit("c1", better), emit("c2", better), emit("c3", worse))
	res := run(t, newTestEngine(t, client, nil), aliceEvent)

	if res.Status != StatusExhausted || res.Attempts != 3 {
		t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("violations = %v, want the two of the last attempt", res.Violations)
	}
	for _, v := range res.Violations {
		if v.Kind != Disconnected {
			t.Fatalf("unexpected violation %v", v)
		}
	}
	if len(res.Graph.Edges()) != 1 || len(res.BestViolations) != 1 {
		t.Fatalf("graph has %d edges with %v, want the best candidate", len(res.Graph.Edges()), res.BestViolations)
	}
	_, last, ok := strings.Cut(res.Diagnostic, "last violations")
	if !ok || strings.Count(last, "Disconnected:") != 2 {
		t.Fatalf("diagnostic = %q, want both last violations spelled out", res.Diagnostic)
	}
}

func TestRunUnknownToolIsReportedToModel(t *testing.T) {
	client := newFakeClient(
		callTools(ai.ToolCall{ID: "c1", Name: "delete_everything", Arguments: "{}"}),
		emit("c2", aliceGraph()),
	)
	res := run(t, newTestEngine(t, client, nil), aliceEvent)

	if res.Status != StatusAccepted || res.Attempts != 1 {
		t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
	}
	if !strings.Contains(client.conv.results["c1"], "unknown tool") {
		t.Fatalf("reply = %s", client.conv.results["c1"])
	}
	if res.Tools.Errors != 1 {
		t.Fatalf("tool errors = %d, want 1", res.Tools.Errors)
	}
}

func TestRunLookupFailureIsNotFatal(t *testing.T) {
	down := enrich.LookupFunc(func(ctx context.Context, addr netip.Addr) (enrich.Record, error) {
		return enrich.Record{}, enrich.ErrLookupUnavailable
	})
	client := newFakeClient(
		callTools(lookupCall("c1", "203.0.113.5"), lookupCall("c2", "not-an-address")),
		emit("c3", aliceGraph()),
	)
	res := run(t, newTestEngine(t, client, nil, WithLookup(down)), aliceEvent)

	if res.Status != StatusAccepted || res.Attempts != 1 {
		t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
	}
	if got := client.conv.results["c1"]; !strings.Contains(got, "no information") || strings.Contains(got, "error") {
		t.Fatalf("unavailable lookup reply = %s", got)
	}
	if got := client.conv.results["c2"]; !strings.Contains(got, `"error"`) {
		t.Fatalf("invalid address reply = %s", got)
	}
	if res.Tools.LookupFailures != 1 || res.Tools.Errors != 1 {
		t.Fatalf("tool stats = %+v", res.Tools)
	}
}

func TestRunCachesLookupsWithinSession(t *testing.T) {
	calls := 0
	counting := enrich.LookupFunc(func(ctx context.Context, addr netip.Addr) (enrich.Record, error) {
		calls++
		return enrich.Record{City: "Berlin"}, nil
	})
	client := newFakeClient(
		callTools(lookupCall("c1", "203.0.113.5")),
		callTools(lookupCall("c2", "203.0.113.5")),
		emit("c3", aliceGraph()),
	)
	res := run(t, newTestEngine(t, client, nil, WithLookup(counting)), aliceEvent)

	if calls != 1 || res.Tools.CacheHits != 1 {
		t.Fatalf("lookups = %d, cache hits = %d", calls, res.Tools.CacheHits)
	}
}

func TestRunRecoversFromMalformedSubmission(t *testing.T) {
	dangling := aliceGraph()
	dangling.Relationships = append(dangling.Relationships, rel("e", "hasAddress", "ghost"))

	client := newFakeClient(
		emit("c1", dangling),
		callTools(ai.ToolCall{ID: "c2", Name: EmitToolName, Arguments: "not json at all"}),
		emit("c3", aliceGraph()),
	)
	res := run(t, newTestEngine(t, client, nil), aliceEvent)

	if res.Status != StatusAccepted || res.Attempts != 3 {
		t.Fatalf("status = %s after %d attempts\n%s", res.Status, res.Attempts, res.Diagnostic)
	}
	if !strings.Contains(client.conv.results["c1"], "unknown node id") {
		t.Fatalf("reply = %s", client.conv.results["c1"])
	}
}

func TestRunPlainAnswers(t *testing.T) {
	t.Run("text without a graph costs an attempt", func(t *testing.T) {
		client := newFakeClient(answer("I think this is a login."), emit("c1", aliceGraph()))
		res := run(t, newTestEngine(t, client, nil), aliceEvent)
		if res.Status != StatusAccepted || res.Attempts != 2 {
			t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
		}
		if !strings.Contains(client.conv.lastUser(), EmitToolName) {
			t.Fatalf("last user message = %q", client.conv.lastUser())
		}
	})

	t.Run("graph given as text is validated", func(t *testing.T) {
		data := emitCall("", aliceGraph()).Arguments
		client := newFakeClient(answer("Here you go:\n```json\n" + data + "\n```"))
		res := run(t, newTestEngine(t, client, nil), aliceEvent)
		if res.Status != StatusAccepted || res.Attempts != 1 {
			t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
		}
	})
}

func TestRunToolRoundLimit(t *testing.T) {
	client := newFakeClient(
		callTools(lookupCall("c1", "203.0.113.5")),
		callTools(lookupCall("c2", "203.0.113.6")),
		emit("c3", aliceGraph()),
	)
	res := run(t, newTestEngine(t, client, func(c *Config) { c.MaxToolRounds = 2 }, WithLookup(berlin())), aliceEvent)

	if res.Status != StatusAccepted || res.Attempts != 2 {
		t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
	}
	if !strings.Contains(client.conv.lastUser(), "2 times") {
		t.Fatalf("last user message = %q", client.conv.lastUser())
	}
}

func TestRunOracleFailures(t *testing.T) {
	t.Run("timeout counts as an attempt", func(t *testing.T) {
		client := newFakeClient(hang(), emit("c1", aliceGraph()))
		e := newTestEngine(t, client, func(c *Config) { c.OracleTimeout = 10 * time.Millisecond })
		res := run(t, e, aliceEvent)
		if res.Status != StatusAccepted || res.Attempts != 2 {
			t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
		}
	})

	t.Run("errors exhaust the budget", func(t *testing.T) {
		boom := ai.NewTransientError(errors.New("503 service unavailable"))
		client := newFakeClient(failWith(boom), failWith(boom), failWith(boom))
		res := run(t, newTestEngine(t, client, nil), aliceEvent)
		if res.Status != StatusExhausted || res.Attempts != 3 || res.Graph != nil {
			t.Fatalf("status = %s after %d attempts, graph %v", res.Status, res.Attempts, res.Graph)
		}
		if !strings.Contains(res.Diagnostic, "503") {
			t.Fatalf("diagnostic = %q", res.Diagnostic)
		}
	})
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := newFakeClient(func(_ context.Context, cv *fakeConversation) (*ai.Response, error) {
		cancel()
		return nil, context.Canceled
	})
	e := newTestEngine(t, client, nil)

	res, err := e.Run(ctx, Input{Event: aliceEvent})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Status != StatusCancelled || res.Attempts != 1 {
		t.Fatalf("status = %s after %d attempts", res.Status, res.Attempts)
	}
}

func TestRunCancellationDuringLookup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := enrich.LookupFunc(func(ctx context.Context, addr netip.Addr) (enrich.Record, error) {
		cancel()
		<-ctx.Done()
		return enrich.Record{}, ctx.Err()
	})
	client := newFakeClient(
		callTools(lookupCall("c1", "203.0.113.5")),
		emit("c2", aliceGraph()),
	)
	e := newTestEngine(t, client, func(c *Config) { c.LookupTimeout = time.Minute }, WithLookup(blocking))

	res, err := e.Run(ctx, Input{Event: aliceEvent})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if res.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
	if client.conv.sends != 1 {
		t.Fatalf("sends = %d, want no model turn after the cancelled lookup", client.conv.sends)
	}
	if res.Tools.LookupFailures != 0 {
		t.Fatalf("cancelled lookup counted as failure: %+v", res.Tools)
	}
}

func TestRunRejectsEmptyEvent(t *testing.T) {
	e := newTestEngine(t, newFakeClient(), nil)
	if _, err := e.Run(context.Background(), Input{Event: "  "}); !errors.Is(err, ErrEmptyEvent) {
		t.Fatalf("Run() error = %v, want ErrEmptyEvent", err)
	}
}

type staticExamples []Example

func (s staticExamples) SimilarExamples(ctx context.Context, event string, k int) ([]Example, error) {
	return s, nil
}

func TestRunShowsExamples(t *testing.T) {
	ex := Example{
		Event: "Accepted password for bob from 198.51.100.1 port 22 ssh2",
		Graph: graph.Document{
			Event: "Accepted password for bob from 198.51.100.1 port 22 ssh2",
			Nodes: []graph.Node{{URI: "http://example.com/test/run/x/event-1", Class: "Event", Properties: map[string]any{"eventMessage": "b"}}},
		},
	}
	client := newFakeClient(emit("c1", aliceGraph()))
	e := newTestEngine(t, client, nil, WithExamples(staticExamples{ex, ex, ex}))

	run(t, e, aliceEvent)

	msgs := client.conv.msgs
	if !strings.Contains(msgs[0].Message, "Example event") || !strings.Contains(msgs[0].Message, `"event-1"`) {
		t.Fatalf("first message = %q", msgs[0].Message)
	}
	if msgs[1].Role != "assistant" {
		t.Fatalf("second message role = %s", msgs[1].Role)
	}
	examples := 0
	for _, m := range msgs {
		if strings.HasPrefix(m.Message, "Example event") {
			examples++
		}
	}
	if examples != 2 {
		t.Fatalf("examples shown = %d, want the configured 2", examples)
	}
	if client.opts.SystemPrompts == nil || !strings.Contains(client.opts.SystemPrompts[0], "Relationships") {
		t.Fatal("system prompt does not describe the ontology")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no attempts", func(c *Config) { c.MaxAttempts = 0 }, false},
		{"no tool rounds", func(c *Config) { c.MaxToolRounds = 0 }, false},
		{"negative timeout", func(c *Config) { c.LookupTimeout = -time.Second }, false},
		{"hot temperature", func(c *Config) { c.Temperature = 3 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok != (err == nil) {
				t.Fatalf("Validate() error = %v", err)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	start := time.Now()
	results := []*Result{
		{Status: StatusAccepted, Attempts: 1, Start: start, End: start.Add(time.Second)},
		{Status: StatusExhausted, Attempts: 3, Start: start, End: start.Add(3 * time.Second), Violations: []Violation{{Kind: Disconnected}}},
		nil,
	}
	s := Summarize(results)
	if s.Total != 3 || s.Accepted != 1 || s.Exhausted != 1 || s.Failed != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.AverageDuration != 2*time.Second || s.AverageAttempts() != 2 {
		t.Fatalf("averages = %v, %v", s.AverageDuration, s.AverageAttempts())
	}
	if s.Violations["Disconnected"] != 1 {
		t.Fatalf("violations = %v", s.Violations)
	}
}
