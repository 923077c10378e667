package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
)

// State is a step of the extraction state machine.
type State string

const (
	StateInit            State = "init"
	StateAwaitingOracle  State = "awaiting_oracle"
	StateDispatchingTool State = "dispatching_tool"
	StateValidating      State = "validating"
	StateRepairing       State = "repairing"
	StateAccepted        State = "accepted"
	StateExhausted       State = "exhausted"
	StateCancelled       State = "cancelled"
)

func (s State) terminal() bool {
	return s == StateAccepted || s == StateExhausted || s == StateCancelled
}

// Transition records one state change.
type Transition struct {
	From    State     `json:"from"`
	To      State     `json:"to"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// failure is a rejected attempt waiting in Repairing. reply tells the model
// what went wrong and is only sent if another attempt follows.
type failure struct {
	reason string
	reply  func()
}

type session struct {
	engine *Engine
	in     Input
	id     string
	log    logger.Entry
	conv   ai.Conversation
	tools  *dispatcher

	state   State
	attempt int
	rounds  int
	pending []ai.ToolCall

	emitCall *ai.ToolCall
	current  *candidate
	best     *candidate
	last     *candidate
	failure  *failure

	diagnostics []string
	transitions []Transition
	metrics     ai.ModelMetrics
	start       time.Time
	err         error
}

func (s *session) run(ctx context.Context) {
	for !s.state.terminal() {
		if err := ctx.Err(); err != nil {
			s.cancel(err)
			return
		}
		switch s.state {
		case StateInit:
			s.begin(ctx)
		case StateAwaitingOracle:
			s.awaitOracle(ctx)
		case StateDispatchingTool:
			s.dispatchTools(ctx)
		case StateValidating:
			s.validate()
		case StateRepairing:
			s.repair()
		default:
			panic(fmt.Sprintf("extract: unknown state %q", s.state))
		}
	}
}

func (s *session) to(next State) {
	s.transitions = append(s.transitions, Transition{From: s.state, To: next, Attempt: s.attempt, At: time.Now()})
	s.log.Debug("State change", "from", s.state, "to", next, "attempt", s.attempt)
	s.state = next
}

func (s *session) cancel(err error) {
	s.err = err
	s.diagnostics = append(s.diagnostics, "cancelled: "+err.Error())
	s.to(StateCancelled)
}

// fail ends the current attempt.
func (s *session) fail(reason string, reply func()) {
	s.diagnostics = append(s.diagnostics, fmt.Sprintf("attempt %d: %s", s.attempt, reason))
	s.log.Debug("Attempt rejected", "attempt", s.attempt, "reason", reason)
	s.failure = &failure{reason: reason, reply: reply}
	s.to(StateRepairing)
}

func (s *session) begin(ctx context.Context) {
	e := s.engine
	system := fmt.Sprintf(ai.ExtractGraphPrompt, e.schema.Describe(), LookupToolName, EmitToolName)
	s.conv = e.client.StartConversation(s.tools.tools,
		ai.WithModel(e.cfg.Model),
		ai.WithTemperature(e.cfg.Temperature),
		ai.WithThinking(e.cfg.Thinking),
		ai.WithSystemPrompts(system),
	)

	for _, ex := range s.examples(ctx) {
		data, err := json.MarshalIndent(PayloadFromDocument(ex.Graph), "", "  ")
		if err != nil {
			continue
		}
		s.conv.AddUser(fmt.Sprintf(ai.ExamplePrompt, ex.Event, ex.Context, data))
		s.conv.AddAssistant(ai.ExampleAckPrompt)
	}
	s.conv.AddUser(fmt.Sprintf(ai.ExtractEventPrompt, s.in.Event, s.in.contextText()))

	s.attempt = 1
	s.to(StateAwaitingOracle)
}

func (s *session) examples(ctx context.Context) []Example {
	e := s.engine
	if e.examples == nil || e.cfg.Examples == 0 {
		return nil
	}
	examples, err := e.examples.SimilarExamples(ctx, s.in.Event, e.cfg.Examples)
	if err != nil {
		s.log.Warn("Failed to load examples", "err", err)
		return nil
	}
	if len(examples) > e.cfg.Examples {
		examples = examples[:e.cfg.Examples]
	}
	return examples
}

func (s *session) awaitOracle(ctx context.Context) {
	sendCtx, cancel := ctx, context.CancelFunc(func() {})
	if t := s.engine.cfg.OracleTimeout; t > 0 {
		sendCtx, cancel = context.WithTimeout(ctx, t)
	}
	resp, err := s.conv.Send(sendCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			s.cancel(ctx.Err())
			return
		}
		if ai.IsTransient(err) {
			s.log.Warn("Model call failed", "attempt", s.attempt, "err", err)
		} else {
			s.log.Error("Model call failed", "attempt", s.attempt, "err", err)
		}
		s.fail("model call failed: "+err.Error(), nil)
		return
	}
	s.metrics = s.metrics.Add(resp.Metrics)

	if resp.HasToolCalls() {
		s.pending = resp.ToolCalls
		s.to(StateDispatchingTool)
		return
	}

	// Some models answer with the graph as text instead of calling the tool.
	if raw, ok := ai.ExtractJSON(resp.Content); ok {
		if c, err := s.tools.decode(raw); err == nil && c.graph.Len() > 0 {
			s.current = c
			s.emitCall = nil
			s.to(StateValidating)
			return
		}
	}
	s.fail("model answered without submitting a graph", func() {
		s.conv.AddUser(fmt.Sprintf(ai.MissingToolCallPrompt, EmitToolName))
	})
}

func (s *session) dispatchTools(ctx context.Context) {
	calls := s.pending
	s.pending = nil

	var emitted *outcome
	for _, call := range calls {
		out := s.tools.dispatch(ctx, call)
		if err := ctx.Err(); err != nil {
			s.cancel(err)
			return
		}
		if out.emit {
			if emitted != nil {
				s.conv.AddToolResult(emitted.call, `{"status":"superseded by a later submission"}`)
			}
			emitted = &out
			continue
		}
		if out.err != nil {
			s.log.Debug("Tool call failed", "tool", call.Name, "err", out.err)
			s.conv.AddToolResult(call, toolErrorReply(out.err))
			continue
		}
		s.conv.AddToolResult(call, out.result)
	}

	if emitted == nil {
		s.rounds++
		if s.rounds >= s.engine.cfg.MaxToolRounds {
			rounds := s.rounds
			s.fail(fmt.Sprintf("no graph submitted after %d tool rounds", rounds), func() {
				s.conv.AddUser(fmt.Sprintf(ai.ToolRoundsExceededPrompt, rounds, EmitToolName))
			})
			return
		}
		s.to(StateAwaitingOracle)
		return
	}

	if emitted.err != nil {
		call, err := emitted.call, emitted.err
		s.fail(err.Error(), func() {
			s.conv.AddToolResult(call, toolErrorReply(err))
		})
		return
	}

	s.current = emitted.candidate
	s.emitCall = &emitted.call
	s.to(StateValidating)
}

func (s *session) validate() {
	c := s.current
	c.result = Validate(c.graph)
	c.attempt = s.attempt
	s.last = c

	// Fewest violations wins; later attempts win ties.
	if s.best == nil || len(c.result.Violations) <= len(s.best.result.Violations) {
		s.best = c
	}

	if c.result.Accepted() {
		if s.emitCall != nil {
			s.conv.AddToolResult(*s.emitCall, `{"status":"accepted"}`)
		}
		s.to(StateAccepted)
		return
	}

	attempt, call := s.attempt, s.emitCall
	reply := fmt.Sprintf(ai.RepairPrompt, attempt, s.engine.cfg.MaxAttempts, formatViolations(c.result.Violations, c.name))
	s.fail(fmt.Sprintf("%d violations (%s)", len(c.result.Violations), joinKinds(c.result.Kinds())), func() {
		if call != nil {
			s.conv.AddToolResult(*call, reply)
			return
		}
		s.conv.AddUser(reply)
	})
}

func (s *session) repair() {
	f := s.failure
	s.failure = nil
	s.emitCall = nil

	if s.attempt >= s.engine.cfg.MaxAttempts {
		s.to(StateExhausted)
		return
	}
	s.attempt++
	s.rounds = 0
	if f != nil && f.reply != nil {
		f.reply()
	}
	s.to(StateAwaitingOracle)
}

func (s *session) result() *Result {
	res := &Result{
		SessionID:   s.id,
		Input:       s.in,
		Attempts:    s.attempt,
		Transitions: s.transitions,
		Tools:       s.tools.stats.clone(),
		Metrics:     s.metrics,
		Start:       s.start,
		End:         time.Now(),
	}

	switch s.state {
	case StateAccepted:
		res.Status = StatusAccepted
		res.Graph = s.current.graph
	case StateExhausted:
		res.Status = StatusExhausted
	default:
		res.Status = StatusCancelled
	}
	if res.Status != StatusAccepted && s.best != nil {
		res.Graph = s.best.graph
		res.BestViolations = s.best.result.Violations
	}
	if res.Status != StatusAccepted {
		diagnostics := s.diagnostics
		if s.last != nil {
			res.Violations = s.last.result.Violations
			diagnostics = append(slices.Clip(diagnostics),
				fmt.Sprintf("last violations (attempt %d):\n%s", s.last.attempt, FormatViolations(res.Violations)))
		}
		res.Diagnostic = strings.Join(diagnostics, "\n")
	}
	if s.engine.cfg.KeepTranscript && s.conv != nil {
		res.Transcript = s.conv.Transcript()
	}
	return res
}

func joinKinds(kinds []ViolationKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
