package extract

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/enrich"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

const (
	LookupToolName = "lookup_address"
	EmitToolName   = "emit_event_graph"
)

type lookupArgs struct {
	Address string `json:"address" jsonschema:"required" jsonschema_description:"IPv4 or IPv6 address exactly as it appears in the event"`
}

type lookupResult struct {
	Address string `json:"address"`
	enrich.Record
	Note string `json:"note,omitempty"`
}

// ToolStats counts tool use within one session.
type ToolStats struct {
	Calls          map[string]int `json:"calls"`
	Lookups        int            `json:"lookups"`
	CacheHits      int            `json:"cache_hits"`
	LookupFailures int            `json:"lookup_failures"`
	Errors         int            `json:"errors"`
}

func (s ToolStats) clone() ToolStats {
	s.Calls = maps.Clone(s.Calls)
	return s
}

// Catalog returns the tools offered to the model for schema. The lookup
// tool has no handler; it is bound to a lookup when a session starts.
func Catalog(schema *ontology.Schema) []ai.Tool {
	return []ai.Tool{
		{
			Name:        LookupToolName,
			Description: "Look up location and ownership facts for an IPv4 or IPv6 address mentioned in the event.",
			Parameters:  ai.SchemaMap(lookupArgs{}),
			Execution:   ai.ToolExecutionServer,
		},
		{
			Name:        EmitToolName,
			Description: "Submit the complete knowledge graph of the event. Call this exactly once with every node and relationship.",
			Parameters:  emitParameters(schema),
			Execution:   ai.ToolExecutionClient,
		},
	}
}

// dispatcher executes the tool calls of one session.
type dispatcher struct {
	schema        *ontology.Schema
	event         string
	namespace     string
	session       string
	cache         *enrich.Cache
	lookupTimeout time.Duration
	tools         []ai.Tool
	stats         ToolStats
	log           logger.Entry
}

func newDispatcher(schema *ontology.Schema, event, session string, lookup enrich.Lookup, lookupTimeout time.Duration, log logger.Entry) *dispatcher {
	d := &dispatcher{
		schema:        schema,
		event:         event,
		namespace:     schema.Namespace(),
		session:       session,
		cache:         enrich.NewCache(lookup),
		lookupTimeout: lookupTimeout,
		stats:         ToolStats{Calls: make(map[string]int)},
		log:           log,
	}
	d.tools = Catalog(schema)
	for i := range d.tools {
		if d.tools[i].Name == LookupToolName {
			d.tools[i].Handler = d.lookupAddress
		}
	}
	return d
}

// outcome is the result of one dispatched call. For the emit tool either
// candidate or err is set; for every other tool result is the reply.
type outcome struct {
	call      ai.ToolCall
	emit      bool
	candidate *candidate
	result    string
	err       error
}

func (d *dispatcher) dispatch(ctx context.Context, call ai.ToolCall) outcome {
	d.stats.Calls[call.Name]++
	out := outcome{call: call}

	tool, ok := ai.FindTool(d.tools, call.Name)
	if !ok {
		d.stats.Errors++
		out.err = &ToolError{Tool: call.Name, Err: ErrUnknownTool}
		return out
	}

	if tool.NormalizedToolExecution() == ai.ToolExecutionClient {
		out.emit = true
		out.candidate, out.err = d.decode(call.Arguments)
		if out.err != nil {
			d.stats.Errors++
		}
		return out
	}

	out.result, out.err = tool.Handler(ctx, call.Arguments)
	if out.err != nil && ctx.Err() == nil {
		d.stats.Errors++
	}
	return out
}

// decode builds a candidate graph from emit arguments. Each candidate is
// minted afresh under the session id so URIs are stable across attempts.
func (d *dispatcher) decode(arguments string) (*candidate, error) {
	p, err := DecodePayload(arguments)
	if err != nil {
		return nil, err
	}
	minter := graph.NewMinterWithSession(d.namespace, d.session)
	return buildCandidate(d.schema, d.event, minter, p)
}

func (d *dispatcher) lookupAddress(ctx context.Context, arguments string) (string, error) {
	var args lookupArgs
	if err := ai.UnmarshalFlexible(arguments, &args); err != nil {
		return "", &ToolError{Tool: LookupToolName, Err: ErrMalformedPayload}
	}
	addr, err := enrich.ParseAddress(strings.TrimSpace(args.Address))
	if err != nil {
		return "", &ToolError{Tool: LookupToolName, Err: err}
	}

	d.stats.Lookups++
	if d.cache.Cached(addr) {
		d.stats.CacheHits++
	}

	lookupCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.lookupTimeout > 0 {
		lookupCtx, cancel = context.WithTimeout(ctx, d.lookupTimeout)
	}
	defer cancel()

	res := lookupResult{Address: addr.String()}
	rec, err := d.cache.Lookup(lookupCtx, addr)
	switch {
	case err == nil:
		res.Record = rec
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		// A failed or timed out lookup is answered with an empty record and
		// does not cost the session an attempt.
		d.stats.LookupFailures++
		d.log.Warn("Address lookup failed", "address", res.Address, "err", err)
		res.Note = "no information is available for this address"
	}
	if err == nil && rec.Empty() {
		res.Note = "no information is available for this address"
	}

	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// toolErrorReply renders err as the tool result the model sees.
func toolErrorReply(err error) string {
	msg := err.Error()
	var shape *ShapeError
	if errors.As(err, &shape) {
		msg = "the submitted graph could not be read: " + shape.Error()
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
