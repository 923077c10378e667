package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/enrich"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

var ErrInvalidConfig = errors.New("extract: invalid config")

// Config bounds a single extraction session.
type Config struct {
	MaxAttempts    int           // graphs the model may propose before the session gives up
	MaxToolRounds  int           // tool-only turns allowed within one attempt
	OracleTimeout  time.Duration // per model call, 0 disables
	LookupTimeout  time.Duration // per address lookup, 0 disables
	Model          string
	Temperature    float64
	Thinking       string
	Examples       int  // similar accepted graphs shown to the model
	KeepTranscript bool // copy the conversation into the result
}

// DefaultConfig allows three attempts with ten tool rounds each.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		MaxToolRounds: 10,
		OracleTimeout: 2 * time.Minute,
		LookupTimeout: 15 * time.Second,
		Examples:      2,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	case c.MaxToolRounds < 1:
		return fmt.Errorf("%w: max tool rounds must be at least 1", ErrInvalidConfig)
	case c.OracleTimeout < 0 || c.LookupTimeout < 0:
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidConfig)
	case c.Examples < 0:
		return fmt.Errorf("%w: examples must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Input is one log event with the context it was found in.
type Input struct {
	Event   string `json:"event"`
	Context string `json:"context,omitempty"`
	Source  string `json:"source,omitempty"`
	Device  string `json:"device,omitempty"`
}

func (in Input) contextText() string {
	var parts []string
	if c := strings.TrimSpace(in.Context); c != "" {
		parts = append(parts, c)
	}
	if in.Source != "" {
		parts = append(parts, "file: "+in.Source)
	}
	if in.Device != "" {
		parts = append(parts, "device: "+in.Device)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "; ")
}

// Example is an accepted graph of an earlier, similar event.
type Example struct {
	Event   string         `json:"event"`
	Context string         `json:"context,omitempty"`
	Graph   graph.Document `json:"graph"`
}

// ExampleSource supplies few-shot examples for an event.
type ExampleSource interface {
	SimilarExamples(ctx context.Context, event string, k int) ([]Example, error)
}

// Observer is notified once per finished session.
type Observer interface {
	SessionFinished(res *Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(res *Result)

func (f ObserverFunc) SessionFinished(res *Result) { f(res) }

// Engine runs extraction sessions against one ontology. It is safe for
// concurrent use; every Run gets its own conversation, URI minter and
// lookup cache.
type Engine struct {
	schema    *ontology.Schema
	client    ai.GraphAIClient
	lookup    enrich.Lookup
	examples  ExampleSource
	observers []Observer
	cfg       Config
}

type Option func(*Engine)

// WithLookup sets the address lookup behind the lookup tool. Without one,
// every lookup answers with an empty record.
func WithLookup(l enrich.Lookup) Option {
	return func(e *Engine) { e.lookup = l }
}

// WithExamples sets where few-shot examples come from.
func WithExamples(src ExampleSource) Option {
	return func(e *Engine) { e.examples = src }
}

// WithObserver adds an observer of finished sessions.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func NewEngine(schema *ontology.Schema, client ai.GraphAIClient, cfg Config, opts ...Option) (*Engine, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: no ontology", ErrInvalidConfig)
	}
	if client == nil {
		return nil, ErrNoClient
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{schema: schema, client: client, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Schema() *ontology.Schema { return e.schema }

func (e *Engine) Config() Config { return e.cfg }

// Run extracts the graph of one event. A session that ends Accepted or
// Exhausted returns a nil error; cancellation returns the context error
// together with a Cancelled result.
func (e *Engine) Run(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Event) == "" {
		return nil, ErrEmptyEvent
	}

	id := graph.NewSessionID()
	log := logger.With("session", id)
	s := &session{
		engine: e,
		in:     in,
		id:     id,
		log:    log,
		tools:  newDispatcher(e.schema, in.Event, id, e.lookup, e.cfg.LookupTimeout, log),
		state:  StateInit,
		start:  time.Now(),
	}

	s.run(ctx)
	res := s.result()

	log.Info("Extraction finished",
		"status", res.Status,
		"attempts", res.Attempts,
		"violations", len(res.Violations),
		"duration", res.Duration().Round(time.Millisecond),
	)
	for _, o := range e.observers {
		o.SessionFinished(res)
	}

	if res.Status == StatusCancelled {
		return res, s.err
	}
	return res, nil
}
