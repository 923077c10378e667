package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/store"
)

// Topics the worker publishes finished sessions on.
const (
	TopicAccepted  = "lkgb.graph.accepted"
	TopicExhausted = "lkgb.graph.exhausted"
)

var ErrBadMessage = errors.New("queue: malformed message")

// EventMessage asks the worker to extract the graph of one log event.
type EventMessage struct {
	Event        string `json:"event"`
	Context      string `json:"context,omitempty"`
	Source       string `json:"source,omitempty"`
	Device       string `json:"device,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
}

// GraphMessage announces a finished session.
type GraphMessage struct {
	SessionID    string              `json:"session_id"`
	ExperimentID string              `json:"experiment_id,omitempty"`
	Event        string              `json:"event"`
	Status       extract.Status      `json:"status"`
	Attempts     int                 `json:"attempts"`
	Graph        *graph.Document     `json:"graph,omitempty"`
	Violations   []extract.Violation `json:"violations,omitempty"`
	Diagnostic   string              `json:"diagnostic,omitempty"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Extractor runs one extraction session.
type Extractor interface {
	Run(ctx context.Context, in extract.Input) (*extract.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Locker serializes work on the same key across workers.
type Locker interface {
	WithLease(ctx context.Context, key string, opts leaselock.Options, fn func(ctx context.Context) error) error
}

// Handler turns queued events into stored, announced graphs.
type Handler struct {
	engine       Extractor
	storage      store.GraphStorage
	publisher    Publisher
	locks        Locker
	experimentID string
}

type NewHandlerParams struct {
	Engine    Extractor
	Storage   store.GraphStorage // optional
	Publisher Publisher          // optional
	// Locks keeps two workers from extracting the same event at once, e.g.
	// after a redelivery. Optional.
	Locks Locker
	// ExperimentID is used for messages that carry none.
	ExperimentID string
}

func NewHandler(params NewHandlerParams) *Handler {
	return &Handler{
		engine:       params.Engine,
		storage:      params.Storage,
		publisher:    params.Publisher,
		locks:        params.Locks,
		experimentID: params.ExperimentID,
	}
}

// ProcessEventMessage handles one message of the event queue. An exhausted
// session is a regular outcome; only malformed messages, cancellation,
// a busy event lock and infrastructure failures return an error.
func (h *Handler) ProcessEventMessage(ctx context.Context, body []byte) (*extract.Result, error) {
	var msg EventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if strings.TrimSpace(msg.Event) == "" {
		return nil, fmt.Errorf("%w: %w", ErrBadMessage, extract.ErrEmptyEvent)
	}
	if msg.ExperimentID == "" {
		msg.ExperimentID = h.experimentID
	}
	if h.locks == nil {
		return h.process(ctx, msg)
	}

	var res *extract.Result
	err := h.locks.WithLease(ctx, msg.lockKey(), leaselock.Options{Holder: "worker-"}, func(ctx context.Context) error {
		var err error
		res, err = h.process(ctx, msg)
		return err
	})
	return res, err
}

func (h *Handler) process(ctx context.Context, msg EventMessage) (*extract.Result, error) {
	experimentID := msg.ExperimentID
	res, err := h.engine.Run(ctx, extract.Input{
		Event:   msg.Event,
		Context: msg.Context,
		Source:  msg.Source,
		Device:  msg.Device,
	})
	if err != nil {
		return res, err
	}

	if h.storage != nil {
		if err := h.storage.SaveResult(ctx, res, experimentID); err != nil {
			return res, fmt.Errorf("save result: %w", err)
		}
	}

	if h.publisher != nil {
		data, err := json.Marshal(graphMessageOf(res, experimentID))
		if err != nil {
			return res, err
		}
		if err := h.publisher.Publish(ctx, topicOf(res.Status), data); err != nil {
			// the graph is stored already; a retry would extract it twice
			logger.Error("[Queue] Failed to publish result", "session", res.SessionID, "err", err)
		}
	}

	return res, nil
}

// lockKey identifies the event independent of the delivery.
func (m EventMessage) lockKey() string {
	sum := sha256.New()
	for _, part := range []string{m.ExperimentID, m.Event, m.Context, m.Source, m.Device} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	return "event:" + hex.EncodeToString(sum.Sum(nil))
}

func topicOf(status extract.Status) string {
	if status == extract.StatusAccepted {
		return TopicAccepted
	}
	return TopicExhausted
}

func graphMessageOf(res *extract.Result, experimentID string) GraphMessage {
	msg := GraphMessage{
		SessionID:    res.SessionID,
		ExperimentID: experimentID,
		Event:        res.Input.Event,
		Status:       res.Status,
		Attempts:     res.Attempts,
		Violations:   res.Violations,
		Diagnostic:   res.Diagnostic,
		FinishedAt:   res.End,
	}
	if res.Graph != nil {
		doc := res.Graph.Document()
		msg.Graph = &doc
	}
	return msg
}
