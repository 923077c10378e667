package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/util"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/graph"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

type pgxIConn interface {
	DBTX
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL. Accepted
// graphs are stored with an embedding of their event so that similar
// events can be found with pgvector.
type GraphDBStorage struct {
	conn          pgxIConn
	aiClient      ai.GraphAIClient
	minSimilarity float64
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

type GraphDBStorageOption func(*GraphDBStorage)

// WithMinSimilarity sets the cosine similarity an example needs to be
// returned by SimilarExamples.
func WithMinSimilarity(min float64) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.minSimilarity = min
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection. aiClient embeds events; without it no embeddings are stored
// and SimilarExamples returns nothing.
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	aiClient ai.GraphAIClient,
	opts ...GraphDBStorageOption,
) (*GraphDBStorage, error) {
	if conn == nil {
		return nil, errors.New("pgx: connection is nil")
	}
	s := &GraphDBStorage{
		conn:          conn,
		aiClient:      aiClient,
		minSimilarity: 0.5,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s, nil
}

func (s *GraphDBStorage) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	if s.aiClient == nil {
		return nil, nil
	}
	embedding, err := s.aiClient.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, err
	}
	vec := pgvector.NewVector(embedding)
	return &vec, nil
}

// SaveResult stores res in one transaction. Only accepted graphs are
// embedded, so only they are offered as examples later.
func (s *GraphDBStorage) SaveResult(ctx context.Context, res *extract.Result, experimentID string) error {
	if res == nil {
		return errors.New("pgx: result is nil")
	}

	var embedding *pgvector.Vector
	if res.Accepted() {
		vec, err := s.embed(ctx, res.Input.Event)
		if err != nil {
			logger.Warn("Failed to embed event, storing without embedding", "session", res.SessionID, "err", err)
		}
		embedding = vec
	}

	violations, err := json.Marshal(res.Violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	if res.Violations == nil {
		violations = []byte("[]")
	}

	var doc *graph.Document
	if res.Graph != nil {
		d := res.Graph.Document()
		doc = &d
	}

	run := store.RunOf(res, experimentID)
	return s.insert(ctx, InsertGraphParams{
		SessionID:    run.SessionID,
		ExperimentID: run.ExperimentID,
		Event:        util.SanitizePostgresText(run.Event),
		Context:      util.SanitizePostgresText(run.Context),
		Source:       util.SanitizePostgresText(run.Source),
		Device:       util.SanitizePostgresText(run.Device),
		Status:       string(run.Status),
		Attempts:     int32(run.Attempts),
		Violations:   violations,
		Diagnostic:   util.SanitizePostgresText(run.Diagnostic),
		InputTokens:  int32(run.InputTokens),
		OutputTokens: int32(run.OutputTokens),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Embedding:    embedding,
	}, doc)
}

// insert writes one graph row with its nodes and edges in one transaction.
func (s *GraphDBStorage) insert(ctx context.Context, arg InsertGraphParams, doc *graph.Document) error {
	var nodes []NodeRow
	var edges []EdgeRow
	if doc != nil {
		var err error
		nodes, edges, err = encodeDocument(*doc)
		if err != nil {
			return err
		}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	qtx := New(s.conn).WithTx(tx)
	id, err := qtx.InsertGraph(ctx, arg)
	if err != nil {
		return fmt.Errorf("insert graph: %w", err)
	}
	if len(nodes) > 0 {
		if _, err := qtx.CopyNodes(ctx, id, nodes); err != nil {
			return fmt.Errorf("copy nodes: %w", err)
		}
	}
	if len(edges) > 0 {
		if _, err := qtx.CopyEdges(ctx, id, edges); err != nil {
			return fmt.Errorf("copy edges: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SeedExamples stores curated examples as accepted graphs of the examples
// experiment. Examples already stored are skipped, so seeding at every
// start is cheap. Without an AI client nothing can be embedded and seeding
// fails.
func (s *GraphDBStorage) SeedExamples(ctx context.Context, examples []extract.Example) (int, error) {
	if s.aiClient == nil {
		return 0, errors.New("pgx: seeding examples needs an embedding client")
	}

	q := New(s.conn)
	seeded := 0
	for _, ex := range examples {
		sessionID := store.ExampleSessionID(ex.Event)
		_, err := q.GetGraphBySession(ctx, sessionID)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgxv5.ErrNoRows) {
			return seeded, err
		}

		embedding, err := s.embed(ctx, ex.Event)
		if err != nil {
			return seeded, fmt.Errorf("embed example: %w", err)
		}
		now := time.Now()
		doc := ex.Graph
		if err := s.insert(ctx, InsertGraphParams{
			SessionID:    sessionID,
			ExperimentID: store.ExamplesExperimentID,
			Event:        util.SanitizePostgresText(ex.Event),
			Context:      util.SanitizePostgresText(ex.Context),
			Status:       string(extract.StatusAccepted),
			Violations:   []byte("[]"),
			StartedAt:    now,
			FinishedAt:   now,
			Embedding:    embedding,
		}, &doc); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

// Clear deletes every stored graph of experimentID, or all graphs when
// experimentID is empty.
func (s *GraphDBStorage) Clear(ctx context.Context, experimentID string) (int64, error) {
	return New(s.conn).ClearGraphs(ctx, experimentID)
}

func (s *GraphDBStorage) GetGraph(ctx context.Context, sessionID string) (*store.StoredGraph, error) {
	q := New(s.conn)
	row, err := q.GetGraphBySession(ctx, sessionID)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc, err := s.loadDocument(ctx, q, row.ID, row.Event)
	if err != nil {
		return nil, err
	}
	var violations []extract.Violation
	if len(row.Violations) > 0 {
		if err := json.Unmarshal(row.Violations, &violations); err != nil {
			return nil, fmt.Errorf("decode violations: %w", err)
		}
	}

	return &store.StoredGraph{Run: runOf(row), Graph: doc, Violations: violations}, nil
}

func (s *GraphDBStorage) loadDocument(ctx context.Context, q *Queries, graphID int64, event string) (graph.Document, error) {
	nodes, err := q.GetNodes(ctx, graphID)
	if err != nil {
		return graph.Document{}, err
	}
	edges, err := q.GetEdges(ctx, graphID)
	if err != nil {
		return graph.Document{}, err
	}
	return decodeDocument(event, nodes, edges)
}

func (s *GraphDBStorage) ListRuns(ctx context.Context, filter store.RunFilter) ([]store.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := New(s.conn).ListGraphs(ctx, ListGraphsParams{
		Status:       string(filter.Status),
		ExperimentID: filter.ExperimentID,
		Limit:        int32(limit),
		Offset:       int32(max(filter.Offset, 0)),
	})
	if err != nil {
		return nil, err
	}
	runs := make([]store.Run, len(rows))
	for i, row := range rows {
		runs[i] = runOf(row)
	}
	return runs, nil
}

func (s *GraphDBStorage) DeleteGraph(ctx context.Context, sessionID string) error {
	n, err := New(s.conn).DeleteGraphBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SimilarExamples returns up to k accepted graphs whose events are closest
// to event.
func (s *GraphDBStorage) SimilarExamples(ctx context.Context, event string, k int) ([]extract.Example, error) {
	if s.aiClient == nil || k <= 0 {
		return nil, nil
	}
	vec, err := s.embed(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("embed event: %w", err)
	}

	q := New(s.conn)
	rows, err := q.FindSimilarGraphs(ctx, FindSimilarGraphsParams{
		Embedding:     *vec,
		MinSimilarity: s.minSimilarity,
		Limit:         int32(k),
	})
	if err != nil {
		return nil, err
	}

	examples := make([]extract.Example, 0, len(rows))
	for _, row := range rows {
		doc, err := s.loadDocument(ctx, q, row.ID, row.Event)
		if err != nil {
			return nil, err
		}
		examples = append(examples, extract.Example{Event: row.Event, Context: row.Context, Graph: doc})
	}
	return examples, nil
}

func runOf(row GraphRow) store.Run {
	violations := 0
	var list []json.RawMessage
	if json.Unmarshal(row.Violations, &list) == nil {
		violations = len(list)
	}
	return store.Run{
		SessionID:    row.SessionID,
		ExperimentID: row.ExperimentID,
		Event:        row.Event,
		Context:      row.Context,
		Source:       row.Source,
		Device:       row.Device,
		Status:       extract.Status(row.Status),
		Attempts:     int(row.Attempts),
		Violations:   violations,
		Diagnostic:   row.Diagnostic,
		InputTokens:  int(row.InputTokens),
		OutputTokens: int(row.OutputTokens),
		StartedAt:    row.StartedAt,
		FinishedAt:   row.FinishedAt,
	}
}

func encodeDocument(doc graph.Document) ([]NodeRow, []EdgeRow, error) {
	nodes := make([]NodeRow, len(doc.Nodes))
	for i, n := range doc.Nodes {
		props := make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			props[k] = util.SanitizePostgresValue(v)
		}
		data, err := json.Marshal(props)
		if err != nil {
			return nil, nil, fmt.Errorf("encode properties of %s: %w", n.URI, err)
		}
		nodes[i] = NodeRow{Position: int32(i), URI: n.URI, Class: n.Class, Properties: data}
	}
	edges := make([]EdgeRow, len(doc.Edges))
	for i, e := range doc.Edges {
		edges[i] = EdgeRow{Position: int32(i), Source: e.Source, Property: e.Property, Target: e.Target}
	}
	return nodes, edges, nil
}

func decodeDocument(event string, nodes []NodeRow, edges []EdgeRow) (graph.Document, error) {
	doc := graph.Document{
		Event: event,
		Nodes: make([]graph.Node, len(nodes)),
		Edges: make([]graph.Edge, len(edges)),
	}
	for i, n := range nodes {
		props, err := graph.DecodeProperties(n.Properties)
		if err != nil {
			return graph.Document{}, err
		}
		doc.Nodes[i] = graph.Node{URI: n.URI, Class: n.Class, Properties: props}
	}
	for i, e := range edges {
		doc.Edges[i] = graph.Edge{Source: e.Source, Property: e.Property, Target: e.Target}
	}
	return doc, nil
}
