package pgx

import (
	"context"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	CopyFrom(ctx context.Context, tableName pgxv5.Identifier, columnNames []string, rowSrc pgxv5.CopyFromSource) (int64, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgxv5.Tx) *Queries {
	return &Queries{db: tx}
}

const graphColumns = `id, session_id, experiment_id, event, context, source, device, status,
	attempts, violations, diagnostic, input_tokens, output_tokens, started_at, finished_at`

type GraphRow struct {
	ID           int64
	SessionID    string
	ExperimentID string
	Event        string
	Context      string
	Source       string
	Device       string
	Status       string
	Attempts     int32
	Violations   []byte
	Diagnostic   string
	InputTokens  int32
	OutputTokens int32
	StartedAt    time.Time
	FinishedAt   time.Time
}

func scanGraphRow(row pgxv5.Row) (GraphRow, error) {
	var g GraphRow
	err := row.Scan(
		&g.ID, &g.SessionID, &g.ExperimentID, &g.Event, &g.Context, &g.Source, &g.Device, &g.Status,
		&g.Attempts, &g.Violations, &g.Diagnostic, &g.InputTokens, &g.OutputTokens, &g.StartedAt, &g.FinishedAt,
	)
	return g, err
}

const insertGraph = `INSERT INTO lkgb_graphs (
	session_id, experiment_id, event, context, source, device, status,
	attempts, violations, diagnostic, input_tokens, output_tokens, started_at, finished_at, embedding
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING id`

type InsertGraphParams struct {
	SessionID    string
	ExperimentID string
	Event        string
	Context      string
	Source       string
	Device       string
	Status       string
	Attempts     int32
	Violations   []byte
	Diagnostic   string
	InputTokens  int32
	OutputTokens int32
	StartedAt    time.Time
	FinishedAt   time.Time
	Embedding    *pgvector.Vector
}

func (q *Queries) InsertGraph(ctx context.Context, arg InsertGraphParams) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, insertGraph,
		arg.SessionID, arg.ExperimentID, arg.Event, arg.Context, arg.Source, arg.Device, arg.Status,
		arg.Attempts, arg.Violations, arg.Diagnostic, arg.InputTokens, arg.OutputTokens,
		arg.StartedAt, arg.FinishedAt, arg.Embedding,
	).Scan(&id)
	return id, err
}

type NodeRow struct {
	Position   int32
	URI        string
	Class      string
	Properties []byte
}

type EdgeRow struct {
	Position int32
	Source   string
	Property string
	Target   string
}

func (q *Queries) CopyNodes(ctx context.Context, graphID int64, nodes []NodeRow) (int64, error) {
	rows := make([][]any, len(nodes))
	for i, n := range nodes {
		rows[i] = []any{graphID, n.Position, n.URI, n.Class, n.Properties}
	}
	return q.db.CopyFrom(ctx,
		pgxv5.Identifier{"lkgb_nodes"},
		[]string{"graph_id", "position", "uri", "class", "properties"},
		pgxv5.CopyFromRows(rows),
	)
}

func (q *Queries) CopyEdges(ctx context.Context, graphID int64, edges []EdgeRow) (int64, error) {
	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{graphID, e.Position, e.Source, e.Property, e.Target}
	}
	return q.db.CopyFrom(ctx,
		pgxv5.Identifier{"lkgb_edges"},
		[]string{"graph_id", "position", "source", "property", "target"},
		pgxv5.CopyFromRows(rows),
	)
}

const getGraphBySession = `SELECT ` + graphColumns + ` FROM lkgb_graphs WHERE session_id = $1`

func (q *Queries) GetGraphBySession(ctx context.Context, sessionID string) (GraphRow, error) {
	return scanGraphRow(q.db.QueryRow(ctx, getGraphBySession, sessionID))
}

const getNodes = `SELECT position, uri, class, properties FROM lkgb_nodes WHERE graph_id = $1 ORDER BY position`

func (q *Queries) GetNodes(ctx context.Context, graphID int64) ([]NodeRow, error) {
	rows, err := q.db.Query(ctx, getNodes, graphID)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (NodeRow, error) {
		var n NodeRow
		err := row.Scan(&n.Position, &n.URI, &n.Class, &n.Properties)
		return n, err
	})
}

const getEdges = `SELECT position, source, property, target FROM lkgb_edges WHERE graph_id = $1 ORDER BY position`

func (q *Queries) GetEdges(ctx context.Context, graphID int64) ([]EdgeRow, error) {
	rows, err := q.db.Query(ctx, getEdges, graphID)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (EdgeRow, error) {
		var e EdgeRow
		err := row.Scan(&e.Position, &e.Source, &e.Property, &e.Target)
		return e, err
	})
}

const listGraphs = `SELECT ` + graphColumns + ` FROM lkgb_graphs
WHERE ($1::text = '' OR status = $1)
  AND ($2::text = '' OR experiment_id = $2)
ORDER BY started_at DESC, id DESC
LIMIT $3 OFFSET $4`

type ListGraphsParams struct {
	Status       string
	ExperimentID string
	Limit        int32
	Offset       int32
}

func (q *Queries) ListGraphs(ctx context.Context, arg ListGraphsParams) ([]GraphRow, error) {
	rows, err := q.db.Query(ctx, listGraphs, arg.Status, arg.ExperimentID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (GraphRow, error) {
		return scanGraphRow(row)
	})
}

const findSimilarGraphs = `SELECT id, event, context FROM lkgb_graphs
WHERE status = 'accepted'
  AND embedding IS NOT NULL
  AND vector_dims(embedding) = vector_dims($1::vector)
  AND 1 - (embedding <=> $1::vector) >= $2
ORDER BY embedding <=> $1::vector
LIMIT $3`

type FindSimilarGraphsParams struct {
	Embedding     pgvector.Vector
	MinSimilarity float64
	Limit         int32
}

type SimilarGraphRow struct {
	ID      int64
	Event   string
	Context string
}

func (q *Queries) FindSimilarGraphs(ctx context.Context, arg FindSimilarGraphsParams) ([]SimilarGraphRow, error) {
	rows, err := q.db.Query(ctx, findSimilarGraphs, arg.Embedding, arg.MinSimilarity, arg.Limit)
	if err != nil {
		return nil, err
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (SimilarGraphRow, error) {
		var r SimilarGraphRow
		err := row.Scan(&r.ID, &r.Event, &r.Context)
		return r, err
	})
}

const deleteGraphBySession = `DELETE FROM lkgb_graphs WHERE session_id = $1`

func (q *Queries) DeleteGraphBySession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteGraphBySession, sessionID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const clearGraphs = `DELETE FROM lkgb_graphs WHERE ($1::text = '' OR experiment_id = $1)`

func (q *Queries) ClearGraphs(ctx context.Context, experimentID string) (int64, error) {
	tag, err := q.db.Exec(ctx, clearGraphs, experimentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
