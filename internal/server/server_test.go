package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mid "github.com/OFFIS-RIT/lkgb/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/store"
)

const testOntology = `
namespace: http://example.com/test/
classes:
  - name: Event
    prefix: event
    datatype_properties:
      - name: eventMessage
    object_properties:
      - name: hasUser
        range: User
  - name: User
    prefix: user
    datatype_properties:
      - name: userName
`

type fakeEngine struct {
	schema *ontology.Schema
	status extract.Status
}

func (f *fakeEngine) Schema() *ontology.Schema { return f.schema }

func (f *fakeEngine) Run(ctx context.Context, in extract.Input) (*extract.Result, error) {
	now := time.Now()
	return &extract.Result{SessionID: "s1", Input: in, Status: f.status, Attempts: 1, Start: now, End: now}, nil
}

type fakeStorage struct {
	store.GraphStorage
	saved int
}

func (f *fakeStorage) SaveResult(ctx context.Context, res *extract.Result, experimentID string) error {
	f.saved++
	return nil
}

func (f *fakeStorage) GetGraph(ctx context.Context, sessionID string) (*store.StoredGraph, error) {
	if sessionID != "s1" {
		return nil, store.ErrNotFound
	}
	return &store.StoredGraph{Run: store.Run{SessionID: "s1", Status: extract.StatusAccepted}}, nil
}

type fakeQueue struct {
	bodies [][]byte
}

func (f *fakeQueue) Enqueue(ctx context.Context, data []byte) error {
	f.bodies = append(f.bodies, data)
	return nil
}

func newTestApp(t *testing.T, status extract.Status) *mid.App {
	t.Helper()
	schema, err := ontology.Parse([]byte(testOntology))
	if err != nil {
		t.Fatalf("ontology.Parse() error = %v", err)
	}
	return &mid.App{
		Engine:       &fakeEngine{schema: schema, status: status},
		MasterAPIKey: "secret",
		ExperimentID: "exp",
	}
}

func do(t *testing.T, app *mid.App, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	New(app).ServeHTTP(rec, req)
	return rec
}

func TestHealthAndAuth(t *testing.T) {
	app := newTestApp(t, extract.StatusAccepted)
	e := New(app)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ontology", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestGetOntology(t *testing.T) {
	app := newTestApp(t, extract.StatusAccepted)

	rec := do(t, app, http.MethodGet, "/api/ontology", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		EventClass string `json:"event_class"`
		Classes    []struct {
			Name string `json:"name"`
		} `json:"classes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.EventClass != "Event" || len(body.Classes) != 2 {
		t.Fatalf("unexpected ontology %+v", body)
	}

	rec = do(t, app, http.MethodGet, "/api/ontology?format=text", "")
	if !strings.Contains(rec.Body.String(), "User") {
		t.Fatalf("text description lacks the User class: %s", rec.Body.String())
	}
}

func TestValidateGraph(t *testing.T) {
	app := newTestApp(t, extract.StatusAccepted)

	valid := `{"event":"login alice","nodes":[
		{"uri":"http://example.com/test/e","class":"Event","properties":{"eventMessage":"login alice"}},
		{"uri":"http://example.com/test/u","class":"User","properties":{"userName":"alice"}}],
		"edges":[{"source":"http://example.com/test/e","property":"hasUser","target":"http://example.com/test/u"}]}`
	isolated := `{"event":"login alice","nodes":[
		{"uri":"http://example.com/test/e","class":"Event","properties":{"eventMessage":"login alice"}},
		{"uri":"http://example.com/test/u","class":"User","properties":{"userName":"alice"}}],"edges":[]}`

	tests := []struct {
		name     string
		body     string
		status   int
		accepted bool
		kinds    []extract.ViolationKind
	}{
		{"valid", valid, http.StatusOK, true, nil},
		{"disconnected", isolated, http.StatusOK, false, []extract.ViolationKind{extract.Disconnected}},
		{"garbage", `{"nodes":`, http.StatusBadRequest, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, app, http.MethodPost, "/api/validate", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var body struct {
				Accepted   bool                `json:"accepted"`
				Violations []extract.Violation `json:"violations"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("response is not JSON: %v", err)
			}
			if body.Accepted != tt.accepted || len(body.Violations) != len(tt.kinds) {
				t.Fatalf("unexpected result %+v", body)
			}
			for i, k := range tt.kinds {
				if body.Violations[i].Kind != k {
					t.Fatalf("expected %s, got %s", k, body.Violations[i].Kind)
				}
			}
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		status extract.Status
		body   string
		code   int
	}{
		{"accepted", extract.StatusAccepted, `{"event":"login alice"}`, http.StatusOK},
		{"exhausted", extract.StatusExhausted, `{"event":"login alice"}`, http.StatusUnprocessableEntity},
		{"missing event", extract.StatusAccepted, `{"context":"x"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t, tt.status)
			storage := &fakeStorage{}
			app.Storage = storage

			rec := do(t, app, http.MethodPost, "/api/extract", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
			if tt.code != http.StatusBadRequest && storage.saved != 1 {
				t.Fatalf("expected the result to be stored once, got %d", storage.saved)
			}
		})
	}
}

func TestEnqueueEvents(t *testing.T) {
	app := newTestApp(t, extract.StatusAccepted)

	rec := do(t, app, http.MethodPost, "/api/events", `{"events":[{"event":"a"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without queue, got %d", rec.Code)
	}

	q := &fakeQueue{}
	app.Queue = q
	rec = do(t, app, http.MethodPost, "/api/events", `{"events":[{"event":"a"},{"event":"b","experiment_id":"other"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(q.bodies) != 2 {
		t.Fatalf("expected 2 enqueued events, got %d", len(q.bodies))
	}
	var first struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := json.Unmarshal(q.bodies[0], &first); err != nil || first.ExperimentID != "exp" {
		t.Fatalf("expected default experiment on first event, got %q (%v)", first.ExperimentID, err)
	}

	rec = do(t, app, http.MethodPost, "/api/events", `{"events":[{"event":""}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty event, got %d", rec.Code)
	}
}

func TestGetGraph(t *testing.T) {
	app := newTestApp(t, extract.StatusAccepted)

	rec := do(t, app, http.MethodGet, "/api/graphs/s1", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without storage, got %d", rec.Code)
	}

	app.Storage = &fakeStorage{}
	if rec := do(t, app, http.MethodGet, "/api/graphs/s1", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, app, http.MethodGet, "/api/graphs/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
