package extract

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/ai"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/ontology"
)

const testOntology = `
namespace: http://example.com/test/
classes:
  - name: Event
    prefix: event
    datatype_properties:
      - name: eventMessage
      - name: eventTimestamp
        type: timestamp
    object_properties:
      - name: hasUser
        range: User
      - name: hasAddress
        range: Address
  - name: User
    prefix: user
    datatype_properties:
      - name: userName
      - name: userId
        type: integer
    object_properties:
      - name: userLoggedInFrom
        range: Address
  - name: Address
    prefix: address
    datatype_properties:
      - name: addressIpv4
      - name: addressCity
      - name: addressCountry
`

const aliceEvent = "Accepted password for alice from 203.0.113.5 port 22 ssh2"

func testSchema(t *testing.T) *ontology.Schema {
	t.Helper()
	s, err := ontology.Parse([]byte(testOntology))
	if err != nil {
		t.Fatalf("ontology.Parse() error = %v", err)
	}
	return s
}

// step produces one scripted model turn.
type step func(ctx context.Context, cv *fakeConversation) (*ai.Response, error)

type fakeClient struct {
	script []step

	mu    sync.Mutex
	tools []ai.Tool
	opts  ai.GenerateOptions
	conv  *fakeConversation
}

func newFakeClient(script ...step) *fakeClient {
	return &fakeClient{script: script}
}

func (c *fakeClient) StartConversation(tools []ai.Tool, opts ...ai.GenerateOption) ai.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
	c.opts = ai.ApplyOptions(ai.GenerateOptions{}, opts...)
	c.conv = &fakeConversation{client: c, results: make(map[string]string)}
	return c.conv
}

func (c *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, ai.ErrNoEmbedClient
}

func (c *fakeClient) ResetMetrics()               {}
func (c *fakeClient) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type fakeConversation struct {
	client  *fakeClient
	msgs    []ai.ChatMessage
	sends   int
	results map[string]string // tool call id -> result
}

func (cv *fakeConversation) AddUser(message string) {
	cv.msgs = append(cv.msgs, ai.ChatMessage{Role: "user", Message: message})
}

func (cv *fakeConversation) AddAssistant(message string) {
	cv.msgs = append(cv.msgs, ai.ChatMessage{Role: "assistant", Message: message})
}

func (cv *fakeConversation) AddToolResult(call ai.ToolCall, result string) {
	cv.results[call.ID] = result
	cv.msgs = append(cv.msgs, ai.ChatMessage{Role: "tool", Tool: call.Name, Message: result})
}

func (cv *fakeConversation) Send(ctx context.Context) (*ai.Response, error) {
	if cv.sends >= len(cv.client.script) {
		return nil, errors.New("script exhausted")
	}
	next := cv.client.script[cv.sends]
	cv.sends++
	resp, err := next(ctx, cv)
	if err != nil {
		return nil, err
	}
	cv.msgs = append(cv.msgs, ai.ChatMessage{Role: "assistant", Message: resp.Content})
	return resp, nil
}

func (cv *fakeConversation) Transcript() []ai.ChatMessage {
	out := make([]ai.ChatMessage, len(cv.msgs))
	copy(out, cv.msgs)
	return out
}

// lastUser returns the most recent user message.
func (cv *fakeConversation) lastUser() string {
	for i := len(cv.msgs) - 1; i >= 0; i-- {
		if cv.msgs[i].Role == "user" {
			return cv.msgs[i].Message
		}
	}
	return ""
}

func callTools(calls ...ai.ToolCall) step {
	return func(ctx context.Context, cv *fakeConversation) (*ai.Response, error) {
		return &ai.Response{ToolCalls: calls, Metrics: ai.ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
	}
}

func emitCall(id string, p Payload) ai.ToolCall {
	data, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return ai.ToolCall{ID: id, Name: EmitToolName, Arguments: string(data)}
}

func lookupCall(id, address string) ai.ToolCall {
	return ai.ToolCall{ID: id, Name: LookupToolName, Arguments: `{"address":"` + address + `"}`}
}

func emit(id string, p Payload) step { return callTools(emitCall(id, p)) }

func answer(content string) step {
	return func(ctx context.Context, cv *fakeConversation) (*ai.Response, error) {
		return &ai.Response{Content: content}, nil
	}
}

func failWith(err error) step {
	return func(ctx context.Context, cv *fakeConversation) (*ai.Response, error) {
		return nil, err
	}
}

// hang blocks until the call's context ends.
func hang() step {
	return func(ctx context.Context, cv *fakeConversation) (*ai.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func node(id, class string, kv ...any) PayloadNode {
	n := PayloadNode{ID: id, Type: class}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Properties = append(n.Properties, PayloadProperty{Name: kv[i].(string), Value: kv[i+1]})
	}
	return n
}

func rel(src, typ, dst string) PayloadRelationship {
	return PayloadRelationship{SourceID: src, TargetID: dst, Type: typ}
}

// aliceGraph is a correct graph of aliceEvent.
func aliceGraph() Payload {
	return Payload{
		Nodes: []PayloadNode{
			node("e", "Event", "eventMessage", aliceEvent),
			node("u", "User", "userName", "alice"),
			node("a", "Address", "addressIpv4", "203.0.113.5", "addressCity", "Berlin"),
		},
		Relationships: []PayloadRelationship{
			rel("e", "hasUser", "u"),
			rel("u", "userLoggedInFrom", "a"),
		},
	}
}
