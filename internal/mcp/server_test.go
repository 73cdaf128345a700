package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/mirag/internal/search"
	"github.com/nickcecere/mirag/internal/store"
)

type fakeSearcher struct {
	results []search.Result
	err     error
	opts    search.SearchOptions
	query   string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts search.SearchOptions) ([]search.Result, error) {
	f.query = query
	f.opts = opts
	return f.results, f.err
}

type fakeRetriever struct {
	records map[string]store.QueryResult
	err     error
	opts    store.RetrieveOptions
}

func (f *fakeRetriever) Lookup(ctx context.Context, opts store.RetrieveOptions) (map[string]store.QueryResult, error) {
	f.opts = opts
	return f.records, f.err
}

// sendMessage runs one raw JSON-RPC message through the server and decodes
// the reply into a generic map.
func sendMessage(t *testing.T, srv *Server, raw string) map[string]any {
	t.Helper()

	reply := srv.MCPServer().HandleMessage(context.Background(), json.RawMessage(raw))
	require.NotNil(t, reply)

	data, err := json.Marshal(reply)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// toolText extracts the text and error flag of a tool result.
func toolText(t *testing.T, result *mcp.CallToolResult) (string, bool) {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)

	data, err := json.Marshal(result.Content[0])
	require.NoError(t, err)
	var tc struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(data, &tc))
	return tc.Text, result.IsError
}

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test-client","version":"0.0.1"}}}`

func TestInitializeAndListTools(t *testing.T) {
	srv := NewServer(&fakeSearcher{}, &fakeRetriever{}, "test")

	initReply := sendMessage(t, srv, initializeRequest)
	require.Nil(t, initReply["error"])
	result := initReply["result"].(map[string]any)
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, ServerName, info["name"])
	assert.Equal(t, "test", info["version"])
	assert.NotNil(t, result["capabilities"].(map[string]any)["tools"])

	list := sendMessage(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, list["error"])

	tools := map[string]map[string]any{}
	for _, raw := range list["result"].(map[string]any)["tools"].([]any) {
		tool := raw.(map[string]any)
		tools[tool["name"].(string)] = tool
	}
	require.Len(t, tools, 2)

	schema := tools[ToolSearch]["inputSchema"].(map[string]any)
	assert.Equal(t, []any{"query"}, schema["required"])
	for _, param := range []string{"query", "limit", "topic", "min_score"} {
		assert.Contains(t, schema["properties"], param)
	}

	props := tools[ToolRetrieve]["inputSchema"].(map[string]any)["properties"].(map[string]any)
	ids := props["ids"].(map[string]any)
	assert.Equal(t, "array", ids["type"])
	assert.Equal(t, "string", ids["items"].(map[string]any)["type"])
}

func TestProtocolErrors(t *testing.T) {
	srv := NewServer(&fakeSearcher{}, &fakeRetriever{}, "test")
	sendMessage(t, srv, initializeRequest)

	for name, raw := range map[string]string{
		"parse error":    `not json`,
		"unknown method": `{"jsonrpc":"2.0","id":7,"method":"bogus/method"}`,
		"unknown tool":   `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			reply := sendMessage(t, srv, raw)
			assert.NotNil(t, reply["error"])
			assert.Nil(t, reply["result"])
		})
	}
}

func TestToolSearch(t *testing.T) {
	s := &fakeSearcher{results: []search.Result{
		{VideoID: "a", Title: "Rolling with resistance", URL: "https://v/a", Topic: "resistance", Quality: "high", EvalScore: "9", Summary: "The counselor reflects.", Score: 0.875},
		{VideoID: "b", Score: 0.5},
	}}
	srv := NewServer(s, &fakeRetriever{}, "test")

	result, err := srv.handleSearch(context.Background(), callTool(ToolSearch, map[string]any{
		"query":     "resistance",
		"limit":     "3",
		"topic":     "resistance",
		"min_score": 0.4,
	}))
	require.NoError(t, err)

	text, isErr := toolText(t, result)
	assert.False(t, isErr)
	assert.Contains(t, text, "Found 2 results")
	assert.Contains(t, text, "[1] Rolling with resistance - 87.5% match")
	assert.Contains(t, text, "eval score: 9")
	assert.Contains(t, text, "[2] b - 50.0% match")

	assert.Equal(t, "resistance", s.query)
	assert.Equal(t, 3, s.opts.TopK)
	assert.Equal(t, "resistance", s.opts.Topic)
	assert.Equal(t, 0.4, s.opts.MinScore)
}

func TestToolSearchTruncatesSummary(t *testing.T) {
	s := &fakeSearcher{results: []search.Result{
		{VideoID: "a", Summary: strings.Repeat("x", 600), Score: 0.9},
	}}
	srv := NewServer(s, &fakeRetriever{}, "test")

	result, err := srv.handleSearch(context.Background(), callTool(ToolSearch, map[string]any{"query": "q"}))
	require.NoError(t, err)

	text, _ := toolText(t, result)
	assert.Contains(t, text, strings.Repeat("x", 500)+"...")
	assert.NotContains(t, text, strings.Repeat("x", 501))
	assert.Equal(t, defaultToolLimit, s.opts.TopK)
}

func TestToolSearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
		args     map[string]any
		want     string
	}{
		{"missing query", &fakeSearcher{}, map[string]any{}, "query is required"},
		{"blank query", &fakeSearcher{}, map[string]any{"query": "   "}, "query is required"},
		{"no searcher", nil, map[string]any{"query": "q"}, "unavailable"},
		{"search failure", &fakeSearcher{err: errors.New("offline")}, map[string]any{"query": "q"}, "offline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(tt.searcher, &fakeRetriever{}, "test")
			result, err := srv.handleSearch(context.Background(), callTool(ToolSearch, tt.args))
			require.NoError(t, err)

			text, isErr := toolText(t, result)
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
		})
	}
}

func TestToolSearchNoResults(t *testing.T) {
	srv := NewServer(&fakeSearcher{}, &fakeRetriever{}, "test")
	result, err := srv.handleSearch(context.Background(), callTool(ToolSearch, map[string]any{"query": "q"}))
	require.NoError(t, err)

	text, isErr := toolText(t, result)
	assert.False(t, isErr)
	assert.Equal(t, "No results found.", text)
}

func TestToolRetrieve(t *testing.T) {
	r := &fakeRetriever{records: map[string]store.QueryResult{
		"b": {ID: "b", Values: []float32{1, 2, 3}, Metadata: map[string]any{"video_title": "B"}},
		"a": {ID: "a", Values: []float32{1, 2, 3}, Metadata: map[string]any{"video_title": "A"}},
	}}
	srv := NewServer(&fakeSearcher{}, r, "test")

	result, err := srv.handleRetrieve(context.Background(), callTool(ToolRetrieve, map[string]any{
		"ids":   []any{"a", "b", ""},
		"index": "other-index",
	}))
	require.NoError(t, err)

	text, isErr := toolText(t, result)
	require.False(t, isErr)

	var out []retrieved
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, 3, out[0].Dimension)
	assert.Equal(t, "B", out[1].Metadata["video_title"])

	assert.Equal(t, []string{"a", "b"}, r.opts.IDs)
	assert.Equal(t, "other-index", r.opts.IndexName)
	assert.Equal(t, defaultToolLimit, r.opts.Limit)
}

func TestToolRetrieveEmptyAndError(t *testing.T) {
	r := &fakeRetriever{}
	srv := NewServer(&fakeSearcher{}, r, "test")

	result, err := srv.handleRetrieve(context.Background(), callTool(ToolRetrieve, map[string]any{"limit": 5}))
	require.NoError(t, err)
	text, isErr := toolText(t, result)
	assert.False(t, isErr)
	assert.Equal(t, "No records found.", text)
	assert.Equal(t, 5, r.opts.Limit)
	assert.Empty(t, r.opts.IDs)

	srv = NewServer(&fakeSearcher{}, &fakeRetriever{err: store.ErrNotReady}, "test")
	result, err = srv.handleRetrieve(context.Background(), callTool(ToolRetrieve, nil))
	require.NoError(t, err)
	text, isErr = toolText(t, result)
	assert.True(t, isErr)
	assert.Contains(t, text, "not initialized")
}

func TestToolCallThroughServer(t *testing.T) {
	r := &fakeRetriever{records: map[string]store.QueryResult{
		"a": {ID: "a", Values: []float32{1, 2}},
	}}
	srv := NewServer(&fakeSearcher{}, r, "test")
	sendMessage(t, srv, initializeRequest)

	reply := sendMessage(t, srv, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"mirag_retrieve","arguments":{"ids":["a"]}}}`)
	require.Nil(t, reply["error"])

	result := reply["result"].(map[string]any)
	assert.NotEqual(t, true, result["isError"])
	content := result["content"].([]any)
	require.Len(t, content, 1)
	assert.Contains(t, content[0].(map[string]any)["text"], `"id": "a"`)
	assert.Equal(t, []string{"a"}, r.opts.IDs)
}

func TestPositiveInt(t *testing.T) {
	req := callTool(ToolRetrieve, map[string]any{"n": float64(4), "s": "7", "bad": "x", "neg": float64(-1)})
	assert.Equal(t, 4, positiveInt(req, "n", 10))
	assert.Equal(t, 7, positiveInt(req, "s", 10))
	assert.Equal(t, 10, positiveInt(req, "bad", 10))
	assert.Equal(t, 10, positiveInt(req, "neg", 10))
	assert.Equal(t, 10, positiveInt(req, "missing", 10))
}
