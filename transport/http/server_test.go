package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint/inmem"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	transporthttp "github.com/xpert-ai/agentgraph/transport/http"
)

// stubClient always answers with the same assistant text, enough to drive a
// Run to completion without a real model provider.
type stubClient struct{ text string }

func (c *stubClient) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{Message: model.Message{
		Role:    model.RoleAssistant,
		Content: []model.Part{model.TextPart{Text: c.text}},
	}}, nil
}

func newTestServer(t *testing.T, reply string) (*httptest.Server, string) {
	t.Helper()

	assistants := transporthttp.NewAssistantStore()
	x := graph.Xpert{ID: "asst-1", Agents: map[string]graph.XpertAgent{"main": {Key: "main"}}}
	assistants.Put(context.Background(), "asst-1", transporthttp.AssistantRecord{Xpert: x, EntryAgent: "main"})

	srv := transporthttp.NewServer(transporthttp.Deps{
		Assistants:   assistants,
		Checkpointer: inmem.New(),
		Interrupts:   interrupt.NewManager(),
		ModelClient:  &stubClient{text: reply},
		Pipeline:     middleware.New(),
		Registry:     compiler.Registry{Middleware: middleware.New()},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, "asst-1"
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buf).Encode(body))
	resp, err := http.Post(ts.URL+path, "application/json", buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func TestCreateThreadAssignsIDAndDefaultsIfExists(t *testing.T) {
	ts, _ := newTestServer(t, "hi")

	resp := postJSON(t, ts, "/threads", map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var thread map[string]any
	decodeBody(t, resp, &thread)
	require.NotEmpty(t, thread["thread_id"])
	require.Equal(t, "open", thread["state"])
}

func TestCreateThreadRaisesOnDuplicateByDefault(t *testing.T) {
	ts, _ := newTestServer(t, "hi")

	resp := postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp2 := postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})
	require.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestCreateThreadDoNothingReturnsExisting(t *testing.T) {
	ts, _ := newTestServer(t, "hi")

	resp := postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp2 := postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1", "if_exists": "do_nothing"})
	require.Equal(t, http.StatusCreated, resp2.StatusCode)

	var thread map[string]any
	decodeBody(t, resp2, &thread)
	require.Equal(t, "t1", thread["thread_id"])
}

func TestGetThreadNotFound(t *testing.T) {
	ts, _ := newTestServer(t, "hi")

	resp, err := http.Get(ts.URL + "/threads/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteThreadReturnsAccepted(t *testing.T) {
	ts, _ := newTestServer(t, "hi")
	postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/threads/t1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCreateRunWaitReturnsAssistantReply(t *testing.T) {
	ts, assistantID := newTestServer(t, "hello there")
	postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})

	resp := postJSON(t, ts, "/threads/t1/runs/wait", map[string]any{
		"assistant_id": assistantID,
		"input":        map[string]any{"message": "hi"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	decodeBody(t, resp, &out)
	require.Equal(t, "ai", out["role"])
	require.Equal(t, "hello there", out["content"])
}

func TestCreateRunBackgroundReturnsAccepted(t *testing.T) {
	ts, assistantID := newTestServer(t, "hi")
	postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})

	resp := postJSON(t, ts, "/threads/t1/runs", map[string]any{
		"assistant_id": assistantID,
		"input":        map[string]any{"message": "hi"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]any
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out["run_id"])
	require.Equal(t, "t1", out["thread_id"])
}

func TestCreateRunUnknownAssistantNotFound(t *testing.T) {
	ts, _ := newTestServer(t, "hi")
	postJSON(t, ts, "/threads", map[string]any{"thread_id": "t1"})

	resp := postJSON(t, ts, "/threads/t1/runs/wait", map[string]any{
		"assistant_id": "does-not-exist",
		"input":        map[string]any{"message": "hi"},
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStoreItemPutGetSearchDelete(t *testing.T) {
	ts, _ := newTestServer(t, "hi")

	putResp := postJSON(t, ts, "/store/items", map[string]any{
		"namespace": []string{"prefs", "user1"},
		"key":       "theme",
		"value":     map[string]any{"color": "dark"},
	})
	require.Equal(t, http.StatusNoContent, putResp.StatusCode)

	getResp, err := http.Get(ts.URL + "/store/items/prefs.user1/theme")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var item map[string]any
	decodeBody(t, getResp, &item)
	require.Equal(t, "theme", item["key"])

	searchResp := postJSON(t, ts, "/store/items/search", map[string]any{
		"namespace": []string{"prefs", "user1"},
		"query":     "dark",
	})
	require.Equal(t, http.StatusOK, searchResp.StatusCode)
	var items []map[string]any
	decodeBody(t, searchResp, &items)
	require.Len(t, items, 1)

	delReq, err := http.NewRequest(http.MethodDelete, ts.URL+"/store/items/prefs.user1/theme", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(delReq)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp2, err := http.Get(ts.URL + "/store/items/prefs.user1/theme")
	require.NoError(t, err)
	defer getResp2.Body.Close()
	require.Equal(t, http.StatusNotFound, getResp2.StatusCode)
}

func TestCreateClientSecretDisabledWithoutIssuer(t *testing.T) {
	ts, _ := newTestServer(t, "hi")

	resp := postJSON(t, ts, "/chatkit/sessions", map[string]any{})
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestAuthMiddlewareRejectsMissingCredentials(t *testing.T) {
	assistants := transporthttp.NewAssistantStore()
	srv := transporthttp.NewServer(transporthttp.Deps{
		Assistants:   assistants,
		Checkpointer: inmem.New(),
		Interrupts:   interrupt.NewManager(),
		ModelClient:  &stubClient{text: "hi"},
		Pipeline:     middleware.New(),
		Registry:     compiler.Registry{Middleware: middleware.New()},
		Auth:         transporthttp.NewSecretIssuer("key-1"),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/threads/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddlewareAcceptsValidAPIKey(t *testing.T) {
	assistants := transporthttp.NewAssistantStore()
	srv := transporthttp.NewServer(transporthttp.Deps{
		Assistants:   assistants,
		Checkpointer: inmem.New(),
		Interrupts:   interrupt.NewManager(),
		ModelClient:  &stubClient{text: "hi"},
		Pipeline:     middleware.New(),
		Registry:     compiler.Registry{Middleware: middleware.New()},
		Auth:         transporthttp.NewSecretIssuer("key-1"),
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/threads/missing", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "key-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateClientSecretIssuesTokenUsableForAuth(t *testing.T) {
	issuer := transporthttp.NewSecretIssuer("key-1")
	assistants := transporthttp.NewAssistantStore()
	srv := transporthttp.NewServer(transporthttp.Deps{
		Assistants:   assistants,
		Checkpointer: inmem.New(),
		Interrupts:   interrupt.NewManager(),
		ModelClient:  &stubClient{text: "hi"},
		Pipeline:     middleware.New(),
		Registry:     compiler.Registry{Middleware: middleware.New()},
		Auth:         issuer,
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/chatkit/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "key-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var secret map[string]any
	decodeBody(t, resp, &secret)
	token, _ := secret["client_secret"].(string)
	require.NotEmpty(t, token)

	req2, err := http.NewRequest(http.MethodGet, ts.URL+"/threads/missing", nil)
	require.NoError(t, err)
	req2.Header.Set("x-client-secret", token)
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
