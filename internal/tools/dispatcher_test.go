package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailgraph/internal/authflow"
	"github.com/teemow/mailgraph/internal/graph"
	"github.com/teemow/mailgraph/internal/server"
	"github.com/teemow/mailgraph/internal/tokenstore"
	"github.com/teemow/mailgraph/internal/tools/mail_tools"
)

const testKey = "0f8fad5b-d9cb-469f-a165-70867728950e"

var testNow = time.UnixMilli(1_700_000_000_000)

type harness struct {
	d          *Dispatcher
	store      *tokenstore.MemoryStore
	graphCalls *atomic.Int32
	lastAuth   atomic.Value
}

// newHarness wires a dispatcher to a fake Graph that answers inbox
// requests with graphStatus and graphBody.
func newHarness(t *testing.T, graphStatus int, graphBody string) *harness {
	t.Helper()
	h := &harness{store: tokenstore.NewMemoryStore(), graphCalls: &atomic.Int32{}}
	fg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.graphCalls.Add(1)
		h.lastAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(graphStatus)
		fmt.Fprint(w, graphBody)
	}))
	t.Cleanup(fg.Close)

	auth, err := authflow.NewController(authflow.Config{
		ClientID:    "client",
		RedirectURL: "https://mail.example.com/auth/callback",
		Now:         func() time.Time { return testNow },
	}, h.store)
	require.NoError(t, err)

	sc, err := server.NewServerContext(context.Background(), h.store,
		server.WithFetcher(graph.NewFetcher(graph.WithHTTPClient(fg.Client()))),
		server.WithGraphBaseURL(fg.URL),
		server.WithPublicBaseURL("https://mail.example.com/"),
		server.WithAuthController(auth),
		server.WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)

	h.d, err = NewDispatcher(sc, mail_tools.Actions())
	require.NoError(t, err)
	return h
}

func (h *harness) bind(t *testing.T, key string, expiresIn time.Duration) {
	t.Helper()
	require.NoError(t, h.store.Put(context.Background(), key, tokenstore.Credential{
		AccessToken: "access-" + key,
		Expiry:      testNow.Add(expiresIn).UnixMilli(),
		Scopes:      "Mail.Read",
	}))
}

const inboxPage = `{"value":[
 {"id":"m1","receivedDateTime":"2024-05-01T10:00:00Z","subject":"hello","from":{"emailAddress":{"address":"a@x.com"}}},
 {"id":"m2","receivedDateTime":"2024-05-01T09:00:00Z","subject":"again","from":{"emailAddress":{"address":"b@x.com"}}}
]}`

func TestInvoke_MintsIdentityKeyAndAsksForLogin(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)

	resp := h.d.Invoke(context.Background(), Request{Action: "latest"}, TransportHTTP)

	require.Nil(t, resp.Error)
	_, err := uuid.Parse(resp.IdentityKey)
	require.NoError(t, err)
	assert.True(t, resp.RequiresLogin)
	assert.Equal(t, "https://mail.example.com/auth/login?identity_key="+resp.IdentityKey, resp.LoginURL)
	assert.Equal(t, http.StatusOK, resp.HTTPStatus())
	assert.Zero(t, h.graphCalls.Load())
}

func TestInvoke_RejectsMalformedIdentityKey(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)

	resp := h.d.Invoke(context.Background(), Request{Action: "latest", IdentityKey: "not-a-uuid"}, TransportHTTP)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "not-a-uuid", resp.IdentityKey)
	assert.Equal(t, http.StatusBadRequest, resp.HTTPStatus())
}

func TestInvoke_UnknownAction(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)

	resp := h.d.Invoke(context.Background(), Request{Action: "delete_everything", IdentityKey: testKey}, TransportHTTP)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidInput, resp.Error.Code)
	assert.Equal(t, testKey, resp.IdentityKey)
}

func TestInvoke_CredentialInsideSkewWindowRequiresLogin(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)
	h.bind(t, testKey, 30*time.Second)

	resp := h.d.Invoke(context.Background(), Request{Action: "latest", IdentityKey: testKey}, TransportHTTP)
	assert.True(t, resp.RequiresLogin)
	assert.Equal(t, testKey, resp.IdentityKey)
	assert.Zero(t, h.graphCalls.Load())
}

func TestInvoke_RunsActionWithStoredToken(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)
	h.bind(t, testKey, 2*time.Minute)

	resp := h.d.Invoke(context.Background(), Request{
		Action:      "latest",
		IdentityKey: testKey,
		Params:      map[string]any{"n": 2.0},
	}, TransportHTTP)

	require.Nil(t, resp.Error)
	assert.False(t, resp.RequiresLogin)
	assert.Equal(t, "Bearer access-"+testKey, h.lastAuth.Load())
	res, ok := resp.Result.(mail_tools.MessagesResult)
	require.True(t, ok)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, "m1", res.Messages[0].ID)
}

func TestInvoke_RemoteUnauthorizedRequiresLogin(t *testing.T) {
	h := newHarness(t, http.StatusUnauthorized, `{"error":{"code":"InvalidAuthenticationToken"}}`)
	h.bind(t, testKey, time.Hour)

	resp := h.d.Invoke(context.Background(), Request{Action: "latest", IdentityKey: testKey}, TransportHTTP)
	assert.Nil(t, resp.Error)
	assert.True(t, resp.RequiresLogin)
	assert.Contains(t, resp.LoginURL, testKey)
}

func TestInvoke_RemoteErrorSurfacesUnchanged(t *testing.T) {
	body := `{"error":{"code":"ErrorAccessDenied","message":"Access is denied."}}`
	h := newHarness(t, http.StatusForbidden, body)
	h.bind(t, testKey, time.Hour)

	resp := h.d.Invoke(context.Background(), Request{Action: "list_folders", IdentityKey: testKey}, TransportHTTP)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRemoteError, resp.Error.Code)
	assert.Equal(t, http.StatusForbidden, resp.Error.RemoteStatus)
	assert.Equal(t, body, resp.Error.RemoteBody)
	assert.Equal(t, http.StatusBadGateway, resp.HTTPStatus())
}

func TestInvoke_InvalidParams(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)
	h.bind(t, testKey, time.Hour)

	resp := h.d.Invoke(context.Background(), Request{
		Action:      "search",
		IdentityKey: testKey,
		Params:      map[string]any{"max": 5.0},
	}, TransportHTTP)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidInput, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "query")
	assert.Zero(t, h.graphCalls.Load())
}

func TestInvoke_AuthStatusNeedsNoCredential(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)

	resp := h.d.Invoke(context.Background(), Request{Action: "auth_status", IdentityKey: testKey}, TransportHTTP)
	require.Nil(t, resp.Error)
	assert.False(t, resp.RequiresLogin)
	st, ok := resp.Result.(authflow.Status)
	require.True(t, ok)
	assert.False(t, st.Bound)

	h.bind(t, testKey, time.Hour)
	resp = h.d.Invoke(context.Background(), Request{Action: "auth_status", IdentityKey: testKey}, TransportHTTP)
	st = resp.Result.(authflow.Status)
	assert.True(t, st.Bound)
	assert.True(t, st.Usable)
}

func TestNewDispatcher_RejectsDuplicates(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)
	actions := mail_tools.Actions()
	_, err := NewDispatcher(h.d.sc, append(actions, actions[0]))
	assert.Error(t, err)
}

func TestServeHTTP(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)
	h.bind(t, testKey, time.Hour)

	t.Run("dispatches", func(t *testing.T) {
		body := `{"action":"latest","identity_key":"` + testKey + `","params":{"n":1}}`
		rec := httptest.NewRecorder()
		h.d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools", strings.NewReader(body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var got struct {
			IdentityKey string `json:"identity_key"`
			Result      struct {
				Count int `json:"count"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, testKey, got.IdentityKey)
		assert.Equal(t, 1, got.Result.Count)
	})

	t.Run("malformed body does not mint an identity key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools", strings.NewReader("{")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var got Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Empty(t, got.IdentityKey)
		require.NotNil(t, got.Error)
		assert.Equal(t, CodeInvalidInput, got.Error.Code)
	})

	t.Run("invalid params echo the caller identity key", func(t *testing.T) {
		body := `{"action":"latest","identity_key":"` + testKey + `","params":"n=1"}`
		before := h.graphCalls.Load()
		rec := httptest.NewRecorder()
		h.d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var got Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, testKey, got.IdentityKey)
		require.NotNil(t, got.Error)
		assert.Equal(t, CodeInvalidInput, got.Error.Code)
		assert.Equal(t, before, h.graphCalls.Load())
	})

	t.Run("malformed identity key in a bad body is not echoed", func(t *testing.T) {
		body := `{"identity_key":"not-a-key","params":[]}`
		rec := httptest.NewRecorder()
		h.d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var got Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Empty(t, got.IdentityKey)
	})
}

func callMCP(t *testing.T, h *harness, action string, args map[string]any) (*mcp.CallToolResult, Response) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = MCPToolPrefix + action
	req.Params.Arguments = args
	res, err := h.d.mcpHandler(action)(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return res, resp
}

func TestMCPHandler(t *testing.T) {
	h := newHarness(t, http.StatusOK, inboxPage)
	h.bind(t, testKey, time.Hour)

	res, resp := callMCP(t, h, "latest", map[string]any{"identity_key": testKey, "n": 1.0})
	assert.False(t, res.IsError)
	assert.Equal(t, testKey, resp.IdentityKey)

	res, resp = callMCP(t, h, "latest", map[string]any{})
	assert.False(t, res.IsError)
	assert.True(t, resp.RequiresLogin)
	assert.NotEmpty(t, resp.IdentityKey)

	res, resp = callMCP(t, h, "folder_by_id", map[string]any{"identity_key": testKey})
	assert.True(t, res.IsError)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidInput, resp.Error.Code)
}

func TestMCPTool_Schema(t *testing.T) {
	for _, a := range mail_tools.Actions() {
		tool := MCPTool(a)
		assert.Equal(t, "mail_"+a.Name, tool.Name)
		assert.Contains(t, tool.InputSchema.Properties, "identity_key")
		for _, p := range a.Params {
			assert.Contains(t, tool.InputSchema.Properties, p.Name)
			if p.Required {
				assert.Contains(t, tool.InputSchema.Required, p.Name)
			}
		}
	}
}
