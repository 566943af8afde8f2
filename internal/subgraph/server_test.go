package subgraph

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gema/internal/bus"
	"github.com/danmuck/gema/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, n *Node) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := NewServer(n, "subgraph-1", nil, log.Logger)
	s.RegisterRoutes()
	return s
}

func postOperation(t *testing.T, s *Server, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body=%s", rr.Body.String())
	return rr.Code, out
}

func TestGraphQLMutationAndQuery(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)

	code, out := postOperation(t, s, `{"operationName":"subgraphIncrementValue","variables":{"by":5}}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"subgraphIncrementValue": float64(5)}, out["data"])

	code, out = postOperation(t, s, `{"operationName":"subgraphIncrementValue"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"subgraphIncrementValue": float64(6)}, out["data"])

	code, out = postOperation(t, s, `{"operationName":"subgraphQueryValue"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"subgraphQueryValue": float64(6)}, out["data"])
}

func TestGraphQLErrors(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)

	code, out := postOperation(t, s, `{"operationName":"missing"}`)
	require.Equal(t, http.StatusNotFound, code)
	require.NotEmpty(t, out["errors"])

	code, _ = postOperation(t, s, `{"operationName":"subgraphOnValueChange"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = postOperation(t, s, `{"operationName":`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = postOperation(t, s, `{"operationName":"_entities","variables":{"representations":[{"__typename":"Endpoint"}]}}`)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestGraphQLEntities(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)

	code, out := postOperation(t, s, `{"operationName":"_entities","variables":{"representations":[{"__typename":"Endpoint","id":"1"}]}}`)
	require.Equal(t, http.StatusOK, code)
	data := out["data"].(map[string]any)
	entities := data["_entities"].([]any)
	require.Len(t, entities, 1)
	require.Equal(t, map[string]any{
		"__typename":    "Endpoint",
		"id":            "1",
		"subgraphCount": float64(100),
	}, entities[0])
}

func TestStatusRoutes(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)

	for _, path := range []string{"/", "/health", "/ready", "/operations", "/metrics"} {
		rr := httptest.NewRecorder()
		s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, "path=%s", path)
	}

	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var ready map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ready))
	require.Equal(t, "headless", ready["bus"])
	require.Equal(t, true, ready["ready"])

	rr = httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	var landing map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &landing))
	require.Equal(t, "subgraph-1", landing["title"])
	require.Equal(t, "subgraphIncrementValue", landing["mutation"])
	require.Len(t, landing["operations"], 4)
}

func TestCORSPreflightAllowsAnyOrigin(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "http://studio.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "authorization,apollographql-client-name")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
	allowed := strings.Split(rr.Header().Get("Access-Control-Allow-Headers"), ",")
	require.Contains(t, allowed, "*")
	require.Contains(t, allowed, "Authorization")
}

func TestCORSConfigOrigins(t *testing.T) {
	testlog.Start(t)
	require.True(t, corsConfig(nil).AllowAllOrigins)
	require.True(t, corsConfig([]string{"http://a", "*"}).AllowAllOrigins)

	cfg := corsConfig([]string{" http://a ", ""})
	require.False(t, cfg.AllowAllOrigins)
	require.Equal(t, []string{"http://a"}, cfg.AllowOrigins)
}

func dialStream(t *testing.T, srv *httptest.Server, operation string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/graphql?operationName=" + operation
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestStreamDeliversChanges(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	conn, _, err := dialStream(t, srv, "subgraphOnValueChange")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	code, _ := postOperation(t, s, `{"operationName":"subgraphIncrementValue","variables":{"by":5}}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = postOperation(t, s, `{"operationName":"subgraphIncrementValue"}`)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []int64{5, 6} {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, want, msg.Data["subgraphOnValueChange"])
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return n.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamEndsWhenNodeCloses(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	conn, _, err := dialStream(t, srv, "subgraphOnValueChange")
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, n.Close())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected read error: %v", err)
}

func TestStreamRejectsUnknownOperation(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, "subgraph", BusPolicyHeadless, nil)
	s := newTestServer(t, n)
	srv := httptest.NewServer(s.HTTPRouter())
	defer srv.Close()

	_, resp, err := dialStream(t, srv, "subgraphQueryValue")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/graphql?operationName=subgraphOnValueChange", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMutationOverHTTPReachesBus(t *testing.T) {
	testlog.Start(t)
	hub := bus.NewHub()
	n := newTestNode(t, "subgraph", BusPolicyPublish, hub)
	s := newTestServer(t, n)

	body, err := json.Marshal(Request{OperationName: "subgraphIncrementValue", Variables: Variables{"by": 3}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	msgs := hub.Messages(bus.Subject("subgraph"))
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"value":3}`, string(msgs[0]))
}
