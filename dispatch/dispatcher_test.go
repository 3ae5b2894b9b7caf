package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/weftworks/weft/auth"
	"github.com/weftworks/weft/bus"
	"github.com/weftworks/weft/connector"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/expr"
	"github.com/weftworks/weft/manifest"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/publicsuffix"
)

var testManifest = []byte(`
name: testapp
globals:
  appName: Test

connectors:
  counter:
    type: in-memory
    initialState:
      value: 10
  todos:
    type: in-memory
    initialState:
      items: []
  users:
    type: in-memory
    initialState:
      items:
        - id: 42
          name: pat

channels:
  counter:
    connector: counter
    event: counter_updated

bridge:
  allow:
    dialog: ["*"]
    tray: [flash]

routes:
  "GET /":
    type: view
    reads: [counter]
    layout: main
    inject:
      content: counter-view
  "GET /private":
    type: view
    reads: [counter]
    auth:
      required: true
      failureRedirect: /login-page
  "POST /increment":
    type: action
    reads: [counter]
    writes: [counter]
    update: counter-view
    steps:
      - set: data.counter.value
        to: data.counter.value + 1
  "POST /login":
    type: action
    steps:
      - auth:login: body.user
  "POST /logout":
    type: action
    steps:
      - auth:logout: true
  "POST /guarded":
    type: action
    auth:
      required: true
    steps:
      - set: context.x
        to: 1
  "POST /confirm-reset":
    type: action
    reads: [counter]
    writes: [counter]
    update: counter-view
    steps:
      - bridge:call: {api: dialog.confirm, args: ["'reset?'"]}
        await: true
        set: context.answer
      - if: context.answer
        then:
          - set: data.counter.value
            to: 0
  "POST /flash":
    type: action
    steps:
      - bridge:call: {api: tray.flash}
  "POST /recount":
    type: action
    reads: [todos]
    writes: [todos]
    update: todo-stats
    steps:
      - action:run: {name: recount}
  recount:
    type: action
    internal: true
    steps:
      - set: data.todos.count
        to: data.todos.items.length
`)

type app struct {
	t          *testing.T
	srv        *httptest.Server
	d          *Dispatcher
	bus        *bus.Bus
	connectors map[string]connector.Connector
}

// newApp assembles the full engine the way cmd/weftd does, over
// in-memory connectors and a throwaway session database.
func newApp(t *testing.T) *app {
	t.Helper()

	m, err := manifest.Parse(testManifest)
	require.NoError(t, err)

	connectors := make(map[string]connector.Connector, len(m.Connectors))
	for name, def := range m.Connectors {
		c, err := connector.NewMem(name, def.InitialState)
		require.NoError(t, err)
		connectors[name] = c
	}

	channels := make([]bus.Channel, 0, len(m.Channels))
	for name, def := range m.Channels {
		channels = append(channels, bus.Channel{
			Name:      name,
			Connector: def.Connector,
			Event:     def.Event,
		})
	}
	b := bus.NewBus(channels, connectors)
	b.Allow = m.Bridge.Allow

	db, err := connector.Open(filepath.Join(t.TempDir(), "weft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := auth.NewStore(db)
	require.NoError(t, err)
	gate := &auth.Gate{Sessions: store, Users: connectors["users"]}

	d, err := NewDispatcher(m, connectors, b, gate, expr.NewEvaluator(), nil)
	require.NoError(t, err)

	router := d.Router()
	router.HandleFunc("/ws", b.Handler())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &app{t: t, srv: srv, d: d, bus: b, connectors: connectors}
}

func (a *app) client() *http.Client {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	require.NoError(a.t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (a *app) post(c *http.Client, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		js, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(js)
	}
	req, err := http.NewRequest("POST", a.srv.URL+path, rd)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	bs, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	if len(bs) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		require.NoError(a.t, json.Unmarshal(bs, &decoded))
	}
	return resp, decoded
}

func (a *app) get(c *http.Client, path string, headers map[string]string) (*http.Response, []byte) {
	a.t.Helper()
	req, err := http.NewRequest("GET", a.srv.URL+path, nil)
	require.NoError(a.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	bs, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp, bs
}

func TestViewFullAndPartial(t *testing.T) {
	a := newApp(t)
	c := a.client()

	resp, body := a.get(c, "/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	require.Contains(t, string(body), "<!doctype html>")
	require.Contains(t, string(body), "<title>testapp</title>")

	resp, body = a.get(c, "/", map[string]string{PartialHeader: "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "json")

	var partial map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &partial))
	parts := partial["injectedParts"].(map[string]interface{})
	require.Contains(t, parts, "content")
}

func TestActionIncrement(t *testing.T) {
	a := newApp(t)
	c := a.client()

	resp, decoded := a.post(c, "/increment", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decoded["counter-view"].(map[string]interface{})
	require.Equal(t, "counter-view", payload["component"])
	data := payload["data"].(map[string]interface{})
	require.Equal(t, 11.0, data["counter"].(map[string]interface{})["value"])

	// The write persisted.
	v, err := a.connectors["counter"].Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 11.0, v["value"])
}

func TestActionMalformedBody(t *testing.T) {
	a := newApp(t)

	req, err := http.NewRequest("POST", a.srv.URL+"/increment",
		strings.NewReader("not json"))
	require.NoError(t, err)
	resp, err := a.client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthGating(t *testing.T) {
	a := newApp(t)
	c := a.client()

	// Normal navigation redirects.
	resp, _ := a.get(c, "/private", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login-page", resp.Header.Get("Location"))

	// Partial navigation gets a JSON redirect instead.
	resp, body := a.get(c, "/private", map[string]string{PartialHeader: "1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "/login-page", decoded["redirect"])

	// Gated actions get a JSON redirect too (default target).
	resp, decoded = a.post(c, "/guarded", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "/", decoded["redirect"])
}

func TestLoginLogoutFlow(t *testing.T) {
	a := newApp(t)
	c := a.client()

	resp, _ := a.post(c, "/login", map[string]interface{}{
		"user": map[string]interface{}{"id": 42, "name": "pat"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Cookies())

	// The session cookie now admits us.
	resp, _ = a.get(c, "/private", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, decoded := a.post(c, "/guarded", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, have := decoded["redirect"]
	require.False(t, have)

	// Logout expires it.
	resp, _ = a.post(c, "/logout", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = a.get(c, "/private", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestActionBridgeCallsQueued(t *testing.T) {
	a := newApp(t)
	c := a.client()

	resp, decoded := a.post(c, "/flash", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	calls := decoded["bridgeCalls"].([]interface{})
	require.Len(t, calls, 1)
	require.Equal(t, "tray.flash", calls[0].(map[string]interface{})["api"])
}

func TestInternalActionRun(t *testing.T) {
	a := newApp(t)
	c := a.client()

	ctx := context.Background()
	require.NoError(t, a.connectors["todos"].Write(ctx, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"id": 1.0},
			map[string]interface{}{"id": 2.0},
		},
	}))

	resp, decoded := a.post(c, "/recount", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decoded["todo-stats"].(map[string]interface{})
	data := payload["data"].(map[string]interface{})
	require.Equal(t, 2.0, data["todos"].(map[string]interface{})["count"])

	// The merged count persisted via the parent's writes.
	v, err := a.connectors["todos"].Read(ctx)
	require.NoError(t, err)
	require.Equal(t, 2.0, v["count"])
}

func TestRunActionOnlyReachesInternalRoutes(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()

	ac := core.NewActionContext()
	_, err := a.d.RunAction(ctx, "no-such-action", ac)
	var ua *core.UnknownAction
	require.ErrorAs(t, err, &ua)

	// HTTP routes aren't callable by name.
	_, err = a.d.RunAction(ctx, "POST /increment", ac)
	require.ErrorAs(t, err, &ua)
}

func TestActionBridgeSuspendResume(t *testing.T) {
	a := newApp(t)
	c := a.client()

	// Connect the WebSocket peer that will answer the bridge call.
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var assigned map[string]interface{}
	require.NoError(t, conn.ReadJSON(&assigned))
	require.Equal(t, "socket_id_assigned", assigned["type"])
	clientID := assigned["id"].(string)

	// Confirm the dialog when it arrives.
	go func() {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame["type"] != "awaitable_bridge_call" {
			return
		}
		payload := frame["payload"].(map[string]interface{})
		conn.WriteJSON(map[string]interface{}{
			"type": "bridge_call_response",
			"payload": map[string]interface{}{
				"callId": payload["callId"],
				"result": true,
			},
		})
	}()

	resp, decoded := a.post(c, "/confirm-reset", nil,
		map[string]string{ClientHeader: clientID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decoded["counter-view"].(map[string]interface{})
	data := payload["data"].(map[string]interface{})
	require.Equal(t, 0.0, data["counter"].(map[string]interface{})["value"])

	v, err := a.connectors["counter"].Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.0, v["value"])
}

func TestActionBridgeClientGoneFails(t *testing.T) {
	a := newApp(t)

	// No connected client can answer, so the action fails rather
	// than hang.
	resp, decoded := a.post(a.client(), "/confirm-reset", nil,
		map[string]string{ClientHeader: "nobody"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "internal error", decoded["error"])
}
