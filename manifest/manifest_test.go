package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var sampleYAML = []byte(`
name: todos
globals:
  appName: Todos

connectors:
  todos:
    type: bolt
    collection: todos
    initialState:
      filter: all
      items: []
    migrations:
      - if_not_exists: priority
        set:
          priority: normal
  session:
    type: in-memory

channels:
  todos:
    connector: todos
    event: todos_updated

bridge:
  allow:
    dialog: ["*"]
    tray: [flash]

routes:
  "GET /":
    type: view
    reads: [todos]
    layout: main
    inject:
      content: todo-list
  "POST /add":
    type: action
    reads: [todos]
    writes: [todos]
    update: todo-list
    steps:
      - set: data.todos.items
        to: "data.todos.items.concat([{title: body.title}])"
  recount:
    type: action
    internal: true
    reads: [todos]
    steps:
      - set: data.todos.count
        to: data.todos.items.length
`)

func TestParseSample(t *testing.T) {
	m, err := Parse(sampleYAML)
	require.NoError(t, err)

	require.Equal(t, "todos", m.Name)
	require.Equal(t, "Todos", m.Globals["appName"])

	c := m.Connectors["todos"]
	require.Equal(t, "bolt", c.Type)
	require.Equal(t, "all", c.InitialState["filter"])
	require.Len(t, c.Migrations, 1)
	require.Equal(t, "priority", c.Migrations[0].IfNotExists)
	require.Equal(t, "normal", c.Migrations[0].Set["priority"])

	require.Equal(t, "todos_updated", m.Channels["todos"].Event)
	require.Equal(t, []string{"*"}, m.Bridge.Allow["dialog"])

	r := m.Routes["POST /add"]
	require.Equal(t, "action", r.Type)
	require.Equal(t, []string{"todos"}, r.Writes)
	require.Len(t, r.Steps, 1)

	// The jsccast parser yields JSON-shaped values for untyped
	// step lists.
	step, is := r.Steps[0].(map[string]interface{})
	require.True(t, is)
	require.Equal(t, "data.todos.items", step["set"])

	require.True(t, m.Routes["recount"].Internal)
}

func TestValidateErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		want string
	}{
		{
			"connector without type",
			"connectors:\n  c: {}\n",
			"has no type",
		},
		{
			"connector with unknown type",
			"connectors:\n  c: {type: redis}\n",
			"unknown type",
		},
		{
			"channel watching unknown connector",
			"channels:\n  ch: {connector: ghost, event: e}\n",
			"unknown connector",
		},
		{
			"channel without event",
			"connectors:\n  c: {type: in-memory}\nchannels:\n  ch: {connector: c}\n",
			"no event",
		},
		{
			"route with unknown type",
			"routes:\n  \"GET /\": {type: page}\n",
			"unknown type",
		},
		{
			"route with bare key",
			"routes:\n  home: {type: view}\n",
			"METHOD /path",
		},
		{
			"view route not GET",
			"routes:\n  \"POST /\": {type: view}\n",
			"must be a GET",
		},
		{
			"internal route with HTTP key",
			"routes:\n  \"POST /x\": {type: action, internal: true}\n",
			"must not have a METHOD PATH key",
		},
		{
			"internal route with update target",
			"routes:\n  x: {type: action, internal: true, update: list}\n",
			"must not have an update target",
		},
		{
			"route reading unknown connector",
			"routes:\n  \"GET /\": {type: view, reads: [ghost]}\n",
			"unknown connector",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseKey(t *testing.T) {
	method, path, isHTTP := ParseKey("GET /todos")
	require.True(t, isHTTP)
	require.Equal(t, "GET", method)
	require.Equal(t, "/todos", path)

	method, path, isHTTP = ParseKey("post /x")
	require.True(t, isHTTP)
	require.Equal(t, "POST", method)

	_, _, isHTTP = ParseKey("recount")
	require.False(t, isHTTP)

	_, _, isHTTP = ParseKey("GET todos")
	require.False(t, isHTTP)
}

func TestLoadExample(t *testing.T) {
	m, err := Load("../examples/todos.yaml")
	require.NoError(t, err)
	require.Equal(t, "todos", m.Name)
	require.True(t, m.Routes["recount"].Internal)
}

func TestDumpRoundTrips(t *testing.T) {
	m, err := Parse(sampleYAML)
	require.NoError(t, err)

	out, err := Dump(m)
	require.NoError(t, err)

	m2, err := Parse(out)
	require.NoError(t, err)
	require.Equal(t, m.Name, m2.Name)
	require.Len(t, m2.Routes, len(m.Routes))
}
