// Package dispatch is the engine's top level: it matches requests to
// manifest routes, gates them behind the session gate, composes view
// contexts, and drives the step interpreter for actions.
package dispatch

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/weftworks/weft/auth"
	"github.com/weftworks/weft/bus"
	"github.com/weftworks/weft/connector"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/manifest"

	"github.com/gorilla/mux"
)

// PartialHeader marks a partial-navigation request: the client wants
// per-placeholder fragments instead of a full document.
const PartialHeader = "X-Partial-Nav"

// ClientHeader carries the caller's WebSocket client id so its own
// mutations aren't echoed back to it.
const ClientHeader = "X-Weft-Client"

// Dispatcher owns the routes and orchestrates everything around one
// request.
type Dispatcher struct {
	Routes     map[string]*Route
	Connectors map[string]connector.Connector
	Bus        *bus.Bus
	Gate       *auth.Gate
	Interp     *core.Interpreter
	Renderer   Renderer
	Globals    map[string]interface{}

	Debug bool
}

// NewDispatcher compiles the manifest's routes and wires the
// interpreter to re-enter this dispatcher for "action:run".
func NewDispatcher(m *manifest.Manifest, connectors map[string]connector.Connector, b *bus.Bus, gate *auth.Gate, eval core.Evaluator, handlers map[string]core.Handler) (*Dispatcher, error) {
	routes, err := CompileRoutes(m)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		Routes:     routes,
		Connectors: connectors,
		Bus:        b,
		Gate:       gate,
		Renderer:   &JSONRenderer{Title: m.Name},
		Globals:    m.Globals,
	}
	d.Interp = &core.Interpreter{
		Evaluator: eval,
		Handlers:  handlers,
		Actions:   d,
	}
	return d, nil
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.Debug {
		log.Printf("Dispatcher "+format, args...)
	}
}

// Router registers every HTTP-reachable route.  Internal routes are
// deliberately absent: they're reachable only via "action:run".
func (d *Dispatcher) Router() *mux.Router {
	r := mux.NewRouter()
	for _, rt := range d.Routes {
		if rt.Internal || rt.Method == "" {
			continue
		}
		r.HandleFunc(rt.Path, d.handler(rt)).Methods(rt.Method)
	}
	return r
}

func (d *Dispatcher) handler(rt *Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestsTotal.WithLabelValues(rt.Key).Inc()

		var user map[string]interface{}
		if d.Gate != nil {
			var err error
			if user, err = d.Gate.ResolveUser(ctx, r); err != nil {
				d.fail(w, rt, err)
				return
			}
		}

		if rt.AuthRequired && user == nil {
			d.authRedirect(w, r, rt)
			return
		}

		switch rt.Type {
		case "view":
			d.serveView(w, r, rt, user)
		case "action":
			d.serveAction(w, r, rt, user)
		}
	}
}

// authRedirect turns "no caller" into a redirect: an HTTP redirect
// for normal navigation, a JSON {redirect} body for partial or
// programmatic requests.
func (d *Dispatcher) authRedirect(w http.ResponseWriter, r *http.Request, rt *Route) {
	target := rt.FailureRedirect
	if target == "" {
		target = "/"
	}
	if rt.Type == "action" || r.Header.Get(PartialHeader) != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"redirect": target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (d *Dispatcher) serveView(w http.ResponseWriter, r *http.Request, rt *Route, user map[string]interface{}) {
	ctx := r.Context()

	rc, err := d.renderContext(r, rt, user)
	if err != nil {
		d.fail(w, rt, err)
		return
	}
	_ = ctx

	doc, err := d.Renderer.RenderView(rt, rc)
	if err != nil {
		d.fail(w, rt, err)
		return
	}

	if r.Header.Get(PartialHeader) != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":         doc.Title,
			"styles":        doc.Styles,
			"injectedParts": doc.Parts,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, doc.HTML)
}

// renderContext assembles the view's inputs: the requested
// connectors' current values, the caller, and the manifest globals.
func (d *Dispatcher) renderContext(r *http.Request, rt *Route, user map[string]interface{}) (map[string]interface{}, error) {
	data := make(map[string]interface{}, len(rt.Reads))
	for _, name := range rt.Reads {
		c, have := d.Connectors[name]
		if !have {
			continue
		}
		value, err := c.Read(r.Context())
		if err != nil {
			return nil, err
		}
		data[name] = value
	}
	return map[string]interface{}{
		"data":    data,
		"user":    user,
		"globals": d.Globals,
	}, nil
}

// fail responds with a generic failure, logging the detail for
// operators.  Internal error text never reaches the wire.
func (d *Dispatcher) fail(w http.ResponseWriter, rt *Route, err error) {
	log.Printf("Dispatcher route %q error: %s", rt.Key, err)
	actionFailuresTotal.WithLabelValues(rt.Key).Inc()
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error": "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Dispatcher response encode error: %s", err)
	}
}
