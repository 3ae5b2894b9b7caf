package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/weftworks/weft/core"
)

// serveAction runs an action route: build the context from the
// route's read connectors, interpret the step program (re-entering
// after any bridge suspension), then -- strictly after a successful
// run -- persist the write connectors, broadcast, and apply auth
// effects.
func (d *Dispatcher) serveAction(w http.ResponseWriter, r *http.Request, rt *Route, user map[string]interface{}) {
	ctx := r.Context()

	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "malformed request body",
		})
		return
	}

	clientID := r.Header.Get(ClientHeader)

	ac := core.NewActionContext()
	ac.User = user
	ac.Body = body
	for _, name := range rt.Reads {
		c, have := d.Connectors[name]
		if !have {
			continue
		}
		value, err := c.Read(ctx)
		if err != nil {
			d.fail(w, rt, err)
			return
		}
		ac.Data[name] = value
	}

	// The interpret/await loop.  A bridge suspension parks this
	// request goroutine on the pending call; the response (or
	// timeout, or disconnect) re-enters the same program strictly
	// after the suspended step.
	for {
		if err := d.Interp.Run(ctx, rt.Steps, ac); err != nil {
			d.fail(w, rt, err)
			return
		}

		call := ac.Internal.AwaitingBridgeCall
		if call == nil {
			break
		}
		d.logf("route %q awaiting bridge call %s", rt.Key, call.API)

		result, err := d.Bus.AwaitableBridgeCall(ctx, clientID, *call)
		if err != nil {
			d.fail(w, rt, err)
			return
		}

		ac.Internal.AwaitingBridgeCall = nil
		ac.Internal.Interrupt = false
		ac.Internal.ResumingFrom = ac.Internal.LastStep
		if call.SetPath != "" {
			if err := ac.SetPath(call.SetPath, result); err != nil {
				d.fail(w, rt, err)
				return
			}
		}
	}

	for _, name := range rt.Writes {
		c, have := d.Connectors[name]
		if !have {
			continue
		}
		value, is := ac.Data[name].(map[string]interface{})
		if !is {
			d.fail(w, rt, fmt.Errorf("action left no object at data.%s", name))
			return
		}
		if err := c.Write(ctx, value); err != nil {
			d.fail(w, rt, err)
			return
		}
		if err := d.Bus.NotifyOnWrite(ctx, name, clientID); err != nil {
			d.fail(w, rt, err)
			return
		}
	}

	// Session effects come last so their cookies ride the
	// response.
	if d.Gate != nil {
		if lu := ac.Internal.LoginUser; lu != nil {
			if _, err := d.Gate.Issue(ctx, w, lu); err != nil {
				d.fail(w, rt, err)
				return
			}
		}
		if ac.Internal.Logout {
			if err := d.Gate.Revoke(ctx, w, r); err != nil {
				d.fail(w, rt, err)
				return
			}
		}
	}

	resp := map[string]interface{}{}
	switch {
	case ac.Internal.Redirect != "":
		resp["redirect"] = ac.Internal.Redirect
	case rt.Update != "":
		rc := map[string]interface{}{
			"data":    ac.Data,
			"user":    ac.User,
			"globals": d.Globals,
		}
		payload, err := d.Renderer.RenderComponent(rt.Update, rc)
		if err != nil {
			d.fail(w, rt, err)
			return
		}
		resp[rt.Update] = payload
	}
	if calls := ac.Internal.BridgeCalls; len(calls) > 0 {
		out := make([]interface{}, 0, len(calls))
		for _, call := range calls {
			out = append(out, map[string]interface{}{
				"api":  call.API,
				"args": call.Args,
			})
		}
		resp["bridgeCalls"] = out
	}

	writeJSON(w, http.StatusOK, resp)
}

// RunAction implements core.ActionRunner: "action:run" re-enters the
// dispatcher with a fabricated sub-context carrying only user, body,
// and data, and the sub-action's resulting data is handed back for
// the caller to merge.
func (d *Dispatcher) RunAction(ctx context.Context, name string, parent *core.ActionContext) (map[string]interface{}, error) {
	rt, have := d.Routes[name]
	if !have || !rt.Internal {
		return nil, &core.UnknownAction{Name: name}
	}

	sub := core.NewActionContext()
	sub.User = parent.User
	sub.Body = parent.Body

	x, err := core.Canonicalize(parent.Data)
	if err != nil {
		return nil, err
	}
	sub.Data = x.(map[string]interface{})

	if err := d.Interp.Run(ctx, rt.Steps, sub); err != nil {
		return nil, err
	}
	if sub.Internal.AwaitingBridgeCall != nil {
		// An internal action has no resume identity of its
		// own, so it can't suspend.
		return nil, fmt.Errorf("internal action %q attempted an awaited bridge call", name)
	}

	return sub.Data, nil
}

func readBody(r *http.Request) (map[string]interface{}, error) {
	bs, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 {
		return map[string]interface{}{}, nil
	}
	var body map[string]interface{}
	if err := json.Unmarshal(bs, &body); err != nil {
		return nil, err
	}
	return body, nil
}
