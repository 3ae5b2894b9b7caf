package core

import (
	"strings"
)

// ActionContext is the per-invocation state that a Program mutates.
//
// The four public namespaces are what expressions see: "data" holds
// connector contents keyed by connector name, "user" is the resolved
// caller (or nil), "body" is the request payload, and "context"
// (Scratch here, to dodge the obvious collision) is scratch space for
// intermediate step results.
//
// An ActionContext is created fresh for each action invocation (or
// resume) and is owned by exactly one interpreter run.  Never share
// one across concurrent invocations.
type ActionContext struct {
	Data    map[string]interface{} `json:"data"`
	User    map[string]interface{} `json:"user,omitempty"`
	Body    map[string]interface{} `json:"body,omitempty"`
	Scratch map[string]interface{} `json:"context"`

	// Internal is engine-private.  Expressions can't see it.
	Internal Internal `json:"_internal"`
}

// Internal carries the engine-private interpreter state.
type Internal struct {
	// Interrupt stops the current run immediately.  Raised by
	// "client:redirect" and by an awaited "bridge:call".
	Interrupt bool `json:"interrupt,omitempty"`

	// LastStep is the top-level index of the most recently
	// executed step.  Used as the resume point after a
	// suspension.
	LastStep int `json:"lastStep"`

	// ResumingFrom, when not -1, names the top-level step index
	// that was last executed before a suspension.  The next run
	// starts strictly after it.  An out-of-range value restarts
	// the Program from the beginning.
	ResumingFrom int `json:"resumingFrom"`

	// AwaitingBridgeCall is set when the run suspended on an
	// awaited bridge call.
	AwaitingBridgeCall *BridgeCall `json:"awaitingBridgeCall,omitempty"`

	// BridgeCalls accumulates fire-and-forget calls for the
	// response payload.
	BridgeCalls []BridgeCall `json:"bridgeCalls,omitempty"`

	// LoginUser, when set, asks the dispatcher to create a
	// session for this user at the end of the action.
	LoginUser map[string]interface{} `json:"loginUser,omitempty"`

	// Logout asks the dispatcher to terminate the active session.
	Logout bool `json:"logout,omitempty"`

	// Redirect is a terminal redirect target.
	Redirect string `json:"redirect,omitempty"`
}

// BridgeCall is a request to an external responder.
type BridgeCall struct {
	API  string        `json:"api"`
	Args []interface{} `json:"args,omitempty"`

	// SetPath is where an awaited call's result lands in the
	// context.
	SetPath string `json:"-"`
}

// NewActionContext makes an empty context with all namespaces
// allocated.
func NewActionContext() *ActionContext {
	return &ActionContext{
		Data:    map[string]interface{}{},
		Body:    map[string]interface{}{},
		Scratch: map[string]interface{}{},
		Internal: Internal{
			LastStep:     -1,
			ResumingFrom: -1,
		},
	}
}

// Env gives the namespaces that expressions may read.
func (ac *ActionContext) Env() map[string]interface{} {
	var user interface{}
	if ac.User != nil {
		user = ac.User
	}
	return map[string]interface{}{
		"data":    ac.Data,
		"user":    user,
		"body":    ac.Body,
		"context": ac.Scratch,
	}
}

// SetPath assigns v at the given dot-separated path, creating
// intermediate objects as needed.  The first path segment must name a
// namespace ("data", "user", "body", "context").
func (ac *ActionContext) SetPath(path string, v interface{}) error {
	parts := strings.Split(path, ".")
	ns, rest := parts[0], parts[1:]

	asMap := func(x interface{}) map[string]interface{} {
		if m, is := x.(map[string]interface{}); is {
			return m
		}
		return nil
	}

	if len(rest) == 0 {
		m := asMap(v)
		switch ns {
		case "data", "user", "body", "context":
			if m == nil && v != nil {
				return &BadPath{path, "namespace value must be an object"}
			}
		}
		switch ns {
		case "data":
			ac.Data = m
		case "user":
			ac.User = m
		case "body":
			ac.Body = m
		case "context":
			ac.Scratch = m
		default:
			return &BadPath{path, "unknown namespace"}
		}
		return nil
	}

	var target map[string]interface{}
	switch ns {
	case "data":
		if ac.Data == nil {
			ac.Data = map[string]interface{}{}
		}
		target = ac.Data
	case "user":
		if ac.User == nil {
			ac.User = map[string]interface{}{}
		}
		target = ac.User
	case "body":
		if ac.Body == nil {
			ac.Body = map[string]interface{}{}
		}
		target = ac.Body
	case "context":
		if ac.Scratch == nil {
			ac.Scratch = map[string]interface{}{}
		}
		target = ac.Scratch
	default:
		return &BadPath{path, "unknown namespace"}
	}

	SetAt(target, rest, v)
	return nil
}

// GetPath resolves the given dot-separated path, returning nil when
// any segment is missing.
func (ac *ActionContext) GetPath(path string) interface{} {
	parts := strings.Split(path, ".")
	var x interface{}
	switch parts[0] {
	case "data":
		x = ac.Data
	case "user":
		x = ac.User
	case "body":
		x = ac.Body
	case "context":
		x = ac.Scratch
	default:
		return nil
	}
	return GetAt(x, parts[1:])
}

// SetAt assigns v under the path within m, auto-creating intermediate
// objects.  A non-object intermediate value is replaced.
func SetAt(m map[string]interface{}, path []string, v interface{}) {
	for i := 0; i < len(path)-1; i++ {
		next, have := m[path[i]]
		nm, is := next.(map[string]interface{})
		if !have || !is {
			nm = map[string]interface{}{}
			m[path[i]] = nm
		}
		m = nm
	}
	m[path[len(path)-1]] = v
}

// GetAt walks the path within x, returning nil when the walk falls
// off.
func GetAt(x interface{}, path []string) interface{} {
	for _, p := range path {
		m, is := x.(map[string]interface{})
		if !is {
			return nil
		}
		x = m[p]
	}
	return x
}
