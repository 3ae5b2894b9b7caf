package core

import (
	"encoding/json"
	"fmt"
)

// Step kinds, in detection order.  A step is tagged by whichever of
// these keys it carries.  ToDo: reject steps carrying two tags instead
// of picking the first.
const (
	KindLog       = "log"
	KindLogValue  = "log:value"
	KindSet       = "set"
	KindIf        = "if"
	KindRun       = "run"
	KindRunSet    = "run:set"
	KindActionRun = "action:run"
	KindTry       = "try"
	KindBridge    = "bridge:call"
	KindLogin     = "auth:login"
	KindLogout    = "auth:logout"
	KindRedirect  = "client:redirect"

	// KindUnknown marks a step whose tag we don't recognize.
	// Executing one logs a warning and does nothing else.
	KindUnknown = "unknown"
)

// KindBridge must precede KindSet: an awaited "bridge:call" also
// carries a "set" key naming its result target.
var stepKinds = []string{
	KindBridge, KindIf, KindTry, KindRunSet, KindRun, KindActionRun,
	KindSet, KindLogin, KindLogout, KindRedirect, KindLogValue, KindLog,
}

// Step is one compiled instruction of a Program.
//
// Only the fields relevant to the step's Kind are populated.  Raw
// keeps the original manifest object for diagnostics.
type Step struct {
	// Index is the step's position in the top-level Program, or
	// -1 for steps nested inside "then"/"else"/"try"/"catch"
	// bodies.  Resumption after a bridge-call suspension is by
	// this index, never by comparing step bodies.
	Index int

	Kind string
	Raw  map[string]interface{}

	// Path is the assignment target for "set" and "run:set", and
	// the result target for an awaited "bridge:call".
	Path string

	// To is the expression (or literal) assigned by "set".
	To interface{}

	// Handler names the registered Go handler for "run" and
	// "run:set".
	Handler string

	// With holds the evaluated-per-element argument expressions
	// for "run:set".
	With []interface{}

	// Cond is the "if" expression.
	Cond interface{}

	Then  Program
	Else  Program
	Try   Program
	Catch Program

	// API and Args describe a "bridge:call".
	API   string
	Args  []interface{}
	Await bool

	// Action names the internal route for "action:run".
	Action string

	// Value is the payload of "log", "log:value", "auth:login",
	// and "client:redirect".
	Value interface{}
}

// JSON renders the step's original manifest object, for error
// messages.
func (st *Step) JSON() string {
	js, err := json.Marshal(st.Raw)
	if err != nil {
		return fmt.Sprintf("%#v", st.Raw)
	}
	return string(js)
}

// Program is an ordered step list.
type Program []*Step

// ParseProgram compiles a manifest step list.  Top-level steps get
// stable indexes for resumption.
func ParseProgram(raw []interface{}) (Program, error) {
	return parseSteps(raw, true)
}

func parseSteps(raw []interface{}, topLevel bool) (Program, error) {
	prog := make(Program, 0, len(raw))
	for i, x := range raw {
		m, is := x.(map[string]interface{})
		if !is {
			return nil, &BadStep{nil, fmt.Sprintf("step %d is a %T, not an object", i, x)}
		}
		st, err := ParseStep(m)
		if err != nil {
			return nil, err
		}
		if topLevel {
			st.Index = i
		}
		prog = append(prog, st)
	}
	return prog, nil
}

// ParseStep compiles one manifest step object.
func ParseStep(m map[string]interface{}) (*Step, error) {
	st := &Step{
		Index: -1,
		Kind:  KindUnknown,
		Raw:   m,
	}

	for _, kind := range stepKinds {
		if _, have := m[kind]; have {
			st.Kind = kind
			break
		}
	}

	var err error
	switch st.Kind {
	case KindSet:
		if st.Path, err = stringProp(m, KindSet); err != nil {
			return nil, err
		}
		st.To = m["to"]
	case KindIf:
		st.Cond = m[KindIf]
		if st.Then, err = subProgram(m, "then"); err != nil {
			return nil, err
		}
		if st.Else, err = subProgram(m, "else"); err != nil {
			return nil, err
		}
	case KindRun:
		if st.Handler, err = stringProp(m, KindRun); err != nil {
			return nil, err
		}
	case KindRunSet:
		if st.Path, err = stringProp(m, KindRunSet); err != nil {
			return nil, err
		}
		if st.Handler, err = stringProp(m, "handler"); err != nil {
			return nil, err
		}
		// A single value is wrapped into a 1-element argument
		// list.
		switch with := m["with"].(type) {
		case nil:
		case []interface{}:
			st.With = with
		default:
			st.With = []interface{}{with}
		}
	case KindActionRun:
		switch v := m[KindActionRun].(type) {
		case string:
			st.Action = v
		case map[string]interface{}:
			if st.Action, _ = v["name"].(string); st.Action == "" {
				return nil, &BadStep{m, `"action:run" needs a name`}
			}
		default:
			return nil, &BadStep{m, `"action:run" needs a name`}
		}
	case KindTry:
		if st.Try, err = subProgram(m, KindTry); err != nil {
			return nil, err
		}
		if st.Catch, err = subProgram(m, "catch"); err != nil {
			return nil, err
		}
	case KindBridge:
		call, is := m[KindBridge].(map[string]interface{})
		if !is {
			return nil, &BadStep{m, `"bridge:call" needs {api, args}`}
		}
		if st.API, _ = call["api"].(string); st.API == "" {
			return nil, &BadStep{m, `"bridge:call" needs an api`}
		}
		switch args := call["args"].(type) {
		case nil:
		case []interface{}:
			st.Args = args
		default:
			st.Args = []interface{}{args}
		}
		st.Await, _ = m["await"].(bool)
		st.Path, _ = m["set"].(string)
	case KindLogin:
		st.Value = m[KindLogin]
	case KindLogout:
		// No payload.
	case KindRedirect:
		st.Value = m[KindRedirect]
	case KindLog, KindLogValue:
		st.Value = m[st.Kind]
	case KindUnknown:
		// Warned about at execution time, not here, so that a
		// manifest with forward-compatible steps still loads.
	}

	return st, nil
}

func stringProp(m map[string]interface{}, p string) (string, error) {
	s, is := m[p].(string)
	if !is || s == "" {
		return "", &BadStep{m, fmt.Sprintf("%q must be a non-empty string", p)}
	}
	return s, nil
}

func subProgram(m map[string]interface{}, p string) (Program, error) {
	switch v := m[p].(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return parseSteps(v, false)
	default:
		return nil, &BadStep{m, fmt.Sprintf("%q must be a step list", p)}
	}
}
