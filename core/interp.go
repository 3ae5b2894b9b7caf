package core

import (
	"context"
	"encoding/json"
	"log"
	"strings"
)

// Evaluator evaluates an expression string against the context
// namespaces.  See package expr for the Goja-backed implementation.
type Evaluator interface {
	Eval(ctx context.Context, src string, env map[string]interface{}) (interface{}, error)
}

// Handler is a registered Go function that "run" and "run:set" steps
// can invoke by name.
type Handler func(ctx context.Context, ac *ActionContext, args []interface{}) (interface{}, error)

// ActionRunner re-enters the dispatcher for "action:run" steps.  The
// returned map is the sub-action's resulting "data", which the
// interpreter merges back into the calling context.
type ActionRunner interface {
	RunAction(ctx context.Context, name string, ac *ActionContext) (map[string]interface{}, error)
}

// Interpreter executes Programs.
//
// An Interpreter is stateless across runs and safe for concurrent use
// as long as each run gets its own ActionContext.
type Interpreter struct {
	Evaluator Evaluator
	Handlers  map[string]Handler
	Actions   ActionRunner

	// Warnf reports non-fatal conditions (unknown step kinds).
	// Defaults to log.Printf.
	Warnf func(format string, args ...interface{})
}

func (in *Interpreter) warnf(format string, args ...interface{}) {
	if in.Warnf != nil {
		in.Warnf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run executes the Program against the context.
//
// If ac.Internal.ResumingFrom is a valid top-level index, execution
// starts strictly after that step; otherwise it starts from the
// beginning.  The marker is consumed either way.  Run returns nil
// both on normal completion and on interrupt (redirect or bridge
// suspension); the caller inspects ac.Internal to tell which.
func (in *Interpreter) Run(ctx context.Context, prog Program, ac *ActionContext) error {
	start := 0
	if rf := ac.Internal.ResumingFrom; 0 <= rf && rf < len(prog) {
		start = rf + 1
	}
	ac.Internal.ResumingFrom = -1

	return in.runSteps(ctx, prog[start:], ac)
}

func (in *Interpreter) runSteps(ctx context.Context, steps Program, ac *ActionContext) error {
	for _, st := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ac.Internal.LastStep = st.Index
		if err := in.exec(ctx, st, ac); err != nil {
			if _, is := err.(*StepError); is {
				// Don't re-wrap an error climbing out of
				// a nested body.
				return err
			}
			return &StepError{st, err}
		}
		if ac.Internal.Interrupt {
			return nil
		}
	}
	return nil
}

func (in *Interpreter) exec(ctx context.Context, st *Step, ac *ActionContext) error {
	switch st.Kind {

	case KindLog:
		log.Printf("action log: %s", stringify(st.Value))

	case KindLogValue:
		v, err := in.eval(ctx, ac, st.Value)
		if err != nil {
			return err
		}
		log.Printf("action log: %s", stringify(v))

	case KindSet:
		v, err := in.eval(ctx, ac, st.To)
		if err != nil {
			return err
		}
		return ac.SetPath(st.Path, v)

	case KindIf:
		v, err := in.eval(ctx, ac, st.Cond)
		if err != nil {
			return err
		}
		if truthy(v) {
			return in.runSteps(ctx, st.Then, ac)
		}
		return in.runSteps(ctx, st.Else, ac)

	case KindRun:
		h, have := in.Handlers[st.Handler]
		if !have {
			return &HandlerNotFound{st.Handler}
		}
		// Return value deliberately discarded.
		_, err := h(ctx, ac, nil)
		return err

	case KindRunSet:
		h, have := in.Handlers[st.Handler]
		if !have {
			return &HandlerNotFound{st.Handler}
		}
		args := make([]interface{}, 0, len(st.With))
		for _, x := range st.With {
			v, err := in.eval(ctx, ac, x)
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		v, err := h(ctx, ac, args)
		if err != nil {
			return err
		}
		return ac.SetPath(st.Path, v)

	case KindActionRun:
		if in.Actions == nil {
			return &UnknownAction{st.Action}
		}
		data, err := in.Actions.RunAction(ctx, st.Action, ac)
		if err != nil {
			return err
		}
		if ac.Data == nil {
			ac.Data = map[string]interface{}{}
		}
		for name, v := range data {
			ac.Data[name] = v
		}

	case KindTry:
		err := in.runSteps(ctx, st.Try, ac)
		if err == nil {
			return nil
		}
		ac.Scratch["error"] = map[string]interface{}{
			"message": rootCause(err).Error(),
			"stack":   err.Error(),
		}
		cerr := in.runSteps(ctx, st.Catch, ac)
		delete(ac.Scratch, "error")
		return cerr

	case KindBridge:
		args := make([]interface{}, 0, len(st.Args))
		for _, x := range st.Args {
			v, err := in.eval(ctx, ac, x)
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		call := BridgeCall{API: st.API, Args: args, SetPath: st.Path}

		// Only non-custom APIs can round-trip; "custom."
		// calls are handled client-side with no reply channel.
		if st.Await && !strings.HasPrefix(st.API, "custom.") {
			ac.Internal.AwaitingBridgeCall = &call
			ac.Internal.Interrupt = true
			return nil
		}
		ac.Internal.BridgeCalls = append(ac.Internal.BridgeCalls, call)

	case KindLogin:
		v, err := in.eval(ctx, ac, st.Value)
		if err != nil {
			return err
		}
		user, is := v.(map[string]interface{})
		if !is {
			return &BadStep{st.Raw, `"auth:login" must yield a user object`}
		}
		ac.Internal.LoginUser = user

	case KindLogout:
		ac.Internal.Logout = true

	case KindRedirect:
		target, err := in.redirectTarget(ctx, ac, st.Value)
		if err != nil {
			return err
		}
		ac.Internal.Redirect = target
		ac.Internal.Interrupt = true

	case KindUnknown:
		in.warnf("warning: unknown step %s", st.JSON())
	}

	return nil
}

// redirectTarget resolves a "client:redirect" payload.  Literal paths
// and absolute URLs pass through; anything else is treated as an
// expression.
func (in *Interpreter) redirectTarget(ctx context.Context, ac *ActionContext, x interface{}) (string, error) {
	s, is := x.(string)
	if !is {
		return stringify(x), nil
	}
	if strings.HasPrefix(s, "/") || strings.Contains(s, "://") {
		return s, nil
	}
	v, err := in.eval(ctx, ac, s)
	if err != nil {
		return "", err
	}
	if target, is := v.(string); is {
		return target, nil
	}
	return stringify(v), nil
}

// eval evaluates x when it's a string; anything else passes through
// unevaluated.  A string result that looks like a JSON object or
// array literal is opportunistically parsed back into a structured
// value.
func (in *Interpreter) eval(ctx context.Context, ac *ActionContext, x interface{}) (interface{}, error) {
	src, is := x.(string)
	if !is {
		return x, nil
	}
	if in.Evaluator == nil {
		return x, nil
	}

	v, err := in.Evaluator.Eval(ctx, src, ac.Env())
	if err != nil {
		return nil, &EvalError{src, err}
	}

	if s, is := v.(string); is {
		if y, ok := maybeJSON(s); ok {
			return y, nil
		}
	}

	return v, nil
}

func maybeJSON(s string) (interface{}, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{") && !strings.HasPrefix(t, "[") {
		return nil, false
	}
	var y interface{}
	if err := json.Unmarshal([]byte(t), &y); err != nil {
		return nil, false
	}
	return y, true
}

// truthy follows the expression language's notion of truth: nil,
// false, zero, and the empty string are false; everything else
// (including empty objects and arrays) is true.
func truthy(x interface{}) bool {
	switch v := x.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}

func stringify(x interface{}) string {
	if s, is := x.(string); is {
		return s
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return "?"
	}
	return string(js)
}

func rootCause(err error) error {
	for {
		type unwrapper interface{ Unwrap() error }
		u, is := err.(unwrapper)
		if !is {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
