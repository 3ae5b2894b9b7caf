package core

// These errors are user errors (bad manifests, bad programs), not
// internal errors.

import (
	"encoding/json"
	"fmt"
)

// BadStep occurs when a manifest step object can't be compiled.
type BadStep struct {
	Raw    map[string]interface{}
	Reason string
}

func (e *BadStep) Error() string {
	js, err := json.Marshal(e.Raw)
	if err != nil {
		return "bad step: " + e.Reason
	}
	return "bad step " + string(js) + ": " + e.Reason
}

// StepError wraps anything thrown during a step's execution, naming
// the offending step for diagnosability.
type StepError struct {
	Step *Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %s", e.Step.JSON(), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// HandlerNotFound occurs when "run" or "run:set" references an
// unregistered handler name.
type HandlerNotFound struct {
	Name string
}

func (e *HandlerNotFound) Error() string {
	return `handler "` + e.Name + `" not registered`
}

// UnknownAction occurs when "action:run" targets a route the
// dispatcher doesn't know (or one that isn't internal-callable).
type UnknownAction struct {
	Name string
}

func (e *UnknownAction) Error() string {
	return `action "` + e.Name + `" not found`
}

// BadPath occurs when a "set" path can't be applied to the context.
type BadPath struct {
	Path   string
	Reason string
}

func (e *BadPath) Error() string {
	return `bad path "` + e.Path + `": ` + e.Reason
}

// EvalError wraps an expression evaluation failure together with its
// source.
type EvalError struct {
	Src string
	Err error
}

func (e *EvalError) Error() string {
	return `eval of "` + e.Src + `" failed: ` + e.Err.Error()
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
