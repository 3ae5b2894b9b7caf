// Package expr evaluates action expressions with Goja, a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
//
// The runtime is deliberately restricted: an expression sees only the
// four context namespaces (data, user, body, context), a handful of
// helpers, and require(), which resolves modules solely through the
// evaluator's LibraryProvider.  The default provider is scoped to one
// directory and refuses to escape it, so expressions can load
// application-local modules but nothing engine-internal and nothing
// elsewhere on the filesystem.
package expr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weftworks/weft/core"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Eval if the evaluation is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

// Evaluator implements core.Evaluator using Goja.
type Evaluator struct {
	// Testing exposes some runtime capabilities (sleep) that
	// production evaluation should not have.
	Testing bool

	// LibraryProvider resolves require()d module names to
	// sources.  Nil disables require() entirely.
	LibraryProvider func(ctx context.Context, name string) (string, error)
}

// NewEvaluator makes an Evaluator with no library provider.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// MakeDirLibraryProvider scopes require() to the given directory.
// Absolute paths and any attempt to climb out are refused.
func MakeDirLibraryProvider(dir string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		if filepath.IsAbs(name) {
			return "", fmt.Errorf("bad library %q: absolute paths not allowed", name)
		}
		clean := filepath.Clean(name)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("bad library %q: outside the application directory", name)
		}
		if !strings.HasSuffix(clean, ".js") {
			clean += ".js"
		}
		bs, err := os.ReadFile(filepath.Join(dir, clean))
		if err != nil {
			return "", err
		}
		return string(bs), nil
	}
}

// MakeMapLibraryProvider serves libraries from the given map.  Handy
// for tests.
func MakeMapLibraryProvider(srcs map[string]string) func(context.Context, string) (string, error) {
	return func(ctx context.Context, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library %q", name)
		}
		return src, nil
	}
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

// Eval evaluates src against the given namespaces and returns a
// JSON-canonical value.
//
// src is compiled as a single expression first; if that fails (say
// for a multi-statement source), it's compiled as a program and the
// final statement's value is the result.
func (e *Evaluator) Eval(ctx context.Context, src string, env map[string]interface{}) (interface{}, error) {
	p, err := goja.Compile("", "("+src+"\n)", true)
	if err != nil {
		if p, err = goja.Compile("", src, true); err != nil {
			return nil, err
		}
	}

	o := goja.New()

	for name, v := range env {
		o.Set(name, v)
	}

	o.Set("gensym", func() interface{} {
		return core.Gensym(32)
	})

	o.Set("esc", func(x goja.Value) interface{} {
		s, is := x.Export().(string)
		if !is {
			protest(o, "esc: not a string")
		}
		return url.QueryEscape(s)
	})

	o.Set("cronNext", func(x goja.Value) interface{} {
		s, is := x.Export().(string)
		if !is {
			protest(o, "cronNext: not a string")
		}
		c, err := cronexpr.Parse(s)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	})

	o.Set("log", func(x goja.Value) interface{} {
		v := x.Export()
		js, err := json.Marshal(&v)
		if err != nil {
			log.Println("expr.log (can't marshal: " + err.Error() + ")")
		} else {
			log.Println(string(js))
		}
		return v
	})

	o.Set("require", func(x goja.Value) interface{} {
		name, is := x.Export().(string)
		if !is {
			protest(o, "require: not a string")
		}
		if e.LibraryProvider == nil {
			protest(o, "require: no library provider")
		}
		src, err := e.LibraryProvider(ctx, name)
		if err != nil {
			protest(o, err.Error())
		}
		v, err := runLibrary(o, name, src)
		if err != nil {
			protest(o, err.Error())
		}
		return v
	})

	if e.Testing {
		o.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	// Kill the evaluation if the context is canceled mid-run.  If
	// cancel() is called after RunProgram returns, we'll never
	// see the interrupt, which is the behavior we want.
	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			return nil, Interrupted
		}
		return nil, err
	}

	x := v.Export()
	if x == nil {
		return nil, nil
	}

	return core.Canonicalize(x)
}

// runLibrary executes a module source in CommonJS style and returns
// its exports.
func runLibrary(o *goja.Runtime, name, src string) (interface{}, error) {
	wrapped := "(function(module, exports) {\n" + src + "\n})"
	v, err := o.RunScript(name, wrapped)
	if err != nil {
		return nil, err
	}
	fn, is := goja.AssertFunction(v)
	if !is {
		return nil, fmt.Errorf("library %q didn't compile to a function", name)
	}
	module := o.NewObject()
	exports := o.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if _, err := fn(goja.Undefined(), module, exports); err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}
