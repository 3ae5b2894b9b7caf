package dispatch

import (
	"fmt"

	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/manifest"
)

// Route is one compiled route definition.  Routes are immutable after
// manifest load and owned by the Dispatcher.
type Route struct {
	// Key is the manifest key: "METHOD /path", or a bare name for
	// internal routes.
	Key    string
	Method string
	Path   string

	// Type is "view" or "action".
	Type string

	Reads  []string
	Writes []string

	// View composition, opaque to the core; handed to the
	// Renderer.
	Layout string
	Inject map[string]interface{}

	// Update names the component re-rendered in the action
	// response.
	Update string

	Steps core.Program

	AuthRequired    bool
	FailureRedirect string

	// Internal routes are reachable only via "action:run".
	Internal bool
}

// CompileRoutes builds Routes from a validated manifest.
func CompileRoutes(m *manifest.Manifest) (map[string]*Route, error) {
	routes := make(map[string]*Route, len(m.Routes))
	for key, def := range m.Routes {
		rt := &Route{
			Key:      key,
			Type:     def.Type,
			Reads:    def.Reads,
			Writes:   def.Writes,
			Layout:   def.Layout,
			Inject:   def.Inject,
			Update:   def.Update,
			Internal: def.Internal,
		}
		if def.Auth != nil {
			rt.AuthRequired = def.Auth.Required
			rt.FailureRedirect = def.Auth.FailureRedirect
		}
		if method, path, isHTTP := manifest.ParseKey(key); isHTTP {
			rt.Method = method
			rt.Path = path
		}

		if def.Type == "action" {
			prog, err := core.ParseProgram(def.Steps)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", key, err)
			}
			rt.Steps = prog
		}

		routes[key] = rt
	}
	return routes, nil
}
