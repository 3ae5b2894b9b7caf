// Package manifest defines the static declarative configuration that
// the engine serves: connectors, channels, routes, and the bridge
// whitelist.
//
// Parsing uses the jsccast fork of go-yaml so that untyped values
// (initial state, step lists) come out as map[string]interface{}
// rather than map[interface{}]interface{}.
package manifest

import (
	"fmt"
	"os"
	"strings"

	jyaml "github.com/jsccast/yaml"
	yaml "gopkg.in/yaml.v2"
)

// Manifest is the full declarative configuration.
type Manifest struct {
	Name    string                 `yaml:"name,omitempty"`
	Globals map[string]interface{} `yaml:"globals,omitempty"`

	Connectors map[string]*ConnectorDef `yaml:"connectors,omitempty"`
	Channels   map[string]*ChannelDef   `yaml:"channels,omitempty"`
	Bridge     BridgeDef                `yaml:"bridge,omitempty"`
	Routes     map[string]*RouteDef     `yaml:"routes,omitempty"`
}

// ConnectorDef declares one data connector.
type ConnectorDef struct {
	// Type is "in-memory" or "bolt".
	Type         string                 `yaml:"type"`
	InitialState map[string]interface{} `yaml:"initialState,omitempty"`
	Collection   string                 `yaml:"collection,omitempty"`
	Migrations   []MigrationDef         `yaml:"migrations,omitempty"`
}

// MigrationDef declares one on-read migration rule.
type MigrationDef struct {
	IfNotExists string                 `yaml:"if_not_exists"`
	Set         map[string]interface{} `yaml:"set"`
}

// ChannelDef binds a broadcast channel to a watched connector.
type ChannelDef struct {
	Connector string `yaml:"connector"`
	Event     string `yaml:"event"`
}

// BridgeDef whitelists bridge APIs: group name to method names, with
// "*" permitting a whole group.
type BridgeDef struct {
	Allow map[string][]string `yaml:"allow,omitempty"`
}

// RouteDef declares one route.  The map key is "METHOD /path" for
// HTTP-reachable routes or a bare name for internal actions.
type RouteDef struct {
	// Type is "view" or "action".
	Type   string   `yaml:"type"`
	Reads  []string `yaml:"reads,omitempty"`
	Writes []string `yaml:"writes,omitempty"`

	// View composition.  Opaque to the engine core; handed to the
	// renderer.
	Layout string                 `yaml:"layout,omitempty"`
	Inject map[string]interface{} `yaml:"inject,omitempty"`

	// Update names the component to re-render when the action
	// completes.
	Update string `yaml:"update,omitempty"`

	Steps []interface{} `yaml:"steps,omitempty"`

	Auth *AuthDef `yaml:"auth,omitempty"`

	// Internal routes are callable only via "action:run".
	Internal bool `yaml:"internal,omitempty"`
}

// AuthDef gates a route behind a resolved caller.
type AuthDef struct {
	Required        bool   `yaml:"required"`
	FailureRedirect string `yaml:"failureRedirect,omitempty"`
}

// Load reads and validates a manifest file.
func Load(filename string) (*Manifest, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(bs)
}

// Parse parses and validates manifest YAML.
func Parse(bs []byte) (*Manifest, error) {
	var m Manifest
	if err := jyaml.Unmarshal(bs, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Dump renders the manifest back to YAML (for -check style tooling).
func Dump(m *Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}

// Validate checks cross-references and route keys.
func (m *Manifest) Validate() error {
	for name, c := range m.Connectors {
		switch c.Type {
		case "in-memory", "bolt":
		case "":
			return fmt.Errorf("connector %q has no type", name)
		default:
			return fmt.Errorf("connector %q has unknown type %q", name, c.Type)
		}
	}

	for name, ch := range m.Channels {
		if _, have := m.Connectors[ch.Connector]; !have {
			return fmt.Errorf("channel %q watches unknown connector %q", name, ch.Connector)
		}
		if ch.Event == "" {
			return fmt.Errorf("channel %q has no event", name)
		}
	}

	for key, r := range m.Routes {
		switch r.Type {
		case "view", "action":
		default:
			return fmt.Errorf("route %q has unknown type %q", key, r.Type)
		}

		method, _, isHTTP := ParseKey(key)
		if r.Internal {
			if isHTTP {
				return fmt.Errorf("internal route %q must not have a METHOD PATH key", key)
			}
			if r.Update != "" {
				return fmt.Errorf("internal route %q must not have an update target", key)
			}
		} else if !isHTTP {
			return fmt.Errorf("route %q needs a \"METHOD /path\" key (or internal: true)", key)
		} else if method != "GET" && r.Type == "view" {
			return fmt.Errorf("view route %q must be a GET", key)
		}

		for _, name := range append(append([]string{}, r.Reads...), r.Writes...) {
			if _, have := m.Connectors[name]; !have {
				return fmt.Errorf("route %q references unknown connector %q", key, name)
			}
		}
	}

	return nil
}

// ParseKey splits a route key into method and path.  A key without a
// space is an internal route name, reported by isHTTP == false.
func ParseKey(key string) (method, path string, isHTTP bool) {
	method, path, found := strings.Cut(key, " ")
	if !found || !strings.HasPrefix(path, "/") {
		return "", "", false
	}
	return strings.ToUpper(method), path, true
}
