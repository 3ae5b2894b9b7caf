package connector

import (
	"context"
	"sync"

	"github.com/weftworks/weft/core"
)

// Mem is the volatile backend: Read returns the last written value or
// the declared initial state, and Write replaces it atomically.
// Nothing survives a restart.
type Mem struct {
	name string

	mu    sync.Mutex
	value map[string]interface{}
}

// NewMem makes a volatile connector seeded with the given initial
// state (which may be nil).
func NewMem(name string, initial map[string]interface{}) (*Mem, error) {
	v, err := copyValue(initial)
	if err != nil {
		return nil, err
	}
	return &Mem{name: name, value: v}, nil
}

func (c *Mem) Name() string {
	return c.name
}

func (c *Mem) Read(ctx context.Context) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyValue(c.value)
}

func (c *Mem) Write(ctx context.Context, value map[string]interface{}) error {
	v, err := copyValue(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return nil
}

// copyValue deep-copies so callers can't mutate the stored value (or
// each other's reads) behind the connector's back.
func copyValue(value map[string]interface{}) (map[string]interface{}, error) {
	if value == nil {
		return map[string]interface{}{}, nil
	}
	x, err := core.Canonicalize(value)
	if err != nil {
		return nil, err
	}
	return x.(map[string]interface{}), nil
}
