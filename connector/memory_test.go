package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemInitialState(t *testing.T) {
	c, err := NewMem("counter", map[string]interface{}{"value": 10.0})
	require.NoError(t, err)

	v, err := c.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"value": 10.0}, v)
}

func TestMemWriteReplaces(t *testing.T) {
	c, err := NewMem("counter", map[string]interface{}{"value": 10.0, "label": "x"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Write(ctx, map[string]interface{}{"value": 11.0}))

	v, err := c.Read(ctx)
	require.NoError(t, err)

	// Replacement, not merge: "label" is gone.
	require.Equal(t, map[string]interface{}{"value": 11.0}, v)
}

func TestMemReadsAreIsolated(t *testing.T) {
	c, err := NewMem("c", map[string]interface{}{"nested": map[string]interface{}{"n": 1.0}})
	require.NoError(t, err)

	ctx := context.Background()
	v1, err := c.Read(ctx)
	require.NoError(t, err)
	v1["nested"].(map[string]interface{})["n"] = 99.0

	v2, err := c.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, v2["nested"].(map[string]interface{})["n"])
}

func TestMemNilInitial(t *testing.T) {
	c, err := NewMem("c", nil)
	require.NoError(t, err)

	v, err := c.Read(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{}, v)
}
