// Package connector provides whole-value read/write access to named
// data collections.
//
// A connector's logical value is one JSON object in which the "items"
// key is reserved for a list of records.  Two backends exist: a
// volatile in-memory one and a transactional bbolt-backed one that
// applies declarative migrations on read.
package connector

import (
	"context"
)

// Connector is the uniform contract over one named data collection.
//
// Instances are long-lived singletons shared across all requests
// referencing them.  Read and Write are each internally synchronized,
// but reads and writes are deliberately not serialized against each
// other across in-flight requests: two actions reading-then-writing
// the same connector concurrently race, and the last write wins.
type Connector interface {
	Name() string

	// Read returns the connector's current logical value.
	Read(ctx context.Context) (map[string]interface{}, error)

	// Write replaces the connector's logical value.
	Write(ctx context.Context, value map[string]interface{}) error
}
