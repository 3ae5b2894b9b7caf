package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bolt is the persistent backend: one bbolt bucket per collection,
// holding a distinguished metadata record plus the item list.  The
// connector's logical value is {...initialState, ...metadata, items}.
//
// Writes are transactional: the bucket is cleared, the items are bulk
// inserted, and the metadata record is inserted, all inside a single
// db.Update.  Any failure rolls the whole write back, so the
// collection is never left half-cleared.
type Bolt struct {
	name       string
	db         *bolt.DB
	collection string
	initial    map[string]interface{}
	migrations []Migration

	// failAfterClear is a test hook that runs inside the write
	// transaction right after the collection has been cleared.
	failAfterClear func() error
}

// metaKey holds the metadata record.  Item keys are "i:"-prefixed so
// the two can't collide.
var metaKey = []byte("m")

func itemKey(i int) []byte {
	return []byte(fmt.Sprintf("i:%012d", i))
}

// NewBolt makes a persistent connector over the given open database.
func NewBolt(db *bolt.DB, name, collection string, initial map[string]interface{}, migrations []Migration) (*Bolt, error) {
	if collection == "" {
		collection = name
	}
	v, err := copyValue(initial)
	if err != nil {
		return nil, err
	}
	return &Bolt{
		name:       name,
		db:         db,
		collection: collection,
		initial:    v,
		migrations: migrations,
	}, nil
}

// Open opens a bbolt database file for connectors and the session
// store to share.
func Open(filename string) (*bolt.DB, error) {
	opts := &bolt.Options{
		Timeout: time.Second,
	}
	return bolt.Open(filename, 0644, opts)
}

func (c *Bolt) Name() string {
	return c.name
}

// Read loads all records, splits out the metadata record, assembles
// the logical value, and runs the migrations.  If migration changed
// anything, the new value is persisted before being returned.
func (c *Bolt) Read(ctx context.Context) (map[string]interface{}, error) {
	value, err := copyValue(c.initial)
	if err != nil {
		return nil, err
	}

	items := []interface{}{}
	found := false

	err = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(c.collection))
		if b == nil {
			return nil
		}
		found = true
		cur := b.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var x interface{}
			if err := json.Unmarshal(v, &x); err != nil {
				return err
			}
			if string(k) == string(metaKey) {
				meta, is := x.(map[string]interface{})
				if !is {
					return fmt.Errorf("collection %q has a malformed metadata record", c.collection)
				}
				for p, mv := range meta {
					value[p] = mv
				}
				continue
			}
			items = append(items, x)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !found {
		if _, have := value["items"]; !have {
			value["items"] = items
		}
		return value, nil
	}

	value["items"] = items

	if ApplyMigrations(c.migrations, items) {
		if err := c.Write(ctx, value); err != nil {
			return nil, err
		}
	}

	return value, nil
}

// Write destructures {items, ...metadata} and replaces the collection
// inside one transaction.
func (c *Bolt) Write(ctx context.Context, value map[string]interface{}) error {
	items, _ := value["items"].([]interface{})

	meta := make(map[string]interface{}, len(value))
	for p, v := range value {
		if p == "items" {
			continue
		}
		meta[p] = v
	}
	// The metadata record's own identity is an artifact of
	// storage, not data.
	delete(meta, "_id")

	metaJS, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	itemJSs := make([][]byte, len(items))
	for i, item := range items {
		if itemJSs[i], err = json.Marshal(&item); err != nil {
			return err
		}
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(c.collection)) != nil {
			if err := tx.DeleteBucket([]byte(c.collection)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(c.collection))
		if err != nil {
			return err
		}

		if c.failAfterClear != nil {
			if err := c.failAfterClear(); err != nil {
				return err
			}
		}

		for i, js := range itemJSs {
			if err := b.Put(itemKey(i), js); err != nil {
				return err
			}
		}

		return b.Put(metaKey, metaJS)
	})
}
