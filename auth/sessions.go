// Package auth resolves caller identity from session cookies and
// manages the session records behind them.
//
// Tokens are high-entropy random identifiers (crypto/rand-backed
// UUIDs), never derived from user data.  Resolution failures are
// never errors: no cookie, no session, or no user all mean "no
// caller", which the dispatcher turns into a redirect.
package auth

import (
	"context"
	"encoding/json"

	"github.com/weftworks/weft/core"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// Session binds a token to a user.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
}

// Store persists sessions in bbolt.
type Store struct {
	db *bolt.DB
}

// NewStore makes a session store over the given open database,
// creating the bucket if needed.
func NewStore(db *bolt.DB) (*Store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Create issues a new session for the given user.
func (s *Store) Create(ctx context.Context, userID string) (*Session, error) {
	sess := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: core.Timestamp(),
	}
	js, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(sess.Token), js)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Get looks up a session by token.  A missing session is (nil, nil).
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	var sess *Session
	err := s.db.View(func(tx *bolt.Tx) error {
		bs := tx.Bucket(sessionsBucket).Get([]byte(token))
		if bs == nil {
			return nil
		}
		sess = &Session{}
		return json.Unmarshal(bs, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete revokes a session.  Deleting an absent token is a no-op.
func (s *Store) Delete(ctx context.Context, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(token))
	})
}
