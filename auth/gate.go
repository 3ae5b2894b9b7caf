package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/weftworks/weft/connector"
)

// DefaultCookieName is the session cookie's name.
const DefaultCookieName = "weft_session"

// SessionTTL is how long an issued cookie lives.
var SessionTTL = 7 * 24 * time.Hour

// Gate resolves a request's caller identity and issues/revokes
// session cookies.
type Gate struct {
	Sessions *Store

	// Users is the connector whose items are the user records.
	Users connector.Connector

	// CookieName defaults to DefaultCookieName.
	CookieName string
}

func (g *Gate) cookieName() string {
	if g.CookieName != "" {
		return g.CookieName
	}
	return DefaultCookieName
}

// ResolveUser finds the caller for a request.  Absence of a cookie,
// session, or user record yields (nil, nil) -- no caller, not an
// error.
func (g *Gate) ResolveUser(ctx context.Context, r *http.Request) (map[string]interface{}, error) {
	cookie, err := r.Cookie(g.cookieName())
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	sess, err := g.Sessions.Get(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	return g.findUser(ctx, sess.UserID)
}

func (g *Gate) findUser(ctx context.Context, userID string) (map[string]interface{}, error) {
	if g.Users == nil {
		return nil, nil
	}
	value, err := g.Users.Read(ctx)
	if err != nil {
		return nil, err
	}
	items, _ := value["items"].([]interface{})
	for _, x := range items {
		item, is := x.(map[string]interface{})
		if !is {
			continue
		}
		if Identity(item) == userID {
			return item, nil
		}
	}
	return nil, nil
}

// Issue creates a session for the user and sets the cookie (httpOnly,
// 7-day expiry).
func (g *Gate) Issue(ctx context.Context, w http.ResponseWriter, user map[string]interface{}) (*Session, error) {
	sess, err := g.Sessions.Create(ctx, Identity(user))
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName(),
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().Add(SessionTTL),
	})
	return sess, nil
}

// Revoke deletes the request's session (if any) and expires the
// cookie immediately.
func (g *Gate) Revoke(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(g.cookieName()); err == nil && cookie.Value != "" {
		if err := g.Sessions.Delete(ctx, cookie.Value); err != nil {
			return err
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	return nil
}

// Identity renders a record's "id" field as a string.  Manifest data
// is untyped JSON, so ids show up as strings or numbers.
func Identity(record map[string]interface{}) string {
	switch id := record["id"].(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return fmt.Sprintf("%d", int64(id))
		}
		return fmt.Sprintf("%v", id)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}
