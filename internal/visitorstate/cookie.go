package visitorstate

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CookieBackend stores each key in its own cookie, so every field expires
// independently. Values are unpadded base64url of the JSON value; any other
// writer of these cookies must use the same encoding. Writes are visible to
// later reads within the same request.
type CookieBackend struct {
	mu      sync.Mutex
	r       *http.Request
	w       http.ResponseWriter
	pending map[string][]byte
	secure  bool
}

func NewCookieBackend(w http.ResponseWriter, r *http.Request) *CookieBackend {
	return &CookieBackend{r: r, w: w, pending: map[string][]byte{}, secure: r.TLS != nil}
}

func (c *CookieBackend) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.pending[key]; ok {
		return append([]byte(nil), v...), nil
	}
	ck, err := c.r.Cookie(key)
	if err != nil {
		return nil, ErrNotFound
	}
	raw, err := base64.RawURLEncoding.DecodeString(ck.Value)
	if err != nil {
		// undecodable cookies read as malformed JSON, i.e. the default
		return []byte(ck.Value), nil
	}
	return raw, nil
}

func (c *CookieBackend) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = append([]byte(nil), val...)
	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    base64.RawURLEncoding.EncodeToString(val),
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
	return nil
}

// VisitorID returns the visitor id cookie, issuing a new one when absent.
func VisitorID(w http.ResponseWriter, r *http.Request, name string, ttl time.Duration) string {
	if ck, err := r.Cookie(name); err == nil {
		if _, err := uuid.Parse(ck.Value); err == nil {
			return ck.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	return id
}
