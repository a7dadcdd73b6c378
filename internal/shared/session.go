package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "snies:session:"

// FlashMessage is a one-time notification carried by the session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager runs cookie sessions stored in Redis.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data. The bearer credential issued by
// the API lives here and never reaches the browser.
type Session struct {
	ID         string
	values     map[string]string
	credential string
	userName   string
	flashes    []FlashMessage
	previousID string
	isNew      bool
	dirty      bool
	destroyed  bool
}

type sessionPayload struct {
	Values     map[string]string `json:"values"`
	Credential string            `json:"credential,omitempty"`
	UserName   string            `json:"user_name,omitempty"`
	Flashes    []FlashMessage    `json:"flashes,omitempty"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		secret:     []byte(secret),
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the session for the request, or a fresh one.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return newSession(), nil
		}
		return nil, err
	}

	id, ok := sm.verify(cookie.Value)
	if !ok {
		return newSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Unknown or expired IDs are never adopted.
			return newSession(), nil
		}
		return nil, err
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	sess := &Session{
		ID:         id,
		values:     stored.Values,
		credential: stored.Credential,
		userName:   stored.UserName,
		flashes:    stored.Flashes,
	}
	if sess.values == nil {
		sess.values = make(map[string]string)
	}
	return sess, nil
}

// Commit persists the session and writes the cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}

	if sess.previousID != "" {
		if err := sm.client.Del(ctx, sm.redisKey(sess.previousID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sess.previousID = ""
	}

	if sess.dirty || sess.isNew {
		data, err := json.Marshal(sessionPayload{
			Values:     sess.values,
			Credential: sess.credential,
			UserName:   sess.userName,
			Flashes:    sess.flashes,
		})
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
	}

	http.SetCookie(w, sm.cookie(sm.sign(sess.ID), int(sm.ttl.Seconds())))
	return nil
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.secret)
	_, _ = mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (sm *SessionManager) verify(value string) (string, bool) {
	id, _, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sm.sign(id)), []byte(value)) {
		return "", false
	}
	return id, true
}

// Destroy marks the session for deletion on commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the session cookie name.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return sessionKeyPrefix + id
}

func newSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		values: make(map[string]string),
		isNew:  true,
		dirty:  true,
	}
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SignIn stores the API credential under a fresh session ID. Values kept
// for the previous user, such as guard decisions, are dropped; flashes stay.
func (s *Session) SignIn(credential, userName string) {
	s.Renew()
	s.values = make(map[string]string)
	s.credential = credential
	s.userName = userName
	s.dirty = true
}

// SignOut drops the credential but keeps the session alive.
func (s *Session) SignOut() {
	if s.credential == "" && s.userName == "" {
		return
	}
	s.credential = ""
	s.userName = ""
	s.dirty = true
}

// Renew moves the session to a new ID; the old record is removed on commit.
func (s *Session) Renew() {
	if !s.isNew && s.ID != "" {
		s.previousID = s.ID
	}
	s.ID = uuid.NewString()
	s.dirty = true
}

// Credential returns the API bearer credential, empty when signed out.
func (s *Session) Credential() string {
	return s.credential
}

// User returns the display name of the signed-in user.
func (s *Session) User() string {
	return s.userName
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

type sessionContextKey struct{}

// ContextWithSession attaches sess to ctx for the rest of the request.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the request's session, or nil outside the
// session middleware.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
