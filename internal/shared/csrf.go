package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// CSRFSessionKey holds the session's current token.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the form field carrying the token. The X-CSRF-Token
	// header is accepted as well.
	CSRFFormField = "csrf_token"
	// CSRFHeader is the header alternative to CSRFFormField.
	CSRFHeader = "X-CSRF-Token"
)

var (
	// ErrCSRFTokenMissing is returned when either side of the comparison is empty.
	ErrCSRFTokenMissing = errors.New("csrf: token missing")
	// ErrCSRFTokenMismatch is returned when the submitted token is not the
	// session's token or was minted for another session ID.
	ErrCSRFTokenMismatch = errors.New("csrf: token mismatch")
)

// CSRFManager mints tokens of the form nonce.mac where mac signs the session
// ID and the nonce.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using secret.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, minting one when absent.
func (m *CSRFManager) EnsureToken(ctx context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("csrf: session missing")
	}
	if token := sess.Get(CSRFSessionKey); token != "" && m.bound(sess.ID, token) {
		return token, nil
	}
	return m.Rotate(sess)
}

// Rotate replaces the session's token. Call it whenever the session ID changes.
func (m *CSRFManager) Rotate(sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("csrf: session missing")
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(nonce)
	token := encoded + "." + m.sign(sess.ID, encoded)
	sess.Set(CSRFSessionKey, token)
	return token, nil
}

// VerifyToken checks token against the session.
func (m *CSRFManager) VerifyToken(ctx context.Context, sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	expected := sess.Get(CSRFSessionKey)
	if expected == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(expected), []byte(token)) || !m.bound(sess.ID, token) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) bound(sessionID, token string) bool {
	nonce, mac, ok := strings.Cut(token, ".")
	if !ok || nonce == "" {
		return false
	}
	return hmac.Equal([]byte(mac), []byte(m.sign(sessionID, nonce)))
}

func (m *CSRFManager) sign(sessionID, nonce string) string {
	h := hmac.New(sha256.New, m.secret)
	_, _ = h.Write([]byte(sessionID))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
