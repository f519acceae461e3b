package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenSID    = errors.New("session id mismatch")
	ErrNoSecret    = errors.New("client auth not configured")
)

// Issuer mints and checks the short-lived tokens a browser presents when it
// opens the meeting websocket.
//
// Token: base64url(session_id "." exp_unix "." hex(hmac_sha256(secret, session_id "." exp_unix)))
type Issuer struct {
	Secret string
	TTL    time.Duration
	// Skew is how long past exp a token is still accepted.
	Skew time.Duration
	Now  func() time.Time
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue returns a token for sessionID and its expiry.
func (i Issuer) Issue(sessionID string) (string, time.Time, error) {
	if i.Secret == "" {
		return "", time.Time{}, ErrNoSecret
	}
	exp := i.now().Add(i.TTL).Truncate(time.Second)
	return sign(i.Secret, sessionID, exp.Unix()), exp, nil
}

// Validate checks signature, expiry and, when expectSessionID is set, that
// the token belongs to that session. It returns the embedded session id.
func (i Issuer) Validate(token, expectSessionID string) (string, error) {
	if i.Secret == "" {
		return "", ErrNoSecret
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrTokenFormat
	}
	// The session id may itself contain dots; split from the right.
	raw := string(b)
	j := strings.LastIndexByte(raw, '.')
	if j < 0 {
		return "", ErrTokenFormat
	}
	msg, sigHex := raw[:j], raw[j+1:]
	k := strings.LastIndexByte(msg, '.')
	if k < 0 {
		return "", ErrTokenFormat
	}
	sid, expStr := msg[:k], msg[k+1:]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrTokenFormat
	}
	if !hmac.Equal(mac(i.Secret, msg), got) {
		return "", ErrTokenSig
	}
	if expectSessionID != "" && sid != expectSessionID {
		return "", ErrTokenSID
	}
	if i.now().Unix() > exp+int64(i.Skew/time.Second) {
		return "", ErrTokenExp
	}
	return sid, nil
}

func sign(secret, sessionID string, expUnix int64) string {
	msg := sessionID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + hex.EncodeToString(mac(secret, msg))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func mac(secret, msg string) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(msg))
	return m.Sum(nil)
}
