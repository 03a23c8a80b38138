// Package rtctoken issues signed, time-bounded channel credentials for joining
// real-time audio channels. A credential binds one numeric identity (uid) to one
// channel and is opaque to callers; the remote provider and media clients verify
// it against the shared app secret.
package rtctoken

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Credential is a signed authorization artifact scoped to one channel and one uid.
// Immutable once issued; replace rather than mutate.
type Credential struct {
	Token     string    `json:"token"`
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer signs channel credentials with the application secret.
type Issuer struct {
	AppID     string
	AppSecret string
	TTL       time.Duration
}

// NewIssuer creates an Issuer. TTL <= 0 falls back to 24h.
func NewIssuer(appID, appSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{AppID: appID, AppSecret: appSecret, TTL: ttl}
}

// Issue produces a credential for the given channel and uid. A zero uid is
// replaced with a random non-zero 31-bit identity.
func (i *Issuer) Issue(channel string, uid uint32) (Credential, error) {
	if channel == "" {
		return Credential{}, errors.New("channel must not be empty")
	}
	if i.AppID == "" || i.AppSecret == "" {
		return Credential{}, errors.New("issuer not configured: missing app id/secret")
	}
	if uid == 0 {
		uid = randomUID()
	}

	now := NowTimeFunc()
	expires := now.Add(i.TTL)
	claims := jwtlib.MapClaims{
		"app":     i.AppID,
		"channel": channel,
		"uid":     int64(uid),
		"iat":     now.Unix(),
		"exp":     expires.Unix(),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(i.AppSecret))
	if err != nil {
		return Credential{}, fmt.Errorf("sign channel credential: %w", err)
	}

	return Credential{
		Token:     signed,
		Channel:   channel,
		UID:       uid,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// Verify parses a signed credential token and returns its channel and uid.
// Used for diagnostics; the provider performs its own verification.
func (i *Issuer) Verify(token string) (channel string, uid uint32, err error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(i.AppSecret), nil
	}, jwtlib.WithTimeFunc(NowTimeFunc))
	if err != nil {
		return "", 0, fmt.Errorf("parse channel credential: %w", err)
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", 0, errors.New("unexpected claims type")
	}
	channel, _ = claims["channel"].(string)
	if f, ok := claims["uid"].(float64); ok {
		uid = uint32(f)
	}
	return channel, uid, nil
}

// randomUID returns a non-zero identity in the signed 31-bit range accepted by
// media clients.
func randomUID() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			// crypto/rand read failure is not recoverable at this layer
			panic(fmt.Sprintf("rtctoken: read random: %v", err))
		}
		uid := binary.BigEndian.Uint32(b[:]) & 0x7fffffff
		if uid != 0 {
			return uid
		}
	}
}
