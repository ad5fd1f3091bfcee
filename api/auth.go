package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	// clockSkew is tolerated on exp, nbf and iat.
	clockSkew = time.Minute
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errNoJWKS               = errors.New("jwks not configured")
	errClaims               = errors.New("invalid claims")
	errMissingSubject       = errors.New("missing sub")
)

// Auth turns a bearer token into the owner id carried in its sub claim.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser *jwt.Parser
	keys   *kidCache
}

// NewAuth validates RS256 tokens against the JWKS.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		JWKS:     jwks,
		Audience: audience,
		Issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keys:     &kidCache{ttl: defaultJWKSCacheTTL},
	}
}

// NewTestAuth validates HS256 tokens signed with secret. Used for local runs
// and end to end tests.
func NewTestAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader extracts the owner id from an Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a compact token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.key)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errClaims
	}
	return a.subject(claims, time.Now())
}

func (a *Auth) key(t *jwt.Token) (any, error) {
	if a.TestMode {
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errNoJWKS
	}
	kid, _ := t.Header["kid"].(string)
	if key, ok := a.keys.get(kid); ok {
		return key, nil
	}
	key, err := a.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	a.keys.put(kid, key)
	return key, nil
}

// subject checks the registered claims the parser leaves optional and returns
// sub. exp is required.
func (a *Auth) subject(claims jwt.MapClaims, now time.Time) (string, error) {
	skewed := now.Add(clockSkew).Unix()
	switch {
	case !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true):
		return "", errors.New("token expired")
	case !claims.VerifyNotBefore(skewed, false):
		return "", errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(skewed, false):
		return "", errors.New("token used before issued")
	case a.Audience != "" && !claims.VerifyAudience(a.Audience, true):
		return "", errors.New("invalid audience")
	case a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true):
		return "", errors.New("invalid issuer")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errMissingSubject
	}
	return sub, nil
}

// kidCache keeps resolved verification keys by kid for ttl.
type kidCache struct {
	ttl     time.Duration
	entries sync.Map
}

type kidEntry struct {
	key       any
	expiresAt time.Time
}

func (c *kidCache) get(kid string) (any, bool) {
	if c == nil || kid == "" {
		return nil, false
	}
	v, ok := c.entries.Load(kid)
	if !ok {
		return nil, false
	}
	e := v.(kidEntry)
	if time.Now().After(e.expiresAt) {
		c.entries.Delete(kid)
		return nil, false
	}
	return e.key, true
}

func (c *kidCache) put(kid string, key any) {
	if c == nil || kid == "" || c.ttl <= 0 {
		return
	}
	c.entries.Store(kid, kidEntry{key: key, expiresAt: time.Now().Add(c.ttl)})
}

// bearerToken returns the compact JWT from "Bearer <token>".
func bearerToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
