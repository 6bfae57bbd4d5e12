// Package auth provides authentication for the transport layer.
//
// Supported strategies:
//   - none: development/testing mode (default), every credential passes
//   - apikey: static API keys mapped to agent identities and permissions
//   - token: self-contained signed tokens (HMAC-SHA256) with expiration
//
// The coordination core performs no authorization of its own; the transport
// authenticates connections with this package and enforces the resulting
// permissions at its boundary.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Strategy selects how credentials are validated.
type Strategy string

const (
	// StrategyNone accepts every credential. Development only.
	StrategyNone Strategy = "none"
	// StrategyAPIKey validates static API keys.
	StrategyAPIKey Strategy = "apikey"
	// StrategyToken validates signed expiring tokens.
	StrategyToken Strategy = "token"
)

// Permissions describes what an authenticated principal may do.
type Permissions struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Admin bool `json:"admin"`
}

// Context is the result of a successful authentication.
type Context struct {
	AgentID         string      `json:"agent_id"`
	Permissions     Permissions `json:"permissions"`
	AuthenticatedAt time.Time   `json:"authenticated_at"`
}

// Error is an authentication failure with a machine-readable code.
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func authErr(code, message string) *Error { return &Error{Code: code, Message: message} }

// KeyEntry binds one API key to a principal.
type KeyEntry struct {
	AgentID     string
	Permissions Permissions
}

// Config configures an Authenticator.
type Config struct {
	Strategy Strategy

	// APIKeys maps raw key material to principals (apikey strategy). Keys
	// are hashed on construction; raw keys are not retained.
	APIKeys map[string]KeyEntry

	// Secret signs and verifies tokens (token strategy).
	Secret string

	// TokenTTL bounds token lifetime; defaults to one hour.
	TokenTTL time.Duration
}

// Authenticator validates credentials according to the configured strategy.
type Authenticator struct {
	strategy Strategy
	keys     map[string]KeyEntry // SHA-256 hex digest -> entry
	secret   []byte
	tokenTTL time.Duration
}

// New constructs an authenticator. A zero config means the none strategy.
func New(cfg Config) *Authenticator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyNone
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	a := &Authenticator{
		strategy: cfg.Strategy,
		keys:     make(map[string]KeyEntry, len(cfg.APIKeys)),
		secret:   []byte(cfg.Secret),
		tokenTTL: cfg.TokenTTL,
	}
	for raw, entry := range cfg.APIKeys {
		a.keys[hashKey(raw)] = entry
	}
	return a
}

// Strategy returns the configured strategy.
func (a *Authenticator) Strategy() Strategy { return a.strategy }

// Authenticate validates the credential and returns the authenticated
// principal. Under the none strategy every credential (including an empty
// one) passes with full permissions.
func (a *Authenticator) Authenticate(credential string) (*Context, error) {
	switch a.strategy {
	case StrategyNone:
		return &Context{
			AgentID:         "anonymous",
			Permissions:     Permissions{Read: true, Write: true, Admin: true},
			AuthenticatedAt: time.Now().UTC(),
		}, nil
	case StrategyAPIKey:
		return a.authenticateKey(credential)
	case StrategyToken:
		return a.verifyToken(credential)
	default:
		return nil, authErr("UNSUPPORTED_STRATEGY", string(a.strategy))
	}
}

func (a *Authenticator) authenticateKey(key string) (*Context, error) {
	if key == "" {
		return nil, authErr("MISSING_CREDENTIAL", "api key required")
	}
	digest := hashKey(key)
	for stored, entry := range a.keys {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(digest)) == 1 {
			return &Context{
				AgentID:         entry.AgentID,
				Permissions:     entry.Permissions,
				AuthenticatedAt: time.Now().UTC(),
			}, nil
		}
	}
	return nil, authErr("INVALID_KEY", "unknown api key")
}

type tokenClaims struct {
	AgentID     string      `json:"agent_id"`
	Permissions Permissions `json:"permissions"`
	IssuedAt    int64       `json:"iat"`
	ExpiresAt   int64       `json:"exp"`
}

// IssueToken signs a token for the given principal (token strategy only).
func (a *Authenticator) IssueToken(agentID string, perms Permissions) (string, error) {
	if a.strategy != StrategyToken {
		return "", authErr("UNSUPPORTED_STRATEGY", "token issuance requires the token strategy")
	}
	if len(a.secret) == 0 {
		return "", authErr("MISSING_SECRET", "no signing secret configured")
	}
	now := time.Now().UTC()
	claims := tokenClaims{
		AgentID:     agentID,
		Permissions: perms,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(a.tokenTTL).Unix(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + "." + a.sign(encoded), nil
}

func (a *Authenticator) verifyToken(token string) (*Context, error) {
	if token == "" {
		return nil, authErr("MISSING_CREDENTIAL", "token required")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return nil, authErr("INVALID_TOKEN", "malformed token")
	}
	encoded, signature := parts[0], parts[1]
	expected := a.sign(encoded)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return nil, authErr("INVALID_SIGNATURE", "signature mismatch")
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, authErr("INVALID_TOKEN", "undecodable claims")
	}
	var claims tokenClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, authErr("INVALID_TOKEN", "unparsable claims")
	}
	if time.Now().Unix() >= claims.ExpiresAt {
		return nil, authErr("TOKEN_EXPIRED", "token expired")
	}
	return &Context{
		AgentID:         claims.AgentID,
		Permissions:     claims.Permissions,
		AuthenticatedAt: time.Now().UTC(),
	}, nil
}

func (a *Authenticator) sign(data string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
