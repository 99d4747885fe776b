// Package authproc is a broker.ConnectionProcessor that gates Connect
// calls on a bearer JWT, grounded on go-server/internal/auth/jwt.go: the
// same golang-jwt/jwt/v5 HS256 claims/verify flow, adapted from an HTTP
// header check into a check against the "token" connect parameter a
// transport places in inParams.
package authproc

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scbroker/broker/internal/broker"
)

// Claims mirrors the session identity carried in the token.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies broker session tokens.
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewManager builds a Manager signing/verifying with HMAC-SHA256.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	return &Manager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Generate issues a signed token for the given identity.
func (m *Manager) Generate(userID, username, role string) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "scbroker",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates a token and returns its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authproc: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("authproc: invalid token claims")
	}
	return claims, nil
}

// Processor is the broker.ConnectionProcessor gating connects on a bearer
// token. When Required is false, a missing token is allowed through
// (useful for internal/trusted transports like the NATS bridge) but a
// present, invalid token is still rejected.
type Processor struct {
	manager  *Manager
	Required bool
}

// NewProcessor builds an authproc.Processor around an existing Manager.
func NewProcessor(manager *Manager, required bool) *Processor {
	return &Processor{manager: manager, Required: required}
}

func (p *Processor) Capabilities() broker.Capability { return broker.CapConnection }

func (p *Processor) Close() {}

// AcceptConnection verifies inParams["token"] and, on success, copies the
// resolved username/role into outParams for the transport to surface.
func (p *Processor) AcceptConnection(_ broker.Client, inParams, outParams map[string]string) bool {
	token := inParams["token"]
	if token == "" {
		return !p.Required
	}
	claims, err := p.manager.Verify(token)
	if err != nil {
		return false
	}
	if outParams != nil {
		outParams["username"] = claims.Username
		outParams["role"] = claims.Role
	}
	return true
}

func (p *Processor) DropConnection(_ broker.Client) {}
