package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in bearer tokens.
const (
	// RoleDevice is a scan kiosk posting live or offline scans.
	RoleDevice = "device"
	// RoleNode is a peer node pushing sync batches or triggering reconciliation.
	RoleNode = "node"
)

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for subject with the given role.
func Issue(subject, role, issuer, key string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}

// ServiceTokens mints node tokens for outbound sync calls and reuses one until it is
// close to expiry.
type ServiceTokens struct {
	subject string
	issuer  string
	key     string
	ttl     time.Duration

	mu    sync.Mutex
	token string
	exp   time.Time
}

func NewServiceTokens(subject, issuer, key string, ttl time.Duration) *ServiceTokens {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ServiceTokens{subject: subject, issuer: issuer, key: key, ttl: ttl}
}

// Token returns a valid node token.
func (s *ServiceTokens) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Until(s.exp) > s.ttl/4 {
		return s.token, nil
	}
	token, exp, err := Issue(s.subject, RoleNode, s.issuer, s.key, s.ttl)
	if err != nil {
		return "", err
	}
	s.token, s.exp = token, exp
	return token, nil
}
