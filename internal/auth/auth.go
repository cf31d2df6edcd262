// Package auth verifies the credentials presented to the delivery API.
// Sessions are issued elsewhere; this package only checks them.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// TokenCookie is the session cookie set by the portal login.
const TokenCookie = "token"

// ServiceKeyHeader carries a shared key for server-to-server callers.
const ServiceKeyHeader = "X-Service-Key"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleService  Role = "service"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Claims are the JWT claims issued by the portal.
type Claims struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Role    Role
}

// CanAccess reports whether p may read ownerID's files. Customers only see
// their own account.
func (p Principal) CanAccess(ownerID uuid.UUID) bool {
	switch p.Role {
	case RoleAdmin, RoleService:
		return true
	case RoleCustomer:
		return p.Subject == ownerID.String()
	}
	return false
}

// Verifier is the single place credentials are checked.
type Verifier struct {
	secret      []byte
	serviceKeys [][]byte // bcrypt hashes
}

func NewVerifier(secret string, serviceKeyHashes []string) *Verifier {
	v := &Verifier{secret: []byte(secret)}
	for _, h := range serviceKeyHashes {
		v.serviceKeys = append(v.serviceKeys, []byte(h))
	}
	return v
}

// Authenticate checks the service key header, then a bearer token, then
// the session cookie.
func (v *Verifier) Authenticate(r *http.Request) (Principal, error) {
	if key := r.Header.Get(ServiceKeyHeader); key != "" {
		return v.verifyServiceKey(key)
	}
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			return Principal{}, ErrInvalidCredentials
		}
		return v.VerifyToken(token)
	}
	c, err := r.Cookie(TokenCookie)
	if err != nil || c.Value == "" {
		return Principal{}, ErrMissingCredentials
	}
	return v.VerifyToken(c.Value)
}

func (v *Verifier) VerifyToken(raw string) (Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return Principal{}, ErrInvalidCredentials
	}
	role := claims.Role
	if role == "" {
		role = RoleCustomer
	}
	if role != RoleCustomer && role != RoleAdmin {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Subject: claims.UserID, Role: role}, nil
}

func (v *Verifier) verifyServiceKey(key string) (Principal, error) {
	for _, h := range v.serviceKeys {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return Principal{Subject: "service", Role: RoleService}, nil
		}
	}
	return Principal{}, ErrInvalidCredentials
}

// Issue signs a token for userID. The portal issues real sessions; this is
// used by tooling and tests.
func (v *Verifier) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// HashServiceKey returns the bcrypt hash to put in SERVICE_KEY_HASHES.
func HashServiceKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
