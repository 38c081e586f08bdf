// Package auth verifies the HS256 tokens issued by the storefront's login
// service.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("JWT secret is required")
	ErrTokenMissing  = errors.New("token is missing")
	ErrTokenExpired  = errors.New("token is expired")
	ErrTokenInvalid  = errors.New("token is invalid")
)

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Principal is the caller a verified token speaks for.
type Principal struct {
	MemberID int64
	Role     Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Claims is the token payload. The member id travels in "id"; older tokens
// only carry it as the subject.
type Claims struct {
	jwt.RegisteredClaims
	MemberID int64  `json:"id,omitempty"`
	Role     string `json:"role,omitempty"`
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	v := &Verifier{secret: []byte(secret), now: time.Now}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v, nil
}

// Verify checks the signature and expiry of raw and returns its principal.
func (v *Verifier) Verify(raw string) (Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}, ErrTokenMissing
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	memberID := claims.MemberID
	if memberID == 0 && claims.Subject != "" {
		memberID, err = strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: subject %q is not a member id", ErrTokenInvalid, claims.Subject)
		}
	}
	if memberID <= 0 {
		return Principal{}, fmt.Errorf("%w: no member id", ErrTokenInvalid)
	}

	role := RoleMember
	if strings.EqualFold(claims.Role, string(RoleAdmin)) {
		role = RoleAdmin
	}
	return Principal{MemberID: memberID, Role: role}, nil
}

// Issue signs a token for p that expires after ttl.
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.MemberID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		MemberID: p.MemberID,
		Role:     string(p.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
