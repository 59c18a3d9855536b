package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

const HeaderUserID = "X-User-ID"

// Resolver extracts a verified user id from an incoming request.
type Resolver interface {
	UserID(r *http.Request) (int64, error)
}

// JWTResolver verifies HMAC-signed tokens and reads the user id from the sub claim.
type JWTResolver struct {
	secret []byte
	issuer string
}

func NewJWTResolver(secret, issuer string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), issuer: issuer}
}

func (r *JWTResolver) UserID(req *http.Request) (int64, error) {
	raw := bearerToken(req)
	if raw == "" {
		return 0, ErrUnauthenticated
	}
	return r.Parse(raw)
}

// Parse validates a raw token.
func (r *JWTResolver) Parse(raw string) (int64, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return 0, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return parseUserID(claims.Subject)
}

// Sign issues a token for userID. Used by tools and tests.
func (r *JWTResolver) Sign(userID int64, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatInt(userID, 10)
	if claims.Issuer == "" {
		claims.Issuer = r.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// HeaderResolver trusts the X-User-ID header set by an upstream gateway.
type HeaderResolver struct{}

func (HeaderResolver) UserID(req *http.Request) (int64, error) {
	return parseUserID(req.Header.Get(HeaderUserID))
}

func bearerToken(req *http.Request) string {
	if header := req.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUnauthenticated
	}
	return id, nil
}
