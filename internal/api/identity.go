package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Roles a member of an organization can hold.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Identity is the verified caller of an API request.
type Identity struct {
	UserID string
	OrgID  string
	Role   string
}

// Claims are the JWT claims the API accepts. The subject is the user id.
type Claims struct {
	OrgID string `json:"org_id,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for a user. Used by operators and tests.
func IssueToken(secret, userID, orgID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OrgID: orgID,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", eris.Wrap(err, "api: sign token")
	}
	return signed, nil
}

type identityKey struct{}

// IdentityFrom returns the identity attached by RequireIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// RequireIdentity verifies the bearer token. Requests without a valid token
// get 401; a valid token without an organization gets 403.
func RequireIdentity(secret string) func(http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(raw, claims, keyFunc)
			if err != nil || !token.Valid || claims.Subject == "" {
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			if claims.OrgID == "" {
				writeError(w, http.StatusForbidden, "no organization")
				return
			}

			role := claims.Role
			if role != RoleAdmin {
				role = RoleMember
			}
			id := Identity{UserID: claims.Subject, OrgID: claims.OrgID, Role: role}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
