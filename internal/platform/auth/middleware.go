package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultRoleClaim  = "role"
	defaultEmailClaim = "email"
	defaultNameClaim  = "name"
	defaultIssuer     = "bottega-market"
)

var (
	// ErrTokenExpired signals that the provided access token has expired.
	ErrTokenExpired = errors.New("auth: access token expired")
	// ErrTokenInvalid signals that the provided access token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: access token invalid")
)

// Authenticator verifies HMAC-signed bearer tokens and wires them into HTTP middleware.
type Authenticator struct {
	secret []byte

	issuer     string
	roleClaim  string
	emailClaim string
	nameClaim  string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithIssuer overrides the expected token issuer.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			a.issuer = issuer
		}
	}
}

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.roleClaim = claim
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(secret string, opts ...Option) (*Authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}

	a := &Authenticator{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		roleClaim:  defaultRoleClaim,
		emailClaim: defaultEmailClaim,
		nameClaim:  defaultNameClaim,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a, nil
}

// Verify parses and validates a raw token, returning the embedded identity.
func (a *Authenticator) Verify(tokenStr string) (*Identity, error) {
	if a == nil || len(a.secret) == 0 {
		return nil, ErrTokenInvalid
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %q", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	if a.issuer != "" {
		if !claims.VerifyIssuer(a.issuer, true) {
			return nil, ErrTokenInvalid
		}
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, ErrTokenInvalid
	}

	identity := &Identity{
		ID:    subject,
		Email: claimAsString(claims, a.emailClaim),
		Name:  claimAsString(claims, a.nameClaim),
		Role:  normaliseRole(claimAsString(claims, a.roleClaim)),
	}
	if identity.Role == "" {
		identity.Role = RoleCustomer
	}

	return identity, nil
}

// RequireAuth verifies the Authorization bearer token and ensures allowed roles.
func (a *Authenticator) RequireAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		role = normaliseRole(role)
		if role == "" {
			continue
		}
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || len(a.secret) == 0 {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			identity, err := a.Verify(tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			if len(allowed) > 0 {
				if _, ok := allowed[identity.Role]; !ok {
					respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
					return
				}
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimAsString(claims jwt.MapClaims, key string) string {
	raw, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	default:
		return ""
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "access token expired")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "access token invalid")
	}
}
