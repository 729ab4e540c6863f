package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	defaultRolesClaim  = "roles"
	defaultSellerClaim = "seller_id"
	defaultEmailClaim  = "email"
)

// ErrTokenInvalid signals that the provided access token failed verification.
var ErrTokenInvalid = errors.New("auth: access token invalid")

// Authenticator verifies bearer access tokens signed by the identity gateway
// and attaches the resulting Identity to the request context.
type Authenticator struct {
	keys     *JWKSCache
	issuer   string
	audience string

	rolesClaim  string
	sellerClaim string
	emailClaim  string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRolesClaim overrides the claim used for role extraction.
func WithRolesClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.rolesClaim = claim
		}
	}
}

// WithSellerClaim overrides the claim carrying the seller identifier.
func WithSellerClaim(claim string) Option {
	return func(a *Authenticator) {
		claim = strings.TrimSpace(claim)
		if claim != "" {
			a.sellerClaim = claim
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(keys *JWKSCache, issuer, audience string, opts ...Option) *Authenticator {
	a := &Authenticator{
		keys:        keys,
		issuer:      strings.TrimSpace(issuer),
		audience:    strings.TrimSpace(audience),
		rolesClaim:  defaultRolesClaim,
		sellerClaim: defaultSellerClaim,
		emailClaim:  defaultEmailClaim,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	return a
}

// OptionalAuth verifies the bearer token when one is present and attaches the
// identity, but lets unauthenticated requests through. Guest checkout paths
// use this.
func (a *Authenticator) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if a == nil || a.keys == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "token verification unavailable")
				return
			}

			identity, err := a.verify(r, tokenStr)
			if err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "signing keys unavailable")
					return
				}
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "access token verification failed")
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
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
			if a == nil || a.keys == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "token verification unavailable")
				return
			}

			identity, err := a.verify(r, tokenStr)
			if err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "signing keys unavailable")
					return
				}
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "access token verification failed")
				return
			}

			if len(identity.Roles) == 0 {
				respondAuthError(w, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) verify(r *http.Request, tokenStr string) (*Identity, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenStr, claims, a.keys.Keyfunc(r.Context())); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, err
		}
		return nil, ErrTokenInvalid
	}

	if a.issuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != a.issuer {
			return nil, ErrTokenInvalid
		}
	}
	if a.audience != "" && !contains(claimAudiences(claims), a.audience) {
		return nil, ErrTokenInvalid
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrTokenInvalid
	}

	return &Identity{
		UserID:   subject,
		SellerID: claimAsString(claims, a.sellerClaim),
		Email:    claimAsString(claims, a.emailClaim),
		Roles:    rolesFromClaims(claims, a.rolesClaim),
		Claims:   copyClaims(claims),
	}, nil
}

func hasAllowedRole(identityRoles []string, allowed map[string]struct{}) bool {
	for _, role := range identityRoles {
		if _, ok := allowed[normaliseRole(role)]; ok {
			return true
		}
	}
	return false
}

func rolesFromClaims(claims map[string]any, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case string:
		role := normaliseRole(v)
		if role == "" {
			return nil
		}
		return []string{role}
	case []any:
		return uniqueRolesFromInterfaces(v)
	case []string:
		out := make([]string, 0, len(v))
		seen := make(map[string]struct{}, len(v))
		for _, item := range v {
			role := normaliseRole(item)
			if role == "" {
				continue
			}
			if _, exists := seen[role]; exists {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
		return out
	default:
		return nil
	}
}

func uniqueRolesFromInterfaces(values []any) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		role := normaliseRole(str)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
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

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
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
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
