package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// TokenVerifier validates bearer access tokens. *credentials.TokenIssuer
// implements it.
type TokenVerifier interface {
	VerifyAccess(token string) (*credentials.AccessClaims, error)
}

// RequireRole authenticates the bearer access token, checks it was
// minted for the given role, and attaches the principal to the request
// context. Provider routes and patient routes mount it with their own
// role.
func RequireRole(verifier TokenVerifier, role principal.Role, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respond.Error(w, r, logger, apperror.Unauthorized("missing bearer token"))
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				if errors.Is(err, credentials.ErrTokenExpired) {
					respond.Error(w, r, logger, apperror.E(apperror.KindUnauthorized, "token_expired", "access token expired"))
					return
				}
				respond.Error(w, r, logger, apperror.E(apperror.KindUnauthorized, "invalid_token", "invalid access token"))
				return
			}
			if claims.Role != string(role) {
				respond.Error(w, r, logger, apperror.Forbidden("insufficient permissions"))
				return
			}

			principalID, err := uuid.Parse(claims.Subject)
			if err != nil {
				respond.Error(w, r, logger, apperror.E(apperror.KindUnauthorized, "invalid_token", "invalid access token"))
				return
			}
			sessionID, err := uuid.Parse(claims.SessionID)
			if err != nil {
				respond.Error(w, r, logger, apperror.E(apperror.KindUnauthorized, "invalid_token", "invalid access token"))
				return
			}

			ctx := principal.WithPrincipal(r.Context(), principal.Principal{
				ID:          principalID,
				Role:        role,
				Email:       claims.Email,
				SessionID:   sessionID,
				Fingerprint: claims.Fingerprint,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
