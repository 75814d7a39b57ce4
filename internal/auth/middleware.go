package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckmesh/tableqa/internal/observability"
)

type identityKey struct{}

const (
	apiKeyHeader = "X-API-Key"
	bearerScheme = "bearer"
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext reports false when the request never passed Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware admits requests whose API key resolves through validator and
// attaches the resulting Identity to the request context.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			apiKey, source := credentialFrom(r)
			if apiKey == "" {
				rejectRequest(w, r, "missing API key", source)
				return
			}

			identity, ok := validator.Validate(ctx, apiKey)
			if !ok {
				logger.WarnContext(ctx, "api key rejected",
					slog.String("trace_id", observability.TraceIDFromContext(ctx)),
					slog.String("credential_source", source),
					slog.String("path", r.URL.Path),
				)
				rejectRequest(w, r, "invalid API key", source)
				return
			}

			logger.DebugContext(ctx, "api key accepted",
				slog.String("subject", identity.Subject),
				slog.Any("roles", identity.Roles),
			)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// credentialFrom prefers X-API-Key and falls back to an Authorization bearer
// token. The scheme match is case-insensitive.
func credentialFrom(r *http.Request) (key, source string) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, "api_key_header"
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", "none"
	}
	return strings.TrimSpace(token), "bearer"
}

func rejectRequest(w http.ResponseWriter, r *http.Request, message, source string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tableqa"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"context":    map[string]any{"credential_source": source},
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
