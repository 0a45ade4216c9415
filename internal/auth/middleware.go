package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
)

type contextKey string

// UserIDKey is the context key holding the authenticated user's id.
const UserIDKey contextKey = "user_id"

// TokenValidator resolves a bearer token to a user id. Token issuance and
// refresh live outside this service.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// RequireAuth checks for a valid bearer token in the Authorization header
// and stores the resolved user id in the request context. Returns 401 when
// authentication fails.
func RequireAuth(validator TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")

		if authHeader == "" {
			log.Println("Auth: No Authorization header present")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// "Bearer <token>" per RFC 7235; scheme is case-insensitive.
		fields := strings.Fields(authHeader)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
			log.Println("Auth: Invalid Authorization header format")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.Join(fields[1:], " "))
		if token == "" {
			log.Println("Auth: Empty token after Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userID, err := validator.Validate(token)
		if err != nil {
			log.Printf("Auth: Token validation failed: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the authenticated user id from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// StaticValidator maps opaque API tokens to user ids. It backs deployments
// where token issuance happens out of band.
type StaticValidator struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticValidator(tokens map[string]string) *StaticValidator {
	copied := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		copied[token] = userID
	}
	return &StaticValidator{tokens: copied}
}

func (v *StaticValidator) Validate(token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	userID, ok := v.tokens[token]
	if !ok {
		return "", fmt.Errorf("unknown token")
	}
	return userID, nil
}

// SetToken adds or replaces one token mapping.
func (v *StaticValidator) SetToken(token, userID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = userID
}
